package dev

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wsURL(httpURL, path string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + path
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	mt, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, mt)
	return string(data)
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.ClientCount() == n },
		2*time.Second, 10*time.Millisecond, "want %d clients, have %d", n, hub.ClientCount())
}

func TestHub_OpenCloseLeavesNoMember(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	hub := NewHub(nil, metrics)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	require.Equal(t, 0, hub.ClientCount())

	conn := dial(t, wsURL(srv.URL, "/ws"))
	waitForClients(t, hub, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.clients))

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	conn.Close()

	waitForClients(t, hub, 0)
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.clients))
}

func TestHub_BroadcastReachesEveryClient(t *testing.T) {
	hub := NewHub(nil, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	a := dial(t, wsURL(srv.URL, "/ws"))
	b := dial(t, wsURL(srv.URL, "/ws"))
	waitForClients(t, hub, 2)

	hub.Broadcast(context.Background(), ReloadMessage{Type: ReloadTypeCSS})
	assert.Equal(t, `{"type":"css-reload"}`, readMessage(t, a))
	assert.Equal(t, `{"type":"css-reload"}`, readMessage(t, b))

	hub.Broadcast(context.Background(), ReloadMessage{Type: ReloadTypeFull, File: "src/app.js"})
	assert.Equal(t, `{"type":"reload","file":"src/app.js"}`, readMessage(t, a))
	assert.Equal(t, `{"type":"reload","file":"src/app.js"}`, readMessage(t, b))
}

func TestHub_ClientMessagesAreIgnored(t *testing.T) {
	hub := NewHub(nil, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, wsURL(srv.URL, "/ws"))
	waitForClients(t, hub, 1)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"hello"}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))

	hub.Broadcast(context.Background(), ReloadMessage{Type: ReloadTypeFull, File: "index.html"})
	assert.Equal(t, `{"type":"reload","file":"index.html"}`, readMessage(t, conn))
	assert.Equal(t, 1, hub.ClientCount())
}

func TestHub_FailedSendIsIsolated(t *testing.T) {
	hub := NewHub(nil, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	first := dial(t, wsURL(srv.URL, "/ws"))
	second := dial(t, wsURL(srv.URL, "/ws"))
	waitForClients(t, hub, 2)

	// Break one member's server-side connection without telling the hub.
	hub.mu.RLock()
	var broken *Client
	for _, c := range hub.clients {
		broken = c
		break
	}
	hub.mu.RUnlock()
	require.NotNil(t, broken)
	broken.conn.UnderlyingConn().Close()

	hub.Broadcast(context.Background(), ReloadMessage{Type: ReloadTypeCSS})
	waitForClients(t, hub, 1)

	hub.Broadcast(context.Background(), ReloadMessage{Type: ReloadTypeFull, File: "a.js"})

	delivered := 0
	for _, conn := range []*websocket.Conn{first, second} {
		conn.SetReadDeadline(time.Now().Add(time.Second))
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				break
			}
			if string(data) == `{"type":"reload","file":"a.js"}` {
				delivered++
				break
			}
		}
	}
	assert.Equal(t, 1, delivered)
}

func TestHub_BroadcastWithoutClients(t *testing.T) {
	hub := NewHub(nil, nil)
	assert.NotPanics(t, func() {
		hub.Broadcast(context.Background(), ReloadMessage{Type: ReloadTypeCSS})
	})
}

func TestHub_UpgradeFailure(t *testing.T) {
	var logs lockedBuffer
	metrics := NewMetrics(prometheus.NewRegistry())
	hub := NewHub(slog.New(slog.NewTextHandler(&logs, nil)), metrics)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/ws")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "WebSocket upgrade failed", string(body))
	assert.Equal(t, 0, hub.ClientCount())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.upgradeErrors))
	assert.Contains(t, logs.String(), "L300: WebSocket upgrade failed (/ws)")
}

func TestHub_Close(t *testing.T) {
	hub := NewHub(nil, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, wsURL(srv.URL, "/ws"))
	waitForClients(t, hub, 1)

	hub.Close()
	assert.Equal(t, 0, hub.ClientCount())

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestClientScript(t *testing.T) {
	for _, want := range []string{
		"<script>",
		"new WebSocket(",
		"'/ws'",
		"css-reload",
		`link[rel="stylesheet"]`,
		"_hmr",
		"location.reload()",
		"retryDelay=1000",
		"retryDelay*1.5",
		"5000",
		"</script>",
	} {
		assert.Contains(t, ClientScript, want)
	}
	assert.NotContains(t, ClientScript, "</body>")
}
