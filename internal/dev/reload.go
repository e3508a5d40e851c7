package dev

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"

	"github.com/lightning-dev/lightning/internal/errors"
)

// ReloadMessageType represents the type of reload message.
type ReloadMessageType string

const (
	ReloadTypeFull ReloadMessageType = "reload"
	ReloadTypeCSS  ReloadMessageType = "css-reload"
)

// ReloadMessage is sent to browsers via WebSocket.
type ReloadMessage struct {
	Type ReloadMessageType `json:"type"`
	File string            `json:"file,omitempty"`
}

const (
	writeTimeout   = 2 * time.Second
	maxMessageSize = 4096
)

// Client is one browser connected to the reload channel.
type Client struct {
	// ID identifies the connection in logs.
	ID string

	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *Client) send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub manages WebSocket connections for hot reload. Every member belongs to
// the single reload topic.
type Hub struct {
	clients  map[string]*Client
	mu       sync.RWMutex
	upgrader websocket.Upgrader
	logger   *slog.Logger
	metrics  *Metrics
}

// NewHub creates a new reload hub.
func NewHub(logger *slog.Logger, metrics *Metrics) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		clients: make(map[string]*Client),
		logger:  logger,
		metrics: metrics,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true // any origin may connect in dev
		},
		Error: func(w http.ResponseWriter, r *http.Request, status int, reason error) {
			err := errors.New("L300").WithDetail(r.URL.Path).Wrap(reason)
			h.metrics.upgradeFailed()
			h.logger.Warn("upgrade rejected", "status", status, "error", err)
			writePlain(w, http.StatusBadRequest, err.Message)
		},
	}
	return h
}

// ServeHTTP upgrades the request and keeps the connection registered until
// the client disconnects. Incoming messages are read and discarded.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client := h.join(conn)
	defer h.leave(client)

	conn.SetReadLimit(maxMessageSize)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) join(conn *websocket.Conn) *Client {
	client := &Client{ID: uuid.NewString(), conn: conn}

	h.mu.Lock()
	h.clients[client.ID] = client
	count := len(h.clients)
	h.mu.Unlock()

	h.metrics.setClients(count)
	h.logger.Debug("client connected", "client", client.ID, "clients", count)
	return client
}

// leave removes the client and closes its connection. Safe to call twice.
func (h *Hub) leave(client *Client) {
	h.mu.Lock()
	_, ok := h.clients[client.ID]
	delete(h.clients, client.ID)
	count := len(h.clients)
	h.mu.Unlock()

	client.conn.Close()
	if ok {
		h.metrics.setClients(count)
		h.logger.Debug("client disconnected", "client", client.ID, "clients", count)
	}
}

// Broadcast sends msg to every connected client. Delivery is best effort:
// a failed send drops that client and does not affect the others.
func (h *Hub) Broadcast(ctx context.Context, msg ReloadMessage) {
	_, span := tracer.Start(ctx, "lightning.broadcast")
	defer span.End()

	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	failed := 0
	for _, client := range clients {
		if err := client.send(data); err != nil {
			failed++
			h.logger.Debug("send failed", "client", client.ID, "error", err)
			h.leave(client)
		}
	}

	span.SetAttributes(
		attribute.String("lightning.reload.type", string(msg.Type)),
		attribute.Int("lightning.clients", len(clients)),
		attribute.Int("lightning.send_failures", failed),
	)
	h.metrics.broadcast(msg.Type, failed)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close closes all client connections.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*Client)
	h.mu.Unlock()

	for _, client := range clients {
		client.conn.Close()
	}
	h.metrics.setClients(0)
}

func writePlain(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	io.WriteString(w, body)
}

// ClientScript is the hot reload agent injected into served HTML.
// A css-reload message refreshes stylesheets in place; any other message
// reloads the page. The socket reconnects forever with a backoff that
// starts at 1s, grows by 1.5x and is capped at 5s.
const ClientScript = `<script>(function(){` +
	`var retryDelay=1000;` +
	`function connect(){` +
	`var proto=location.protocol==='https:'?'wss:':'ws:';` +
	`var ws=new WebSocket(proto+'//'+location.host+'/ws');` +
	`ws.onopen=function(){retryDelay=1000;};` +
	`ws.onmessage=function(e){` +
	`var data;try{data=JSON.parse(e.data);}catch(err){return;}` +
	`if(data.type==='css-reload'){` +
	`document.querySelectorAll('link[rel="stylesheet"]').forEach(function(link){` +
	`var url=new URL(link.href);` +
	`url.searchParams.set('_hmr',Date.now());` +
	`link.href=url.href;` +
	`});` +
	`}else{` +
	`location.reload();` +
	`}` +
	`};` +
	`ws.onclose=function(){` +
	`setTimeout(function(){` +
	`retryDelay=Math.min(retryDelay*1.5,5000);` +
	`connect();` +
	`},retryDelay);` +
	`};` +
	`}` +
	`connect();` +
	`})();</script>`
