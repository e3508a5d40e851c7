package dev

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWatchedTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for _, dir := range []string{"src", "src/components", "node_modules/react", ".git/objects"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, filepath.FromSlash(dir)), 0755))
	}
	return root
}

// collect runs w and returns a channel of the events it reports.
func collect(t *testing.T, w *Watcher) <-chan Event {
	t.Helper()
	events := make(chan Event, 128)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go w.Run(ctx, func(ev Event) {
		select {
		case events <- ev:
		default:
		}
	})
	return events
}

// waitForPath writes file repeatedly until an event for want arrives.
func waitForPath(t *testing.T, events <-chan Event, file, want string) Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()

	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))
	for {
		select {
		case ev := <-events:
			if ev.Path == want {
				return ev
			}
		case <-tick.C:
			require.NoError(t, os.WriteFile(file, []byte(time.Now().String()), 0644))
		case <-deadline:
			t.Fatalf("no event for %s", want)
			return Event{}
		}
	}
}

func TestWatcher_SkipsIgnoredDirectories(t *testing.T) {
	root := newWatchedTree(t)

	w, err := NewWatcher(root, testIgnore, nil)
	require.NoError(t, err)
	defer w.Close()

	watched := make(map[string]bool)
	for _, p := range w.fsw.WatchList() {
		rel, err := filepath.Rel(root, p)
		require.NoError(t, err)
		watched[filepath.ToSlash(rel)] = true
	}

	assert.True(t, watched["."])
	assert.True(t, watched["src"])
	assert.True(t, watched["src/components"])
	assert.False(t, watched["node_modules"])
	assert.False(t, watched["node_modules/react"])
	assert.False(t, watched[".git"])
}

func TestWatcher_ReportsRelativePaths(t *testing.T) {
	root := newWatchedTree(t)

	w, err := NewWatcher(root, testIgnore, nil)
	require.NoError(t, err)
	defer w.Close()

	events := collect(t, w)
	ev := waitForPath(t, events, filepath.Join(root, "src", "components", "button.js"), "src/components/button.js")
	assert.Contains(t, []Op{OpCreate, OpWrite}, ev.Op)
}

func TestWatcher_FollowsNewDirectories(t *testing.T) {
	root := newWatchedTree(t)

	w, err := NewWatcher(root, testIgnore, nil)
	require.NoError(t, err)
	defer w.Close()

	events := collect(t, w)

	dir := filepath.Join(root, "pages")
	require.NoError(t, os.Mkdir(dir, 0755))
	waitForEventPath(t, events, "pages")

	waitForPath(t, events, filepath.Join(dir, "about.html"), "pages/about.html")
}

func TestWatcher_ReportsFilesInsideNewTree(t *testing.T) {
	root := newWatchedTree(t)

	w, err := NewWatcher(root, testIgnore, nil)
	require.NoError(t, err)
	defer w.Close()

	events := collect(t, w)

	// The files land before the new directories can be registered.
	require.NoError(t, os.MkdirAll(filepath.Join(root, "pages", "blog"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "pages", "blog", "post.html"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "pages", "index.html"), []byte("x"), 0644))

	waitForEventPath(t, events, "pages/blog/post.html")
}

func TestWatcher_NewIgnoredTreeIsNotReported(t *testing.T) {
	root := newWatchedTree(t)

	w, err := NewWatcher(root, testIgnore, nil)
	require.NoError(t, err)
	defer w.Close()

	events := collect(t, w)

	require.NoError(t, os.MkdirAll(filepath.Join(root, "src", "node_modules", "lib"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "node_modules", "lib", "index.js"), []byte("x"), 0644))
	waitForEventPath(t, events, "src/node_modules")

	// Everything up to a later change elsewhere comes from outside the
	// ignored tree.
	app := filepath.Join(root, "src", "app.js")
	require.NoError(t, os.WriteFile(app, []byte("x"), 0644))
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-events:
			assert.NotContains(t, ev.Path, "node_modules/")
			if ev.Path == "src/app.js" {
				return
			}
		case <-deadline:
			t.Fatal("no event for src/app.js")
		}
	}
}

func waitForEventPath(t *testing.T, events <-chan Event, want string) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Path == want {
				return
			}
		case <-deadline:
			t.Fatalf("no event for %s", want)
		}
	}
}

func TestWatcher_MissingRoot(t *testing.T) {
	_, err := NewWatcher(filepath.Join(t.TempDir(), "missing"), nil, nil)
	assert.Error(t, err)
}

func TestWatcher_CloseIsIdempotent(t *testing.T) {
	w, err := NewWatcher(t.TempDir(), nil, nil)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		w.Run(context.Background(), func(Event) {})
		close(done)
	}()

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Close")
	}
}

func TestTranslateOp(t *testing.T) {
	assert.Equal(t, OpCreate, translateOp(fsnotify.Create))
	assert.Equal(t, OpWrite, translateOp(fsnotify.Write))
	assert.Equal(t, OpRemove, translateOp(fsnotify.Remove))
	assert.Equal(t, OpRename, translateOp(fsnotify.Rename))
	assert.Equal(t, OpChmod, translateOp(fsnotify.Chmod))
	assert.Equal(t, OpCreate, translateOp(fsnotify.Create|fsnotify.Write))
}

func TestWatcher_RelRejectsOutsidePaths(t *testing.T) {
	root := t.TempDir()
	w := &Watcher{root: root}

	rel, ok := w.rel(filepath.Join(root, "a", "b.css"))
	assert.True(t, ok)
	assert.Equal(t, "a/b.css", rel)

	_, ok = w.rel(root)
	assert.False(t, ok)

	_, ok = w.rel(filepath.Join(filepath.Dir(root), "other.css"))
	assert.False(t, ok)
}
