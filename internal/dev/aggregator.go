package dev

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// Op is the kind of filesystem change.
type Op uint8

const (
	OpCreate Op = iota
	OpWrite
	OpRemove
	OpRename
	OpChmod
)

func (o Op) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpWrite:
		return "write"
	case OpRemove:
		return "remove"
	case OpRename:
		return "rename"
	case OpChmod:
		return "chmod"
	default:
		return "unknown"
	}
}

// Event is a raw filesystem change. Path is relative to the project root
// and slash separated; it may be empty when the platform did not report one.
type Event struct {
	Op   Op
	Path string
}

// PendingChange is an accepted event waiting for the debounce window.
type PendingChange struct {
	Path string
	Ext  string
}

// AggregatorConfig configures the change aggregator.
type AggregatorConfig struct {
	// WatchExtensions are lowercase extensions without the dot.
	WatchExtensions []string

	// Ignore contains path fragments such as "node_modules/".
	Ignore []string

	// Debounce is the quiet window before a flush.
	Debounce time.Duration

	// Out receives the human-readable "[Lightning] ..." flush lines.
	Out io.Writer

	Logger  *slog.Logger
	Metrics *Metrics
}

// Aggregator filters filesystem events, coalesces bursts and publishes one
// reload decision per quiet window. The pending batch and the debounce timer
// are owned by the Run goroutine.
type Aggregator struct {
	config  AggregatorConfig
	watch   map[string]struct{}
	publish func(context.Context, ReloadMessage)
	changes chan PendingChange
	logger  *slog.Logger
	out     io.Writer

	batch []PendingChange
}

// NewAggregator creates an aggregator that hands each decision to publish.
func NewAggregator(config AggregatorConfig, publish func(context.Context, ReloadMessage)) *Aggregator {
	watch := make(map[string]struct{}, len(config.WatchExtensions))
	for _, ext := range config.WatchExtensions {
		watch[strings.ToLower(strings.TrimPrefix(ext, "."))] = struct{}{}
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	out := config.Out
	if out == nil {
		out = io.Discard
	}

	return &Aggregator{
		config:  config,
		watch:   watch,
		publish: publish,
		changes: make(chan PendingChange, 256),
		logger:  logger,
		out:     out,
	}
}

// Accept runs the filter pipeline on a root-relative path.
func (a *Aggregator) Accept(relPath string) (PendingChange, bool) {
	if relPath == "" {
		return PendingChange{}, false
	}
	if isIgnored(relPath, a.config.Ignore) {
		return PendingChange{}, false
	}

	ext := strings.ToLower(strings.TrimPrefix(path.Ext(relPath), "."))
	if _, ok := a.watch[ext]; !ok {
		return PendingChange{}, false
	}

	return PendingChange{Path: relPath, Ext: ext}, true
}

// Add filters ev and, if accepted, queues it for the Run loop. It blocks
// only while the queue is full, and gives up when ctx is done.
func (a *Aggregator) Add(ctx context.Context, ev Event) {
	change, ok := a.Accept(ev.Path)
	a.config.Metrics.event(ok)
	if !ok {
		return
	}

	select {
	case a.changes <- change:
	case <-ctx.Done():
	}
}

// Run owns the batch and debounce timer until ctx is cancelled. Every
// queued change restarts the timer; only a timer that survives a whole
// quiet window flushes.
func (a *Aggregator) Run(ctx context.Context) {
	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case change := <-a.changes:
			a.batch = append(a.batch, change)
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(a.config.Debounce)
			fire = timer.C

		case <-fire:
			fire = nil
			a.flush(ctx)
		}
	}
}

func (a *Aggregator) flush(ctx context.Context) {
	batch := a.batch
	a.batch = nil

	msg, ok := Decide(batch)
	if !ok {
		return
	}
	a.config.Metrics.flush(len(batch))

	ctx, span := tracer.Start(ctx, "lightning.flush")
	defer span.End()
	span.SetAttributes(
		attribute.Int("lightning.batch_size", len(batch)),
		attribute.String("lightning.reload.type", string(msg.Type)),
	)

	if msg.Type == ReloadTypeCSS {
		fmt.Fprintln(a.out, "[Lightning] CSS changed -> css-reload")
	} else {
		fmt.Fprintf(a.out, "[Lightning] %s changed -> reload\n", msg.File)
	}
	a.logger.Debug("flush", "changes", len(batch), "type", msg.Type, "file", msg.File)

	a.publish(ctx, msg)
}

// Decide turns a batch into a reload message. A batch made only of CSS
// changes yields a css-reload; anything else reloads the page and names
// the last change. An empty batch yields nothing.
func Decide(batch []PendingChange) (ReloadMessage, bool) {
	if len(batch) == 0 {
		return ReloadMessage{}, false
	}

	allCSS := true
	for _, change := range batch {
		if change.Ext != "css" {
			allCSS = false
			break
		}
	}

	if allCSS {
		return ReloadMessage{Type: ReloadTypeCSS}, true
	}
	return ReloadMessage{Type: ReloadTypeFull, File: batch[len(batch)-1].Path}, true
}

// isIgnored reports whether relPath starts with, or contains as a path
// segment, any of the ignore fragments.
func isIgnored(relPath string, ignore []string) bool {
	for _, prefix := range ignore {
		if prefix == "" {
			continue
		}
		if strings.HasPrefix(relPath, prefix) || strings.Contains(relPath, "/"+prefix) {
			return true
		}
	}
	return false
}
