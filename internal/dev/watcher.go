package dev

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher reports filesystem changes under a project root. fsnotify only
// watches single directories, so every non-ignored subdirectory is added,
// including ones created while running.
type Watcher struct {
	root      string
	ignore    []string
	fsw       *fsnotify.Watcher
	logger    *slog.Logger
	closeOnce sync.Once
	closeErr  error
}

// NewWatcher creates a watcher for root and registers its directory tree.
func NewWatcher(root string, ignore []string, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		root:   filepath.Clean(root),
		ignore: ignore,
		fsw:    fsw,
		logger: logger,
	}

	if err := w.addTree(w.root, nil); err != nil {
		fsw.Close()
		return nil, err
	}

	return w, nil
}

// addTree adds dir and its non-ignored subdirectories to the watch set.
// When found is non-nil it receives the root-relative path of every
// regular file in the tree; files written into a new directory before its
// watch was registered produce no fsnotify event of their own.
func (w *Watcher) addTree(dir string, found func(rel string)) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return err
			}
			// Unreadable subtrees are skipped, not fatal.
			return nil
		}
		if !d.IsDir() {
			if found != nil && d.Type().IsRegular() {
				if rel, ok := w.rel(p); ok {
					found(rel)
				}
			}
			return nil
		}
		if p != w.root {
			rel, ok := w.rel(p)
			if !ok || isIgnored(rel+"/", w.ignore) {
				return filepath.SkipDir
			}
		}
		if err := w.fsw.Add(p); err != nil {
			return fmt.Errorf("failed to watch directory %s: %w", p, err)
		}
		return nil
	})
}

// rel converts an absolute event path to a root-relative slash path.
func (w *Watcher) rel(p string) (string, bool) {
	rel, err := filepath.Rel(w.root, p)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", false
	}
	return rel, true
}

// Run forwards events to sink until ctx is cancelled or the watcher is
// closed. Events without a usable path are dropped.
func (w *Watcher) Run(ctx context.Context, sink func(Event)) {
	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			rel, ok := w.rel(ev.Name)
			if !ok {
				continue
			}

			sink(Event{Op: translateOp(ev.Op), Path: rel})

			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					err := w.addTree(ev.Name, func(file string) {
						sink(Event{Op: OpCreate, Path: file})
					})
					if err != nil {
						w.logger.Warn("watch new directory", "path", rel, "error", err)
					}
				}
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}

// Close stops the underlying fsnotify watcher. Safe to call more than once.
func (w *Watcher) Close() error {
	w.closeOnce.Do(func() {
		w.closeErr = w.fsw.Close()
	})
	return w.closeErr
}

func translateOp(op fsnotify.Op) Op {
	switch {
	case op.Has(fsnotify.Create):
		return OpCreate
	case op.Has(fsnotify.Write):
		return OpWrite
	case op.Has(fsnotify.Remove):
		return OpRemove
	case op.Has(fsnotify.Rename):
		return OpRename
	default:
		return OpChmod
	}
}
