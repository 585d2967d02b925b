// Package watcher watches workspace roots for file-change events and
// reports them to the coordination server. Grounded on hector's
// v2/rag/watcher.go FileWatcher: one fsnotify.Watcher recursively added
// to every directory under a root, a debounced event channel, and a
// mutex-guarded start/stop lifecycle.
package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Event describes one coalesced file-change notification.
type Event struct {
	Path string
	Op   string // "create", "write", "remove", "rename", "chmod"
}

// Notifier delivers a batch of Events upstream.
type Notifier interface {
	NotifyFileChanges(root string, events []Event)
}

// Watcher recursively watches a set of workspace roots. Events from all
// roots share one debounce timer; when it fires, the pending events are
// handed to a Notifier in one batch per root.
type Watcher struct {
	mu       sync.Mutex
	fsw      *fsnotify.Watcher
	notifier Notifier
	log      *slog.Logger
	debounce time.Duration

	cancel    context.CancelFunc
	watching  bool
	rootByDir map[string]string
}

// New builds a Watcher that reports changes to notifier. debounce
// defaults to 200ms when zero.
func New(notifier Notifier, debounce time.Duration, log *slog.Logger) (*Watcher, error) {
	if log == nil {
		log = slog.Default()
	}
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		fsw:       fsw,
		notifier:  notifier,
		log:       log,
		debounce:  debounce,
		rootByDir: make(map[string]string),
	}, nil
}

// AddRoot starts watching root and every existing subdirectory under it.
// Safe to call for roots already being watched (no-op).
func (w *Watcher) AddRoot(root string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, existing := range w.rootByDir {
		if existing == root {
			return nil
		}
	}

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if name := d.Name(); name == ".git" || name == "node_modules" {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			w.log.Warn("watcher.add_dir_failed", "path", path, "error", err)
			return nil
		}
		w.rootByDir[path] = root
		return nil
	})
	return err
}

// Start launches the event-processing goroutine, which ends when ctx is
// cancelled. Stop ends it too and closes the underlying fsnotify watcher.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	if w.watching {
		w.mu.Unlock()
		return
	}
	ctx, w.cancel = context.WithCancel(ctx)
	w.watching = true
	w.mu.Unlock()

	go w.run(ctx)
}

// Stop tears down the watcher.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.watching {
		return
	}
	w.watching = false
	if w.cancel != nil {
		w.cancel()
	}
	_ = w.fsw.Close()
}

func (w *Watcher) run(ctx context.Context) {
	pending := make(map[string][]Event)
	var pendingMu sync.Mutex
	var timer *time.Timer

	flush := func() {
		pendingMu.Lock()
		batches := pending
		pending = make(map[string][]Event)
		pendingMu.Unlock()

		for root, events := range batches {
			w.notifier.NotifyFileChanges(root, events)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.mu.Lock()
			root, known := w.rootByDir[filepath.Dir(ev.Name)]
			if !known {
				root, known = w.rootByDir[ev.Name]
			}
			w.mu.Unlock()
			if !known {
				continue
			}

			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = w.AddRoot(ev.Name)
				}
			}

			pendingMu.Lock()
			pending[root] = append(pending[root], Event{Path: ev.Name, Op: opName(ev.Op)})
			pendingMu.Unlock()

			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, flush)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("watcher.fsnotify_error", "error", err)
		}
	}
}

func opName(op fsnotify.Op) string {
	switch {
	case op.Has(fsnotify.Create):
		return "create"
	case op.Has(fsnotify.Remove):
		return "remove"
	case op.Has(fsnotify.Rename):
		return "rename"
	case op.Has(fsnotify.Write):
		return "write"
	default:
		return "chmod"
	}
}
