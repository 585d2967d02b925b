package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu    sync.Mutex
	calls []struct {
		root   string
		events []Event
	}
}

func (r *recordingNotifier) NotifyFileChanges(root string, events []Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, struct {
		root   string
		events []Event
	}{root, events})
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func TestWatcherReportsFileWrite(t *testing.T) {
	dir := t.TempDir()
	notifier := &recordingNotifier{}

	w, err := New(notifier, 20*time.Millisecond, nil)
	require.NoError(t, err)
	require.NoError(t, w.AddRoot(dir))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "f.txt"), []byte("hi"), 0o644))

	deadline := time.Now().Add(2 * time.Second)
	for notifier.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	assert.Greater(t, notifier.count(), 0)
}

func TestOpName(t *testing.T) {
	assert.Equal(t, "create", opName(fsnotify.Create))
	assert.Equal(t, "write", opName(fsnotify.Write))
	assert.Equal(t, "remove", opName(fsnotify.Remove))
}
