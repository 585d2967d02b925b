package installer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/todoforai/edge/internal/toolcatalog"
)

func TestEnsureToolInstallsBinaryOnce(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte("#!/bin/sh\necho hi\n"))
	}))
	defer srv.Close()

	cat, err := toolcatalog.New([]toolcatalog.Entry{{Name: "mytool", Kind: toolcatalog.InstallerBinary}})
	require.NoError(t, err)

	resolver := toolcatalog.StaticURLResolver{
		"mytool": {URL: srv.URL, IsArchive: false},
	}

	dir := t.TempDir()
	inst := New(cat, resolver, dir, nil)

	var wg sync.WaitGroup
	results := make([]bool, 5)
	for idx := 0; idx < 5; idx++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = inst.EnsureTool(context.Background(), "mytool")
		}(idx)
	}
	wg.Wait()

	installedCount := 0
	for _, r := range results {
		if r {
			installedCount++
		}
	}
	assert.LessOrEqual(t, installedCount, 1, "at most one caller should perform the install")

	dest := filepath.Join(dir, "bin", "mytool")
	if _, statErr := os.Stat(dest); statErr == nil {
		assert.True(t, inst.IsInstalled("mytool"))
	}
}

func TestEnsureToolUnknownCatalogEntryFails(t *testing.T) {
	cat, err := toolcatalog.New(nil)
	require.NoError(t, err)
	inst := New(cat, toolcatalog.StaticURLResolver{}, t.TempDir(), nil)
	assert.False(t, inst.EnsureTool(context.Background(), "nope"))
}
