package pathresolver

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveAbsoluteShortCircuits(t *testing.T) {
	got, err := Resolve("/etc/hosts", "/some/root", nil)
	require.NoError(t, err)
	assert.Equal(t, "/etc/hosts", got)
}

func TestResolveMissingRootFails(t *testing.T) {
	_, err := Resolve("sub/file", "/does/not/exist/root", nil)
	require.Error(t, err)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestResolveJoinsPrimaryWhenNoMatch(t *testing.T) {
	dir := t.TempDir()
	got, err := Resolve("missing.txt", dir, nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "missing.txt"), got)
}

func TestResolveBasenameFallback(t *testing.T) {
	root := t.TempDir()
	proj := filepath.Join(root, "proj")
	require.NoError(t, os.MkdirAll(filepath.Join(proj, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(proj, "sub", "f.txt"), []byte("x"), 0o644))

	got, err := Resolve("proj/sub/f.txt", proj, nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(proj, "sub", "f.txt"), got)
}

func TestPathOrDefault(t *testing.T) {
	assert.Equal(t, DefaultDirectory(), PathOrDefault(""))
	assert.Equal(t, DefaultDirectory(), PathOrDefault("."))
	assert.Equal(t, "/x/y", PathOrDefault("/x/y"))
}

func TestIsInside(t *testing.T) {
	assert.True(t, IsInside("/a/b", "/a"))
	assert.True(t, IsInside("/a", "/a"))
	assert.False(t, IsInside("/ab", "/a"))
}
