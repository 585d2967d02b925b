package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsForbiddenRoot(t *testing.T) {
	cases := map[string]bool{
		"/":            true,
		"/tmp":         true,
		"/tmp/":        true,
		`C:\`:          true,
		"C:/":          true,
		"/home/u/proj": false,
		"":             false,
	}
	for in, want := range cases {
		assert.Equal(t, want, IsForbiddenRoot(in), "path %q", in)
	}
}

func TestApplyServerUpdateFiltersForbiddenPaths(t *testing.T) {
	r := New()
	r.SetIdentity("edge-1", "owner-1")

	err := r.ApplyServerUpdate(map[string]interface{}{
		"edgeId":         "edge-1",
		"workspacepaths": []interface{}{"/tmp", "/home/u/ok"},
	}, nil)
	require.NoError(t, err)

	snap := r.Snapshot()
	assert.Equal(t, []string{"/home/u/ok"}, snap.WorkspacePaths)
}

func TestApplyServerUpdateIgnoresMismatchedEdgeID(t *testing.T) {
	r := New()
	r.SetIdentity("edge-1", "owner-1")
	r.AddWorkspacePath("/home/u/keep")

	err := r.ApplyServerUpdate(map[string]interface{}{
		"edgeId":         "some-other-edge",
		"workspacepaths": []interface{}{"/should/not/apply"},
	}, nil)
	require.NoError(t, err)

	snap := r.Snapshot()
	assert.Equal(t, []string{"/home/u/keep"}, snap.WorkspacePaths)
}

type fakeSyncer struct {
	calls []map[string]interface{}
}

func (f *fakeSyncer) SyncConfig(delta map[string]interface{}) error {
	f.calls = append(f.calls, delta)
	return nil
}

func TestApplyServerUpdateAppliesPendingAddPathOnce(t *testing.T) {
	r := New()
	r.SetIdentity("edge-1", "owner-1")
	r.MarkConnected()
	r.SetPendingAddPath("/home/u/new")
	sync := &fakeSyncer{}

	require.NoError(t, r.ApplyServerUpdate(map[string]interface{}{"edgeId": "edge-1"}, sync))
	assert.Contains(t, r.Snapshot().WorkspacePaths, "/home/u/new")
	require.Len(t, sync.calls, 1)

	// second update must not re-apply or re-sync; pending is one-shot.
	require.NoError(t, r.ApplyServerUpdate(map[string]interface{}{"edgeId": "edge-1"}, sync))
	require.Len(t, sync.calls, 1)
}

func TestSyncDeltaFiltersDisallowedFields(t *testing.T) {
	r := New()
	delta := r.SyncDelta(map[string]interface{}{
		"workspacepaths": []string{"/a"},
		"secretField":    "nope",
	})
	assert.Contains(t, delta, "workspacepaths")
	assert.NotContains(t, delta, "secretField")
}

func TestAddWorkspacePathRejectsDuplicatesAndForbidden(t *testing.T) {
	r := New()
	assert.True(t, r.AddWorkspacePath("/home/u/a"))
	assert.False(t, r.AddWorkspacePath("/home/u/a"))
	assert.False(t, r.AddWorkspacePath("/tmp"))
}
