// Package config holds the edge's observable configuration record: the
// workspace roots it is allowed to touch, the feature flags the server has
// granted it, and the connection status reported to handlers. It mirrors
// the single-writer discipline goclaw used for its Config type (config.go)
// but the fields and merge rules here are specific to the edge protocol.
package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
)

// Status is the connection lifecycle state of the edge, mutated only by
// the connection supervisor.
type Status string

const (
	StatusOffline    Status = "offline"
	StatusConnecting Status = "connecting"
	StatusOnline     Status = "online"
	StatusError      Status = "error"
)

// forbiddenRoots are workspace roots so dangerous to expose that they may
// never appear in the workspace path list, in any form.
var forbiddenRoots = []string{"/", "/tmp", `C:\`, "C:/"}

// normalizeRoot collapses trailing separators so "/tmp/" and "/tmp" compare
// equal to the forbidden set.
func normalizeRoot(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	for len(p) > 1 && strings.HasSuffix(p, "/") {
		p = p[:len(p)-1]
	}
	return p
}

// IsForbiddenRoot reports whether p, once normalized, is one of the
// protected filesystem/system roots.
func IsForbiddenRoot(p string) bool {
	n := normalizeRoot(p)
	for _, f := range forbiddenRoots {
		if n == normalizeRoot(f) {
			return true
		}
	}
	return false
}

// allowedSyncFields is the fixed allow-list for outbound delta syncs; any
// field not named here is never propagated to the server.
var allowedSyncFields = map[string]bool{
	"workspacepaths":     true,
	"name":               true,
	"isShellEnabled":     true,
	"isFileSystemEnabled": true,
}

// Record is the process-singleton edge configuration. It is exclusively
// written by the connection supervisor and the CD handler's injected
// mutator; everything else only reads it.
type Record struct {
	mu sync.RWMutex

	EdgeID              string   `json:"edgeId"`
	Name                string   `json:"name"`
	OwnerID             string   `json:"ownerId"`
	WorkspacePaths      []string `json:"workspacepaths"`
	Status              Status   `json:"status"`
	IsShellEnabled      bool     `json:"isShellEnabled"`
	IsFileSystemEnabled bool     `json:"isFileSystemEnabled"`

	// pendingAddPath is the one-shot --add-path value supplied on the CLI,
	// applied after the first EDGE_CONFIG_UPDATE and then cleared.
	pendingAddPath string

	connected  bool
	identified bool
}

// New returns an empty, not-yet-connected record.
func New() *Record {
	return &Record{
		Status:              StatusOffline,
		WorkspacePaths:      []string{},
		IsShellEnabled:       true,
		IsFileSystemEnabled: true,
	}
}

// SetPendingAddPath stashes the --add-path startup argument for application
// after the first config update from the server.
func (r *Record) SetPendingAddPath(p string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pendingAddPath = p
}

// Snapshot returns a copy of the record's fields safe to read without a lock.
type Snapshot struct {
	EdgeID              string
	Name                string
	OwnerID             string
	WorkspacePaths      []string
	Status              Status
	IsShellEnabled      bool
	IsFileSystemEnabled bool
}

func (r *Record) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	paths := make([]string, len(r.WorkspacePaths))
	copy(paths, r.WorkspacePaths)
	return Snapshot{
		EdgeID:              r.EdgeID,
		Name:                r.Name,
		OwnerID:             r.OwnerID,
		WorkspacePaths:      paths,
		Status:              r.Status,
		IsShellEnabled:      r.IsShellEnabled,
		IsFileSystemEnabled: r.IsFileSystemEnabled,
	}
}

// SetStatus transitions connection status. Only the connection supervisor
// should call this.
func (r *Record) SetStatus(s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Status = s
}

// SetIdentity records the edge-id/owner-id assigned on CONNECTED_EDGE.
func (r *Record) SetIdentity(edgeID, ownerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.EdgeID = edgeID
	r.OwnerID = ownerID
	r.identified = true
}

// MarkConnected/MarkDisconnected track the socket-level connectivity used
// to gate outbound syncs.
func (r *Record) MarkConnected()    { r.mu.Lock(); r.connected = true; r.mu.Unlock() }
func (r *Record) MarkDisconnected() { r.mu.Lock(); r.connected = false; r.mu.Unlock() }

// filterWorkspacePaths drops any path whose normalized form is forbidden,
// de-duplicating along the way.
func filterWorkspacePaths(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if IsForbiddenRoot(p) {
			continue
		}
		n := normalizeRoot(p)
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, p)
	}
	return out
}

// Syncer pushes an outbound config delta to the server. Implemented by the
// connection supervisor's HTTP client.
type Syncer interface {
	SyncConfig(delta map[string]interface{}) error
}

// ApplyServerUpdate merges an inbound edge:config_update payload: ignore
// mismatched edge-ids, filter forbidden workspace paths, shallow-merge
// the remainder, then apply any pending --add-path exactly once.
func (r *Record) ApplyServerUpdate(payload map[string]interface{}, sync Syncer) error {
	r.mu.Lock()

	if rawID, ok := payload["edgeId"]; ok {
		if id, ok := rawID.(string); ok && id != "" && r.EdgeID != "" && id != r.EdgeID {
			r.mu.Unlock()
			return nil
		}
	}

	if rawPaths, ok := payload["workspacepaths"]; ok {
		paths := toStringSlice(rawPaths)
		r.WorkspacePaths = filterWorkspacePaths(paths)
	}

	mergeInto(r, payload)

	pending := r.pendingAddPath
	var toSync []string
	pushPending := false
	if pending != "" {
		if !IsForbiddenRoot(pending) && !containsPath(r.WorkspacePaths, pending) {
			r.WorkspacePaths = append(r.WorkspacePaths, pending)
			pushPending = true
			toSync = append([]string{}, r.WorkspacePaths...)
		}
		r.pendingAddPath = ""
	}
	connected, identified := r.connected, r.identified
	r.mu.Unlock()

	if pushPending && sync != nil && connected && identified {
		return sync.SyncConfig(map[string]interface{}{"workspacepaths": toSync})
	}
	return nil
}

// AddWorkspacePath adds path to the workspace set (used by the CD handler)
// and returns whether a sync is warranted. It refuses forbidden roots and
// duplicates.
func (r *Record) AddWorkspacePath(path string) (added bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if IsForbiddenRoot(path) || containsPath(r.WorkspacePaths, path) {
		return false
	}
	r.WorkspacePaths = append(r.WorkspacePaths, path)
	return true
}

// SyncDelta builds the outbound payload for a local mutation, restricted to
// the permitted field set; everything else is dropped silently.
func (r *Record) SyncDelta(fields map[string]interface{}) map[string]interface{} {
	delta := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		if allowedSyncFields[k] {
			delta[k] = v
		}
	}
	return delta
}

// ReadyToSync reports whether the edge is connected and has received its
// server-assigned identity, the precondition for any outbound sync call.
func (r *Record) ReadyToSync() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connected && r.identified
}

func containsPath(paths []string, p string) bool {
	n := normalizeRoot(p)
	for _, existing := range paths {
		if normalizeRoot(existing) == n {
			return true
		}
	}
	return false
}

func toStringSlice(v interface{}) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []interface{}:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// mergeInto performs the shallow-merge step of ApplyServerUpdate: any
// recognized top-level field present in payload overwrites the record's
// value. workspacepaths was already handled (and filtered) by the caller.
func mergeInto(r *Record, payload map[string]interface{}) {
	if v, ok := payload["name"].(string); ok {
		r.Name = v
	}
	if v, ok := payload["ownerId"].(string); ok {
		r.OwnerID = v
	}
	if v, ok := payload["isShellEnabled"].(bool); ok {
		r.IsShellEnabled = v
	}
	if v, ok := payload["isFileSystemEnabled"].(bool); ok {
		r.IsFileSystemEnabled = v
	}
}

// MarshalDebug renders the record as indented JSON for --debug logging.
func (r *Record) MarshalDebug() string {
	s := r.Snapshot()
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Sprintf("<config marshal error: %v>", err)
	}
	return string(b)
}

// AbsWorkspaceRoots resolves each configured workspace path to an absolute,
// cleaned form — used by the path resolver's root list.
func (r *Record) AbsWorkspaceRoots() []string {
	snap := r.Snapshot()
	out := make([]string, 0, len(snap.WorkspacePaths))
	for _, p := range snap.WorkspacePaths {
		abs, err := filepath.Abs(p)
		if err != nil {
			continue
		}
		out = append(out, abs)
	}
	return out
}
