package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/todoforai/edge/internal/config"
	"github.com/todoforai/edge/internal/core"
	"github.com/todoforai/edge/internal/dispatch"
	"github.com/todoforai/edge/internal/functions"
	"github.com/todoforai/edge/internal/installer"
	"github.com/todoforai/edge/internal/protocol"
	"github.com/todoforai/edge/internal/scanner"
	"github.com/todoforai/edge/internal/shellexec"
	"github.com/todoforai/edge/internal/toolcatalog"
)

type fakeSender struct {
	mu    sync.Mutex
	sent  []sentFrame
	sync  []map[string]interface{}
}

type sentFrame struct {
	Type    string
	Payload interface{}
}

func (f *fakeSender) Send(msgType string, payload interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentFrame{Type: msgType, Payload: payload})
	return nil
}

func (f *fakeSender) SyncConfig(delta map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sync = append(f.sync, delta)
	return nil
}

func newTestCore(t *testing.T) (*core.Core, *fakeSender) {
	t.Helper()
	cat := toolcatalog.Default()
	scn := scanner.New()
	scn.CompileAll(cat.Names())
	inst := installer.New(cat, toolcatalog.StaticURLResolver{}, t.TempDir(), slog.Default())
	exec := shellexec.New(cat, scn, inst, "sh", slog.Default())

	c := &core.Core{
		Config:     config.New(),
		Functions:  functions.Default(),
		Shell:      exec,
		Catalog:    cat,
		Scanner:    scn,
		Installer:  inst,
		Dispatcher: dispatch.New(4, slog.Default(), true),
		Log:        slog.Default(),
	}
	fs := &fakeSender{}
	c.AttachSupervisor(fs)
	c.Config.SetIdentity("edge-1", "owner-1")
	c.Config.MarkConnected()
	Register(c.Dispatcher, c)
	return c, fs
}

func TestHandleCDAddsWorkspacePathAndSyncs(t *testing.T) {
	c, fs := newTestCore(t)
	dir := t.TempDir()

	msg, err := protocol.NewMessage(protocol.TypeEdgeCD, protocol.EdgeCDPayload{EdgeID: "edge-1", Path: dir, RequestID: "R1"})
	require.NoError(t, err)

	require.NoError(t, c.Dispatcher.Dispatch(context.Background(), marshal(t, msg)))
	waitForSend(t, fs, protocol.TypeEdgeCDResponse)

	snap := c.Config.Snapshot()
	assert.Contains(t, snap.WorkspacePaths, dir)

	fs.mu.Lock()
	defer fs.mu.Unlock()
	require.Len(t, fs.sync, 1)
	assert.Equal(t, []string{dir}, fs.sync[0]["workspacepaths"])
}

func TestHandleGetFoldersWalksUpToExistingAncestor(t *testing.T) {
	c, fs := newTestCore(t)
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f.txt"), []byte("x"), 0o644))

	missing := filepath.Join(dir, "does-not-exist")
	msg, err := protocol.NewMessage(protocol.TypeEdgeGetFolders, protocol.GetFoldersPayload{Path: missing, RequestID: "R2"})
	require.NoError(t, err)

	require.NoError(t, c.Dispatcher.Dispatch(context.Background(), marshal(t, msg)))
	frame := waitForSend(t, fs, protocol.TypeEdgeGetFoldersResponse)

	resp := frame.Payload.(protocol.GetFoldersResponsePayload)
	assert.Equal(t, dir, resp.ActualPath)
	assert.Contains(t, resp.Folders, "sub")
	assert.Contains(t, resp.Files, "f.txt")
}

func TestHandleFunctionCallFrontSuccess(t *testing.T) {
	c, fs := newTestCore(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hi"), 0o644))

	msg, err := protocol.NewMessage(protocol.TypeFunctionCallReqFront, protocol.FunctionCallPayload{
		RequestID:    "R3",
		FunctionName: "read_file",
		Args:         map[string]interface{}{"path": "README.md", "rootPath": dir},
	})
	require.NoError(t, err)

	require.NoError(t, c.Dispatcher.Dispatch(context.Background(), marshal(t, msg)))
	frame := waitForSend(t, fs, protocol.TypeFunctionCallResFront)

	resp := frame.Payload.(protocol.FunctionCallResultPayload)
	assert.True(t, resp.Success)
}

func marshal(t *testing.T, msg *protocol.Message) []byte {
	t.Helper()
	b, err := json.Marshal(msg)
	require.NoError(t, err)
	return b
}

func waitForSend(t *testing.T, fs *fakeSender, typ string) sentFrame {
	t.Helper()
	for i := 0; i < 200; i++ {
		fs.mu.Lock()
		for _, f := range fs.sent {
			if f.Type == typ {
				fs.mu.Unlock()
				return f
			}
		}
		fs.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("never saw a %s frame", typ)
	return sentFrame{}
}
