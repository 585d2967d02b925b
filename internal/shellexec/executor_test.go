package shellexec

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/todoforai/edge/internal/installer"
	"github.com/todoforai/edge/internal/protocol"
	"github.com/todoforai/edge/internal/scanner"
	"github.com/todoforai/edge/internal/toolcatalog"
)

// recordingSender collects every frame sent by the executor and exposes a
// channel that fires once a block:sh_done arrives for a given block id.
type recordingSender struct {
	mu   sync.Mutex
	sent []sentFrame
	done chan string
}

type sentFrame struct {
	msgType string
	payload interface{}
}

func newRecordingSender() *recordingSender {
	return &recordingSender{done: make(chan string, 8)}
}

func (s *recordingSender) Send(msgType string, payload interface{}) error {
	s.mu.Lock()
	s.sent = append(s.sent, sentFrame{msgType, payload})
	s.mu.Unlock()
	if msgType == protocol.TypeBlockShDone {
		if p, ok := payload.(protocol.BlockShDonePayload); ok {
			s.done <- p.BlockID
		}
	}
	return nil
}

func (s *recordingSender) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.sent))
	for i, f := range s.sent {
		out[i] = f.msgType
	}
	return out
}

func newTestExecutor(t *testing.T, cat *toolcatalog.Catalog) (*Executor, *installer.Installer) {
	t.Helper()
	scn := scanner.New()
	scn.CompileAll(cat.Names())
	inst := installer.New(cat, toolcatalog.StaticURLResolver{}, t.TempDir(), nil)
	return New(cat, scn, inst, "sh", nil), inst
}

// writeFakeTool drops an executable shell script named name into dir.
func writeFakeTool(t *testing.T, dir, name, body string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake PATH tools are posix shell scripts")
	}
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
}

func TestExecuteTimeoutKillsProcess(t *testing.T) {
	cat, err := toolcatalog.New(nil)
	require.NoError(t, err)
	exec, _ := newTestExecutor(t, cat)
	sender := newRecordingSender()

	start := time.Now()
	exec.Execute(context.Background(), Request{
		BlockID:  "timeout-block",
		Command:  "sleep 5",
		RootPath: t.TempDir(),
		Timeout:  150 * time.Millisecond,
	}, sender)

	select {
	case blockID := <-sender.done:
		assert.Equal(t, "timeout-block", blockID)
	case <-time.After(4 * time.Second):
		t.Fatal("block never reached sh_done — timeout did not kill the process")
	}

	// A genuine kill completes well inside the unmodified 5s sleep
	// duration; proc.Wait() blocking for the full sleep would mean the
	// timeout never actually terminated the child.
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestApprovalGateSkipsAlreadyInstalledTool(t *testing.T) {
	dir := t.TempDir()
	writeFakeTool(t, dir, "footool", "echo hi")
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))

	cat, err := toolcatalog.New([]toolcatalog.Entry{{Name: "footool", Kind: toolcatalog.InstallerBinary}})
	require.NoError(t, err)
	exec, inst := newTestExecutor(t, cat)
	require.True(t, inst.IsInstalled("footool"), "fixture tool must resolve on PATH for this test to be meaningful")

	sender := newRecordingSender()
	exec.Execute(context.Background(), Request{
		BlockID:  "installed-block",
		Command:  "footool --version",
		RootPath: t.TempDir(),
		Timeout:  2 * time.Second,
	}, sender)

	select {
	case blockID := <-sender.done:
		assert.Equal(t, "installed-block", blockID)
	case <-time.After(4 * time.Second):
		t.Fatal("block never reached sh_done — approval gate likely fired for an already-installed tool")
	}

	for _, typ := range sender.types() {
		assert.NotEqual(t, protocol.TypeBlockUpdate, typ, "approval gate must not fire once the referenced tool is already installed")
	}
}

func TestApprovalGateFiresForMissingTool(t *testing.T) {
	cat, err := toolcatalog.New([]toolcatalog.Entry{{Name: "definitely-not-a-real-binary-xyz", Kind: toolcatalog.InstallerBinary}})
	require.NoError(t, err)
	exec, _ := newTestExecutor(t, cat)

	sender := newRecordingSender()
	exec.Execute(context.Background(), Request{
		BlockID:  "missing-block",
		Command:  "definitely-not-a-real-binary-xyz --version",
		RootPath: t.TempDir(),
		Timeout:  2 * time.Second,
	}, sender)

	types := sender.types()
	require.Len(t, types, 1)
	assert.Equal(t, protocol.TypeBlockUpdate, types[0])
}
