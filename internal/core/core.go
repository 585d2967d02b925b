// Package core wires every component into a single struct injected into
// handlers, so tests can instantiate a fresh Core per case instead of
// reaching through package-level globals.
package core

import (
	"log/slog"

	"github.com/todoforai/edge/internal/config"
	"github.com/todoforai/edge/internal/dispatch"
	"github.com/todoforai/edge/internal/functions"
	"github.com/todoforai/edge/internal/installer"
	"github.com/todoforai/edge/internal/protocol"
	"github.com/todoforai/edge/internal/scanner"
	"github.com/todoforai/edge/internal/shellexec"
	"github.com/todoforai/edge/internal/toolcatalog"
	"github.com/todoforai/edge/internal/watcher"
)

// Sender is the connection handle every handler sends outbound frames
// through, passed explicitly rather than captured in a closure.
// *connection.Supervisor implements it; tests substitute a fake.
type Sender interface {
	Send(msgType string, payload interface{}) error
	SyncConfig(delta map[string]interface{}) error
}

// Core bundles every process-singleton component a handler might need.
type Core struct {
	Config     *config.Record
	Functions  *functions.Registry
	Shell      *shellexec.Executor
	Catalog    *toolcatalog.Catalog
	Scanner    *scanner.Scanner
	Installer  *installer.Installer
	Dispatcher *dispatch.Dispatcher
	Supervisor Sender
	Watcher    *watcher.Watcher
	Log        *slog.Logger
}

// New builds a fully wired Core. toolsDir is normally
// config.ToolsDir(); it may point at a temp dir in tests.
func New(record *config.Record, toolsDir string, urlResolver toolcatalog.URLResolver, shell string, debug bool, log *slog.Logger) *Core {
	if log == nil {
		log = slog.Default()
	}
	cat := toolcatalog.Default()
	scn := scanner.New()
	scn.CompileAll(cat.Names())
	inst := installer.New(cat, urlResolver, toolsDir, log)
	exec := shellexec.New(cat, scn, inst, shell, log)
	fnReg := functions.Default()
	disp := dispatch.New(32, log, debug)

	c := &Core{
		Config:     record,
		Functions:  fnReg,
		Shell:      exec,
		Catalog:    cat,
		Scanner:    scn,
		Installer:  inst,
		Dispatcher: disp,
		Log:        log,
	}
	if w, err := watcher.New(c, 0, log); err != nil {
		log.Warn("core.watcher_unavailable", "error", err)
	} else {
		c.Watcher = w
	}
	return c
}

// NotifyFileChanges implements watcher.Notifier, forwarding a coalesced
// change batch to the coordination server.
func (c *Core) NotifyFileChanges(root string, events []watcher.Event) {
	if c.Supervisor == nil {
		return
	}
	out := make([]protocol.FileChangeEvent, len(events))
	for i, e := range events {
		out[i] = protocol.FileChangeEvent{Path: e.Path, Op: e.Op}
	}
	_ = c.Supervisor.Send(protocol.TypeWorkspaceFileChanged, protocol.WorkspaceFileChangedPayload{
		WorkspacePath: root,
		Events:        out,
	})
}

// AttachSupervisor wires the connection supervisor in once it's been
// constructed (it depends on Core's dispatcher, creating the circular
// construction order goclaw's own cmd/gateway.go resolves the same way —
// build the pieces, then cross-wire).
func (c *Core) AttachSupervisor(s Sender) {
	c.Supervisor = s
}
