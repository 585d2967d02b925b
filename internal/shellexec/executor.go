// Package shellexec implements the per-block shell execution state
// machine: spawn (PTY or pipes via procio), streaming through an
// outputbuf.Buffer, approval gating against the tool
// catalog/scanner/installer, timeout, interrupt, and input injection.
// Grounded on goclaw's internal/tools/shell.go ExecTool — same
// approval-then-execute shape, generalized from goclaw's sandbox-vs-host
// routing to a PTY-vs-pipes routing.
package shellexec

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/todoforai/edge/internal/installer"
	"github.com/todoforai/edge/internal/outputbuf"
	"github.com/todoforai/edge/internal/procio"
	"github.com/todoforai/edge/internal/protocol"
	"github.com/todoforai/edge/internal/scanner"
	"github.com/todoforai/edge/internal/toolcatalog"
)

const defaultTimeout = 5 * time.Minute

// waitGrace is the extra grace period completion-waiters are given
// beyond the block's own timeout, to let sh_done delivery win the race
// against WaitForCompletion's own deadline.
const waitGrace = 5 * time.Second

// Sender delivers an outbound frame; implemented by the connection
// supervisor's send primitive.
type Sender interface {
	Send(msgType string, payload interface{}) error
}

// block is the executor's private per-execution record.
type block struct {
	id      string
	proc    procio.Process
	buf     *outputbuf.Buffer
	pending []string // tool names awaiting approval, nil once resolved
	done    chan struct{}
	result  string
}

// Executor owns every in-flight block, the tool catalog/scanner it
// consults for approval gating, and the installer it delegates to.
type Executor struct {
	mu     sync.Mutex
	blocks map[string]*block

	catalog   *toolcatalog.Catalog
	scanner   *scanner.Scanner
	installer *installer.Installer

	shell string
	log   *slog.Logger
}

// New builds an Executor wired to cat/installer, using sh as the spawn
// shell (normally "sh" or "bash").
func New(cat *toolcatalog.Catalog, scn *scanner.Scanner, inst *installer.Installer, shell string, log *slog.Logger) *Executor {
	if log == nil {
		log = slog.Default()
	}
	if shell == "" {
		shell = "sh"
	}
	return &Executor{
		blocks:    make(map[string]*block),
		catalog:   cat,
		scanner:   scn,
		installer: inst,
		shell:     shell,
		log:       log,
	}
}

// Request bundles the arguments to Execute.
type Request struct {
	BlockID   string
	Command   string
	TodoID    string
	MessageID string
	Timeout   time.Duration
	RootPath  string
	Manual    bool
	RunMode   string
}

// Execute runs Request.Command under BlockID. It always emits
// block:sh_msg_start and block:sh_done, except on the approval-pending
// path, which emits only BLOCK_UPDATE and returns without spawning.
func (e *Executor) Execute(ctx context.Context, req Request, send Sender) {
	e.mu.Lock()
	existing, hasExisting := e.blocks[req.BlockID]
	e.mu.Unlock()

	if hasExisting && existing.pending != nil {
		e.resumeAfterApproval(ctx, req, existing, send)
		return
	}
	if hasExisting {
		// A re-execute for a block with no outstanding approval context is
		// rejected rather than silently treated as fresh work (open
		// question decision #4).
		_ = send.Send(protocol.TypeBlockErrorResult, map[string]interface{}{
			"blockId": req.BlockID,
			"error":   "block already running or awaiting approval that was never requested",
		})
		return
	}

	missing := e.notInstalled(e.scanner.MissingTools(req.Command, e.catalog.Names()))
	if len(missing) > 0 {
		b := &block{id: req.BlockID, pending: missing, done: make(chan struct{})}
		e.mu.Lock()
		e.blocks[req.BlockID] = b
		e.mu.Unlock()

		_ = send.Send(protocol.TypeBlockUpdate, protocol.BlockUpdatePayload{
			BlockID: req.BlockID,
			Status:  protocol.BlockStatusAwaitingApproval,
			ApprovalContext: protocol.ApprovalContext{
				Source:        "edge",
				ToolInstalls:  missing,
				WorkspacePath: req.RootPath,
			},
		})
		return
	}

	e.spawnAndRun(ctx, req, send, nil)
}

// notInstalled filters names down to those the installer does not
// already find on PATH — the scanner only detects command-position
// references, it knows nothing about install state, so approval must
// never re-fire for a tool that's already present.
func (e *Executor) notInstalled(names []string) []string {
	var out []string
	for _, name := range names {
		if !e.installer.IsInstalled(name) {
			out = append(out, name)
		}
	}
	return out
}

// resumeAfterApproval consumes the pending approval list, installs each
// tool in order, announces installs, then runs the command.
func (e *Executor) resumeAfterApproval(ctx context.Context, req Request, b *block, send Sender) {
	tools := b.pending
	b.pending = nil

	var installed []string
	for _, name := range tools {
		if e.installer.EnsureTool(ctx, name) {
			installed = append(installed, name)
		}
	}

	var preamble string
	if len(installed) > 0 {
		preamble = fmt.Sprintf("[installed: %s]\n", strings.Join(installed, ", "))
	}
	e.spawnAndRun(ctx, req, send, []byte(preamble))
}

func (e *Executor) spawnAndRun(ctx context.Context, req Request, send Sender, preamble []byte) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	cwd := req.RootPath
	if info, err := os.Stat(cwd); err != nil || !info.IsDir() {
		cwd = os.TempDir()
	}

	env := childEnv()
	if dir, err := toolsPath(); err == nil {
		env = append([]string{"PATH=" + dir + string(os.PathListSeparator) + os.Getenv("PATH")}, env...)
	}

	b := &block{id: req.BlockID, buf: outputbuf.New(0, 0), done: make(chan struct{})}
	e.mu.Lock()
	e.blocks[req.BlockID] = b
	e.mu.Unlock()

	_ = send.Send(protocol.TypeBlockShMsgStart, protocol.BlockShMsgStartPayload{BlockID: req.BlockID})

	runCtx, cancel := context.WithTimeout(ctx, timeout)

	proc, err := procio.Spawn(ctx, e.shell, req.Command, cwd, env)
	if err != nil {
		cancel()
		e.finish(req.BlockID, b, -1, send)
		return
	}
	b.proc = proc

	if len(preamble) > 0 {
		toStream := b.buf.Append(string(preamble))
		if toStream != "" {
			_ = send.Send(protocol.TypeBlockShMsgResult, protocol.BlockShMsgResultPayload{BlockID: req.BlockID, Content: toStream})
		}
	}

	go e.pump(runCtx, proc, b, send)

	// runCtx is not handed to Spawn, so its deadline does not let
	// exec.CommandContext hard-kill the child; run our own graceful
	// escalation (SIGINT, then SIGTERM, then SIGKILL) instead so a timeout
	// behaves the same as an operator-sent block:signal.
	go func() {
		<-runCtx.Done()
		if runCtx.Err() == context.DeadlineExceeded {
			proc.Interrupt()
		}
	}()

	go func() {
		defer cancel()
		code := proc.Wait()
		if runCtx.Err() == context.DeadlineExceeded {
			toStream := b.buf.Append(fmt.Sprintf("\nExecution timed out after %.0f seconds\n", timeout.Seconds()))
			if toStream != "" {
				_ = send.Send(protocol.TypeBlockShMsgResult, protocol.BlockShMsgResultPayload{BlockID: req.BlockID, Content: toStream})
			}
		}
		e.finish(req.BlockID, b, code, send)
	}()
}

// pump reads process output and streams it through the block's buffer
// until the process's output stream is exhausted.
func (e *Executor) pump(ctx context.Context, proc procio.Process, b *block, send Sender) {
	buf := make([]byte, 4096)
	for {
		n, err := proc.Output().Read(buf)
		if n > 0 {
			toStream := b.buf.Append(string(buf[:n]))
			if toStream != "" {
				_ = send.Send(protocol.TypeBlockShMsgResult, protocol.BlockShMsgResultPayload{BlockID: b.id, Content: toStream})
			}
		}
		if err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (e *Executor) finish(blockID string, b *block, code int, send Sender) {
	if notice := b.buf.TruncationNotice(); notice != "" {
		_ = send.Send(protocol.TypeBlockShMsgResult, protocol.BlockShMsgResultPayload{BlockID: blockID, Content: notice})
	}
	b.result = b.buf.GetOutput()
	close(b.done)

	_ = send.Send(protocol.TypeBlockShDone, protocol.BlockShDonePayload{BlockID: blockID, ReturnCode: code})

	e.mu.Lock()
	delete(e.blocks, blockID)
	e.mu.Unlock()
}

// Interrupt runs the best-effort escalation protocol against blockID's
// process, if any.
func (e *Executor) Interrupt(blockID string) {
	e.mu.Lock()
	b, ok := e.blocks[blockID]
	e.mu.Unlock()
	if !ok || b.proc == nil {
		return
	}
	b.proc.Interrupt()
}

// InjectInput validates blockID exists, checkpoints its buffer, appends a
// trailing newline if missing, and writes to the child's input.
func (e *Executor) InjectInput(blockID, text string) error {
	e.mu.Lock()
	b, ok := e.blocks[blockID]
	e.mu.Unlock()
	if !ok || b.proc == nil {
		return fmt.Errorf("shellexec: no running block %q", blockID)
	}
	b.buf.ResetForInteraction()
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	_, err := b.proc.Write([]byte(text))
	return err
}

// WaitForCompletion blocks until blockID's block reaches a terminal
// state (or timeout+waitGrace elapses) and returns its full output via
// GetOutput — used by the execute_shell_command function to expose
// streaming shells synchronously.
func (e *Executor) WaitForCompletion(ctx context.Context, blockID string, timeout time.Duration) (string, error) {
	e.mu.Lock()
	b, ok := e.blocks[blockID]
	e.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("shellexec: unknown block %q", blockID)
	}

	select {
	case <-b.done:
		return b.result, nil
	case <-time.After(timeout + waitGrace):
		return "", fmt.Errorf("shellexec: block %q did not complete within %s", blockID, timeout+waitGrace)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func childEnv() []string {
	env := os.Environ()
	return append(env, "NO_COLOR=1", "TERM=dumb")
}

func toolsPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	base := home + string(os.PathSeparator) + ".todoforai" + string(os.PathSeparator) + "tools"
	bin := base + string(os.PathSeparator) + "bin"
	nodeBin := base + string(os.PathSeparator) + "node_modules" + string(os.PathSeparator) + ".bin"
	venvBin := base + string(os.PathSeparator) + "venv" + string(os.PathSeparator) + "bin"
	return bin + string(os.PathListSeparator) + nodeBin + string(os.PathListSeparator) + venvBin, nil
}
