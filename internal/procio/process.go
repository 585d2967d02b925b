// Package procio implements a capability-tagged child-process
// abstraction: PTY and pipe processes both implement the same
// Write/Interrupt/output-subscribe operations so the shell executor
// doesn't branch on availability beyond selection-at-spawn. PTY support
// is grounded on github.com/creack/pty, adopted from the Aureuma-si
// example repo (goclaw itself never touches a pseudo-terminal).
package procio

import (
	"context"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/creack/pty"
)

// Process is the capability-tagged child-process handle the shell
// executor spawns and interrupts through.
type Process interface {
	// Output returns the stream to read combined stdout/stderr from.
	Output() io.Reader
	// Write sends bytes to the child's input (keyboard injection).
	Write(p []byte) (int, error)
	// Interrupt runs the three-stage escalation (SIGINT, then SIGTERM,
	// then SIGKILL) appropriate to this process's transport.
	Interrupt()
	// Wait blocks until the child exits and returns its exit code, -1 if
	// unknown.
	Wait() int
	// Kind reports "pty" or "pipes", surfaced in logs/tests.
	Kind() string
}

// ptyProcess wraps a pseudo-terminal-backed child.
type ptyProcess struct {
	cmd *exec.Cmd
	pty *os.File
}

// pipeProcess wraps a pipe-backed, process-group-detached child.
type pipeProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.Reader
}

// Spawn starts command in cwd with env, preferring a PTY (200x50) and
// falling back to pipes with process-group semantics if PTY allocation
// fails at runtime.
func Spawn(ctx context.Context, shell, command, cwd string, env []string) (Process, error) {
	cmd := exec.CommandContext(ctx, shell, "-c", command)
	cmd.Dir = cwd
	cmd.Env = env

	f, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: 50, Cols: 200})
	if err == nil {
		return &ptyProcess{cmd: cmd, pty: f}, nil
	}

	cmd = exec.CommandContext(ctx, shell, "-c", command)
	cmd.Dir = cwd
	cmd.Env = env
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stderr = cmd.Stdout
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &pipeProcess{cmd: cmd, stdin: stdin, stdout: stdout}, nil
}

func (p *ptyProcess) Output() io.Reader { return p.pty }
func (p *ptyProcess) Write(b []byte) (int, error) { return p.pty.Write(b) }
func (p *ptyProcess) Kind() string { return "pty" }

func (p *ptyProcess) Interrupt() {
	escalate(func(sig syscall.Signal) {
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Signal(sig)
		}
	}, func() {
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
	})
}

func (p *ptyProcess) Wait() int {
	err := p.cmd.Wait()
	_ = p.pty.Close()
	return exitCode(p.cmd, err)
}

func (p *pipeProcess) Output() io.Reader { return p.stdout }
func (p *pipeProcess) Write(b []byte) (int, error) { return p.stdin.Write(b) }
func (p *pipeProcess) Kind() string { return "pipes" }

func (p *pipeProcess) Interrupt() {
	escalate(func(sig syscall.Signal) {
		if p.cmd.Process != nil {
			// negative pid targets the whole process group.
			_ = syscall.Kill(-p.cmd.Process.Pid, sig)
		}
	}, func() {
		if p.cmd.Process != nil {
			_ = syscall.Kill(-p.cmd.Process.Pid, syscall.SIGKILL)
		}
	})
}

func (p *pipeProcess) Wait() int {
	err := p.cmd.Wait()
	return exitCode(p.cmd, err)
}

// escalate runs the best-effort three-stage interrupt: SIGINT
// immediately, SIGTERM after ~1s, SIGKILL after another ~0.5s. Failures
// are swallowed; killFn is the unconditional last resort.
func escalate(signal func(syscall.Signal), killFn func()) {
	signal(syscall.SIGINT)
	time.AfterFunc(1*time.Second, func() { signal(syscall.SIGTERM) })
	time.AfterFunc(1500*time.Millisecond, killFn)
}

func exitCode(cmd *exec.Cmd, err error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	if err == nil {
		return 0
	}
	return -1
}
