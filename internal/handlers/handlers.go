// Package handlers implements the thin per-message-type adapters: unpack
// payload, invoke the core component, format the response frame.
// Registered against a dispatch.Dispatcher by Register.
package handlers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/todoforai/edge/internal/config"
	"github.com/todoforai/edge/internal/core"
	"github.com/todoforai/edge/internal/dispatch"
	"github.com/todoforai/edge/internal/pathresolver"
	"github.com/todoforai/edge/internal/protocol"
	"github.com/todoforai/edge/internal/shellexec"
)

// Register wires every known inbound message type to its handler.
func Register(d *dispatch.Dispatcher, c *core.Core) {
	d.Register(protocol.TypeConnectedEdge, handleConnectedEdge(c))
	d.Register(protocol.TypeEdgeConfigUpdate, handleConfigUpdate(c))
	d.Register(protocol.TypeEdgeCD, handleCD(c))
	d.Register(protocol.TypeBlockExecute, handleBlockExecute(c))
	d.Register(protocol.TypeBlockSignal, handleBlockSignal(c))
	d.Register(protocol.TypeBlockKeyboard, handleBlockKeyboard(c))
	d.Register(protocol.TypeTaskActionNew, handleTaskActionNew(c))
	d.Register(protocol.TypeCtxJuliaRequest, handleCtxJuliaRequest(c))
	d.Register(protocol.TypeFileChunkRequest, handleFileChunkRequest(c, protocol.TypeFileChunkResult))
	d.Register(protocol.TypeFrontendFileChunkReq, handleFileChunkRequest(c, protocol.TypeFrontendFileChunkRes))
	d.Register(protocol.TypeEdgeGetFolders, handleGetFolders(c))
	d.Register(protocol.TypeFunctionCallReqAgent, handleFunctionCall(c, protocol.TypeFunctionCallResAgent))
	d.Register(protocol.TypeFunctionCallReqFront, handleFunctionCall(c, protocol.TypeFunctionCallResFront))
}

func handleConnectedEdge(c *core.Core) dispatch.Handler {
	return func(ctx context.Context, msg *protocol.Message) {
		var payload struct {
			EdgeID string `json:"edgeId"`
			UserID string `json:"userId"`
		}
		if err := msg.Decode(&payload); err != nil {
			return
		}
		c.Config.SetIdentity(payload.EdgeID, payload.UserID)
	}
}

func handleConfigUpdate(c *core.Core) dispatch.Handler {
	return func(ctx context.Context, msg *protocol.Message) {
		var payload map[string]interface{}
		if err := msg.Decode(&payload); err != nil {
			return
		}
		var syncer config.Syncer
		if c.Supervisor != nil {
			syncer = c.Supervisor
		}
		if err := c.Config.ApplyServerUpdate(payload, syncer); err != nil {
			c.Log.Error("handlers.config_update_failed", "error", err)
		}
	}
}

func handleCD(c *core.Core) dispatch.Handler {
	return func(ctx context.Context, msg *protocol.Message) {
		var p protocol.EdgeCDPayload
		if err := msg.Decode(&p); err != nil {
			return
		}
		abs, err := pathresolver.Resolve(p.Path, "", c.Config.AbsWorkspaceRoots())
		if err != nil {
			send(c, protocol.TypeEdgeCDResponse, protocol.EdgeCDResponsePayload{Success: false, Error: err.Error(), RequestID: p.RequestID})
			return
		}
		if _, err := os.Stat(abs); err != nil {
			send(c, protocol.TypeEdgeCDResponse, protocol.EdgeCDResponsePayload{Success: false, Error: err.Error(), RequestID: p.RequestID})
			return
		}

		if !config.IsForbiddenRoot(abs) && c.Config.AddWorkspacePath(abs) {
			if c.Supervisor != nil && c.Config.ReadyToSync() {
				delta := c.Config.SyncDelta(map[string]interface{}{"workspacepaths": c.Config.Snapshot().WorkspacePaths})
				_ = c.Supervisor.SyncConfig(delta)
			}
			if c.Watcher != nil {
				if err := c.Watcher.AddRoot(abs); err != nil {
					c.Log.Warn("handlers.watch_root_failed", "path", abs, "error", err)
				}
			}
		}
		send(c, protocol.TypeEdgeCDResponse, protocol.EdgeCDResponsePayload{Success: true, Path: abs, RequestID: p.RequestID})
	}
}

func handleBlockExecute(c *core.Core) dispatch.Handler {
	return func(ctx context.Context, msg *protocol.Message) {
		var p protocol.BlockExecutePayload
		if err := msg.Decode(&p); err != nil {
			return
		}
		timeout := time.Duration(p.TimeoutS) * time.Second
		c.Shell.Execute(ctx, shellexec.Request{
			BlockID:   p.BlockID,
			Command:   p.Content,
			TodoID:    p.TodoID,
			MessageID: p.MessageID,
			Timeout:   timeout,
			RootPath:  p.RootPath,
			Manual:    p.Manual,
			RunMode:   p.RunMode,
		}, senderFor(c))
	}
}

func handleBlockSignal(c *core.Core) dispatch.Handler {
	return func(ctx context.Context, msg *protocol.Message) {
		var p protocol.BlockSignalPayload
		if err := msg.Decode(&p); err != nil {
			return
		}
		c.Shell.Interrupt(p.BlockID)
	}
}

func handleBlockKeyboard(c *core.Core) dispatch.Handler {
	return func(ctx context.Context, msg *protocol.Message) {
		var p protocol.BlockKeyboardPayload
		if err := msg.Decode(&p); err != nil {
			return
		}
		if err := c.Shell.InjectInput(p.BlockID, p.Text); err != nil {
			c.Log.Warn("handlers.keyboard_inject_failed", "blockId", p.BlockID, "error", err)
		}
	}
}

func handleTaskActionNew(c *core.Core) dispatch.Handler {
	return func(ctx context.Context, msg *protocol.Message) {
		var p struct {
			TaskID string `json:"taskId"`
		}
		_ = msg.Decode(&p)
		send(c, protocol.TypeTaskActionUpdate, map[string]interface{}{"taskId": p.TaskID, "status": "started"})
	}
}

func handleCtxJuliaRequest(c *core.Core) dispatch.Handler {
	return func(ctx context.Context, msg *protocol.Message) {
		var p struct {
			RequestID string `json:"requestId"`
		}
		_ = msg.Decode(&p)
		if p.RequestID == "" {
			// The server always supplies one in practice; synthesize a
			// correlation id rather than echo back an empty string.
			p.RequestID = uuid.NewString()
		}
		send(c, protocol.TypeCtxJuliaResult, map[string]interface{}{"requestId": p.RequestID, "placeholder": true})
	}
}

func handleFileChunkRequest(c *core.Core, responseType string) dispatch.Handler {
	return func(ctx context.Context, msg *protocol.Message) {
		var p map[string]interface{}
		if err := msg.Decode(&p); err != nil {
			return
		}
		path, _ := p["path"].(string)
		rootPath, _ := p["rootPath"].(string)

		full, err := pathresolver.Resolve(path, rootPath, c.Config.AbsWorkspaceRoots())
		if err != nil {
			p["error"] = err.Error()
			send(c, responseType, p)
			return
		}
		data, err := os.ReadFile(full)
		if err != nil {
			p["error"] = err.Error()
			send(c, responseType, p)
			return
		}
		p["content"] = string(data)
		p["contentType"] = "text"
		send(c, responseType, p)
	}
}

func handleGetFolders(c *core.Core) dispatch.Handler {
	return func(ctx context.Context, msg *protocol.Message) {
		var p protocol.GetFoldersPayload
		if err := msg.Decode(&p); err != nil {
			return
		}
		actual := p.Path
		for {
			if info, err := os.Stat(actual); err == nil && info.IsDir() {
				break
			}
			parent := filepath.Dir(actual)
			if parent == actual {
				break
			}
			actual = parent
		}

		entries, err := os.ReadDir(actual)
		if err != nil {
			send(c, protocol.TypeEdgeGetFoldersResponse, protocol.GetFoldersResponsePayload{ActualPath: actual, Error: err.Error(), RequestID: p.RequestID})
			return
		}
		var folders, files []string
		for _, e := range entries {
			if e.IsDir() {
				folders = append(folders, e.Name())
			} else {
				files = append(files, e.Name())
			}
		}
		sort.Strings(folders)
		sort.Strings(files)
		send(c, protocol.TypeEdgeGetFoldersResponse, protocol.GetFoldersResponsePayload{
			ActualPath: actual, Folders: folders, Files: files, RequestID: p.RequestID,
		})
	}
}

func handleFunctionCall(c *core.Core, responseType string) dispatch.Handler {
	return func(ctx context.Context, msg *protocol.Message) {
		var p protocol.FunctionCallPayload
		if err := msg.Decode(&p); err != nil {
			return
		}
		result, err := c.Functions.Call(ctx, p.FunctionName, p.Args, senderFor(c))
		if err != nil {
			if isAwaitingApproval(err) {
				return
			}
			send(c, responseType, protocol.FunctionCallResultPayload{RequestID: p.RequestID, Success: false, Error: err.Error()})
			return
		}

		var blockInfo interface{}
		if responseType == protocol.TypeFunctionCallResFront {
			if blockID, ok := p.Args["blockId"]; ok {
				blockInfo = map[string]interface{}{"blockId": blockID}
			}
		}
		send(c, responseType, protocol.FunctionCallResultPayload{RequestID: p.RequestID, Success: true, Result: result, BlockInfo: blockInfo})
	}
}

func isAwaitingApproval(err error) bool {
	return err != nil && err.Error() == "awaiting tool-install approval"
}

// senderAdapter adapts a Core's supervisor to the narrower Sender/Conn
// interfaces shellexec and functions expect.
type senderAdapter struct{ c *core.Core }

func (s senderAdapter) Send(msgType string, payload interface{}) error {
	return send(s.c, msgType, payload)
}

func senderFor(c *core.Core) senderAdapter { return senderAdapter{c: c} }

// WorkspaceRoots implements functions.RootsProvider, supplying the
// configured workspace paths as pathresolver fallback search roots.
func (s senderAdapter) WorkspaceRoots() []string {
	return s.c.Config.AbsWorkspaceRoots()
}

// RunShellSync implements functions.ShellRunner: it spawns blockID
// through the shell executor exactly as a block:execute frame would,
// then blocks on WaitForCompletion so execute_shell_command can return a
// single synchronous result.
func (s senderAdapter) RunShellSync(ctx context.Context, blockID, command, rootPath string, timeout time.Duration) (string, error) {
	s.c.Shell.Execute(ctx, shellexec.Request{
		BlockID:  blockID,
		Command:  command,
		RootPath: rootPath,
		Timeout:  timeout,
	}, s)
	return s.c.Shell.WaitForCompletion(ctx, blockID, timeout)
}

// EnsureTool and IsToolInstalled implement functions.ToolInstaller,
// letting search_files auto-install ripgrep on first use.
func (s senderAdapter) EnsureTool(ctx context.Context, name string) bool {
	return s.c.Installer.EnsureTool(ctx, name)
}

func (s senderAdapter) IsToolInstalled(name string) bool {
	return s.c.Installer.IsInstalled(name)
}

// httpCapable is the authenticated HTTP surface the connection
// supervisor exposes once dialed; asserted against from GetFile et al.
// below since core.Sender (the narrower interface Core.Supervisor is
// typed as) doesn't itself declare them.
type httpCapable interface {
	GetFile(ctx context.Context, attachmentID string) ([]byte, string, error)
	GetTodo(ctx context.Context, todoID string) ([]byte, string, error)
	RegisterResource(ctx context.Context, filename string, content []byte, fields map[string]string) error
}

// GetFile, GetTodo and RegisterResource implement functions.HTTPFetcher
// by delegating to the connection supervisor's authenticated HTTP client.
func (s senderAdapter) GetFile(ctx context.Context, attachmentID string) ([]byte, string, error) {
	httpClient, ok := s.c.Supervisor.(httpCapable)
	if !ok {
		return nil, "", fmt.Errorf("handlers: not connected")
	}
	return httpClient.GetFile(ctx, attachmentID)
}

func (s senderAdapter) GetTodo(ctx context.Context, todoID string) ([]byte, string, error) {
	httpClient, ok := s.c.Supervisor.(httpCapable)
	if !ok {
		return nil, "", fmt.Errorf("handlers: not connected")
	}
	return httpClient.GetTodo(ctx, todoID)
}

func (s senderAdapter) RegisterResource(ctx context.Context, filename string, content []byte, fields map[string]string) error {
	httpClient, ok := s.c.Supervisor.(httpCapable)
	if !ok {
		return fmt.Errorf("handlers: not connected")
	}
	return httpClient.RegisterResource(ctx, filename, content, fields)
}

func send(c *core.Core, msgType string, payload interface{}) error {
	if c.Supervisor == nil {
		c.Log.Warn("handlers.send_without_supervisor", "type", msgType)
		return nil
	}
	return c.Supervisor.Send(msgType, payload)
}
