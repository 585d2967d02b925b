// Package functions implements the process-singleton name→handler table
// the function-call dispatcher invokes against: file I/O, workspace tree,
// system info, shell execution, attachment/chat downloads. Grounded on
// goclaw's Registry pattern (internal/tools exposes tools by name to the
// agent loop) and its Result type (internal/tools/result.go), adapted
// here to a distinct error/await-approval/success result shape.
package functions

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/todoforai/edge/internal/pathresolver"
)

// defaultShellTimeout bounds execute_shell_command when the caller
// doesn't supply one.
const defaultShellTimeout = 2 * time.Minute

// searchTimeout bounds search_files, which runs an external search tool
// rather than a user-supplied command.
const searchTimeout = 30 * time.Second

const maxTextFileSize = 100 * 1024
const maxBase64FileSize = 50 * 1024 * 1024

// AwaitingApproval is the magic marker return value that suppresses the
// response frame entirely — the caller will be re-invoked by the server
// after approval.
var AwaitingApproval error = awaitingApprovalMarker{}

type awaitingApprovalMarker struct{}

func (awaitingApprovalMarker) Error() string { return "awaiting tool-install approval" }

// Handler is the signature every registry entry implements. ch is the
// connection handle, passed by the function-call handler for every call
// (it may be nil, e.g. in unit tests); pure functions ignore it.
type Handler func(ctx context.Context, args map[string]interface{}, ch Conn) (interface{}, error)

// Conn is the minimal connection-handle capability a handler may need.
type Conn interface {
	Send(msgType string, payload interface{}) error
}

// RootsProvider supplies the configured workspace roots used as
// pathresolver fallback search roots; implemented optionally by a Conn.
type RootsProvider interface {
	WorkspaceRoots() []string
}

// ShellRunner runs a command to completion and returns its full output,
// used by execute_shell_command to expose a streaming shell block
// synchronously to a function-call caller.
type ShellRunner interface {
	RunShellSync(ctx context.Context, blockID, command, rootPath string, timeout time.Duration) (string, error)
}

// ToolInstaller installs a named external tool on demand, used by
// search_files to materialize ripgrep before invoking it.
type ToolInstaller interface {
	EnsureTool(ctx context.Context, name string) bool
	IsToolInstalled(name string) bool
}

// HTTPFetcher is the authenticated HTTP capability the attachment/chat
// download and resource-registration functions need.
type HTTPFetcher interface {
	GetFile(ctx context.Context, attachmentID string) ([]byte, string, error)
	GetTodo(ctx context.Context, todoID string) ([]byte, string, error)
	RegisterResource(ctx context.Context, filename string, content []byte, fields map[string]string) error
}

// workspaceRoots extracts ch's configured workspace roots, or nil if ch
// is absent or doesn't support the capability (e.g. in unit tests).
func workspaceRoots(ch Conn) []string {
	if ch == nil {
		return nil
	}
	if rp, ok := ch.(RootsProvider); ok {
		return rp.WorkspaceRoots()
	}
	return nil
}

// Registry is the process-singleton function table, with backward-compat
// aliasing (dual-cased names point at the same handler), mirroring
// goclaw's toolAliases idiom in internal/tools/policy.go.
type Registry struct {
	handlers map[string]Handler
	aliases  map[string]string
}

// New returns an empty registry; use Default() for the fully populated
// one the edge actually runs with.
func New() *Registry {
	return &Registry{handlers: make(map[string]Handler), aliases: make(map[string]string)}
}

// Register adds name → h, overwriting any existing entry.
func (r *Registry) Register(name string, h Handler) {
	r.handlers[name] = h
}

// Alias makes alias resolve to the same handler as canonical.
func (r *Registry) Alias(alias, canonical string) {
	r.aliases[alias] = canonical
}

// resolve maps a possibly-aliased name to its canonical handler name.
func (r *Registry) resolve(name string) string {
	if canonical, ok := r.aliases[name]; ok {
		return canonical
	}
	return name
}

// Call invokes the named function with args, returning AwaitingApproval
// verbatim when the handler returns it so the caller can suppress the
// response frame.
func (r *Registry) Call(ctx context.Context, name string, args map[string]interface{}, ch Conn) (interface{}, error) {
	h, ok := r.handlers[r.resolve(name)]
	if !ok {
		return nil, fmt.Errorf("functions: unknown function %q", name)
	}
	return h(ctx, args, ch)
}

// Default builds the registry populated with every function the edge
// exposes to the coordination server.
func Default() *Registry {
	r := New()

	r.Register("get_function_names", fnGetFunctionNames(r))
	r.Register("get_cwd", fnGetCWD)
	r.Register("get_env_var", fnGetEnvVar)
	r.Register("get_system_info", fnGetSystemInfo)
	r.Register("get_default_path", fnGetDefaultPath)
	r.Register("create_directory", fnCreateDirectory)
	r.Register("read_file", fnReadFile)
	r.Register("create_file", fnCreateFile)
	r.Register("read_file_base64", fnReadFileBase64)
	r.Register("get_workspace_tree", fnGetWorkspaceTree)
	r.Register("execute_shell_command", fnExecuteShellCommand)
	r.Register("search_files", fnSearchFiles)
	r.Register("download_attachment", fnDownloadAttachment)
	r.Register("download_chat", fnDownloadChat)
	r.Register("register_attachment", fnRegisterAttachment)

	r.Alias("readFile", "read_file")
	r.Alias("createFile", "create_file")
	r.Alias("getCwd", "get_cwd")
	r.Alias("getEnvVar", "get_env_var")

	return r
}

func fnGetFunctionNames(r *Registry) Handler {
	return func(ctx context.Context, args map[string]interface{}, ch Conn) (interface{}, error) {
		names := make([]string, 0, len(r.handlers))
		for n := range r.handlers {
			names = append(names, n)
		}
		sort.Strings(names)
		return names, nil
	}
}

func fnGetCWD(ctx context.Context, args map[string]interface{}, ch Conn) (interface{}, error) {
	return os.Getwd()
}

func fnGetEnvVar(ctx context.Context, args map[string]interface{}, ch Conn) (interface{}, error) {
	name, _ := args["name"].(string)
	if name == "" {
		return nil, fmt.Errorf("functions: get_env_var requires name")
	}
	return os.Getenv(name), nil
}

func fnGetSystemInfo(ctx context.Context, args map[string]interface{}, ch Conn) (interface{}, error) {
	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "sh"
	}
	return map[string]interface{}{
		"platform": runtime.GOOS + "/" + runtime.GOARCH,
		"shell":    filepath.Base(shell),
	}, nil
}

func fnGetDefaultPath(ctx context.Context, args map[string]interface{}, ch Conn) (interface{}, error) {
	return pathresolver.DefaultDirectory(), nil
}

func fnCreateDirectory(ctx context.Context, args map[string]interface{}, ch Conn) (interface{}, error) {
	path, _ := args["path"].(string)
	if path == "" {
		return nil, fmt.Errorf("functions: create_directory requires path")
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, err
	}
	return map[string]interface{}{"created": path}, nil
}

func fnReadFile(ctx context.Context, args map[string]interface{}, ch Conn) (interface{}, error) {
	path, rootPath := stringArgs(args, "path", "rootPath")
	full, err := pathresolver.Resolve(path, rootPath, workspaceRoots(ch))
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(full)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		entries, err := os.ReadDir(full)
		if err != nil {
			return nil, err
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			n := e.Name()
			if e.IsDir() {
				n += "/"
			}
			names = append(names, n)
		}
		sort.Strings(names)
		return map[string]interface{}{"fullPath": full, "listing": names, "contentType": "directory"}, nil
	}
	if info.Size() > maxTextFileSize {
		return nil, fmt.Errorf("functions: file %s is %d bytes, exceeds %d byte limit", full, info.Size(), maxTextFileSize)
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"content": string(data), "fullPath": full, "contentType": "text"}, nil
}

func fnCreateFile(ctx context.Context, args map[string]interface{}, ch Conn) (interface{}, error) {
	path, rootPath := stringArgs(args, "path", "rootPath")
	content, _ := args["content"].(string)
	full, err := pathresolver.Resolve(path, rootPath, workspaceRoots(ch))
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return nil, err
	}
	return map[string]interface{}{"fullPath": full, "bytesWritten": len(content)}, nil
}

func fnReadFileBase64(ctx context.Context, args map[string]interface{}, ch Conn) (interface{}, error) {
	path, rootPath := stringArgs(args, "path", "rootPath")
	full, err := pathresolver.Resolve(path, rootPath, workspaceRoots(ch))
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(full)
	if err != nil {
		return nil, err
	}
	if info.Size() > maxBase64FileSize {
		return nil, fmt.Errorf("functions: file %s is %d bytes, exceeds %d byte base64 limit", full, info.Size(), maxBase64FileSize)
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"content":     base64.StdEncoding.EncodeToString(data),
		"fullPath":    full,
		"contentType": "base64",
	}, nil
}

func fnGetWorkspaceTree(ctx context.Context, args map[string]interface{}, ch Conn) (interface{}, error) {
	root, _ := args["rootPath"].(string)
	root = pathresolver.PathOrDefault(root)
	maxDepth := 6
	if d, ok := args["maxDepth"].(float64); ok && d > 0 {
		maxDepth = int(d)
	}

	var lines []string
	err := walkTree(root, root, 0, maxDepth, &lines)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"rootPath": root, "tree": strings.Join(lines, "\n")}, nil
}

func walkTree(root, dir string, depth, maxDepth int, lines *[]string) error {
	if depth > maxDepth {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	ignore := readGitignore(dir)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, e := range entries {
		name := e.Name()
		if name == ".git" || matchesIgnore(name, ignore) {
			continue
		}
		rel, _ := filepath.Rel(root, filepath.Join(dir, name))
		if e.IsDir() {
			*lines = append(*lines, rel+"/")
			if err := walkTree(root, filepath.Join(dir, name), depth+1, maxDepth, lines); err != nil {
				return err
			}
		} else {
			*lines = append(*lines, rel)
		}
	}
	return nil
}

func readGitignore(dir string) []string {
	data, err := os.ReadFile(filepath.Join(dir, ".gitignore"))
	if err != nil {
		return nil
	}
	var patterns []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	return patterns
}

func matchesIgnore(name string, patterns []string) bool {
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, name); ok {
			return true
		}
	}
	return false
}

func stringArgs(args map[string]interface{}, keys ...string) (string, string) {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i], _ = args[k].(string)
	}
	return out[0], out[1]
}

// fnExecuteShellCommand runs command through the shell executor and
// blocks until it completes, exposing the normally-streaming shell block
// as a single synchronous function result.
func fnExecuteShellCommand(ctx context.Context, args map[string]interface{}, ch Conn) (interface{}, error) {
	runner, ok := ch.(ShellRunner)
	if !ok {
		return nil, fmt.Errorf("functions: execute_shell_command requires a connected handle")
	}
	command, _ := args["command"].(string)
	if command == "" {
		return nil, fmt.Errorf("functions: execute_shell_command requires command")
	}
	rootPath, _ := args["rootPath"].(string)
	blockID, _ := args["blockId"].(string)
	if blockID == "" {
		blockID = uuid.NewString()
	}
	timeout := defaultShellTimeout
	if secs, ok := args["timeoutS"].(float64); ok && secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}

	output, err := runner.RunShellSync(ctx, blockID, command, rootPath, timeout)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"blockId": blockID, "output": output}, nil
}

// fnSearchFiles runs an external fast-grep (ripgrep) over rootPath,
// auto-installing it via the tool installer on first use.
func fnSearchFiles(ctx context.Context, args map[string]interface{}, ch Conn) (interface{}, error) {
	inst, ok := ch.(ToolInstaller)
	if !ok {
		return nil, fmt.Errorf("functions: search_files requires a connected handle")
	}
	pattern, _ := args["pattern"].(string)
	if pattern == "" {
		return nil, fmt.Errorf("functions: search_files requires pattern")
	}
	root, _ := args["rootPath"].(string)
	root = pathresolver.PathOrDefault(root)

	if !inst.IsToolInstalled("rg") {
		if !inst.EnsureTool(ctx, "rg") {
			return nil, fmt.Errorf("functions: search_files could not install ripgrep")
		}
	}

	searchCtx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()
	cmd := exec.CommandContext(searchCtx, "rg", "--no-messages", "--line-number", "--max-count", "200", pattern, root)
	out, err := cmd.Output()
	// ripgrep exits 1 for "no matches", which isn't a failure here.
	var exitErr *exec.ExitError
	if err != nil && !(errors.As(err, &exitErr) && exitErr.ExitCode() == 1) {
		return nil, fmt.Errorf("functions: search_files: %w", err)
	}
	lines := strings.Split(strings.TrimRight(string(out), "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		lines = nil
	}
	return map[string]interface{}{"rootPath": root, "matches": lines}, nil
}

// fnDownloadAttachment fetches an attachment by id over the authenticated
// HTTP API and returns it base64-encoded.
func fnDownloadAttachment(ctx context.Context, args map[string]interface{}, ch Conn) (interface{}, error) {
	fetcher, ok := ch.(HTTPFetcher)
	if !ok {
		return nil, fmt.Errorf("functions: download_attachment requires a connected handle")
	}
	attachmentID, _ := args["attachmentId"].(string)
	if attachmentID == "" {
		return nil, fmt.Errorf("functions: download_attachment requires attachmentId")
	}
	data, contentType, err := fetcher.GetFile(ctx, attachmentID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"attachmentId": attachmentID,
		"content":      base64.StdEncoding.EncodeToString(data),
		"contentType":  contentType,
	}, nil
}

// fnDownloadChat fetches a todo/chat transcript by id over the
// authenticated HTTP API.
func fnDownloadChat(ctx context.Context, args map[string]interface{}, ch Conn) (interface{}, error) {
	fetcher, ok := ch.(HTTPFetcher)
	if !ok {
		return nil, fmt.Errorf("functions: download_chat requires a connected handle")
	}
	todoID, _ := args["todoId"].(string)
	if todoID == "" {
		return nil, fmt.Errorf("functions: download_chat requires todoId")
	}
	data, contentType, err := fetcher.GetTodo(ctx, todoID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"todoId":      todoID,
		"content":     string(data),
		"contentType": contentType,
	}, nil
}

// fnRegisterAttachment uploads a local file as a resource via an
// authenticated multipart HTTP POST.
func fnRegisterAttachment(ctx context.Context, args map[string]interface{}, ch Conn) (interface{}, error) {
	fetcher, ok := ch.(HTTPFetcher)
	if !ok {
		return nil, fmt.Errorf("functions: register_attachment requires a connected handle")
	}
	path, rootPath := stringArgs(args, "path", "rootPath")
	if path == "" {
		return nil, fmt.Errorf("functions: register_attachment requires path")
	}
	full, err := pathresolver.Resolve(path, rootPath, workspaceRoots(ch))
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, err
	}

	fields := map[string]string{}
	if todoID, _ := args["todoId"].(string); todoID != "" {
		fields["todoId"] = todoID
	}
	if err := fetcher.RegisterResource(ctx, filepath.Base(full), data, fields); err != nil {
		return nil, err
	}
	return map[string]interface{}{"fullPath": full, "bytesUploaded": len(data)}, nil
}
