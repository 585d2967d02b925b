// Package protocol defines the wire message shape and the type-name
// constants exchanged over the edge's outbound WebSocket. Organized the
// way goclaw's pkg/protocol package groups its own method/event
// constants — by direction, then by subsystem.
package protocol

import "encoding/json"

// Message is the single frame shape for both directions: { type, payload }.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// NewMessage marshals payload and wraps it with typ.
func NewMessage(typ string, payload interface{}) (*Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{Type: typ, Payload: raw}, nil
}

// Decode unmarshals m.Payload into v.
func (m *Message) Decode(v interface{}) error {
	return json.Unmarshal(m.Payload, v)
}

// Inbound message types (server → edge).
const (
	TypeConnectedEdge          = "connected_edge"
	TypeEdgeConfigUpdate       = "edge:config_update"
	TypeEdgeCD                 = "edge:cd"
	TypeBlockExecute           = "block:execute"
	TypeBlockSave              = "block:save"
	TypeBlockKeyboard          = "block:keyboard"
	TypeBlockSignal            = "block:signal"
	TypeTaskActionNew          = "task_action:new"
	TypeCtxJuliaRequest        = "ctx:julia_request"
	TypeFileChunkRequest       = "file:chunk_request"
	TypeFrontendFileChunkReq   = "frontend:file_chunk_request"
	TypeEdgeGetFolders         = "edge:get_folders"
	TypeFunctionCallReqAgent   = "FUNCTION_CALL_REQUEST_AGENT"
	TypeFunctionCallReqFront   = "FUNCTION_CALL_REQUEST_FRONT"
	TypeError                  = "ERROR"
)

// Outbound message types (edge → server).
const (
	TypeEdgeStatus             = "edge:status"
	TypeBlockShMsgStart        = "block:sh_msg_start"
	TypeBlockShMsgResult       = "block:sh_msg_result"
	TypeBlockShDone            = "block:sh_done"
	TypeBlockSaveResult        = "block:save_result"
	TypeBlockErrorResult       = "block:error_result"
	TypeBlockMetaResult        = "block:meta_result"
	TypeTaskActionUpdate       = "task_action:update"
	TypeEdgeCDResponse         = "edge:cd_response"
	TypeEdgeGetFoldersResponse = "edge:get_folders_response"
	TypeCtxJuliaResult         = "ctx:julia_result"
	TypeFileChunkResult        = "file:chunk_result"
	TypeFrontendFileChunkRes   = "frontend:file_chunk_result"
	TypeFunctionCallResAgent   = "FUNCTION_CALL_RESULT_AGENT"
	TypeFunctionCallResFront   = "FUNCTION_CALL_RESULT_FRONT"
	TypeBlockUpdate            = "BLOCK_UPDATE"
	TypeWorkspaceFileChanged   = "workspace:file_changed"
)

// BlockStatus values carried in BLOCK_UPDATE frames.
const (
	BlockStatusAwaitingApproval = "AWAITING_APPROVAL"
)

// ApprovalContext is the payload of a BLOCK_UPDATE frame emitted when the
// shell executor gates a block on tool installation approval.
type ApprovalContext struct {
	Source       string   `json:"source"`
	ToolInstalls []string `json:"toolInstalls"`
	WorkspacePath string  `json:"workspacePath"`
}

// BlockExecutePayload is the inbound payload of block:execute.
type BlockExecutePayload struct {
	BlockID   string `json:"blockId"`
	TodoID    string `json:"todoId"`
	MessageID string `json:"messageId"`
	Content   string `json:"content"`
	RootPath  string `json:"rootPath"`
	TimeoutS  int    `json:"timeoutSecs,omitempty"`
	Manual    bool   `json:"manual,omitempty"`
	RunMode   string `json:"runMode,omitempty"`
}

// BlockSignalPayload is the inbound payload of block:signal.
type BlockSignalPayload struct {
	BlockID string `json:"blockId"`
}

// BlockKeyboardPayload is the inbound payload of block:keyboard.
type BlockKeyboardPayload struct {
	BlockID string `json:"blockId"`
	Text    string `json:"text"`
}

// EdgeCDPayload is the inbound payload of edge:cd.
type EdgeCDPayload struct {
	EdgeID    string `json:"edgeId"`
	Path      string `json:"path"`
	RequestID string `json:"requestId"`
}

// EdgeCDResponsePayload is the outbound payload of edge:cd_response.
type EdgeCDResponsePayload struct {
	Success   bool   `json:"success"`
	Path      string `json:"path,omitempty"`
	Error     string `json:"error,omitempty"`
	RequestID string `json:"requestId"`
}

// GetFoldersPayload is the inbound payload of edge:get_folders.
type GetFoldersPayload struct {
	Path      string `json:"path"`
	RequestID string `json:"requestId"`
}

// GetFoldersResponsePayload is the outbound payload of
// edge:get_folders_response.
type GetFoldersResponsePayload struct {
	ActualPath string   `json:"actualPath"`
	Folders    []string `json:"folders"`
	Files      []string `json:"files"`
	RequestID  string   `json:"requestId"`
	Error      string   `json:"error,omitempty"`
}

// FunctionCallPayload is the inbound payload of both FUNCTION_CALL_REQUEST
// variants; AgentID distinguishes the caller per the sum-type design note.
type FunctionCallPayload struct {
	RequestID    string                 `json:"requestId"`
	EdgeID       string                 `json:"edgeId"`
	FunctionName string                 `json:"functionName"`
	Args         map[string]interface{} `json:"args"`
	AgentID      string                 `json:"agentId,omitempty"`
}

// FunctionCallResultPayload is the outbound payload of both
// FUNCTION_CALL_RESULT variants.
type FunctionCallResultPayload struct {
	RequestID string      `json:"requestId"`
	Success   bool        `json:"success"`
	Result    interface{} `json:"result,omitempty"`
	Error     string      `json:"error,omitempty"`
	BlockInfo interface{} `json:"blockInfo,omitempty"`
}

// BlockShMsgStartPayload/BlockShMsgResultPayload/BlockShDonePayload are the
// three frames a block's lifecycle always produces in order.
type BlockShMsgStartPayload struct {
	BlockID string `json:"blockId"`
}

type BlockShMsgResultPayload struct {
	BlockID string `json:"blockId"`
	Content string `json:"content"`
}

type BlockShDonePayload struct {
	BlockID    string `json:"blockId"`
	ReturnCode int    `json:"returnCode"`
}

// BlockUpdatePayload is the outbound payload of BLOCK_UPDATE.
type BlockUpdatePayload struct {
	BlockID         string          `json:"blockId"`
	Status          string          `json:"status"`
	ApprovalContext ApprovalContext `json:"approvalContext"`
}

// EdgeConfigUpdatePayload mirrors the inbound edge:config_update shape; it
// is intentionally decoded into a raw map by the config record, since any
// recognized field may be present or absent.
type EdgeConfigUpdatePayload map[string]interface{}

// ErrorPayload is the inbound ERROR frame payload.
type ErrorPayload struct {
	Message string `json:"message"`
}

// FileChangeEvent is one coalesced filesystem change within a
// workspace:file_changed batch.
type FileChangeEvent struct {
	Path string `json:"path"`
	Op   string `json:"op"`
}

// WorkspaceFileChangedPayload is the outbound payload of
// workspace:file_changed, emitted by the workspace watcher.
type WorkspaceFileChangedPayload struct {
	WorkspacePath string            `json:"workspacePath"`
	Events        []FileChangeEvent `json:"events"`
}
