package structured

import "encoding/json"

// UpstreamMessage is the decoded shape of one line emitted by the
// upstream library's message stream, tagged by Subtype per spec §4.5's
// classification table.
type UpstreamMessage struct {
	Subtype string `json:"type"`

	// assistant
	Text    string          `json:"text,omitempty"`
	Thinking string         `json:"thinking,omitempty"`
	ToolName string         `json:"tool_use_name,omitempty"`
	ToolInput json.RawMessage `json:"tool_use_input,omitempty"`

	// result
	Success bool   `json:"success,omitempty"`
	Result  string `json:"result,omitempty"`

	// tool_use_summary
	ToolResult string `json:"tool_result,omitempty"`

	// system
	SystemSubtype string `json:"system_subtype,omitempty"`
	SessionID     string `json:"session_id,omitempty"`
	Model         string `json:"model,omitempty"`
}

// PermissionMeta accompanies a permission callback invocation.
type PermissionMeta struct {
	RequestID      string
	DecisionReason string
	// AbortSignal, when non-nil, denies the pending request the moment it
	// closes, racing the respond and timeout paths per spec §4.5 step 3.
	// A nil channel blocks forever in a select, so callers with no abort
	// source can leave it unset.
	AbortSignal <-chan struct{}
}
