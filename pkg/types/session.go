// Package types provides the core data types shared across the session
// supervisor: the session record, its message/event shapes, and the
// durable snapshot format.
package types

// Mode is the session's execution mode: remote (structured/stream) or
// local (inherits a terminal).
type Mode string

const (
	ModeRemote Mode = "remote"
	ModeLocal  Mode = "local"
)

// SwitchState is the mode-switch state machine. Transitions are exactly
// running->draining->switching->running (success) or ->error (failure).
type SwitchState string

const (
	SwitchRunning   SwitchState = "running"
	SwitchDraining  SwitchState = "draining"
	SwitchSwitching SwitchState = "switching"
	SwitchError     SwitchState = "error"
)

// PermissionMode is the symbolic permission mode a caller requests at
// spawn/resume time; providers map it to their own concrete policy.
type PermissionMode string

const (
	PermissionDefault PermissionMode = "default"
	PermissionBypass  PermissionMode = "bypassPermissions"
	PermissionAccept  PermissionMode = "acceptEdits"
	PermissionPlan    PermissionMode = "plan"
)

// Session is the in-memory record held by the Manager for a live session.
type Session struct {
	ID                   string      `json:"id"`
	Provider             string      `json:"provider"`
	Cwd                  string      `json:"cwd"`
	Pid                  int         `json:"pid"`
	Mode                 Mode        `json:"mode"`
	OwnerID              string      `json:"ownerId"`
	CreatedAt            int64       `json:"createdAt"`
	SwitchState          SwitchState `json:"switchState"`
	LastActivityTimestamp int64      `json:"lastActivityTimestamp"`

	// DoomLoopWarnings is transient and not persisted. Nothing sets it,
	// so it stays 0; the framed provider counts its repeated-command
	// warnings on its own session value instead.
	DoomLoopWarnings int `json:"-"`
}

// MessageType enumerates SessionMessage.Type.
type MessageType string

const (
	MessageText       MessageType = "text"
	MessageCode       MessageType = "code"
	MessageToolUse    MessageType = "tool_use"
	MessageToolResult MessageType = "tool_result"
	MessageThinking   MessageType = "thinking"
	MessageError      MessageType = "error"
	MessageResult     MessageType = "result"
)

// SessionMessage is one entry in a session's append-only message buffer.
type SessionMessage struct {
	Type      MessageType      `json:"type"`
	Content   string           `json:"content"`
	Timestamp int64            `json:"timestamp"`
	Metadata  *MessageMetadata `json:"metadata,omitempty"`
}

// MessageMetadata carries optional correlation context for a message.
type MessageMetadata struct {
	Tool          string `json:"tool,omitempty"`
	File          string `json:"file,omitempty"`
	Language      string `json:"language,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// EventType enumerates SessionEvent.Type.
type EventType string

const (
	EventPermissionRequest EventType = "permission_request"
	EventError             EventType = "error"
	EventWaitingForInput   EventType = "waiting_for_input"
	EventTaskComplete      EventType = "task_complete"
	EventReady             EventType = "ready"
)

// Severity enumerates SessionEvent.Severity.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityUrgent  Severity = "urgent"
)

// SessionEvent is a point-in-time notification about a session.
type SessionEvent struct {
	Type             EventType         `json:"type"`
	Severity         Severity          `json:"severity"`
	Summary          string            `json:"summary"`
	SessionID        string            `json:"sessionId"`
	Timestamp        int64             `json:"timestamp"`
	PermissionDetail *PermissionDetail `json:"permissionDetail,omitempty"`
	// Detail is a supplemental, free-form bag for provider diagnostics
	// (e.g. doom-loop warnings). Absent for ordinary events.
	Detail map[string]any `json:"detail,omitempty"`
}

// PermissionDetail describes an outstanding or resolved permission request.
type PermissionDetail struct {
	RequestID      string `json:"requestId"`
	ToolName       string `json:"toolName"`
	Input          string `json:"input"`
	DecisionReason string `json:"decisionReason,omitempty"`
	Command        string `json:"command,omitempty"`
	Cwd            string `json:"cwd,omitempty"`
}

// PersistedSession is the only durable state: the single JSON array
// element shape written by the Persistence component.
type PersistedSession struct {
	ID        string `json:"id"`
	Provider  string `json:"provider"`
	Cwd       string `json:"cwd"`
	Pid       int    `json:"pid"`
	OwnerID   string `json:"ownerId"`
	Mode      Mode   `json:"mode"`
	CreatedAt int64  `json:"createdAt"`
}

// ToPersisted projects a live Session into its durable shape.
func (s *Session) ToPersisted() PersistedSession {
	return PersistedSession{
		ID:        s.ID,
		Provider:  s.Provider,
		Cwd:       s.Cwd,
		Pid:       s.Pid,
		OwnerID:   s.OwnerID,
		Mode:      s.Mode,
		CreatedAt: s.CreatedAt,
	}
}
