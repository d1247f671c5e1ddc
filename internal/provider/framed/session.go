// Package framed implements Provider B (spec §4.6): a session over a
// framed JSON-RPC subprocess using Content-Length-delimited messages, a
// two-tool (startSession/continueSession) session pattern, and an
// elicitation-based permission protocol. Grounded architecturally on
// other_examples' ACP-session reconnect/state-machine shape (adapted
// from ACP semantics to this spec's {connecting,working,idle,stopped}
// machine) and on internal/mcp/client.go's request/response plumbing for
// the RPC call shape.
package framed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/sessiond/sessiond/internal/apperrors"
	"github.com/sessiond/sessiond/internal/eventbus"
	"github.com/sessiond/sessiond/internal/pendingreq"
	"github.com/sessiond/sessiond/internal/provider"
	"github.com/sessiond/sessiond/pkg/types"
)

const (
	toolCallTimeout   = 14 * 24 * time.Hour
	permissionTimeout = 5 * time.Minute
	reconnectDelay    = 500 * time.Millisecond
)

type sessionState string

const (
	stateConnecting sessionState = "connecting"
	stateWorking    sessionState = "working"
	stateIdle       sessionState = "idle"
	stateStopped    sessionState = "stopped"
)

// StartOptions configures a framed session's subprocess and policy.
type StartOptions struct {
	Command        string
	Args           []string
	Cwd            string
	PermissionMode types.PermissionMode
	// Resume, when set, is a previously-known backend session id: the
	// session goes straight to continueSession instead of startSession.
	Resume string
}

// Session implements provider.Session for Provider B.
type Session struct {
	mu sync.RWMutex

	pendingID string // stable across reconnects, never changes
	backendID string // the subprocess's own conversation id

	state sessionState
	mode  types.Mode
	pid   int

	sessionStarted    bool
	taskCompleted     bool
	doomLoopWarnings  int
	lastToolResultText string

	stopped      bool
	connected    bool
	reconnectMu  sync.Mutex

	messages []types.SessionMessage

	pending  *pendingreq.Table
	doomLoop *doomLoopDetector
	resolver *binaryResolver

	messageBus *eventbus.Bus[types.SessionMessage]
	eventBus   *eventbus.Bus[types.SessionEvent]

	rpc       *pendingTable
	transport *transport

	opts StartOptions
}

// NewSession resolves the subprocess binary, connects the transport, and
// performs the initial startSession/continueSession handshake before
// returning — the session's id is known synchronously, unlike Provider A.
func NewSession(ctx context.Context, opts StartOptions) (*Session, error) {
	s := &Session{
		pendingID: "sf_" + ulid.Make().String(),
		backendID: opts.Resume,
		state:     stateConnecting,
		mode:      types.ModeLocal,
		pending:   pendingreq.NewTable(),
		doomLoop:  newDoomLoopDetector(),
		resolver:  newBinaryResolver(),
		messageBus: eventbus.New[types.SessionMessage](),
		eventBus:   eventbus.New[types.SessionEvent](),
		opts:       opts,
	}

	if err := s.connect(ctx); err != nil {
		return nil, err
	}
	if err := s.startOrResume(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pendingID
}

func (s *Session) Pid() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pid
}

func (s *Session) setState(st sessionState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) backendIDSnapshot() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.backendID
}

// connect resolves the binary and spawns a fresh transport, used both on
// first start and on transparent reconnect.
func (s *Session) connect(ctx context.Context) error {
	command := s.opts.Command
	if command == "" {
		command = "codex"
	}
	binaryPath := s.resolver.Resolve(command)
	env := buildEnv(binaryPath, "RUST_LOG", "warn")

	rpc := newPendingTable()
	t := newTransport(rpc)
	t.onNotification = s.handleNotification
	t.onServerRequest = s.handleElicitation
	t.onClose = s.onTransportClose

	if err := t.connect(ctx, spawnOptions{
		BinaryPath: binaryPath,
		Args:       s.opts.Args,
		Cwd:        s.opts.Cwd,
		Env:        env,
	}); err != nil {
		return apperrors.Wrap(apperrors.KindProcessExit, "failed to start subprocess", err)
	}

	s.mu.Lock()
	s.rpc = rpc
	s.transport = t
	if t.cmd != nil && t.cmd.Process != nil {
		s.pid = t.cmd.Process.Pid
	}
	s.mu.Unlock()
	return nil
}

// startOrResume performs the two-tool handshake: startSession if no
// backend id is yet known, continueSession otherwise.
func (s *Session) startOrResume(ctx context.Context) error {
	policy := executionPolicyFor(s.opts.PermissionMode)
	backendID := s.backendIDSnapshot()

	params := map[string]any{
		"cwd":            s.opts.Cwd,
		"approvalPolicy": policy.ApprovalPolicy,
		"sandboxPolicy":  policy.SandboxPolicy,
	}

	method := "startSession"
	if backendID != "" {
		method = "continueSession"
		params["sessionId"] = backendID
	}

	result, err := s.callTool(ctx, method, params)
	if err != nil {
		return err
	}

	if id, ok := extractSessionID(result); ok {
		s.mu.Lock()
		s.backendID = id
		s.mu.Unlock()
	}

	s.mu.Lock()
	s.sessionStarted = true
	s.state = stateIdle
	s.connected = true
	s.mu.Unlock()

	s.emitEvent(types.SessionEvent{
		Type:     types.EventReady,
		Severity: types.SeverityInfo,
		Summary:  "session ready",
	})
	return nil
}

// callTool issues a request and blocks for its response. The pending
// table's own timer enforces toolCallTimeout; ctx cancellation returns
// earlier without consuming the slot (the timer still fires later and is
// a harmless no-op delivery into a channel nobody reads).
func (s *Session) callTool(ctx context.Context, method string, params any) (json.RawMessage, error) {
	s.mu.RLock()
	rpc, t := s.rpc, s.transport
	s.mu.RUnlock()

	id := rpc.nextRequestID()
	ch := rpc.register(id, toolCallTimeout)

	if err := t.call(id, method, params); err != nil {
		return nil, apperrors.Wrap(apperrors.KindTransportError, "write failed", err)
	}

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Send gates on the session's {connecting,working,idle,stopped} state:
// stopped rejects outright, working rejects as busy rather than queuing a
// second turn, and a disconnected session (connecting) is reconnected
// in-line before the turn is dispatched — reconnect is never triggered
// from the transport's close handler, only lazily from here.
func (s *Session) Send(ctx context.Context, input string) error {
	s.mu.RLock()
	stopped := s.stopped
	state := s.state
	connected := s.connected
	s.mu.RUnlock()

	if stopped || state == stateStopped {
		return apperrors.New(apperrors.KindInvalidState, "session stopped")
	}
	if state == stateWorking {
		return apperrors.New(apperrors.KindBusy, "session is already processing a turn")
	}

	if !connected {
		if err := s.reconnect(ctx); err != nil {
			return err
		}
	}

	s.mu.RLock()
	backendID := s.backendID
	s.mu.RUnlock()

	s.setState(stateWorking)
	go func() {
		_, err := s.callTool(context.Background(), "continueSession", map[string]any{
			"sessionId": backendID,
			"input":     input,
		})
		if err != nil {
			s.emitEvent(types.SessionEvent{
				Type:     types.EventError,
				Severity: types.SeverityUrgent,
				Summary:  "continueSession failed: " + err.Error(),
			})
		}
	}()
	return nil
}

func (s *Session) Read(ctx context.Context, cursor, limit int) ([]types.SessionMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if cursor < 0 || cursor > len(s.messages) {
		cursor = len(s.messages)
	}
	end := cursor + limit
	if limit <= 0 || end > len(s.messages) {
		end = len(s.messages)
	}
	out := make([]types.SessionMessage, end-cursor)
	copy(out, s.messages[cursor:end])
	return out, nil
}

// SwitchMode records the requested mode; the framed subprocess itself
// has no separate local/remote posture to drain, so this always
// succeeds immediately, matching Provider A.
func (s *Session) SwitchMode(ctx context.Context, target types.Mode) error {
	s.mu.Lock()
	s.mode = target
	s.mu.Unlock()
	return nil
}

func (s *Session) RespondToPermission(requestID string, approved bool) error {
	reason := ""
	if !approved {
		reason = "denied"
	}
	return s.pending.Resolve(requestID, pendingreq.Resolution{Approved: approved, Reason: reason})
}

func (s *Session) Stop(ctx context.Context, force bool) error {
	s.mu.Lock()
	s.stopped = true
	s.state = stateStopped
	t := s.transport
	s.mu.Unlock()

	s.pending.Abort("session stopped")
	if t != nil {
		t.close()
	}
	return nil
}

func (s *Session) OnEvent(fn func(types.SessionEvent)) func()     { return s.eventBus.Subscribe(fn) }
func (s *Session) OnMessage(fn func(types.SessionMessage)) func() { return s.messageBus.Subscribe(fn) }

var _ provider.Session = (*Session)(nil)

func (s *Session) emitEvent(ev types.SessionEvent) {
	ev.SessionID = s.ID()
	ev.Timestamp = nowMillis()
	s.eventBus.Publish(ev)
}

func (s *Session) emitMessage(msg types.SessionMessage) {
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.mu.Unlock()
	s.messageBus.Publish(msg)
}

func (s *Session) isDuplicateText(text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if text != "" && text == s.lastToolResultText {
		s.lastToolResultText = ""
		return true
	}
	return false
}

// handleNotification classifies one inbound notification per spec
// §4.6.6's mapping table.
func (s *Session) handleNotification(method string, params json.RawMessage) {
	switch method {
	case "agent_message":
		var p struct {
			Text string `json:"text"`
		}
		_ = json.Unmarshal(params, &p)
		if s.isDuplicateText(p.Text) {
			return
		}
		s.emitMessage(types.SessionMessage{Type: types.MessageText, Content: p.Text, Timestamp: nowMillis()})

	case "agent_reasoning", "agent_reasoning_delta":
		// thinking deltas are ignored per spec

	case "exec_command_begin":
		var p struct {
			Command string `json:"command"`
		}
		_ = json.Unmarshal(params, &p)
		s.setState(stateWorking)
		s.emitMessage(types.SessionMessage{
			Type:      types.MessageToolUse,
			Content:   p.Command,
			Timestamp: nowMillis(),
			Metadata:  &types.MessageMetadata{Tool: "exec"},
		})

		repeated, count := s.doomLoop.Check(p.Command)
		if repeated {
			s.mu.Lock()
			s.doomLoopWarnings++
			s.mu.Unlock()
			s.emitEvent(types.SessionEvent{
				Type:     types.EventError,
				Severity: types.SeverityWarning,
				Summary:  "repeated command detected",
				Detail:   map[string]any{"repeatedCommand": p.Command, "repeatCount": count},
			})
		}

	case "exec_command_end":
		var p struct {
			Output string `json:"output"`
		}
		_ = json.Unmarshal(params, &p)
		s.mu.Lock()
		s.lastToolResultText = p.Output
		s.mu.Unlock()
		s.emitMessage(types.SessionMessage{Type: types.MessageToolResult, Content: p.Output, Timestamp: nowMillis()})

	case "exec_approval_request":
		// handled as a server-initiated request (elicitation), not a
		// notification — see handleElicitation.

	case "patch_apply_begin":
		var p struct {
			Patch string `json:"patch"`
		}
		_ = json.Unmarshal(params, &p)
		s.emitMessage(types.SessionMessage{
			Type:      types.MessageToolUse,
			Content:   p.Patch,
			Timestamp: nowMillis(),
			Metadata:  &types.MessageMetadata{Tool: "patch"},
		})

	case "patch_apply_end":
		var p struct {
			Result string `json:"result"`
		}
		_ = json.Unmarshal(params, &p)
		s.emitMessage(types.SessionMessage{Type: types.MessageToolResult, Content: p.Result, Timestamp: nowMillis()})

	case "turn_diff":
		// ignored per spec

	case "task_started":
		s.mu.Lock()
		s.taskCompleted = false
		s.mu.Unlock()
		s.setState(stateWorking)

	case "task_complete":
		s.mu.Lock()
		s.taskCompleted = true
		s.mu.Unlock()
		s.setState(stateIdle)
		s.emitEvent(types.SessionEvent{Type: types.EventTaskComplete, Severity: types.SeverityInfo, Summary: "task complete"})

	case "turn_aborted":
		s.setState(stateIdle)
		s.emitEvent(types.SessionEvent{Type: types.EventError, Severity: types.SeverityWarning, Summary: "turn aborted"})

	default:
		// ignored
	}
}

// handleElicitation answers a server-initiated approval request via the
// pending-request table, reusing the same exactly-once resolution
// Provider A's permission protocol uses.
func (s *Session) handleElicitation(id int64, method string, params json.RawMessage) {
	var p struct {
		CallID  string `json:"callId"`
		Command string `json:"command"`
		Cwd     string `json:"cwd"`
	}
	_ = json.Unmarshal(params, &p)

	requestID := p.CallID
	if requestID == "" {
		requestID = fmt.Sprintf("elicit-%d", id)
	}

	s.emitEvent(types.SessionEvent{
		Type:     types.EventPermissionRequest,
		Severity: types.SeverityInfo,
		Summary:  "approval requested: " + p.Command,
		PermissionDetail: &types.PermissionDetail{
			RequestID: requestID,
			Command:   p.Command,
			Cwd:       p.Cwd,
		},
	})

	ch := s.pending.Register(requestID, permissionTimeout, func() {
		s.emitEvent(types.SessionEvent{
			Type:     types.EventError,
			Severity: types.SeverityWarning,
			Summary:  "approval request timed out: " + requestID,
		})
	})

	t := s.transport
	go func() {
		res := <-ch
		action := "denied"
		if res.Approved {
			action = "approved"
		}
		_ = t.respondToServerRequest(id, map[string]string{"action": action})
	}()
}

// onTransportClose implements the close-handler contract of spec §4.6.8:
// a stop() in progress is ignored; an idle/completed disconnect is a
// quiet one whose rebuild waits for the next send(); anything else is an
// urgent error whose summary carries the process-exit substring Manager
// cleanup matches on. Either way this only flips connected to false —
// the rebuild itself is gated on the next Send call, never fired here.
func (s *Session) onTransportClose(exitErr error) {
	s.mu.Lock()
	stopped := s.stopped
	quiet := s.state == stateIdle || s.taskCompleted
	s.connected = false
	if !stopped {
		s.state = stateConnecting
	}
	s.mu.Unlock()

	if stopped {
		return
	}

	if quiet {
		s.emitEvent(types.SessionEvent{
			Type:     types.EventReady,
			Severity: types.SeverityInfo,
			Summary:  "disconnected after idle, will reconnect on next send",
		})
	} else {
		s.emitEvent(types.SessionEvent{
			Type:     types.EventError,
			Severity: types.SeverityUrgent,
			Summary:  describeExit(exitErr),
		})
	}
}

// reconnect rebuilds the transport and resumes the backend session,
// blocking the caller (always a Send finding !connected) until it either
// succeeds or fails. reconnectMu serializes concurrent Send calls onto a
// single attempt instead of racing multiple subprocess spawns.
func (s *Session) reconnect(ctx context.Context) error {
	s.reconnectMu.Lock()
	defer s.reconnectMu.Unlock()

	s.mu.RLock()
	stopped := s.stopped
	connected := s.connected
	s.mu.RUnlock()

	if stopped {
		return apperrors.New(apperrors.KindInvalidState, "session stopped")
	}
	if connected {
		return nil
	}

	s.setState(stateConnecting)
	time.Sleep(reconnectDelay)

	if err := s.connect(ctx); err != nil {
		s.emitEvent(types.SessionEvent{
			Type:     types.EventError,
			Severity: types.SeverityUrgent,
			Summary:  "reconnect failed: " + err.Error(),
		})
		return apperrors.Wrap(apperrors.KindTransportError, "reconnect failed", err)
	}

	if err := s.startOrResume(ctx); err != nil {
		s.emitEvent(types.SessionEvent{
			Type:     types.EventError,
			Severity: types.SeverityUrgent,
			Summary:  "resume after reconnect failed: " + err.Error(),
		})
		return apperrors.Wrap(apperrors.KindTransportError, "resume after reconnect failed", err)
	}

	s.doomLoop.Reset()
	return nil
}

func nowMillis() int64 { return time.Now().UnixMilli() }
