// Package structured implements Provider A (spec §4.5): a session over
// an upstream library that streams typed messages and dispatches
// permission callbacks, fed via an AsyncQueue. Grounded on
// internal/session/processor.go's single-flight-per-session lifecycle
// and internal/permission/checker.go's pending-map permission protocol
// (generalized via internal/pendingreq).
package structured

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/sessiond/sessiond/internal/apperrors"
	"github.com/sessiond/sessiond/internal/asyncqueue"
	"github.com/sessiond/sessiond/internal/eventbus"
	"github.com/sessiond/sessiond/internal/pendingreq"
	"github.com/sessiond/sessiond/internal/provider"
	"github.com/sessiond/sessiond/pkg/types"
)

const permissionTimeout = 5 * time.Minute

// Session implements provider.Session and provider.ReadyWaiter for
// Provider A.
type Session struct {
	mu sync.RWMutex

	pendingID string // local, always known
	upstreamID string // becomes known once the stream emits it

	mode   types.Mode
	pid    int

	messages    []types.SessionMessage
	turnCounter int

	pending  *pendingreq.Table
	readyCh  chan struct{}
	readyOnce sync.Once
	stopped  bool

	messageBus *eventbus.Bus[types.SessionMessage]
	eventBus   *eventbus.Bus[types.SessionEvent]

	input  *asyncqueue.Queue[string]
	cancel context.CancelFunc
}

// NewSession spawns a StructuredProvider session via backend and begins
// classifying its message stream in the background.
func NewSession(ctx context.Context, backend Backend, opts StartOptions) (*Session, error) {
	runCtx, cancel := context.WithCancel(ctx)

	s := &Session{
		pendingID:  "sp_" + ulid.Make().String(),
		mode:       types.ModeRemote,
		pending:    pendingreq.NewTable(),
		readyCh:    make(chan struct{}),
		messageBus: eventbus.New[types.SessionMessage](),
		eventBus:   eventbus.New[types.SessionEvent](),
		input:      asyncqueue.New[string](),
		cancel:     cancel,
	}

	stream, err := backend.Start(runCtx, opts, s.input, s.handlePermission)
	if err != nil {
		cancel()
		return nil, err
	}

	go s.consume(stream)
	return s, nil
}

func (s *Session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pendingID
}

// WaitForReady resolves when the upstream session id is known or the
// stream has ended, whichever comes first (spec §4.5 Ready model).
func (s *Session) WaitForReady(ctx context.Context) error {
	select {
	case <-s.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) isReady() bool {
	select {
	case <-s.readyCh:
		return true
	default:
		return false
	}
}

func (s *Session) markReady() {
	s.readyOnce.Do(func() { close(s.readyCh) })
}

func (s *Session) Send(ctx context.Context, input string) error {
	if !s.isReady() {
		return apperrors.New(apperrors.KindNotReady, "session not ready")
	}
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return apperrors.New(apperrors.KindInvalidState, "session stopped")
	}
	return s.input.Push(input)
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

// SwitchMode is a no-op success for the structured provider: it has no
// local/remote distinction of its own to drain, so the Manager's
// drain-call simply succeeds immediately.
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

// Stop auto-denies all pending permissions, ends the input queue, and
// cancels the backend context (force-closing the upstream stream).
func (s *Session) Stop(ctx context.Context, force bool) error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	s.pending.Abort("session stopped")
	s.input.End()
	s.cancel()
	return nil
}

func (s *Session) OnEvent(fn func(types.SessionEvent)) func()   { return s.eventBus.Subscribe(fn) }
func (s *Session) OnMessage(fn func(types.SessionMessage)) func() { return s.messageBus.Subscribe(fn) }
func (s *Session) Pid() int                                      { return s.pid }

var _ provider.Session = (*Session)(nil)
var _ provider.ReadyWaiter = (*Session)(nil)

// handlePermission implements the permission protocol of spec §4.5:
// emit permission_request, register a pending entry with a 5-minute
// auto-deny timer, then suspend until one of three competing triggers
// resolves it first — respondToPermission, the timeout, or
// meta.AbortSignal closing — whichever wins, all others are moot.
func (s *Session) handlePermission(toolName string, input json.RawMessage, meta PermissionMeta) (bool, string) {
	s.emitEvent(types.SessionEvent{
		Type:     types.EventPermissionRequest,
		Severity: types.SeverityInfo,
		Summary:  "permission requested: " + toolName,
		PermissionDetail: &types.PermissionDetail{
			RequestID:      meta.RequestID,
			ToolName:       toolName,
			Input:          string(input),
			DecisionReason: meta.DecisionReason,
		},
	})

	ch := s.pending.Register(meta.RequestID, permissionTimeout, func() {
		s.emitEvent(types.SessionEvent{
			Type:     types.EventError,
			Severity: types.SeverityWarning,
			Summary:  "permission request timed out: " + meta.RequestID,
		})
	})

	select {
	case res := <-ch:
		return res.Approved, res.Reason
	case <-meta.AbortSignal:
		s.pending.Resolve(meta.RequestID, pendingreq.Resolution{Approved: false, Reason: "aborted"})
		s.emitEvent(types.SessionEvent{
			Type:     types.EventError,
			Severity: types.SeverityWarning,
			Summary:  "permission request aborted: " + meta.RequestID,
		})
		return false, "aborted"
	}
}

func (s *Session) emitEvent(ev types.SessionEvent) {
	ev.SessionID = s.ID()
	ev.Timestamp = nowMillis()
	s.eventBus.Publish(ev)
}

func (s *Session) emitMessage(msg types.SessionMessage) {
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.turnCounter++
	s.mu.Unlock()
	s.messageBus.Publish(msg)
}

// consume classifies the upstream stream per spec §4.5's mapping table
// until the stream ends.
func (s *Session) consume(stream <-chan UpstreamMessage) {
	for msg := range stream {
		switch msg.Subtype {
		case "assistant":
			s.classifyAssistant(msg)
		case "result":
			s.classifyResult(msg)
		case "tool_use_summary":
			s.emitMessage(types.SessionMessage{
				Type:      types.MessageToolResult,
				Content:   msg.ToolResult,
				Timestamp: nowMillis(),
			})
		case "system":
			if msg.SystemSubtype == "init" {
				s.mu.Lock()
				if msg.SessionID != "" {
					s.upstreamID = msg.SessionID
				}
				s.mu.Unlock()
				s.markReady()
				s.emitEvent(types.SessionEvent{
					Type:     types.EventReady,
					Severity: types.SeverityInfo,
					Summary:  "session ready",
					Detail:   map[string]any{"model": msg.Model},
				})
			}
		default:
			// ignored per spec §4.5
		}
	}

	// Stream ended: unblock any WaitForReady caller that never saw an id.
	s.markReady()
}

func (s *Session) classifyAssistant(msg UpstreamMessage) {
	switch {
	case msg.ToolName != "":
		s.emitMessage(types.SessionMessage{
			Type:      types.MessageToolUse,
			Content:   string(msg.ToolInput),
			Timestamp: nowMillis(),
			Metadata:  &types.MessageMetadata{Tool: msg.ToolName},
		})
	case msg.Thinking != "":
		s.emitMessage(types.SessionMessage{
			Type:      types.MessageThinking,
			Content:   msg.Thinking,
			Timestamp: nowMillis(),
		})
	default:
		s.emitMessage(types.SessionMessage{
			Type:      types.MessageText,
			Content:   msg.Text,
			Timestamp: nowMillis(),
		})
	}
}

func (s *Session) classifyResult(msg UpstreamMessage) {
	s.emitMessage(types.SessionMessage{
		Type:      types.MessageResult,
		Content:   msg.Result,
		Timestamp: nowMillis(),
	})

	severity := types.SeverityInfo
	if !msg.Success {
		severity = types.SeverityWarning
	}
	s.emitEvent(types.SessionEvent{
		Type:     types.EventTaskComplete,
		Severity: severity,
		Summary:  "task complete",
	})
}

func nowMillis() int64 { return time.Now().UnixMilli() }
