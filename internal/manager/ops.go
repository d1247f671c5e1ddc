package manager

import (
	"context"

	"github.com/sessiond/sessiond/internal/apperrors"
	"github.com/sessiond/sessiond/pkg/types"
)

// Send forwards input to sid's provider session.
func (m *Manager) Send(ctx context.Context, sid, input, ownerID string) error {
	if err := m.acl.AssertOwner(ownerID, sid); err != nil {
		return err
	}

	m.mu.RLock()
	ls, ok := m.sessions[sid]
	m.mu.RUnlock()
	if !ok {
		return apperrors.New(apperrors.KindNotFound, "session not found: "+sid)
	}

	ls.mu.RLock()
	sess := ls.session
	ls.mu.RUnlock()

	return sess.Send(ctx, input)
}

// RespondToPermission resolves an outstanding permission request on sid.
func (m *Manager) RespondToPermission(sid, requestID string, approved bool, ownerID string) error {
	if err := m.acl.AssertOwner(ownerID, sid); err != nil {
		return err
	}

	m.mu.RLock()
	ls, ok := m.sessions[sid]
	m.mu.RUnlock()
	if !ok {
		return apperrors.New(apperrors.KindNotFound, "session not found: "+sid)
	}

	ls.mu.RLock()
	sess := ls.session
	ls.mu.RUnlock()

	return sess.RespondToPermission(requestID, approved)
}

// Summary aggregates a session's message-buffer counts and current
// status for the tool surface's summary operation.
type Summary struct {
	SessionID    string         `json:"sessionId"`
	Mode         types.Mode     `json:"mode"`
	SwitchState  types.SwitchState `json:"switchState"`
	MessageCount int            `json:"messageCount"`
	LastActivity int64          `json:"lastActivityTimestamp"`
}

// GetSummary returns aggregate counts and status for sid.
func (m *Manager) GetSummary(sid, ownerID string) (Summary, error) {
	if err := m.acl.AssertOwner(ownerID, sid); err != nil {
		return Summary{}, err
	}

	m.mu.RLock()
	ls, ok := m.sessions[sid]
	m.mu.RUnlock()
	if !ok {
		return Summary{}, apperrors.New(apperrors.KindNotFound, "session not found: "+sid)
	}

	ls.mu.RLock()
	defer ls.mu.RUnlock()
	return Summary{
		SessionID:    sid,
		Mode:         ls.record.Mode,
		SwitchState:  ls.record.SwitchState,
		MessageCount: len(ls.buffer),
		LastActivity: ls.record.LastActivityTimestamp,
	}, nil
}
