package manager

import (
	"context"

	"github.com/sessiond/sessiond/internal/apperrors"
	"github.com/sessiond/sessiond/internal/logging"
	"github.com/sessiond/sessiond/pkg/types"
)

// SwitchMode drives sid through the running->draining->switching->running
// (success) or ->error (failure) state machine (spec §4.8.1). Switching
// to the session's current mode is a no-op success. A switch already in
// progress is rejected rather than queued.
func (m *Manager) SwitchMode(ctx context.Context, sid string, target types.Mode, ownerID string) error {
	if err := m.acl.AssertOwner(ownerID, sid); err != nil {
		return err
	}

	m.mu.RLock()
	ls, ok := m.sessions[sid]
	m.mu.RUnlock()
	if !ok {
		return apperrors.New(apperrors.KindNotFound, "session not found: "+sid)
	}

	ls.mu.Lock()
	if ls.record.Mode == target {
		ls.mu.Unlock()
		return nil
	}
	if ls.record.SwitchState != types.SwitchRunning {
		ls.mu.Unlock()
		return apperrors.New(apperrors.KindInvalidState, "switch already in progress for session "+sid)
	}
	ls.record.SwitchState = types.SwitchDraining
	sess := ls.session
	ls.mu.Unlock()

	// Draining has no concrete in-flight-operation signal to wait on today
	// (the Session capability set exposes no "busy" query), so the
	// transition is bookkeeping only: nothing is waited on and
	// drainTimeout is not applied. Process-exit cleanup is suppressed for the
	// draining/switching window by attachListeners' event handler.

	ls.mu.Lock()
	ls.record.SwitchState = types.SwitchSwitching
	ls.mu.Unlock()

	err := sess.SwitchMode(ctx, target)

	ls.mu.Lock()
	if err != nil {
		ls.record.SwitchState = types.SwitchError
		ls.mu.Unlock()
		return err
	}
	ls.record.SwitchState = types.SwitchRunning
	ls.record.Mode = target
	ls.mu.Unlock()

	if perr := m.store.Update(sid, func(p *types.PersistedSession) { p.Mode = target }); perr != nil {
		logging.Session(logging.Warn(), sid).Err(perr).Msg("manager: failed to persist mode switch")
	}

	return nil
}
