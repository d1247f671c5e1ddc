// Package acl binds session ids to owner ids and enforces the
// ownership-binding invariant (spec §3 invariant 2, §4.1): an owner, once
// set, is immutable for the life of the session id. Grounded on the
// sync.RWMutex-guarded-map idiom used throughout the teacher's
// permission package.
package acl

import (
	"sync"

	"github.com/sessiond/sessiond/internal/apperrors"
)

// ACL holds the in-memory sessionId -> ownerId binding.
type ACL struct {
	mu     sync.RWMutex
	owners map[string]string
}

// New creates an empty ACL.
func New() *ACL {
	return &ACL{owners: make(map[string]string)}
}

// SetOwner binds ownerID to sessionID. Fails if the session already has
// a different (or the same) owner bound — binding is immutable.
func (a *ACL) SetOwner(sessionID, ownerID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.owners[sessionID]; exists {
		return apperrors.New(apperrors.KindInvalidState, "owner already bound for session "+sessionID)
	}
	a.owners[sessionID] = ownerID
	return nil
}

// CanAccess reports whether ownerID matches the session's bound owner.
// Unknown sessions return false.
func (a *ACL) CanAccess(ownerID, sessionID string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	bound, ok := a.owners[sessionID]
	return ok && bound == ownerID
}

// AssertOwner fails with a distinguishable kind: not_found when the
// session is unknown, access_denied when it belongs to someone else.
func (a *ACL) AssertOwner(ownerID, sessionID string) error {
	a.mu.RLock()
	bound, ok := a.owners[sessionID]
	a.mu.RUnlock()

	if !ok {
		return apperrors.New(apperrors.KindNotFound, "session not found: "+sessionID)
	}
	if bound != ownerID {
		return apperrors.New(apperrors.KindAccessDenied, "owner mismatch for session "+sessionID)
	}
	return nil
}

// RemoveSession clears any binding for sessionID. Idempotent.
func (a *ACL) RemoveSession(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.owners, sessionID)
}
