package manager

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/sessiond/sessiond/internal/apperrors"
	"github.com/sessiond/sessiond/pkg/types"
)

const (
	minWaitTimeout     = 1 * time.Second
	maxWaitTimeout     = 120 * time.Second
	defaultWaitTimeout = 30 * time.Second
)

// ReadResult is the page returned by ReadMessages/WaitForMessages.
type ReadResult struct {
	Messages   []types.SessionMessage
	NextCursor string
	// TimedOut is true only when WaitForMessages resolved because its
	// timer elapsed. ReadMessages, and a WaitForMessages call that woke
	// on a new message or the session ending, always leave this false —
	// an empty page is not on its own evidence of a timeout, since the
	// session may simply have ended with nothing new past cursor.
	TimedOut bool
	// Ended is true when WaitForMessages woke because sid ended while
	// the wait was outstanding.
	Ended bool
}

// ReadMessages returns up to limit messages starting at cursor (empty
// cursor means "from the start"), redacting each message's content
// through the configured Redactor. Provider-internal reads bypass this
// path entirely and need not be redacted (spec invariant 9).
func (m *Manager) ReadMessages(sid, cursor string, limit int, ownerID string) (ReadResult, error) {
	if err := m.acl.AssertOwner(ownerID, sid); err != nil {
		return ReadResult{}, err
	}

	m.mu.RLock()
	ls, ok := m.sessions[sid]
	m.mu.RUnlock()
	if !ok {
		return ReadResult{}, apperrors.New(apperrors.KindNotFound, "session not found: "+sid)
	}

	if limit <= 0 {
		limit = defaultReadLimit
	}

	start, err := parseCursor(cursor)
	if err != nil {
		return ReadResult{}, err
	}

	ls.mu.RLock()
	defer ls.mu.RUnlock()

	if start > len(ls.buffer) {
		start = len(ls.buffer)
	}
	end := start + limit
	if end > len(ls.buffer) {
		end = len(ls.buffer)
	}

	slice := ls.buffer[start:end]
	out := make([]types.SessionMessage, len(slice))
	for i, msg := range slice {
		redacted := msg
		redacted.Content = m.redactor.Redact(msg.Content)
		out[i] = redacted
	}

	return ReadResult{Messages: out, NextCursor: strconv.Itoa(end)}, nil
}

func parseCursor(cursor string) (int, error) {
	if cursor == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(cursor)
	if err != nil || n < 0 {
		return 0, apperrors.New(apperrors.KindInvalidState, "malformed cursor: "+cursor)
	}
	return n, nil
}

func clampTimeout(timeoutMs int) time.Duration {
	if timeoutMs <= 0 {
		return defaultWaitTimeout
	}
	d := time.Duration(timeoutMs) * time.Millisecond
	if d < minWaitTimeout {
		return minWaitTimeout
	}
	if d > maxWaitTimeout {
		return maxWaitTimeout
	}
	return d
}

// WaitForMessages blocks until new messages arrive past cursor, sid
// ends, or timeoutMs elapses (clamped to [1000ms,120000ms], default
// 30000ms), then resolves via the normal ReadMessages path so redaction
// and cursor accounting stay in one place (spec §5's waitForMessages
// contract). If data is already available past cursor it returns
// immediately without registering any listener.
func (m *Manager) WaitForMessages(ctx context.Context, sid, cursor string, limit, timeoutMs int, ownerID string) (ReadResult, error) {
	immediate, err := m.ReadMessages(sid, cursor, limit, ownerID)
	if err != nil {
		return ReadResult{}, err
	}
	if len(immediate.Messages) > 0 {
		return immediate, nil
	}

	m.mu.RLock()
	ls, ok := m.sessions[sid]
	m.mu.RUnlock()
	if !ok {
		return ReadResult{}, apperrors.New(apperrors.KindNotFound, "session not found: "+sid)
	}

	woke := make(chan struct{}, 1)
	signal := func() {
		select {
		case woke <- struct{}{}:
		default:
		}
	}

	var ended atomic.Bool
	unsubMsg := ls.messageBus.Subscribe(func(types.SessionMessage) { signal() })
	unsubEnd := m.sessionEndBus.Subscribe(func(endedSid string) {
		if endedSid == sid {
			ended.Store(true)
			signal()
		}
	})
	timer := time.NewTimer(clampTimeout(timeoutMs))

	defer func() {
		unsubMsg()
		unsubEnd()
		timer.Stop()
	}()

	var timedOut bool
	select {
	case <-woke:
	case <-timer.C:
		timedOut = true
	case <-ctx.Done():
		return ReadResult{}, ctx.Err()
	}

	result, err := m.ReadMessages(sid, cursor, limit, ownerID)
	if err != nil {
		// cleanup clears the ACL and registry before announcing the end,
		// so a session that ended is no longer readable here.
		if ended.Load() && apperrors.Is(err, apperrors.KindNotFound) {
			return ReadResult{Messages: []types.SessionMessage{}, NextCursor: immediate.NextCursor, Ended: true}, nil
		}
		return ReadResult{}, err
	}
	result.TimedOut = timedOut
	result.Ended = ended.Load()
	return result, nil
}
