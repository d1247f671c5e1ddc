// Package pendingreq provides the "resolve exactly once across several
// competing triggers" primitive both provider families use for their
// permission protocol (spec §4.5 permission protocol, §4.6.7
// elicitation, §9 design note: "represent the resolver as a first-class
// value... never a callback chain"). Grounded on
// internal/permission/checker.go's pending map of response channels plus
// a timer, generalized away from that file's bash/edit/webfetch-specific
// Request/Response shapes into a reusable table keyed by request id.
package pendingreq

import (
	"sync"
	"time"

	"github.com/sessiond/sessiond/internal/apperrors"
)

// Resolution is what a pending request resolves to.
type Resolution struct {
	Approved bool
	Reason   string
}

// entry is one outstanding request.
type entry struct {
	ch   chan Resolution
	once sync.Once
	timer *time.Timer
}

// Table is a goroutine-safe map of requestId -> pending resolution.
type Table struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewTable creates an empty Table.
func NewTable() *Table {
	return &Table{entries: make(map[string]*entry)}
}

// Register adds a new pending request with a default-deny timeout. The
// returned channel receives exactly one Resolution. onTimeout is called
// (if non-nil) when the timer fires, before the default-deny Resolution
// is delivered — callers use it to emit the "permission timed out" event.
func (t *Table) Register(requestID string, timeout time.Duration, onTimeout func()) <-chan Resolution {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := &entry{ch: make(chan Resolution, 1)}
	t.entries[requestID] = e

	e.timer = time.AfterFunc(timeout, func() {
		if onTimeout != nil {
			onTimeout()
		}
		t.resolve(requestID, Resolution{Approved: false, Reason: "timeout"})
	})

	return e.ch
}

// Resolve resolves requestID with the given Resolution. Returns
// not_found if no such request is pending (already resolved or never
// registered) — satisfying the "second respond fails" testable property.
func (t *Table) Resolve(requestID string, res Resolution) error {
	if !t.resolve(requestID, res) {
		return apperrors.New(apperrors.KindNotFound, "no pending request: "+requestID)
	}
	return nil
}

// resolve performs the actual exactly-once delivery; returns false if the
// request was already gone.
func (t *Table) resolve(requestID string, res Resolution) bool {
	t.mu.Lock()
	e, ok := t.entries[requestID]
	if ok {
		delete(t.entries, requestID)
	}
	t.mu.Unlock()

	if !ok {
		return false
	}

	e.once.Do(func() {
		if e.timer != nil {
			e.timer.Stop()
		}
		e.ch <- res
		close(e.ch)
	})
	return true
}

// Abort resolves every currently pending request with a deny Resolution
// carrying reason. Used by stop() and by abort-signal plumbing.
func (t *Table) Abort(reason string) {
	t.mu.Lock()
	ids := make([]string, 0, len(t.entries))
	for id := range t.entries {
		ids = append(ids, id)
	}
	t.mu.Unlock()

	for _, id := range ids {
		t.resolve(id, Resolution{Approved: false, Reason: reason})
	}
}

// Len reports the number of currently pending requests.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
