// RPC envelope and pending-request table for the framed provider's
// JSON-RPC-over-stdio protocol (spec §4.6.1). Grounded architecturally on
// internal/mcp/transport.go's StdioTransport pending-map-of-channels, but
// the envelope itself distinguishes responses, notifications, and
// server-initiated requests (elicitation) rather than assuming every
// inbound line is a response to something we sent.
package framed

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sessiond/sessiond/internal/apperrors"
)

// envelope is the generic shape of any inbound or outbound frame body.
type envelope struct {
	ID     *int64          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string { return e.Message }

func (e *envelope) isResponse() bool     { return e.ID != nil && e.Method == "" }
func (e *envelope) isNotification() bool { return e.Method != "" && e.ID == nil }
func (e *envelope) isServerRequest() bool { return e.Method != "" && e.ID != nil }

type rpcResult struct {
	Result json.RawMessage
	Err    error
}

// pendingTable maps request id -> a channel awaiting that id's response,
// each with its own timeout. On subprocess exit or transport close, every
// entry is rejected with a description including exit code/signal.
type pendingTable struct {
	mu      sync.Mutex
	nextID  int64
	entries map[int64]chan rpcResult
}

func newPendingTable() *pendingTable {
	return &pendingTable{entries: make(map[int64]chan rpcResult)}
}

func (t *pendingTable) nextRequestID() int64 {
	return atomic.AddInt64(&t.nextID, 1)
}

func (t *pendingTable) register(id int64, timeout time.Duration) <-chan rpcResult {
	ch := make(chan rpcResult, 1)
	t.mu.Lock()
	t.entries[id] = ch
	t.mu.Unlock()

	if timeout > 0 {
		time.AfterFunc(timeout, func() {
			t.deliver(id, rpcResult{Err: apperrors.New(apperrors.KindTimeout, "rpc call timed out")})
		})
	}
	return ch
}

func (t *pendingTable) deliver(id int64, res rpcResult) {
	t.mu.Lock()
	ch, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	t.mu.Unlock()

	if !ok {
		return
	}
	select {
	case ch <- res:
	default:
	}
	close(ch)
}

// rejectAll rejects every outstanding call with the given description,
// used on subprocess exit or transport close.
func (t *pendingTable) rejectAll(description string) {
	t.mu.Lock()
	ids := make([]int64, 0, len(t.entries))
	for id := range t.entries {
		ids = append(ids, id)
	}
	t.mu.Unlock()

	for _, id := range ids {
		t.deliver(id, rpcResult{Err: apperrors.New(apperrors.KindProcessExit, description)})
	}
}
