package framed

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sessiond/sessiond/internal/framing"
)

// TestMain re-execs this test binary as a fake framed JSON-RPC
// subprocess when GO_WANT_FRAMED_HELPER is set. This is the standard
// os/exec "helper process" pattern for testing subprocess plumbing
// without depending on a real upstream binary being installed.
func TestMain(m *testing.M) {
	if os.Getenv("GO_WANT_FRAMED_HELPER") == "1" {
		runFramedHelper()
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func runFramedHelper() {
	reader := framing.NewReader()
	buf := make([]byte, 4096)
	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			reader.Feed(buf[:n])
			for {
				body, ok := reader.Next()
				if !ok {
					break
				}
				handleHelperFrame(body)
			}
		}
		if err != nil {
			return
		}
	}
}

func handleHelperFrame(body []byte) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return
	}
	switch {
	case env.Method == "startSession" && env.ID != nil:
		writeHelperFrame(envelope{ID: env.ID, Result: json.RawMessage(`{"sessionId":"helper-session-1"}`)})
		writeHelperFrame(envelope{Method: "agent_message", Params: json.RawMessage(`{"text":"hello from helper"}`)})
	case env.Method == "continueSession" && env.ID != nil:
		writeHelperFrame(envelope{ID: env.ID, Result: json.RawMessage(`{}`)})
	case env.Method == "boom" && env.ID != nil:
		os.Exit(1)
	}
}

func writeHelperFrame(env envelope) {
	body, err := json.Marshal(env)
	if err != nil {
		return
	}
	os.Stdout.Write(framing.Encode(body))
}

func newHelperSpawnOptions() spawnOptions {
	return spawnOptions{
		BinaryPath: os.Args[0],
		Args:       []string{"-test.run=^TestTransportHelperEntryPoint$"},
		Env:        append(os.Environ(), "GO_WANT_FRAMED_HELPER=1"),
	}
}

// TestTransportHelperEntryPoint exists only to give -test.run a target
// name; TestMain intercepts before this body would ever run under the
// helper-process env var.
func TestTransportHelperEntryPoint(t *testing.T) {}

type helperNotification struct {
	method string
	params json.RawMessage
}

func TestTransport_CallRoundTrip(t *testing.T) {
	pending := newPendingTable()
	tr := newTransport(pending)

	notifCh := make(chan helperNotification, 4)
	tr.onNotification = func(method string, params json.RawMessage) {
		notifCh <- helperNotification{method, params}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tr.connect(ctx, newHelperSpawnOptions()))
	defer tr.close()

	id := pending.nextRequestID()
	ch := pending.register(id, 2*time.Second)
	require.NoError(t, tr.call(id, "startSession", map[string]any{}))

	res := <-ch
	require.NoError(t, res.Err)
	assert.JSONEq(t, `{"sessionId":"helper-session-1"}`, string(res.Result))

	select {
	case n := <-notifCh:
		assert.Equal(t, "agent_message", n.method)
	case <-time.After(2 * time.Second):
		t.Fatal("expected agent_message notification")
	}
}

func TestTransport_CloseRejectsPendingCalls(t *testing.T) {
	pending := newPendingTable()
	tr := newTransport(pending)

	closed := make(chan error, 1)
	tr.onClose = func(exitErr error) { closed <- exitErr }

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tr.connect(ctx, newHelperSpawnOptions()))

	id := pending.nextRequestID()
	ch := pending.register(id, 5*time.Second)
	require.NoError(t, tr.call(id, "boom", map[string]any{}))

	select {
	case <-closed:
	case <-time.After(3 * time.Second):
		t.Fatal("expected onClose to fire after subprocess exit")
	}

	select {
	case res := <-ch:
		require.Error(t, res.Err)
	case <-time.After(time.Second):
		t.Fatal("expected pending call to be rejected on close")
	}
}
