package framed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sessiond/sessiond/internal/apperrors"
)

func idPtr(v int64) *int64 { return &v }

func TestEnvelope_Classification(t *testing.T) {
	resp := envelope{ID: idPtr(1)}
	assert.True(t, resp.isResponse())
	assert.False(t, resp.isNotification())
	assert.False(t, resp.isServerRequest())

	notif := envelope{Method: "agent_message"}
	assert.False(t, notif.isResponse())
	assert.True(t, notif.isNotification())
	assert.False(t, notif.isServerRequest())

	serverReq := envelope{ID: idPtr(2), Method: "exec_approval_request"}
	assert.False(t, serverReq.isResponse())
	assert.False(t, serverReq.isNotification())
	assert.True(t, serverReq.isServerRequest())
}

func TestPendingTable_DeliverResolvesRegisteredChannel(t *testing.T) {
	pt := newPendingTable()
	id := pt.nextRequestID()
	ch := pt.register(id, time.Second)

	pt.deliver(id, rpcResult{Result: []byte(`{"ok":true}`)})

	res := <-ch
	require.NoError(t, res.Err)
	assert.JSONEq(t, `{"ok":true}`, string(res.Result))
}

func TestPendingTable_TimeoutDeliversTimeoutError(t *testing.T) {
	pt := newPendingTable()
	id := pt.nextRequestID()
	ch := pt.register(id, 10*time.Millisecond)

	res := <-ch
	require.Error(t, res.Err)
	assert.True(t, apperrors.Is(res.Err, apperrors.KindTimeout))
}

func TestPendingTable_RejectAllDeliversProcessExit(t *testing.T) {
	pt := newPendingTable()
	id1 := pt.nextRequestID()
	id2 := pt.nextRequestID()
	ch1 := pt.register(id1, time.Second)
	ch2 := pt.register(id2, time.Second)

	pt.rejectAll("process exited")

	res1 := <-ch1
	res2 := <-ch2
	assert.True(t, apperrors.Is(res1.Err, apperrors.KindProcessExit))
	assert.True(t, apperrors.Is(res2.Err, apperrors.KindProcessExit))
}

func TestPendingTable_DeliverUnknownIDIsNoop(t *testing.T) {
	pt := newPendingTable()
	assert.NotPanics(t, func() {
		pt.deliver(999, rpcResult{})
	})
}
