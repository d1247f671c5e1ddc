package pendingreq

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sessiond/sessiond/internal/apperrors"
)

func TestTable_ResolveExactlyOnce(t *testing.T) {
	tbl := NewTable()
	ch := tbl.Register("R", time.Minute, nil)

	require.NoError(t, tbl.Resolve("R", Resolution{Approved: true}))

	res := <-ch
	assert.True(t, res.Approved)

	err := tbl.Resolve("R", Resolution{Approved: true})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))
}

func TestTable_TimeoutAutoDenies(t *testing.T) {
	tbl := NewTable()
	var firedTimeout bool
	ch := tbl.Register("R", 20*time.Millisecond, func() { firedTimeout = true })

	select {
	case res := <-ch:
		assert.False(t, res.Approved)
		assert.Equal(t, "timeout", res.Reason)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for auto-deny")
	}
	assert.True(t, firedTimeout)
}

func TestTable_Abort(t *testing.T) {
	tbl := NewTable()
	ch1 := tbl.Register("R1", time.Minute, nil)
	ch2 := tbl.Register("R2", time.Minute, nil)

	tbl.Abort("stopped")

	r1 := <-ch1
	r2 := <-ch2
	assert.False(t, r1.Approved)
	assert.False(t, r2.Approved)
	assert.Equal(t, 0, tbl.Len())
}

func TestTable_ResolveThenTimerDoesNotDoubleDeliver(t *testing.T) {
	tbl := NewTable()
	ch := tbl.Register("R", 10*time.Millisecond, nil)
	require.NoError(t, tbl.Resolve("R", Resolution{Approved: true}))

	res := <-ch
	assert.True(t, res.Approved)

	time.Sleep(30 * time.Millisecond)
	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed with no second value")
	default:
		t.Fatal("channel should be closed by now")
	}
}
