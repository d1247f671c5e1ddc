package asyncqueue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_PushThenNext(t *testing.T) {
	q := New[string]()
	require.NoError(t, q.Push("a"))
	require.NoError(t, q.Push("b"))

	v, ok, err := q.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", v)

	v, ok, err = q.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "b", v)
}

func TestQueue_NextBlocksUntilPush(t *testing.T) {
	q := New[int]()
	done := make(chan int, 1)
	go func() {
		v, ok, _ := q.Next()
		if ok {
			done <- v
		}
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Push(42))

	select {
	case v := <-done:
		assert.Equal(t, 42, v)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Next to unblock")
	}
}

func TestQueue_EndWakesWaitersWithFalse(t *testing.T) {
	q := New[int]()
	done := make(chan bool, 1)
	go func() {
		_, ok, _ := q.Next()
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	q.End()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Next to unblock on End")
	}
}

func TestQueue_PushAfterEndFails(t *testing.T) {
	q := New[int]()
	q.End()
	err := q.Push(1)
	assert.Error(t, err)
}

func TestQueue_DrainsBufferedItemsBeforeReportingEnded(t *testing.T) {
	q := New[int]()
	require.NoError(t, q.Push(1))
	q.End()

	v, ok, err := q.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok, _ = q.Next()
	assert.False(t, ok)
}
