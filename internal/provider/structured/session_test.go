package structured

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sessiond/sessiond/internal/apperrors"
	"github.com/sessiond/sessiond/internal/asyncqueue"
)

// fakeBackend lets tests drive the upstream message stream directly.
type fakeBackend struct {
	out chan UpstreamMessage
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{out: make(chan UpstreamMessage, 16)}
}

func (f *fakeBackend) Start(ctx context.Context, opts StartOptions, input *asyncqueue.Queue[string], onPermission PermissionCallback) (<-chan UpstreamMessage, error) {
	go func() {
		<-ctx.Done()
	}()
	return f.out, nil
}

func TestSession_ReadyThenSendThenClassifiesText(t *testing.T) {
	backend := newFakeBackend()
	s, err := NewSession(context.Background(), backend, StartOptions{})
	require.NoError(t, err)

	// Before ready, send fails.
	err = s.Send(context.Background(), "hi")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindNotReady))

	backend.out <- UpstreamMessage{Subtype: "system", SystemSubtype: "init", SessionID: "upstream-1"}
	require.NoError(t, s.WaitForReady(context.Background()))

	require.NoError(t, s.Send(context.Background(), "hi"))

	backend.out <- UpstreamMessage{Subtype: "assistant", Text: "Hello"}
	time.Sleep(20 * time.Millisecond)

	msgs, err := s.Read(context.Background(), 0, 50)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Hello", msgs[0].Content)
}

func TestSession_PermissionExactlyOnce(t *testing.T) {
	backend := newFakeBackend()
	s, err := NewSession(context.Background(), backend, StartOptions{})
	require.NoError(t, err)

	var got bool
	var mu = make(chan struct{})
	go func() {
		approved, _ := s.handlePermission("Bash", nil, PermissionMeta{RequestID: "R"})
		got = approved
		close(mu)
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, s.RespondToPermission("R", true))
	<-mu
	assert.True(t, got)

	err = s.RespondToPermission("R", true)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))
}

func TestSession_HandlePermissionAbortSignalDeniesPromptly(t *testing.T) {
	backend := newFakeBackend()
	s, err := NewSession(context.Background(), backend, StartOptions{})
	require.NoError(t, err)

	abort := make(chan struct{})
	resultCh := make(chan bool, 1)
	go func() {
		approved, reason := s.handlePermission("Bash", nil, PermissionMeta{RequestID: "R", AbortSignal: abort})
		assert.Equal(t, "aborted", reason)
		resultCh <- approved
	}()

	time.Sleep(20 * time.Millisecond)
	close(abort)

	select {
	case approved := <-resultCh:
		assert.False(t, approved)
	case <-time.After(time.Second):
		t.Fatal("abort signal did not resolve pending permission")
	}

	err = s.RespondToPermission("R", true)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))
}

func TestSession_StopAutoDeniesPendingPermissions(t *testing.T) {
	backend := newFakeBackend()
	s, err := NewSession(context.Background(), backend, StartOptions{})
	require.NoError(t, err)

	resultCh := make(chan bool, 1)
	go func() {
		approved, _ := s.handlePermission("Bash", nil, PermissionMeta{RequestID: "R"})
		resultCh <- approved
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, s.Stop(context.Background(), false))

	select {
	case approved := <-resultCh:
		assert.False(t, approved)
	case <-time.After(time.Second):
		t.Fatal("stop did not resolve pending permission")
	}
}
