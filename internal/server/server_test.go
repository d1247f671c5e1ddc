package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sessiond/sessiond/internal/acl"
	"github.com/sessiond/sessiond/internal/command"
	"github.com/sessiond/sessiond/internal/cwdsandbox"
	"github.com/sessiond/sessiond/internal/manager"
	"github.com/sessiond/sessiond/internal/persistence"
	"github.com/sessiond/sessiond/internal/provider"
	"github.com/sessiond/sessiond/pkg/types"
)

type fakeSession struct {
	id string
}

func (f *fakeSession) ID() string                                          { return f.id }
func (f *fakeSession) Send(ctx context.Context, input string) error        { return nil }
func (f *fakeSession) Read(ctx context.Context, cursor, limit int) ([]types.SessionMessage, error) {
	return nil, nil
}
func (f *fakeSession) SwitchMode(ctx context.Context, target types.Mode) error { return nil }
func (f *fakeSession) RespondToPermission(requestID string, approved bool) error { return nil }
func (f *fakeSession) Stop(ctx context.Context, force bool) error             { return nil }
func (f *fakeSession) OnEvent(fn func(types.SessionEvent)) func()             { return func() {} }
func (f *fakeSession) OnMessage(fn func(types.SessionMessage)) func()         { return func() {} }
func (f *fakeSession) Pid() int                                               { return 1234 }

var _ provider.Session = (*fakeSession)(nil)

type fakeProvider struct {
	next int
}

func (f *fakeProvider) Name() string { return "codex" }

func (f *fakeProvider) Spawn(ctx context.Context, opts provider.SpawnOptions) (provider.Session, error) {
	f.next++
	return &fakeSession{id: "sess-1"}, nil
}

func (f *fakeProvider) Resume(ctx context.Context, sessionID string, opts provider.ResumeOptions) (provider.Session, error) {
	return &fakeSession{id: sessionID}, nil
}

var _ provider.Provider = (*fakeProvider)(nil)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store := persistence.New(filepath.Join(t.TempDir(), "sessions.json"))
	mgr := manager.New(manager.Config{
		ACL:     acl.New(),
		Sandbox: cwdsandbox.New(nil),
		Store:   store,
	})
	mgr.RegisterProvider(&fakeProvider{})

	return New(DefaultConfig(), mgr, command.NewExecutor(nil))
}

func doRequest(s *Server, method, path string, body any, userID string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User-Id", userID)
	}
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func TestServer_ListEmpty(t *testing.T) {
	s := newTestServer(t)
	w := doRequest(s, http.MethodGet, "/v1/sessions", nil, "")

	require.Equal(t, http.StatusOK, w.Code)
	var sessions []types.Session
	require.NoError(t, json.NewDecoder(w.Body).Decode(&sessions))
	assert.Empty(t, sessions)
}

func TestServer_SpawnThenList(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(s, http.MethodPost, "/v1/sessions", spawnRequest{
		Provider: "codex", Cwd: "", Task: "do the thing",
	}, "alice")
	require.Equal(t, http.StatusCreated, w.Code)

	var rec types.Session
	require.NoError(t, json.NewDecoder(w.Body).Decode(&rec))
	assert.Equal(t, "sess-1", rec.ID)
	assert.Equal(t, "alice", rec.OwnerID)

	w = doRequest(s, http.MethodGet, "/v1/sessions", nil, "")
	var list []types.Session
	require.NoError(t, json.NewDecoder(w.Body).Decode(&list))
	assert.Len(t, list, 1)
}

func TestServer_SendCrossUserDenied(t *testing.T) {
	s := newTestServer(t)
	w := doRequest(s, http.MethodPost, "/v1/sessions", spawnRequest{Provider: "codex"}, "alice")
	var rec types.Session
	require.NoError(t, json.NewDecoder(w.Body).Decode(&rec))

	w = doRequest(s, http.MethodPost, "/v1/sessions/"+rec.ID+"/send", sendRequest{Input: "hi"}, "mallory")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestServer_SendInterceptedBySlashCommand(t *testing.T) {
	s := newTestServer(t)
	w := doRequest(s, http.MethodPost, "/v1/sessions", spawnRequest{Provider: "codex"}, "alice")
	var rec types.Session
	require.NoError(t, json.NewDecoder(w.Body).Decode(&rec))

	w = doRequest(s, http.MethodPost, "/v1/sessions/"+rec.ID+"/send", sendRequest{Input: "/help"}, "alice")
	require.Equal(t, http.StatusOK, w.Code)

	var resp sendResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Handled)
	assert.Contains(t, resp.Response, "Available commands")
}

func TestServer_SendPassesThroughWhenUnhandled(t *testing.T) {
	s := newTestServer(t)
	w := doRequest(s, http.MethodPost, "/v1/sessions", spawnRequest{Provider: "codex"}, "alice")
	var rec types.Session
	require.NoError(t, json.NewDecoder(w.Body).Decode(&rec))

	w = doRequest(s, http.MethodPost, "/v1/sessions/"+rec.ID+"/send", sendRequest{Input: "plain text"}, "alice")
	require.Equal(t, http.StatusOK, w.Code)

	var resp sendResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.False(t, resp.Handled)
}

func TestServer_StopThenNotFound(t *testing.T) {
	s := newTestServer(t)
	w := doRequest(s, http.MethodPost, "/v1/sessions", spawnRequest{Provider: "codex"}, "alice")
	var rec types.Session
	require.NoError(t, json.NewDecoder(w.Body).Decode(&rec))

	w = doRequest(s, http.MethodPost, "/v1/sessions/"+rec.ID+"/stop", stopRequest{}, "alice")
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(s, http.MethodGet, "/v1/sessions/"+rec.ID+"/summary", nil, "alice")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_UnknownProviderReturnsNotFound(t *testing.T) {
	s := newTestServer(t)
	w := doRequest(s, http.MethodPost, "/v1/sessions", spawnRequest{Provider: "nope"}, "alice")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
