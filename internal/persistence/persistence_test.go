package persistence

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sessiond/sessiond/pkg/types"
)

func TestStore_LoadMissingFileReturnsEmpty(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "sessions.json"))
	all, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestStore_AddThenLoad(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "sessions.json"))
	require.NoError(t, s.Add(types.PersistedSession{ID: "S1", OwnerID: "alice"}))
	require.NoError(t, s.Add(types.PersistedSession{ID: "S2", OwnerID: "bob"}))

	all, err := s.Load()
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestStore_AddUpsertsByID(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "sessions.json"))
	require.NoError(t, s.Add(types.PersistedSession{ID: "S1", Mode: types.ModeRemote}))
	require.NoError(t, s.Add(types.PersistedSession{ID: "S1", Mode: types.ModeLocal}))

	all, err := s.Load()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, types.ModeLocal, all[0].Mode)
}

func TestStore_Update(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "sessions.json"))
	require.NoError(t, s.Add(types.PersistedSession{ID: "S1", Pid: 1}))
	require.NoError(t, s.Update("S1", func(r *types.PersistedSession) { r.Pid = 999 }))

	all, err := s.Load()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 999, all[0].Pid)
}

func TestStore_RemoveAndRemoveMany(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "sessions.json"))
	require.NoError(t, s.Add(types.PersistedSession{ID: "S1"}))
	require.NoError(t, s.Add(types.PersistedSession{ID: "S2"}))
	require.NoError(t, s.Add(types.PersistedSession{ID: "S3"}))

	require.NoError(t, s.Remove("S1"))
	require.NoError(t, s.RemoveMany([]string{"S2", "missing"}))

	all, err := s.Load()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "S3", all[0].ID)
}
