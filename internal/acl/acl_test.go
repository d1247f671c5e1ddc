package acl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sessiond/sessiond/internal/apperrors"
)

func TestACL_OwnershipBinding(t *testing.T) {
	a := New()
	require.NoError(t, a.SetOwner("S", "alice"))

	assert.NoError(t, a.AssertOwner("alice", "S"))
	err := a.AssertOwner("bob", "S")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindAccessDenied))
}

func TestACL_SetOwnerTwiceFails(t *testing.T) {
	a := New()
	require.NoError(t, a.SetOwner("S", "alice"))

	err := a.SetOwner("S", "bob")
	require.Error(t, err)
	assert.False(t, a.CanAccess("bob", "S"))
	assert.True(t, a.CanAccess("alice", "S"))
}

func TestACL_UnknownSessionNotFound(t *testing.T) {
	a := New()
	err := a.AssertOwner("alice", "missing")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))
	assert.False(t, a.CanAccess("alice", "missing"))
}

func TestACL_RemoveSessionIsIdempotent(t *testing.T) {
	a := New()
	require.NoError(t, a.SetOwner("S", "alice"))
	a.RemoveSession("S")
	a.RemoveSession("S")

	assert.False(t, a.CanAccess("alice", "S"))
}
