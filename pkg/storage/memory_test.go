package storage_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/walletmesh/router/pkg/storage"
)

func TestMemoryStorage_SetGetRemove(t *testing.T) {
	s := storage.NewMemoryStorage()

	_, ok, err := s.Get("missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set("walletmesh_session_abc", `{"id":"abc"}`))
	v, ok, err := s.Get("walletmesh_session_abc")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"id":"abc"}`, v)

	keys, err := s.Keys()
	require.NoError(t, err)
	assert.Contains(t, keys, "walletmesh_session_abc")

	require.NoError(t, s.Remove("walletmesh_session_abc"))
	_, ok, err = s.Get("walletmesh_session_abc")
	require.NoError(t, err)
	assert.False(t, ok)
}
