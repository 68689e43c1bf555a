package sessionstore_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/walletmesh/router/pkg/sessionstore"
	"github.com/walletmesh/router/pkg/storage"
)

func newRecord(id string, expiresAt int64) *sessionstore.Record {
	return &sessionstore.Record{
		ID:           id,
		Origin:       "https://dapp.example",
		WalletID:     "metamask",
		CreatedAt:    1000,
		LastActivity: 1000,
		ExpiresAt:    expiresAt,
		State:        sessionstore.StateActive,
	}
}

func TestMemoryStore_SetGetDelete(t *testing.T) {
	s := sessionstore.NewMemoryStore()
	rec := newRecord("sess-1", 5000)

	require.NoError(t, s.Set(rec.ID, rec))

	got, err := s.Get("sess-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "https://dapp.example", got.Origin)

	require.NoError(t, s.Delete("sess-1"))
	got, err = s.Get("sess-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryStore_CleanExpired(t *testing.T) {
	s := sessionstore.NewMemoryStore()
	require.NoError(t, s.Set("alive", newRecord("alive", 10_000)))
	require.NoError(t, s.Set("dead", newRecord("dead", 100)))

	count, err := s.CleanExpired(5000)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	all, err := s.GetAll()
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Equal(t, "alive", all[0].ID)
}

func TestMemoryStore_ValidateAndRefresh(t *testing.T) {
	s := sessionstore.NewMemoryStore()
	require.NoError(t, s.Set("sess-1", newRecord("sess-1", 2000)))

	rec, err := s.ValidateAndRefresh("sess-1", 1500, 3600)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, int64(1500), rec.LastActivity)
	assert.Equal(t, int64(1500+3600), rec.ExpiresAt)

	rec, err = s.ValidateAndRefresh("sess-1", 10_000, 0)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestKVStore_RoundTrip(t *testing.T) {
	backing := storage.NewMemoryStorage()
	s := sessionstore.NewKVStore(backing, "", nil)

	rec := newRecord("sess-1", 5000)
	require.NoError(t, s.Set(rec.ID, rec))

	keys, err := backing.Keys()
	require.NoError(t, err)
	assert.Contains(t, keys, sessionstore.DefaultStorageKeyPrefix+"sess-1")

	got, err := s.Get("sess-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.WalletID, got.WalletID)

	count, err := s.CleanExpired(10_000)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

type failingStorage struct{}

func (failingStorage) Get(string) (string, bool, error)  { return "", false, assertErr }
func (failingStorage) Set(string, string) error          { return assertErr }
func (failingStorage) Remove(string) error                { return assertErr }
func (failingStorage) Keys() ([]string, error)             { return nil, assertErr }

var assertErr = assertError("storage unavailable")

type assertError string

func (e assertError) Error() string { return string(e) }

func TestKVStore_DegradesToMemoryOnFailure(t *testing.T) {
	s := sessionstore.NewKVStore(failingStorage{}, "", nil)

	rec := newRecord("sess-1", 5000)
	require.NoError(t, s.Set(rec.ID, rec))

	got, err := s.Get("sess-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.WalletID, got.WalletID)
}
