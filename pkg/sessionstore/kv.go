package sessionstore

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/walletmesh/router/pkg/log"
	"github.com/walletmesh/router/pkg/storage"
)

// DefaultStorageKeyPrefix matches the default in spec §6.5's session
// security options (`storageKeyPrefix: 'walletmesh_session_'`).
const DefaultStorageKeyPrefix = "walletmesh_session_"

// KVStore is the LocalStorage-like Session Store variant (spec §4.3):
// records are JSON-serialized under `<prefix><id>` keys of the persistent
// Storage contract (§6.4), e.g. `walletmesh_session_<id>` with the default
// prefix. If the underlying storage is absent or any storage operation
// fails, KVStore falls back to an in-process MemoryStore for the rest of its
// lifetime, matching the spec's degrade-to-memory rule.
type KVStore struct {
	mu     sync.RWMutex
	prefix string
	logger log.Logger

	backing storage.Storage
	fallback Store
}

var _ Store = (*KVStore)(nil)

// NewKVStore wraps backing with the session Store contract. A nil backing,
// or the first failed Get/Set/Remove/Keys call on it, causes KVStore to
// operate purely in-memory from then on.
func NewKVStore(backing storage.Storage, prefix string, logger log.Logger) *KVStore {
	if prefix == "" {
		prefix = DefaultStorageKeyPrefix
	}
	if logger == nil {
		logger = log.NewNoop()
	}
	k := &KVStore{
		prefix:  prefix,
		logger:  logger.NewSystem("sessionstore-kv"),
		backing: backing,
	}
	if backing == nil {
		k.fallback = NewMemoryStore()
	}
	return k
}

func (k *KVStore) key(id string) string {
	return k.prefix + id
}

func (k *KVStore) useFallback() bool {
	return k.fallback != nil
}

func (k *KVStore) degrade(reason error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.fallback != nil {
		return
	}
	k.logger.Warn("persistent storage unavailable, degrading to memory", "error", reason)
	k.fallback = NewMemoryStore()
}

func (k *KVStore) Set(id string, rec *Record) error {
	if k.useFallback() {
		return k.fallback.Set(id, rec)
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal session record: %w", err)
	}
	if err := k.backing.Set(k.key(id), string(raw)); err != nil {
		k.degrade(err)
		return k.fallback.Set(id, rec)
	}
	return nil
}

func (k *KVStore) Get(id string) (*Record, error) {
	if k.useFallback() {
		return k.fallback.Get(id)
	}
	raw, ok, err := k.backing.Get(k.key(id))
	if err != nil {
		k.degrade(err)
		return k.fallback.Get(id)
	}
	if !ok {
		return nil, nil
	}
	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal session record: %w", err)
	}
	return &rec, nil
}

func (k *KVStore) GetAll() ([]*Record, error) {
	if k.useFallback() {
		return k.fallback.GetAll()
	}
	keys, err := k.backing.Keys()
	if err != nil {
		k.degrade(err)
		return k.fallback.GetAll()
	}
	out := make([]*Record, 0, len(keys))
	for _, key := range keys {
		if !strings.HasPrefix(key, k.prefix) {
			continue
		}
		raw, ok, err := k.backing.Get(key)
		if err != nil || !ok {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			k.logger.Warn("dropping malformed session record", "key", key, "error", err)
			continue
		}
		out = append(out, &rec)
	}
	return out, nil
}

func (k *KVStore) Delete(id string) error {
	if k.useFallback() {
		return k.fallback.Delete(id)
	}
	if err := k.backing.Remove(k.key(id)); err != nil {
		k.degrade(err)
		return k.fallback.Delete(id)
	}
	return nil
}

func (k *KVStore) Clear() error {
	if k.useFallback() {
		return k.fallback.Clear()
	}
	recs, err := k.GetAll()
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if err := k.backing.Remove(k.key(rec.ID)); err != nil {
			k.degrade(err)
			return k.fallback.Clear()
		}
	}
	return nil
}

func (k *KVStore) CleanExpired(now int64) (int, error) {
	recs, err := k.GetAll()
	if err != nil {
		return 0, err
	}
	count := 0
	for _, rec := range recs {
		if rec.ExpiresAt > 0 && rec.ExpiresAt <= now {
			if err := k.Delete(rec.ID); err != nil {
				return count, err
			}
			count++
		}
	}
	return count, nil
}

func (k *KVStore) ValidateAndRefresh(id string, now int64, extendOnAccess int64) (*Record, error) {
	if k.useFallback() {
		return k.fallback.ValidateAndRefresh(id, now, extendOnAccess)
	}
	rec, err := k.Get(id)
	if err != nil || rec == nil {
		return nil, err
	}
	if rec.ExpiresAt > 0 && rec.ExpiresAt <= now {
		_ = k.Delete(id)
		return nil, nil
	}
	rec.LastActivity = now
	if extendOnAccess > 0 {
		rec.ExpiresAt = now + extendOnAccess
	}
	if err := k.Set(id, rec); err != nil {
		return nil, err
	}
	return rec, nil
}
