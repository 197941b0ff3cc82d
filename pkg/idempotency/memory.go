package idempotency

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryStore keeps claims and records in process memory. It suits a single
// instance; use a shared store when running several.
type MemoryStore struct {
	mutex sync.Mutex
	cache *gocache.Cache
}

// NewMemoryStore builds a store that purges expired entries every cleanupInterval.
func NewMemoryStore(cleanupInterval time.Duration) *MemoryStore {
	return &MemoryStore{cache: gocache.New(gocache.NoExpiration, cleanupInterval)}
}

// Claim atomically reserves key for token.
func (store *MemoryStore) Claim(_ context.Context, key string, token string, ttl time.Duration) (bool, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.cache.Add(ClaimKey(key), token, ttl) == nil, nil
}

// Lookup returns the recorded response for key.
func (store *MemoryStore) Lookup(_ context.Context, key string) (Record, bool, error) {
	value, found := store.cache.Get(RecordKey(key))
	if !found {
		return Record{}, false, nil
	}
	record, ok := value.(Record)
	if !ok {
		return Record{}, false, nil
	}
	return record, true, nil
}

// Complete stores record and drops the claim owned by token. A claim taken
// over by another token after expiry is left alone and record is discarded.
func (store *MemoryStore) Complete(_ context.Context, key string, token string, record Record, ttl time.Duration) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if current, found := store.cache.Get(ClaimKey(key)); found && current != token {
		return nil
	}
	store.cache.Set(RecordKey(key), record, ttl)
	store.releaseLocked(key, token)
	return nil
}

// Release drops the claim owned by token.
func (store *MemoryStore) Release(_ context.Context, key string, token string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.releaseLocked(key, token)
	return nil
}

func (store *MemoryStore) releaseLocked(key string, token string) {
	claimKey := ClaimKey(key)
	if current, found := store.cache.Get(claimKey); found && current == token {
		store.cache.Delete(claimKey)
	}
}
