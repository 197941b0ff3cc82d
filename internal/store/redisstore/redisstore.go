// Package redisstore keeps idempotency claims and records in Redis so several
// service instances share them.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/forwarder/pkg/idempotency"
	"github.com/redis/go-redis/v9"
)

// Both keys of an operation share a hash tag so the scripts run on one slot.
var (
	completeScript = redis.NewScript(`
		local current = redis.call("get", KEYS[1])
		if current and current ~= ARGV[1] then
			return 0
		end
		redis.call("set", KEYS[2], ARGV[2], "PX", ARGV[3])
		if current then
			redis.call("del", KEYS[1])
		end
		return 1
	`)

	releaseScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		end
		return 0
	`)
)

// Store implements idempotency.Store.
type Store struct {
	client redis.UniversalClient
}

// New returns a Store using client.
func New(client redis.UniversalClient) *Store {
	return &Store{client: client}
}

// Claim sets the claim key with NX so exactly one token wins.
func (store *Store) Claim(ctx context.Context, key string, token string, ttl time.Duration) (bool, error) {
	claimed, err := store.client.SetNX(ctx, claimKey(key), token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis claim: %w", err)
	}
	return claimed, nil
}

func (store *Store) Lookup(ctx context.Context, key string) (idempotency.Record, bool, error) {
	data, err := store.client.Get(ctx, recordKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return idempotency.Record{}, false, nil
	}
	if err != nil {
		return idempotency.Record{}, false, fmt.Errorf("redis lookup: %w", err)
	}
	var record idempotency.Record
	if err := json.Unmarshal(data, &record); err != nil {
		return idempotency.Record{}, false, fmt.Errorf("redis lookup: decode record: %w", err)
	}
	return record, true, nil
}

func (store *Store) Complete(ctx context.Context, key string, token string, record idempotency.Record, ttl time.Duration) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("redis complete: encode record: %w", err)
	}
	keys := []string{claimKey(key), recordKey(key)}
	if err := completeScript.Run(ctx, store.client, keys, token, payload, ttl.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("redis complete: %w", err)
	}
	return nil
}

func (store *Store) Release(ctx context.Context, key string, token string) error {
	if err := releaseScript.Run(ctx, store.client, []string{claimKey(key)}, token).Err(); err != nil {
		return fmt.Errorf("redis release: %w", err)
	}
	return nil
}

// Ping reports whether the server is reachable.
func (store *Store) Ping(ctx context.Context) error {
	return store.client.Ping(ctx).Err()
}

func claimKey(key string) string {
	return idempotency.ClaimKey("{" + key + "}")
}

func recordKey(key string) string {
	return idempotency.RecordKey("{" + key + "}")
}
