package idempotency

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Outcome is the result of Guard.Do.
type Outcome struct {
	Record   Record
	Replayed bool
	// StoreError reports a failure to persist or release the claim. It is set
	// alongside the response or the error Do returns, which remain valid.
	StoreError error
}

// Guard runs operations at most once per key within the record TTL.
type Guard struct {
	store       Store
	nowFn       func() time.Time
	tokenFn     func() string
	recordTTL   time.Duration
	claimTTL    time.Duration
	failureTTL  time.Duration
	waitTimeout time.Duration
	pollDelay   time.Duration
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithRecordTTL sets how long successful responses are replayed.
func WithRecordTTL(ttl time.Duration) GuardOption {
	return func(guard *Guard) { guard.recordTTL = ttl }
}

// WithClaimTTL bounds how long a crashed request can hold a key.
func WithClaimTTL(ttl time.Duration) GuardOption {
	return func(guard *Guard) { guard.claimTTL = ttl }
}

// WithFailureTTL sets how long permanent client errors are replayed.
func WithFailureTTL(ttl time.Duration) GuardOption {
	return func(guard *Guard) { guard.failureTTL = ttl }
}

// WithWaitTimeout bounds how long a duplicate waits for the first request.
func WithWaitTimeout(timeout time.Duration) GuardOption {
	return func(guard *Guard) { guard.waitTimeout = timeout }
}

// WithPollDelay sets the interval between lookups while waiting.
func WithPollDelay(delay time.Duration) GuardOption {
	return func(guard *Guard) { guard.pollDelay = delay }
}

// NewGuard wires a Guard over store.
func NewGuard(store Store, now func() time.Time, options ...GuardOption) (*Guard, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidGuardConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidGuardConfig)
	}
	guard := &Guard{
		store:       store,
		nowFn:       now,
		tokenFn:     func() string { return uuid.NewString() },
		recordTTL:   defaultRecordTTL,
		claimTTL:    defaultClaimTTL,
		failureTTL:  defaultFailureTTL,
		waitTimeout: defaultWaitTimeout,
		pollDelay:   defaultPollDelay,
	}
	for _, option := range options {
		if option != nil {
			option(guard)
		}
	}
	if guard.recordTTL <= 0 || guard.claimTTL <= 0 || guard.failureTTL < 0 || guard.waitTimeout < 0 || guard.pollDelay <= 0 {
		return nil, fmt.Errorf("%w: durations must be positive", ErrInvalidGuardConfig)
	}
	return guard, nil
}

// Do executes operation once per key. A nil key always executes. A key seen
// with a different fingerprint fails with ErrKeyReused. A duplicate arriving
// while the first request runs waits, then replays its record or fails with
// ErrInProgress. Operation errors and retryable statuses release the key.
func (guard *Guard) Do(ctx context.Context, key *Key, fingerprint string, operation func(ctx context.Context) (Record, error)) (Outcome, error) {
	if key == nil {
		record, err := operation(ctx)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Record: record}, nil
	}
	storageKey := key.String()
	deadline := guard.nowFn().Add(guard.waitTimeout)
	for {
		outcome, found, err := guard.replay(ctx, storageKey, fingerprint)
		if err != nil || found {
			return outcome, err
		}
		token := guard.tokenFn()
		claimed, err := guard.store.Claim(ctx, storageKey, token, guard.claimTTL)
		if err != nil {
			return Outcome{}, err
		}
		if claimed {
			return guard.execute(ctx, storageKey, token, fingerprint, operation)
		}
		if !guard.nowFn().Before(deadline) {
			return Outcome{}, ErrInProgress
		}
		if err := sleep(ctx, guard.pollDelay); err != nil {
			return Outcome{}, err
		}
	}
}

func (guard *Guard) replay(ctx context.Context, storageKey string, fingerprint string) (Outcome, bool, error) {
	record, found, err := guard.store.Lookup(ctx, storageKey)
	if err != nil || !found {
		return Outcome{}, false, err
	}
	if record.Fingerprint != fingerprint {
		return Outcome{}, true, ErrKeyReused
	}
	return Outcome{Record: record, Replayed: true}, true, nil
}

func (guard *Guard) execute(ctx context.Context, storageKey string, token string, fingerprint string, operation func(ctx context.Context) (Record, error)) (Outcome, error) {
	// A record may have landed between the first lookup and the claim.
	if outcome, found, err := guard.replay(ctx, storageKey, fingerprint); err != nil || found {
		outcome.StoreError = guard.store.Release(context.WithoutCancel(ctx), storageKey, token)
		return outcome, err
	}
	record, err := operation(ctx)
	if err != nil {
		return Outcome{StoreError: guard.store.Release(context.WithoutCancel(ctx), storageKey, token)}, err
	}
	record.Fingerprint = fingerprint
	record.CreatedAt = guard.nowFn().UTC()
	outcome := Outcome{Record: record}
	ttl := guard.ttlFor(record.StatusCode)
	if ttl <= 0 {
		outcome.StoreError = guard.store.Release(context.WithoutCancel(ctx), storageKey, token)
		return outcome, nil
	}
	outcome.StoreError = guard.store.Complete(context.WithoutCancel(ctx), storageKey, token, record, ttl)
	return outcome, nil
}

// ttlFor decides how long a response is replayed. Zero means the key is released.
// Statuses that depend on state the client can change, such as the wallet
// balance behind a 402, are released.
func (guard *Guard) ttlFor(statusCode int) time.Duration {
	switch {
	case statusCode < http.StatusBadRequest:
		return guard.recordTTL
	case statusCode == http.StatusPaymentRequired,
		statusCode == http.StatusRequestTimeout,
		statusCode == http.StatusConflict,
		statusCode == http.StatusTooManyRequests:
		return 0
	case statusCode < http.StatusInternalServerError:
		return guard.failureTTL
	default:
		return 0
	}
}

func sleep(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
