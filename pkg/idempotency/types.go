// Package idempotency deduplicates mutating requests by a caller-supplied key.
//
// A request claims its key before executing. Concurrent duplicates wait for the
// claim to resolve and then replay the recorded response; they never execute
// the wrapped operation themselves.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/forwarder/pkg/faults"
)

const (
	maxKeyLength       = 255
	keyPrefix          = "idem:v1"
	claimSuffix        = "claim"
	recordSuffix       = "record"
	defaultRecordTTL   = 24 * time.Hour
	defaultClaimTTL    = 30 * time.Second
	defaultFailureTTL  = time.Minute
	defaultWaitTimeout = 5 * time.Second
	defaultPollDelay   = 50 * time.Millisecond
)

// Error values returned by the guard.
var (
	ErrInvalidKey         = faults.New(faults.KindValidation, "invalid idempotency key")
	ErrKeyReused          = faults.New(faults.KindValidation, "idempotency key was already used with a different request")
	ErrInProgress         = faults.New(faults.KindConflict, "a request with this idempotency key is still in progress")
	ErrInvalidGuardConfig = faults.New(faults.KindInternal, "invalid idempotency guard config")
)

// Key is a raw client key scoped to an operation.
type Key struct {
	operation string
	value     string
}

// Record is the response remembered for a key.
type Record struct {
	StatusCode  int       `json:"status_code"`
	Body        []byte    `json:"body"`
	ContentType string    `json:"content_type,omitempty"`
	Fingerprint string    `json:"fingerprint"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store holds claims and records. Claim must be atomic: exactly one caller
// wins an unclaimed key. Complete and Release act only if token still owns the claim.
type Store interface {
	Claim(ctx context.Context, key string, token string, ttl time.Duration) (bool, error)
	Lookup(ctx context.Context, key string) (Record, bool, error)
	Complete(ctx context.Context, key string, token string, record Record, ttl time.Duration) error
	Release(ctx context.Context, key string, token string) error
}

// NewKey scopes a raw client key to an operation. Callers with no key should
// pass a nil *Key to Guard.Do rather than calling NewKey.
func NewKey(operation string, raw string) (Key, error) {
	trimmedOperation := strings.TrimSpace(operation)
	trimmed := strings.TrimSpace(raw)
	if trimmedOperation == "" {
		return Key{}, fmt.Errorf("%w: empty operation", ErrInvalidKey)
	}
	if trimmed == "" {
		return Key{}, fmt.Errorf("%w: empty value", ErrInvalidKey)
	}
	if len(trimmed) > maxKeyLength {
		return Key{}, fmt.Errorf("%w: longer than %d bytes", ErrInvalidKey, maxKeyLength)
	}
	return Key{operation: trimmedOperation, value: trimmed}, nil
}

// Operation returns the scope.
func (key Key) Operation() string {
	return key.operation
}

// Value returns the raw client key.
func (key Key) Value() string {
	return key.value
}

// String returns the storage key.
func (key Key) String() string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, key.operation, key.value)
}

// ClaimKey returns the storage key of the in-flight claim for key.
func ClaimKey(key string) string {
	return key + ":" + claimSuffix
}

// RecordKey returns the storage key of the recorded response for key.
func RecordKey(key string) string {
	return key + ":" + recordSuffix
}

// Fingerprint hashes request parts so a reused key with a different request is detectable.
func Fingerprint(parts ...[]byte) string {
	hash := sha256.New()
	for _, part := range parts {
		hash.Write(part)
		hash.Write([]byte{0})
	}
	return hex.EncodeToString(hash.Sum(nil))
}
