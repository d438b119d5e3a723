// Package kv defines the narrow keyed TTL store the auth engine keeps its
// ephemeral state in: one-time codes, verification tokens, rate-limit and
// attempt counters. Two implementations ship with it, a Redis-backed store
// for shared deployments and an in-memory store for single-process use.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist or has expired.
var ErrNotFound = errors.New("kv: key not found")

// ErrUnavailable wraps transport or backend failures. Callers that gate
// security decisions on store reads must treat it as "not verified".
var ErrUnavailable = errors.New("kv: store unavailable")

// Store is the minimal contract the engine needs from a keyed TTL store.
//
// Implementations must make GetAndDelete atomic per key: when several
// callers race on the same key, exactly one observes the value and the
// rest get ErrNotFound. IncrementWithTTL uses fixed-window semantics,
// the TTL is applied only when the increment creates the key.
type Store interface {
	// Get returns the value at key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// SetWithTTL stores value at key, replacing any previous value and TTL.
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error

	// GetAndDelete atomically reads and removes the value at key.
	GetAndDelete(ctx context.Context, key string) (string, error)

	// IncrementWithTTL adds one to the counter at key and returns the new
	// count. The TTL starts the window on the first hit only.
	IncrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// TTL reports the remaining lifetime of key, or ErrNotFound.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Delete removes the given keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error
}
