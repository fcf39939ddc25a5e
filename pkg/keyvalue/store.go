package keyvalue

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist or has expired.
var ErrNotFound = errors.New("keyvalue: key not found")

// Store is a TTL-based key-value abstraction over an ephemeral backend.
//
// Acquire and CompareAndDelete must be atomic: Acquire writes the value
// only if no live entry exists for the key, and CompareAndDelete removes
// the key only if it still holds the given value. Backends without native
// scripting must implement both via a transactional primitive, never as
// separate read and write calls.
type Store interface {
	// Acquire writes value under key with the given TTL only if the key
	// has no live entry. Returns true if the write happened.
	Acquire(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// CompareAndDelete deletes key only if its current value equals value,
	// in a single atomic step. Returns true if the key was deleted.
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)

	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set writes value under key with the given TTL, overwriting any
	// existing entry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes key unconditionally. Removing an absent key is not
	// an error.
	Delete(ctx context.Context, key string) error

	// Increment atomically increments the counter under key, arming the
	// TTL when the counter is created. Returns the new count.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// TTL returns the remaining lifetime of key, or ErrNotFound.
	TTL(ctx context.Context, key string) (time.Duration, error)
}
