// Package kvstore is the durable key-value boundary under the reminder and
// progress collections. Values are opaque bytes (JSON in practice) stored
// under short logical keys.
//
// Backends: [MemStore] for tests, [FileStore] (one file per key, the default),
// [SQLiteStore], [PostgresStore] and [RedisStore]. All of them are safe for
// concurrent use.
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

var (
	// ErrNotFound is returned by Get when the key holds no value.
	ErrNotFound = errors.New("kvstore: key not found")

	// ErrInvalidKey is returned for keys outside [A-Za-z0-9_.-]{1,128}.
	ErrInvalidKey = errors.New("kvstore: invalid key")
)

// Store is a durable key-value store.
type Store interface {
	// Get returns the value stored under key, or [ErrNotFound].
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases the backend's resources.
	Close() error
}

// Pinger is implemented by backends that can check their connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,128}$`)

// ValidateKey reports whether key is acceptable to every backend.
func ValidateKey(key string) error {
	if !keyPattern.MatchString(key) || key == "." || key == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}
