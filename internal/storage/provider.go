// Package storage defines the key/value persistence used by the board store.
package storage

import (
	"context"
	"fmt"
)

// Keys of the two persisted blobs.
const (
	KeyBoard  = "board_state"
	KeyRawLog = "raw_data_log"
)

// Supported drivers.
const (
	DriverSQLite = "sqlite"
	DriverPebble = "pebble"
	DriverFile   = "file"
)

// Provider is the interface for blob persistence.
type Provider interface {
	// Get returns the value stored under key, or apperr.ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set durably stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Close releases the underlying resources.
	Close() error
}

// Open returns the provider for driver rooted at path.
func Open(driver, path string) (Provider, error) {
	switch driver {
	case DriverSQLite, "":
		return OpenSQLite(path)
	case DriverPebble:
		return OpenPebble(path)
	case DriverFile:
		return NewFS(path)
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", driver)
	}
}
