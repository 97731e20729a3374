package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/starford/sift/internal/apperr"
)

// Pebble stores blobs in an embedded Pebble LSM directory.
type Pebble struct {
	db *pebble.DB
}

// OpenPebble opens (or creates) a Pebble database in dir.
func OpenPebble(dir string) (*Pebble, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("storage: open pebble: %w", err)
	}
	return &Pebble{db: db}, nil
}

// Get returns a copy of the value stored under key.
func (p *Pebble) Get(_ context.Context, key string) ([]byte, error) {
	v, closer, err := p.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get %s: %w", key, err)
	}
	defer closer.Close()
	return append([]byte(nil), v...), nil
}

// Set writes value under key with a synced write.
func (p *Pebble) Set(_ context.Context, key string, value []byte) error {
	if err := p.db.Set([]byte(key), value, pebble.Sync); err != nil {
		return fmt.Errorf("storage: set %s: %w", key, err)
	}
	return nil
}

// Delete removes key with a synced write.
func (p *Pebble) Delete(_ context.Context, key string) error {
	if err := p.db.Delete([]byte(key), pebble.Sync); err != nil {
		return fmt.Errorf("storage: delete %s: %w", key, err)
	}
	return nil
}

// Close flushes and closes the database.
func (p *Pebble) Close() error {
	return p.db.Close()
}
