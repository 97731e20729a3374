package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/starford/sift/internal/apperr"
)

// Lock takes the exclusive owner lock for the store at path. The lock file
// sits next to the store as <path>.lock and is held until Unlock.
func Lock(path string) (*flock.Flock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("storage: create lock dir: %w", err)
	}
	fl := flock.New(path + ".lock")
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("storage: lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s is in use by another sift process", apperr.ErrStorageLocked, path)
	}
	return fl, nil
}
