// Package checksum fingerprints fetched page snapshots so raw batches can be
// traced back to the exact HTML they were extracted from.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Page returns the digest of a rendered HTML document, or "" for an empty one.
func Page(doc string) string {
	if doc == "" {
		return ""
	}
	return Sum([]byte(doc))
}
