// Package blob abstracts the content store holding report payloads as
// immutable, digest-addressed objects.
package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

var (
	// ErrNotFound marks a blob URL that does not resolve to an object. A
	// consumer racing a not-yet-visible write must treat this as retryable.
	ErrNotFound = errors.New("blob: not found")

	// ErrDigestMismatch marks a blob whose bytes no longer hash to the digest
	// recorded at enqueue time. Stages fail closed on it.
	ErrDigestMismatch = errors.New("blob: digest mismatch")
)

// Info describes a stored object.
type Info struct {
	URL    string
	Digest string
	Size   int64
}

// Store is the content store contract. Objects are immutable once written;
// URL is the sole address and the digest is recomputable from the bytes.
type Store interface {
	Upload(ctx context.Context, folder, name string, data []byte) (Info, error)
	Download(ctx context.Context, url string) ([]byte, error)
	Delete(ctx context.Context, url string) error
}

// Digest returns the hex SHA-256 of data, the fixed content-hash algorithm
// used across the pipeline.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Verify recomputes the digest of data and compares it to want.
func Verify(data []byte, want string) error {
	if got := Digest(data); got != want {
		return fmt.Errorf("%w: got %s want %s", ErrDigestMismatch, got, want)
	}
	return nil
}
