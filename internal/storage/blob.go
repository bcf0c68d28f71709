// Package storage holds the blob layer: a flat namespace of opaque keys mapped to byte
// streams, with filesystem and S3 backends.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

const maxKeyLength = 1024

var (
	ErrNotFound   = errors.New("blob not found")
	ErrInvalidKey = errors.New("invalid storage key")
)

// ObjectRef describes a committed object.
type ObjectRef struct {
	Key  string
	Size int64
}

// BlobStore is durable key -> byte stream storage. Implementations must never expose a
// partially written key to readers, and Delete of an absent key succeeds.
type BlobStore interface {
	// Put writes r under key. sizeHint is the expected length or -1 when unknown.
	Put(ctx context.Context, key string, r io.Reader, sizeHint int64) (ObjectRef, error)
	// Get opens a finite, non-restartable stream. The caller must close it.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// ValidateKey rejects keys that could resolve outside the store's namespace.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("empty key: %w", ErrInvalidKey)
	}
	if len(key) > maxKeyLength {
		return fmt.Errorf("key longer than %d bytes: %w", maxKeyLength, ErrInvalidKey)
	}
	if strings.ContainsRune(key, 0) || strings.ContainsRune(key, '\\') {
		return fmt.Errorf("key %q has forbidden characters: %w", key, ErrInvalidKey)
	}
	if strings.HasPrefix(key, "/") || strings.HasSuffix(key, "/") || strings.Contains(key, "//") {
		return fmt.Errorf("key %q is not a relative path: %w", key, ErrInvalidKey)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "." || seg == ".." {
			return fmt.Errorf("key %q traverses directories: %w", key, ErrInvalidKey)
		}
	}
	return nil
}

// ctxReader stops a copy once ctx is done so abandoned transfers release their source.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// countingReader tracks bytes handed out.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
