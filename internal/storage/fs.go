package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const tempDirName = ".tmp"

// FSStore keeps every object as a plain file under base. Writes land in base/.tmp first and
// are renamed into place once complete.
type FSStore struct{ base string }

func NewFSStore(base string) (*FSStore, error) {
	if base == "" {
		base = "./upload"
	}
	base, err := filepath.Abs(base)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(base, tempDirName), 0o755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &FSStore{base: base}, nil
}

func (s *FSStore) Base() string { return s.base }

func (s *FSStore) path(key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	if key == tempDirName || strings.HasPrefix(key, tempDirName+"/") {
		return "", fmt.Errorf("key %q uses a reserved prefix: %w", key, ErrInvalidKey)
	}
	p := filepath.Join(s.base, filepath.FromSlash(key))
	rel, err := filepath.Rel(s.base, p)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("key %q escapes the store root: %w", key, ErrInvalidKey)
	}
	return p, nil
}

func (s *FSStore) Put(ctx context.Context, key string, r io.Reader, sizeHint int64) (ObjectRef, error) {
	dst, err := s.path(key)
	if err != nil {
		return ObjectRef{}, err
	}
	tmp, err := os.CreateTemp(filepath.Join(s.base, tempDirName), "put-*")
	if err != nil {
		return ObjectRef{}, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	n, err := io.Copy(tmp, ctxReader{ctx: ctx, r: r})
	if err != nil {
		return ObjectRef{}, fmt.Errorf("write blob %q: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		return ObjectRef{}, fmt.Errorf("sync blob %q: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return ObjectRef{}, fmt.Errorf("close blob %q: %w", key, err)
	}
	if err := s.commit(tmpPath, dst); err != nil {
		return ObjectRef{}, fmt.Errorf("commit blob %q: %w", key, err)
	}
	committed = true
	return ObjectRef{Key: key, Size: n}, nil
}

// commit renames tmp into place. A concurrent Delete may prune the parent directory between
// MkdirAll and Rename, so a missing parent is retried.
func (s *FSStore) commit(tmpPath, dst string) error {
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		if err = os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		if err = os.Rename(tmpPath, dst); err == nil || !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return err
}

func (s *FSStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) {
			return nil, fmt.Errorf("blob %q: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("open blob %q: %w", key, err)
	}
	if fi, err := f.Stat(); err != nil || fi.IsDir() {
		_ = f.Close()
		return nil, fmt.Errorf("blob %q: %w", key, ErrNotFound)
	}
	return f, nil
}

func (s *FSStore) Delete(ctx context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("delete blob %q: %w", key, err)
	}
	s.pruneEmptyDirs(filepath.Dir(p))
	return nil
}

// pruneEmptyDirs walks up from dir removing empty directories until it reaches the root
// or a directory that still holds something.
func (s *FSStore) pruneEmptyDirs(dir string) {
	for dir != s.base && strings.HasPrefix(dir, s.base) {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}
