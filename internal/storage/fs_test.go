package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFSStore(t *testing.T) *FSStore {
	t.Helper()
	s, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func readAll(t *testing.T, s BlobStore, key string) string {
	t.Helper()
	rc, err := s.Get(context.Background(), key)
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(b)
}

func TestFSStorePutGet(t *testing.T) {
	s := newTestFSStore(t)
	ctx := context.Background()

	ref, err := s.Put(ctx, "workspace/w1/users/u1/a-report.pdf", strings.NewReader("hello"), 5)
	require.NoError(t, err)
	assert.Equal(t, "workspace/w1/users/u1/a-report.pdf", ref.Key)
	assert.Equal(t, int64(5), ref.Size)

	assert.Equal(t, "hello", readAll(t, s, ref.Key))
}

func TestFSStorePutOverwrites(t *testing.T) {
	s := newTestFSStore(t)
	ctx := context.Background()

	_, err := s.Put(ctx, "a/b", strings.NewReader("first"), -1)
	require.NoError(t, err)
	_, err = s.Put(ctx, "a/b", strings.NewReader("second"), -1)
	require.NoError(t, err)

	assert.Equal(t, "second", readAll(t, s, "a/b"))
}

func TestFSStoreGetMissing(t *testing.T) {
	s := newTestFSStore(t)

	_, err := s.Get(context.Background(), "nope/missing.txt")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFSStoreGetDirectoryIsNotFound(t *testing.T) {
	s := newTestFSStore(t)
	_, err := s.Put(context.Background(), "dir/child", strings.NewReader("x"), 1)
	require.NoError(t, err)

	_, err = s.Get(context.Background(), "dir")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFSStoreDeleteIdempotent(t *testing.T) {
	s := newTestFSStore(t)
	ctx := context.Background()

	_, err := s.Put(ctx, "x/y/z.txt", strings.NewReader("data"), 4)
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, "x/y/z.txt"))
	require.NoError(t, s.Delete(ctx, "x/y/z.txt"))

	_, err = s.Get(ctx, "x/y/z.txt")
	assert.ErrorIs(t, err, ErrNotFound)

	// empty parents are pruned
	_, err = os.Stat(filepath.Join(s.Base(), "x"))
	assert.True(t, os.IsNotExist(err))
}

type failingReader struct{ after int }

func (r *failingReader) Read(p []byte) (int, error) {
	if r.after <= 0 {
		return 0, errors.New("source broke")
	}
	n := min(len(p), r.after)
	for i := range p[:n] {
		p[i] = 'a'
	}
	r.after -= n
	return n, nil
}

func TestFSStorePutFailureLeavesNoObject(t *testing.T) {
	s := newTestFSStore(t)
	ctx := context.Background()

	_, err := s.Put(ctx, "partial/obj", &failingReader{after: 10}, -1)
	require.Error(t, err)

	_, err = s.Get(ctx, "partial/obj")
	assert.ErrorIs(t, err, ErrNotFound)

	entries, err := os.ReadDir(filepath.Join(s.Base(), tempDirName))
	require.NoError(t, err)
	assert.Empty(t, entries, "temp file must be removed")
}

func TestFSStorePutCanceledContext(t *testing.T) {
	s := newTestFSStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Put(ctx, "canceled/obj", strings.NewReader("data"), 4)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFSStoreRejectsEscapingKeys(t *testing.T) {
	s := newTestFSStore(t)
	ctx := context.Background()

	for _, key := range []string{
		"../outside",
		"a/../../outside",
		"/etc/passwd",
		"a//b",
		"a\\b",
		".tmp/x",
		"",
	} {
		_, err := s.Put(ctx, key, strings.NewReader("x"), 1)
		assert.ErrorIs(t, err, ErrInvalidKey, "key %q", key)
	}
}
