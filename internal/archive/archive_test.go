package archive

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uploadnest/uploadnest/internal/signedurl"
	"github.com/uploadnest/uploadnest/internal/storage"
)

// memStore is an in-memory BlobStore with failure injection.
type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
	gets    []string
}

func newMemStore() *memStore { return &memStore{objects: map[string][]byte{}} }

func (m *memStore) Put(ctx context.Context, key string, r io.Reader, _ int64) (storage.ObjectRef, error) {
	if m.putErr != nil {
		return storage.ObjectRef{}, m.putErr
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return storage.ObjectRef{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = b
	return storage.ObjectRef{Key: key, Size: int64(len(b))}, nil
}

func (m *memStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets = append(m.gets, key)
	b, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func newTestAssembler(t *testing.T, bs storage.BlobStore) (*Assembler, *signedurl.Issuer) {
	t.Helper()
	now := func() time.Time { return time.UnixMilli(1_700_000_000_123) }
	urls, err := signedurl.NewIssuer("secret", "http://localhost:8080/files/download", signedurl.WithClock(now))
	require.NoError(t, err)
	return New(bs, urls, WithClock(now)), urls
}

func openZip(t *testing.T, b []byte) map[string]string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(b), int64(len(b)))
	require.NoError(t, err)
	out := map[string]string{}
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		body, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()
		out[f.Name] = string(body)
	}
	return out
}

func TestBuildThreeMembersWithCollision(t *testing.T) {
	bs := newMemStore()
	bs.objects["k1"] = []byte("first")
	bs.objects["k2"] = []byte("second")
	bs.objects["k3"] = []byte("third")
	a, urls := newTestAssembler(t, bs)

	got, err := a.Build(context.Background(), "user-1", []Member{
		{StorageKey: "k1", Name: "report.pdf"},
		{StorageKey: "k2", Name: "../report.pdf"},
		{StorageKey: "k3", Name: "notes final.txt"},
	})
	require.NoError(t, err)

	assert.Regexp(t, `^temp-zips/user-1/1700000000123-[0-9a-f]{8}\.zip$`, got.Key)
	assert.Equal(t, "uploadnest-1700000000123.zip", got.Filename)
	assert.Equal(t, []string{"report.pdf", "report-1.pdf", "notes_final.txt"}, got.Entries)

	entries := openZip(t, bs.objects[got.Key])
	assert.Equal(t, map[string]string{
		"report.pdf":      "first",
		"report-1.pdf":    "second",
		"notes_final.txt": "third",
	}, entries)
	assert.Equal(t, int64(len(bs.objects[got.Key])), got.Size)

	tok, err := signedurl.Parse(got.URL)
	require.NoError(t, err)
	assert.Equal(t, got.Key, tok.Key)
	assert.Equal(t, ContentType, tok.ContentType)
	assert.Equal(t, got.Filename, tok.DisplayName)
	assert.Equal(t, int64(1_700_000_000+3600), tok.ExpiresAt)
	assert.Equal(t, signedurl.Valid, urls.Verify(tok.Key, tok.ExpiresAt, tok.Signature))
}

func TestBuildSameMillisecondGetsDistinctKeys(t *testing.T) {
	bs := newMemStore()
	bs.objects["k1"] = []byte("one")
	bs.objects["k2"] = []byte("two")
	a, _ := newTestAssembler(t, bs)

	first, err := a.Build(context.Background(), "u", []Member{{StorageKey: "k1", Name: "one.txt"}})
	require.NoError(t, err)
	second, err := a.Build(context.Background(), "u", []Member{{StorageKey: "k2", Name: "two.txt"}})
	require.NoError(t, err)

	assert.NotEqual(t, first.Key, second.Key)
	assert.Equal(t, first.Filename, second.Filename, "display name only carries the timestamp")
	assert.Equal(t, map[string]string{"one.txt": "one"}, openZip(t, bs.objects[first.Key]))
	assert.Equal(t, map[string]string{"two.txt": "two"}, openZip(t, bs.objects[second.Key]))
}

// streamingStore checks that archive bytes reach Put while members are still being read.
type streamingStore struct {
	*memStore
	received chan struct{}
	lastKey  string
}

func (s *streamingStore) Put(ctx context.Context, key string, r io.Reader, sizeHint int64) (storage.ObjectRef, error) {
	first := make([]byte, 1)
	if _, err := io.ReadFull(r, first); err != nil {
		return storage.ObjectRef{}, err
	}
	close(s.received)
	return s.memStore.Put(ctx, key, io.MultiReader(bytes.NewReader(first), r), sizeHint)
}

func (s *streamingStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if key == s.lastKey {
		select {
		case <-s.received:
		case <-time.After(5 * time.Second):
			return nil, errors.New("no archive bytes written before the last member was opened")
		}
	}
	return s.memStore.Get(ctx, key)
}

func TestBuildStreamsIntoDestination(t *testing.T) {
	mem := newMemStore()
	big := make([]byte, 256<<10)
	_, _ = rand.Read(big)
	mem.objects["k1"] = big
	mem.objects["k2"] = []byte("tail")
	bs := &streamingStore{memStore: mem, received: make(chan struct{}), lastKey: "k2"}
	a, _ := newTestAssembler(t, bs)

	got, err := a.Build(context.Background(), "u", []Member{
		{StorageKey: "k1", Name: "big.bin"},
		{StorageKey: "k2", Name: "tail.txt"},
	})
	require.NoError(t, err)

	entries := openZip(t, mem.objects[got.Key])
	assert.Equal(t, string(big), entries["big.bin"])
	assert.Equal(t, "tail", entries["tail.txt"])
}

func TestBuildMissingMemberAbortsWholeArchive(t *testing.T) {
	bs := newMemStore()
	bs.objects["k1"] = []byte("first")
	bs.objects["k3"] = []byte("third")
	a, _ := newTestAssembler(t, bs)

	_, err := a.Build(context.Background(), "u", []Member{
		{StorageKey: "k1", Name: "a.txt"},
		{StorageKey: "missing", Name: "b.txt"},
		{StorageKey: "k3", Name: "c.txt"},
	})
	require.ErrorIs(t, err, ErrMemberMissing)

	assert.NotContains(t, bs.gets, "k3", "members after the failure must not be read")
	for key := range bs.objects {
		assert.False(t, strings.HasPrefix(key, TempNamespace), "no archive object may be committed, found %s", key)
	}
}

func TestBuildDestinationFailureAborts(t *testing.T) {
	bs := newMemStore()
	big := make([]byte, 1<<20)
	_, _ = rand.Read(big)
	bs.objects["k1"] = big
	bs.objects["k2"] = []byte("y")
	bs.putErr = errors.New("disk full")
	a, _ := newTestAssembler(t, bs)

	_, err := a.Build(context.Background(), "u", []Member{
		{StorageKey: "k1", Name: "a.bin"},
		{StorageKey: "k2", Name: "b.bin"},
	})
	require.Error(t, err)
	assert.NotContains(t, bs.gets, "k2")
}

func TestBuildRequiresMembers(t *testing.T) {
	a, _ := newTestAssembler(t, newMemStore())

	_, err := a.Build(context.Background(), "u", nil)
	assert.ErrorIs(t, err, ErrNoMembers)
}

func TestBuildOnFSStore(t *testing.T) {
	fs, err := storage.NewFSStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	_, err = fs.Put(ctx, "workspace/w/users/u/1-a.txt", strings.NewReader("alpha"), -1)
	require.NoError(t, err)
	_, err = fs.Put(ctx, "workspace/w/users/u/2-b.txt", strings.NewReader("beta"), -1)
	require.NoError(t, err)
	a, _ := newTestAssembler(t, fs)

	got, err := a.Build(ctx, "u", []Member{
		{StorageKey: "workspace/w/users/u/1-a.txt", Name: "a.txt"},
		{StorageKey: "workspace/w/users/u/2-b.txt", Name: "A.TXT"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "A-1.TXT"}, got.Entries)

	rc, err := fs.Get(ctx, got.Key)
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a.txt": "alpha", "A-1.TXT": "beta"}, openZip(t, b))
}

func TestNameSetClaim(t *testing.T) {
	s := newNameSet()
	assert.Equal(t, "a.txt", s.claim("a.txt"))
	assert.Equal(t, "a-1.txt", s.claim("a.txt"))
	assert.Equal(t, "a-2.txt", s.claim("a.txt"))
	assert.Equal(t, "a-1-1.txt", s.claim("a-1.txt"))
	assert.Equal(t, "noext", s.claim("noext"))
	assert.Equal(t, "noext-1", s.claim("noext"))
}
