// Package archive composes several stored blobs into one zip object for bulk download.
//
// Members are read strictly one after another into a single zip encoder, while the encoded
// bytes are piped straight into the destination Put. Nothing is buffered beyond the pipe, so
// memory stays flat for multi-gigabyte selections.
//
// Unlike the upload and delete batches, a build is all-or-nothing: if any member cannot be
// read, or the destination write fails, the whole build fails. Archives are written under
// temp-zips/ and never cleaned up here; eviction belongs to an external lifecycle policy.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/uploadnest/uploadnest/internal/metrics"
	"github.com/uploadnest/uploadnest/internal/signedurl"
	"github.com/uploadnest/uploadnest/internal/storage"
)

const (
	TempNamespace = "temp-zips"
	ContentType   = "application/zip"
	DefaultLevel  = 6
	URLExpiresIn  = time.Hour
)

var (
	ErrNoMembers     = errors.New("archive: no members")
	ErrMemberMissing = errors.New("archive: member unreadable")
)

// Member is one blob to include, with the display name it should carry in the archive.
type Member struct {
	StorageKey string
	Name       string
}

// Archive describes a committed archive object.
type Archive struct {
	Key      string
	Filename string
	URL      string
	Entries  []string
	Size     int64
}

type Assembler struct {
	blobs   storage.BlobStore
	urls    *signedurl.Issuer
	metrics *metrics.Metrics
	level   int
	now     func() time.Time
}

type Option func(*Assembler)

// WithLevel sets the deflate level (1-9).
func WithLevel(level int) Option {
	return func(a *Assembler) {
		if level >= flate.BestSpeed && level <= flate.BestCompression {
			a.level = level
		}
	}
}

func WithClock(now func() time.Time) Option { return func(a *Assembler) { a.now = now } }

func WithMetrics(m *metrics.Metrics) Option { return func(a *Assembler) { a.metrics = m } }

func New(blobs storage.BlobStore, urls *signedurl.Issuer, opts ...Option) *Assembler {
	a := &Assembler{blobs: blobs, urls: urls, level: DefaultLevel, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Build writes members into temp-zips/{ownerID}/{unixMillis}-{rand}.zip and returns a signed
// URL for it that expires after one hour. The random suffix keeps concurrent builds by one
// owner apart.
func (a *Assembler) Build(ctx context.Context, ownerID string, members []Member) (Archive, error) {
	if len(members) == 0 {
		return Archive{}, ErrNoMembers
	}
	ts := a.now().UnixMilli()
	out := Archive{
		Key:      path.Join(TempNamespace, storage.SanitizeFilename(ownerID), strconv.FormatInt(ts, 10)+"-"+uuid.NewString()[:8]+".zip"),
		Filename: fmt.Sprintf("uploadnest-%d.zip", ts),
	}

	pr, pw := io.Pipe()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ref, err := a.blobs.Put(gctx, out.Key, pr, -1)
		// Unblock the encoder if the destination gave up early.
		pr.CloseWithError(errOrClosed(err))
		if err != nil {
			return fmt.Errorf("write archive: %w", err)
		}
		out.Size = ref.Size
		return nil
	})
	g.Go(func() error {
		entries, err := a.encode(gctx, pw, members)
		pw.CloseWithError(err)
		out.Entries = entries
		return err
	})

	err := g.Wait()
	a.metrics.RecordArchive(len(members), err)
	if err != nil {
		log.Warn().Err(err).Str("owner_id", ownerID).Str("storage_key", out.Key).Int("members", len(members)).
			Msg("archive build failed")
		return Archive{}, err
	}

	out.URL = a.urls.IssueURL(out.Key, signedurl.IssueOptions{
		ExpiresIn:   URLExpiresIn,
		DisplayName: out.Filename,
		ContentType: ContentType,
	})
	log.Debug().Str("owner_id", ownerID).Str("storage_key", out.Key).Int("entries", len(out.Entries)).
		Int64("size", out.Size).Msg("archive built")
	return out, nil
}

func errOrClosed(err error) error {
	if err != nil {
		return err
	}
	return io.ErrClosedPipe
}

// encode streams every member into a zip written to w, returning the entry names used.
func (a *Assembler) encode(ctx context.Context, w io.Writer, members []Member) ([]string, error) {
	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, a.level)
	})

	names := newNameSet()
	entries := make([]string, 0, len(members))
	modified := a.now()
	for _, m := range members {
		if err := ctx.Err(); err != nil {
			return entries, err
		}
		name := names.claim(storage.SanitizeFilename(m.Name))
		if err := a.appendMember(ctx, zw, m, name, modified); err != nil {
			return entries, err
		}
		entries = append(entries, name)
	}
	if err := zw.Close(); err != nil {
		return entries, fmt.Errorf("finish archive: %w", err)
	}
	return entries, nil
}

func (a *Assembler) appendMember(ctx context.Context, zw *zip.Writer, m Member, name string, modified time.Time) error {
	rc, err := a.blobs.Get(ctx, m.StorageKey)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMemberMissing, m.StorageKey, err)
	}
	defer rc.Close()

	fw, err := zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: modified,
	})
	if err != nil {
		return fmt.Errorf("add %q: %w", name, err)
	}
	if _, err := io.Copy(fw, rc); err != nil {
		return fmt.Errorf("copy %q into archive: %w", name, err)
	}
	return nil
}

// nameSet hands out entry names, suffixing "-1", "-2", ... before the extension when a name
// is already taken. Matching is case-insensitive so extraction on case-folding filesystems
// cannot clobber entries either.
type nameSet map[string]struct{}

func newNameSet() nameSet { return nameSet{} }

func (s nameSet) claim(name string) string {
	candidate := name
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for n := 1; ; n++ {
		if _, taken := s[strings.ToLower(candidate)]; !taken {
			s[strings.ToLower(candidate)] = struct{}{}
			return candidate
		}
		candidate = stem + "-" + strconv.Itoa(n) + ext
	}
}
