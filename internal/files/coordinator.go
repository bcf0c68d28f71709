// Package files coordinates blob storage and file metadata for multi-file operations.
//
// The coordinator holds no state of its own. Blobs and records live in different stores with
// no shared transaction, so consistency is best effort with explicit reporting:
//   - upload: a record is created only after its blob is stored; if creating the record fails
//     the blob is deleted again before the failure is reported.
//   - delete: records are removed only for blobs that were actually deleted. A failed bulk
//     record delete after successful blob deletes leaves records pointing at missing blobs
//     until the delete is retried; this window is accepted and logged.
package files

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/uploadnest/uploadnest/internal/archive"
	"github.com/uploadnest/uploadnest/internal/metrics"
	"github.com/uploadnest/uploadnest/internal/signedurl"
	"github.com/uploadnest/uploadnest/internal/storage"
)

const (
	// DownloadExpiresIn bounds single-file download links and listing URLs.
	DownloadExpiresIn = time.Hour

	defaultMimeType = "application/octet-stream"
)

// ArchiveBuilder is satisfied by *archive.Assembler.
type ArchiveBuilder interface {
	Build(ctx context.Context, ownerID string, members []archive.Member) (archive.Archive, error)
}

type Coordinator struct {
	blobs    storage.BlobStore
	repo     Repository
	urls     *signedurl.Issuer
	archives ArchiveBuilder
	metrics  *metrics.Metrics
	newKey   func(workspaceID, ownerID, name string) string
}

type Option func(*Coordinator)

func WithMetrics(m *metrics.Metrics) Option { return func(c *Coordinator) { c.metrics = m } }

// WithKeyFunc overrides storage key construction.
func WithKeyFunc(fn func(workspaceID, ownerID, name string) string) Option {
	return func(c *Coordinator) { c.newKey = fn }
}

func NewCoordinator(blobs storage.BlobStore, repo Repository, urls *signedurl.Issuer, archives ArchiveBuilder, opts ...Option) *Coordinator {
	c := &Coordinator{
		blobs:    blobs,
		repo:     repo,
		urls:     urls,
		archives: archives,
		newKey:   storage.FileKey,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// UploadBatch stores every file independently. It fails as a whole only when the caller is
// anonymous or no files were given; otherwise every item gets its own Result.
func (c *Coordinator) UploadBatch(ctx context.Context, ownerID, workspaceID string, in []UploadFile, source UploadSource) (UploadResult, error) {
	if ownerID == "" {
		return UploadResult{}, fmt.Errorf("%w: unauthorized access", ErrUnauthorized)
	}
	if len(in) == 0 {
		return UploadResult{}, fmt.Errorf("%w: no files provided", ErrBadRequest)
	}
	if source == "" {
		source = SourceWeb
	}

	results := settle(ctx, len(in), func(ctx context.Context, i int) (FileSummary, error) {
		return c.uploadOne(ctx, ownerID, workspaceID, in[i], source)
	})

	failed := results.FailedCount()
	c.metrics.RecordBatch("upload", len(in)-failed, failed)
	if failed > 0 {
		log.Warn().Str("owner_id", ownerID).Int("failed", failed).Int("total", len(in)).Msg("some uploads failed")
	}
	data := results.Succeeded()
	return UploadResult{
		Message:     fmt.Sprintf("Uploaded successfully %d out of %d files", len(data), len(in)),
		Data:        data,
		FailedCount: failed,
		Results:     results,
	}, nil
}

func (c *Coordinator) uploadOne(ctx context.Context, ownerID, workspaceID string, f UploadFile, source UploadSource) (FileSummary, error) {
	key := c.newKey(workspaceID, ownerID, f.Name)

	rc, err := f.Open()
	if err != nil {
		return FileSummary{}, fmt.Errorf("open %q: %w", f.Name, err)
	}
	ref, err := c.blobs.Put(ctx, key, rc, f.Size)
	_ = rc.Close()
	if err != nil {
		log.Warn().Err(err).Str("storage_key", key).Str("name", f.Name).Msg("blob upload failed")
		return FileSummary{}, fmt.Errorf("store %q: %w", f.Name, err)
	}

	rec, err := c.repo.CreateFileRecord(ctx, FileRecord{
		OwnerID:      ownerID,
		WorkspaceID:  workspaceID,
		StorageKey:   key,
		OriginalName: f.Name,
		Size:         ref.Size,
		Extension:    extension(f.Name),
		MimeType:     mimeType(f),
		UploadSource: source,
	})
	if err != nil {
		c.compensate(ctx, key)
		return FileSummary{}, fmt.Errorf("record %q: %w", f.Name, err)
	}
	return summarize(rec), nil
}

// compensate removes a blob whose record could not be created. It runs even when ctx was
// canceled, since the orphan exists either way.
func (c *Coordinator) compensate(ctx context.Context, key string) {
	err := c.blobs.Delete(context.WithoutCancel(ctx), key)
	c.metrics.RecordCompensation(err)
	if err != nil {
		log.Error().Err(err).Str("storage_key", key).Msg("orphaned blob could not be removed")
		return
	}
	log.Warn().Str("storage_key", key).Msg("removed orphaned blob after record failure")
}

// DeleteBatch deletes the caller's files. Ids the caller does not own are ignored. It fails as
// a whole only when none of the ids matched. If the metadata delete fails after blobs were
// removed, those items are reported as failed in the result rather than dropped.
func (c *Coordinator) DeleteBatch(ctx context.Context, ownerID string, fileIDs []string) (DeleteResult, error) {
	if ownerID == "" {
		return DeleteResult{}, fmt.Errorf("%w: unauthorized access", ErrUnauthorized)
	}
	if len(fileIDs) == 0 {
		return DeleteResult{}, fmt.Errorf("%w: no file ids provided", ErrBadRequest)
	}
	recs, _, err := c.repo.FindFileRecords(ctx, Filter{OwnerID: ownerID, IDs: fileIDs}, Pagination{})
	if err != nil {
		return DeleteResult{}, fmt.Errorf("find files: %w", err)
	}
	if len(recs) == 0 {
		return DeleteResult{}, fmt.Errorf("%w: no files found", ErrNotFound)
	}

	results := settle(ctx, len(recs), func(ctx context.Context, i int) (string, error) {
		if err := c.blobs.Delete(ctx, recs[i].StorageKey); err != nil {
			log.Warn().Err(err).Str("file_id", recs[i].ID).Str("storage_key", recs[i].StorageKey).Msg("blob delete failed")
			return recs[i].ID, fmt.Errorf("delete %s: %w", recs[i].ID, err)
		}
		return recs[i].ID, nil
	})

	deletedIDs := results.Succeeded()
	deleted := 0
	if len(deletedIDs) > 0 {
		// The blobs are already gone; the records must follow even if the caller went away.
		deleted, err = c.repo.DeleteFileRecords(context.WithoutCancel(ctx), deletedIDs, ownerID)
		if err != nil {
			log.Error().Err(err).Strs("file_ids", deletedIDs).Msg("blobs deleted but records remain")
			for i := range results {
				if results[i].OK() {
					results[i].Err = fmt.Errorf("delete record %s: %w", results[i].Value, err)
				}
			}
			deleted = 0
		}
	}
	failed := results.FailedCount()
	c.metrics.RecordBatch("delete", len(results)-failed, failed)
	if failed > 0 {
		log.Warn().Str("owner_id", ownerID).Int("failed", failed).Msg("some blob deletes failed")
	}
	return DeleteResult{DeletedCount: deleted, FailedCount: failed, Results: results}, nil
}

// ResolveDownload returns a signed link for one file, or builds a zip of several and links
// that.
func (c *Coordinator) ResolveDownload(ctx context.Context, ownerID string, fileIDs []string) (DownloadLink, error) {
	if len(fileIDs) == 0 {
		return DownloadLink{}, fmt.Errorf("%w: no file ids provided", ErrBadRequest)
	}
	recs, _, err := c.repo.FindFileRecords(ctx, Filter{OwnerID: ownerID, IDs: fileIDs}, Pagination{})
	if err != nil {
		return DownloadLink{}, fmt.Errorf("find files: %w", err)
	}
	if len(recs) == 0 {
		return DownloadLink{}, fmt.Errorf("%w: no files found", ErrNotFound)
	}

	if len(recs) == 1 {
		return DownloadLink{
			URL: c.urls.IssueURL(recs[0].StorageKey, signedurl.IssueOptions{
				ExpiresIn:   DownloadExpiresIn,
				DisplayName: recs[0].OriginalName,
				ContentType: recs[0].MimeType,
			}),
		}, nil
	}

	recs = inRequestOrder(recs, fileIDs)
	members := make([]archive.Member, len(recs))
	for i, r := range recs {
		members[i] = archive.Member{StorageKey: r.StorageKey, Name: r.OriginalName}
	}
	a, err := c.archives.Build(ctx, ownerID, members)
	if err != nil {
		if errors.Is(err, archive.ErrMemberMissing) {
			return DownloadLink{}, fmt.Errorf("%w: %v", ErrNotFound, err)
		}
		return DownloadLink{}, fmt.Errorf("build archive: %w", err)
	}
	return DownloadLink{URL: a.URL, IsZip: true}, nil
}

// ListFiles pages through the caller's files, newest first, each with a fresh signed URL.
func (c *Coordinator) ListFiles(ctx context.Context, ownerID, keyword string, p Pagination) (FileList, error) {
	if ownerID == "" {
		return FileList{}, fmt.Errorf("%w: unauthorized access", ErrUnauthorized)
	}
	if p.PageSize <= 0 {
		p.PageSize = 20
	}
	if p.PageNumber <= 0 {
		p.PageNumber = 1
	}
	recs, total, err := c.repo.FindFileRecords(ctx, Filter{OwnerID: ownerID, Keyword: strings.TrimSpace(keyword)}, p)
	if err != nil {
		return FileList{}, fmt.Errorf("list files: %w", err)
	}
	views := make([]FileView, len(recs))
	for i, r := range recs {
		views[i] = FileView{
			FileRecord: r,
			URL: c.urls.IssueURL(r.StorageKey, signedurl.IssueOptions{
				ExpiresIn:   DownloadExpiresIn,
				ContentType: r.MimeType,
			}),
		}
	}
	return FileList{
		Files: views,
		Pagination: PageInfo{
			PageSize:   p.PageSize,
			PageNumber: p.PageNumber,
			TotalCount: total,
			TotalPages: (total + p.PageSize - 1) / p.PageSize,
			Skip:       p.Skip(),
		},
	}, nil
}

// OpenFile streams one of the caller's files directly.
func (c *Coordinator) OpenFile(ctx context.Context, ownerID, fileID string) (OpenedFile, error) {
	recs, _, err := c.repo.FindFileRecords(ctx, Filter{OwnerID: ownerID, IDs: []string{fileID}}, Pagination{})
	if err != nil {
		return OpenedFile{}, fmt.Errorf("find file: %w", err)
	}
	if len(recs) == 0 {
		return OpenedFile{}, fmt.Errorf("%w: file not found", ErrNotFound)
	}
	rec := recs[0]
	rc, err := c.blobs.Get(ctx, rec.StorageKey)
	if err != nil {
		log.Error().Err(err).Str("storage_key", rec.StorageKey).Msg("error getting blob stream")
		return OpenedFile{}, fmt.Errorf("failed to retrieve file: %w", err)
	}
	return OpenedFile{Body: rc, Name: rec.OriginalName, ContentType: rec.MimeType, Size: rec.Size}, nil
}

func inRequestOrder(recs []FileRecord, ids []string) []FileRecord {
	byID := make(map[string]FileRecord, len(recs))
	for _, r := range recs {
		byID[r.ID] = r
	}
	out := make([]FileRecord, 0, len(recs))
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			out = append(out, r)
			delete(byID, id)
		}
	}
	return out
}

// extension is the lowercased extension without its dot.
func extension(name string) string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(storage.BaseName(name)), "."))
}

func mimeType(f UploadFile) string {
	if f.MimeType != "" {
		return f.MimeType
	}
	if t := mime.TypeByExtension(path.Ext(storage.BaseName(f.Name))); t != "" {
		return t
	}
	return defaultMimeType
}
