package files

import (
	"context"
	"errors"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrBadRequest   = errors.New("bad request")
	ErrUnauthorized = errors.New("unauthorized")
)

// Repository is the metadata store for FileRecords. CreateFileRecord is a single atomic call;
// the coordinator never spans a transaction over several of these.
type Repository interface {
	// CreateFileRecord assigns ID and CreatedAt when empty and returns the stored row.
	CreateFileRecord(ctx context.Context, rec FileRecord) (FileRecord, error)
	// FindFileRecords returns matching rows newest first, plus the total match count.
	FindFileRecords(ctx context.Context, f Filter, p Pagination) ([]FileRecord, int, error)
	// DeleteFileRecords removes the given ids owned by ownerID and reports how many went.
	DeleteFileRecords(ctx context.Context, ids []string, ownerID string) (int, error)
}
