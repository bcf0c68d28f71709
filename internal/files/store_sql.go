package files

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type SQLStore struct {
	db     *sql.DB
	driver string // "sqlite" or "postgres"
	now    func() time.Time
}

func NewSQLStore(db *sql.DB, driver string) *SQLStore {
	return &SQLStore{db: db, driver: driver, now: time.Now}
}

const fileColumns = `id,owner_id,workspace_id,storage_key,original_name,size,ext,mime_type,upload_source,created_at`

func (s *SQLStore) CreateFileRecord(ctx context.Context, rec FileRecord) (FileRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	rec.CreatedAt = time.UnixMilli(rec.CreatedAt.UnixMilli()).UTC()
	_, err := s.db.ExecContext(ctx, `INSERT INTO files (`+fileColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		rec.ID, rec.OwnerID, rec.WorkspaceID, rec.StorageKey, rec.OriginalName,
		rec.Size, rec.Extension, rec.MimeType, string(rec.UploadSource), rec.CreatedAt.UnixMilli())
	if err != nil {
		return FileRecord{}, fmt.Errorf("insert file: %w", err)
	}
	return rec, nil
}

func (s *SQLStore) FindFileRecords(ctx context.Context, f Filter, p Pagination) ([]FileRecord, int, error) {
	where, args := whereClause(f)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count files: %w", err)
	}
	if total == 0 {
		return nil, 0, nil
	}

	q := `SELECT ` + fileColumns + ` FROM files` + where + ` ORDER BY created_at DESC, id DESC`
	if p.PageSize > 0 {
		q += fmt.Sprintf(" LIMIT %d OFFSET %d", p.PageSize, p.Skip())
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query files: %w", err)
	}
	defer rows.Close()

	var out []FileRecord
	for rows.Next() {
		var (
			r       FileRecord
			source  string
			created int64
		)
		if err := rows.Scan(&r.ID, &r.OwnerID, &r.WorkspaceID, &r.StorageKey, &r.OriginalName,
			&r.Size, &r.Extension, &r.MimeType, &source, &created); err != nil {
			return nil, 0, err
		}
		r.UploadSource = UploadSource(source)
		r.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, r)
	}
	return out, total, rows.Err()
}

func (s *SQLStore) DeleteFileRecords(ctx context.Context, ids []string, ownerID string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := []any{ownerID}
	in := placeholders(&args, ids)
	res, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE owner_id=$1 AND id IN (`+in+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("delete files: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func whereClause(f Filter) (string, []any) {
	args := []any{f.OwnerID}
	conds := []string{"owner_id=$1"}
	if len(f.IDs) > 0 {
		conds = append(conds, "id IN ("+placeholders(&args, f.IDs)+")")
	}
	if f.Keyword != "" {
		args = append(args, "%"+escapeLike(strings.ToLower(f.Keyword))+"%")
		conds = append(conds, fmt.Sprintf(`LOWER(original_name) LIKE $%d ESCAPE '\'`, len(args)))
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// placeholders appends vals to args and returns their "$n,$m,..." list.
func placeholders(args *[]any, vals []string) string {
	ph := make([]string, len(vals))
	for i, v := range vals {
		*args = append(*args, v)
		ph[i] = fmt.Sprintf("$%d", len(*args))
	}
	return strings.Join(ph, ",")
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
