package files

import (
	"io"
	"time"
)

type UploadSource string

const (
	SourceWeb UploadSource = "WEB"
	SourceAPI UploadSource = "API"
)

// FileRecord is the metadata row for one stored object.
type FileRecord struct {
	ID           string       `json:"id"`
	OwnerID      string       `json:"userId"`
	WorkspaceID  string       `json:"workspaceId"`
	StorageKey   string       `json:"-"`
	OriginalName string       `json:"originalName"`
	Size         int64        `json:"size"`
	Extension    string       `json:"ext"`
	MimeType     string       `json:"mimeType"`
	UploadSource UploadSource `json:"uploadVia"`
	CreatedAt    time.Time    `json:"createdAt"`
}

// FileSummary is what a successful upload reports back.
type FileSummary struct {
	FileID       string `json:"fileId"`
	OriginalName string `json:"originalName"`
	Size         int64  `json:"size"`
	Ext          string `json:"ext"`
	MimeType     string `json:"mimeType"`
}

func summarize(r FileRecord) FileSummary {
	return FileSummary{
		FileID:       r.ID,
		OriginalName: r.OriginalName,
		Size:         r.Size,
		Ext:          r.Extension,
		MimeType:     r.MimeType,
	}
}

// UploadFile is one incoming file. Open is called once, by the worker that stores it.
type UploadFile struct {
	Name     string
	Size     int64
	MimeType string
	Open     func() (io.ReadCloser, error)
}

// Filter scopes record lookups. OwnerID is always applied; IDs and Keyword only when set.
type Filter struct {
	OwnerID string
	IDs     []string
	Keyword string
}

// Pagination is 1-based. A zero PageSize means no limit.
type Pagination struct {
	PageSize   int
	PageNumber int
}

func (p Pagination) Skip() int {
	if p.PageSize <= 0 || p.PageNumber <= 1 {
		return 0
	}
	return (p.PageNumber - 1) * p.PageSize
}

type PageInfo struct {
	PageSize   int `json:"pageSize"`
	PageNumber int `json:"pageNumber"`
	TotalCount int `json:"totalCount"`
	TotalPages int `json:"totalPages"`
	Skip       int `json:"skip"`
}

// FileView is a listed file: the record without its storage key, plus a signed URL.
type FileView struct {
	FileRecord
	URL string `json:"url"`
}

type FileList struct {
	Files      []FileView `json:"files"`
	Pagination PageInfo   `json:"pagination"`
}

type UploadResult struct {
	Message     string               `json:"message"`
	Data        []FileSummary        `json:"data"`
	FailedCount int                  `json:"failedCount"`
	Results     Outcome[FileSummary] `json:"results"`
}

type DeleteResult struct {
	DeletedCount int             `json:"deletedCount"`
	FailedCount  int             `json:"failedCount"`
	Results      Outcome[string] `json:"results"`
}

// DownloadLink points at either the single file or a freshly built zip.
type DownloadLink struct {
	URL   string `json:"url"`
	IsZip bool   `json:"isZip"`
}

// OpenedFile is an authenticated stream of one owned file. The caller closes Body.
type OpenedFile struct {
	Body        io.ReadCloser
	Name        string
	ContentType string
	Size        int64
}
