package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation"

	auth "github.com/uploadnest/uploadnest/internal/auth/middleware"
	"github.com/uploadnest/uploadnest/internal/files"
	"github.com/uploadnest/uploadnest/internal/rbac"
)

const (
	maxFileIDs      = 100
	maxPageSize     = 100
	multipartMemory = 32 << 20
)

// UploadLimits bounds a single upload request.
type UploadLimits struct {
	MaxFiles int
	MaxBytes int64
}

// MountFiles mounts the authenticated file endpoints. The caller is expected to have run
// auth.Authenticate on r.
func MountFiles(r chi.Router, c *files.Coordinator, limits UploadLimits) {
	r.With(rbac.Require(rbac.PermFilesUpload)).Post("/upload", UploadHandler(c, limits))
	r.With(rbac.Require(rbac.PermFilesList)).Get("/", ListHandler(c))
	r.With(rbac.Require(rbac.PermFilesDelete)).Delete("/", DeleteHandler(c))
	r.With(rbac.Require(rbac.PermFilesDownload)).Post("/download", ResolveDownloadHandler(c))
	r.With(rbac.Require(rbac.PermFilesStream)).Get("/{fileID}/stream", StreamHandler(c))
}

// POST /files/upload  multipart: files=@a files=@b [source=WEB|API]
func UploadHandler(c *files.Coordinator, limits UploadLimits) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := auth.PrincipalFromContext(r.Context())
		if !ok {
			writeMessage(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if limits.MaxBytes > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, limits.MaxBytes)
		}
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				writeMessage(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", tooBig.Limit))
				return
			}
			writeMessage(w, http.StatusBadRequest, "multipart form required")
			return
		}
		defer r.MultipartForm.RemoveAll()

		headers := r.MultipartForm.File["files"]
		if len(headers) == 0 {
			writeMessage(w, http.StatusBadRequest, "no files provided")
			return
		}
		if limits.MaxFiles > 0 && len(headers) > limits.MaxFiles {
			writeMessage(w, http.StatusBadRequest, fmt.Sprintf("at most %d files per upload", limits.MaxFiles))
			return
		}

		source, err := uploadSource(r.FormValue("source"), p)
		if err != nil {
			writeMessage(w, http.StatusBadRequest, err.Error())
			return
		}

		in := make([]files.UploadFile, len(headers))
		for i, fh := range headers {
			in[i] = uploadFile(fh)
		}
		res, err := c.UploadBatch(r.Context(), p.OwnerID, p.WorkspaceID, in, source)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, res)
	}
}

func uploadFile(fh *multipart.FileHeader) files.UploadFile {
	ct := fh.Header.Get("Content-Type")
	if ct == "application/octet-stream" {
		ct = "" // let the extension decide
	}
	return files.UploadFile{
		Name:     fh.Filename,
		Size:     fh.Size,
		MimeType: ct,
		Open:     func() (io.ReadCloser, error) { return fh.Open() },
	}
}

func uploadSource(v string, p auth.Principal) (files.UploadSource, error) {
	switch files.UploadSource(strings.ToUpper(v)) {
	case files.SourceWeb:
		return files.SourceWeb, nil
	case files.SourceAPI:
		return files.SourceAPI, nil
	case "":
		if p.Via == auth.ViaAPIKey {
			return files.SourceAPI, nil
		}
		return files.SourceWeb, nil
	default:
		return "", fmt.Errorf("source must be WEB or API")
	}
}

// GET /files?keyword=&pageSize=&pageNumber=
func ListHandler(c *files.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := auth.PrincipalFromContext(r.Context())
		if !ok {
			writeMessage(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		q := r.URL.Query()
		page := files.Pagination{
			PageSize:   queryInt(q.Get("pageSize"), 20),
			PageNumber: queryInt(q.Get("pageNumber"), 1),
		}
		if page.PageSize > maxPageSize {
			page.PageSize = maxPageSize
		}
		list, err := c.ListFiles(r.Context(), p.OwnerID, q.Get("keyword"), page)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

type fileIDsRequest struct {
	FileIDs []string `json:"fileIds"`
}

func (req *fileIDsRequest) Validate() error {
	return validation.ValidateStruct(req,
		validation.Field(&req.FileIDs, validation.Required, validation.Length(1, maxFileIDs), validation.By(noBlankIDs)),
	)
}

func noBlankIDs(value interface{}) error {
	ids, _ := value.([]string)
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			return errors.New("must not contain blank ids")
		}
	}
	return nil
}

func decodeFileIDs(r *http.Request) (fileIDsRequest, error) {
	var req fileIDsRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		return req, fmt.Errorf("%w: bad json", files.ErrBadRequest)
	}
	if err := req.Validate(); err != nil {
		return req, err
	}
	return req, nil
}

// DELETE /files  {"fileIds": [...]}
func DeleteHandler(c *files.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := auth.PrincipalFromContext(r.Context())
		if !ok {
			writeMessage(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		req, err := decodeFileIDs(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		res, err := c.DeleteBatch(r.Context(), p.OwnerID, req.FileIDs)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// POST /files/download  {"fileIds": [...]}
func ResolveDownloadHandler(c *files.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := auth.PrincipalFromContext(r.Context())
		if !ok {
			writeMessage(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		req, err := decodeFileIDs(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		link, err := c.ResolveDownload(r.Context(), p.OwnerID, req.FileIDs)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, link)
	}
}

// GET /files/{fileID}/stream
func StreamHandler(c *files.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := auth.PrincipalFromContext(r.Context())
		if !ok {
			writeMessage(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		f, err := c.OpenFile(r.Context(), p.OwnerID, chi.URLParam(r, "fileID"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		defer f.Body.Close()

		h := w.Header()
		h.Set("Content-Type", f.ContentType)
		h.Set("Content-Length", strconv.FormatInt(f.Size, 10))
		h.Set("Content-Disposition", disposition(f.Name))
		h.Set("X-Content-Type-Options", "nosniff")
		w.WriteHeader(http.StatusOK)
		_, _ = io.Copy(w, f.Body)
	}
}

func queryInt(v string, def int) int {
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
