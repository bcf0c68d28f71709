package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/uploadnest/uploadnest/internal/archive"
	auth "github.com/uploadnest/uploadnest/internal/auth/middleware"
	"github.com/uploadnest/uploadnest/internal/db"
	"github.com/uploadnest/uploadnest/internal/files"
	"github.com/uploadnest/uploadnest/internal/metrics"
	"github.com/uploadnest/uploadnest/internal/signedurl"
	"github.com/uploadnest/uploadnest/internal/storage"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	router chi.Router
	urls   *signedurl.Issuer
	blobs  *storage.FSStore
	auth   *auth.AuthService
	keys   *auth.APIKeyStore
	clock  *testClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	conn, err := db.Open(ctx, db.DriverSQLite, "file:"+filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	blobs, err := storage.NewFSStore(t.TempDir())
	require.NoError(t, err)

	clock := &testClock{now: time.Now()}
	urls, err := signedurl.NewIssuer("0123456789abcdef", "http://example.test/api/files/download", signedurl.WithClock(clock.Now))
	require.NoError(t, err)

	m := metrics.New(prometheus.NewRegistry())
	bs := storage.Instrument(blobs, m)
	coord := files.NewCoordinator(bs, files.NewSQLStore(conn, string(db.DriverSQLite)), urls,
		archive.New(bs, urls, archive.WithMetrics(m), archive.WithClock(clock.Now)), files.WithMetrics(m))

	a := auth.NewAuthService("jwt-secret")
	keys := auth.NewAPIKeyStore(conn)
	r := NewRouter(Deps{
		Files:          coord,
		URLs:           urls,
		Blobs:          bs,
		Auth:           a,
		APIKeys:        keys,
		Metrics:        m,
		DB:             conn,
		BasePath:       "/api",
		AllowedOrigins: []string{"http://localhost:3000"},
		Limits:         UploadLimits{MaxFiles: 3, MaxBytes: 1 << 20},
	})
	return &testEnv{router: r, urls: urls, blobs: blobs, auth: a, keys: keys, clock: clock}
}

func (e *testEnv) token(t *testing.T, owner string) string {
	t.Helper()
	tok, err := e.auth.IssueJWT(owner, "ws-"+owner)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) do(t *testing.T, req *http.Request, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

type part struct {
	name, contentType, body string
}

func multipartUpload(t *testing.T, parts []part, source string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range parts {
		h := textproto.MIMEHeader{}
		h.Set("Content-Disposition", `form-data; name="files"; filename="`+p.name+`"`)
		if p.contentType != "" {
			h.Set("Content-Type", p.contentType)
		}
		w, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = io.WriteString(w, p.body)
		require.NoError(t, err)
	}
	if source != "" {
		require.NoError(t, mw.WriteField("source", source))
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/api/files/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func jsonRequest(t *testing.T, method, target string, v any) *http.Request {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	req := httptest.NewRequest(method, target, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// downloadPath turns an absolute signed URL into a request target for the test router.
func downloadPath(raw string) string {
	return strings.TrimPrefix(raw, "http://example.test")
}
