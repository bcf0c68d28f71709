package http

import (
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/uploadnest/uploadnest/internal/metrics"
	"github.com/uploadnest/uploadnest/internal/signedurl"
	"github.com/uploadnest/uploadnest/internal/storage"
)

// DownloadHandler serves GET /files/download?key&exp&sig[&name][&type]. The token is the
// only credential. Every failed access check gets the same 403 body so callers cannot tell
// an expired link from a forged one; every failure after the check is a 404.
func DownloadHandler(urls *signedurl.Issuer, bs storage.BlobStore, m *metrics.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tok, err := signedurl.FromQuery(r.URL.Query())
		if err != nil {
			log.Debug().Err(err).Msg("download denied")
			m.RecordDownload("denied")
			writeMessage(w, http.StatusForbidden, "Access denied")
			return
		}
		if res := urls.Verify(tok.Key, tok.ExpiresAt, tok.Signature); res != signedurl.Valid {
			log.Debug().Str("result", res.String()).Msg("download denied")
			m.RecordDownload("denied")
			writeMessage(w, http.StatusForbidden, "Access denied")
			return
		}

		rc, err := bs.Get(r.Context(), tok.Key)
		if err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				log.Warn().Err(err).Str("storage_key", tok.Key).Msg("download open failed")
			}
			m.RecordDownload("not_found")
			writeMessage(w, http.StatusNotFound, "File not found")
			return
		}
		defer rc.Close()

		h := w.Header()
		if tok.ContentType != "" {
			h.Set("Content-Type", tok.ContentType)
		} else {
			h.Set("Content-Type", "application/octet-stream")
		}
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Content-Disposition", disposition(tok.DisplayName))

		// Headers are committed on the first write; a failure after that can only cut the body.
		buf := make([]byte, 32<<10)
		n, err := io.ReadFull(rc, buf)
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			log.Warn().Err(err).Str("storage_key", tok.Key).Msg("download read failed")
			m.RecordDownload("not_found")
			h.Del("Content-Disposition")
			writeMessage(w, http.StatusNotFound, "File not found")
			return
		}
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(buf[:n]); err != nil {
			return
		}
		if _, err := io.CopyBuffer(w, rc, buf); err != nil {
			log.Debug().Err(err).Str("storage_key", tok.Key).Msg("download aborted mid-stream")
		}
		m.RecordDownload("served")
	}
}

func disposition(name string) string {
	if name == "" {
		return "inline"
	}
	if d := mime.FormatMediaType("inline", map[string]string{"filename": name}); d != "" {
		return d
	}
	return "inline"
}
