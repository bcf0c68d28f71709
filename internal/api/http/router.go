package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	auth "github.com/uploadnest/uploadnest/internal/auth/middleware"
	"github.com/uploadnest/uploadnest/internal/files"
	"github.com/uploadnest/uploadnest/internal/metrics"
	"github.com/uploadnest/uploadnest/internal/signedurl"
	"github.com/uploadnest/uploadnest/internal/storage"
)

type Deps struct {
	Files   *files.Coordinator
	URLs    *signedurl.Issuer
	Blobs   storage.BlobStore
	Auth    *auth.AuthService
	APIKeys *auth.APIKeyStore // optional
	Metrics *metrics.Metrics  // optional
	DB      Pinger

	BasePath       string
	AllowedOrigins []string
	Limits         UploadLimits
	MetricsHandler http.Handler // optional
}

func NewRouter(d Deps) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, RequestLogger, middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", HealthHandler())
	if d.DB != nil {
		r.Get("/readyz", ReadyHandler(d.DB))
	}
	if d.MetricsHandler != nil {
		r.Handle("/metrics", d.MetricsHandler)
	}

	base := d.BasePath
	if base == "" {
		base = "/"
	}
	r.Route(base, func(br chi.Router) {
		br.Route("/files", func(fr chi.Router) {
			// Public: the signed token is the credential.
			fr.Get("/download", DownloadHandler(d.URLs, d.Blobs, d.Metrics))

			fr.Group(func(pr chi.Router) {
				pr.Use(auth.Authenticate(d.Auth, d.APIKeys))
				pr.Use(middleware.Timeout(5 * time.Minute))
				MountFiles(pr, d.Files, d.Limits)
			})
		})
	})
	return r
}
