package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	api "github.com/uploadnest/uploadnest/internal/api/http"
	"github.com/uploadnest/uploadnest/internal/archive"
	auth "github.com/uploadnest/uploadnest/internal/auth/middleware"
	"github.com/uploadnest/uploadnest/internal/config"
	"github.com/uploadnest/uploadnest/internal/db"
	"github.com/uploadnest/uploadnest/internal/files"
	"github.com/uploadnest/uploadnest/internal/metrics"
	"github.com/uploadnest/uploadnest/internal/signedurl"
	"github.com/uploadnest/uploadnest/internal/storage"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	// --- DB ---
	dbh, err := openDB(ctx, cfg)
	if err != nil {
		return fmt.Errorf("db open failed: %w", err)
	}
	defer dbh.Close()

	// --- Blobs ---
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	raw, err := openBlobStore(cfg)
	if err != nil {
		return fmt.Errorf("blob store: %w", err)
	}
	blobs := storage.Instrument(raw, m)

	// --- Core ---
	urls, err := signedurl.NewIssuer(cfg.SignedURLSecret, cfg.DownloadURL())
	if err != nil {
		return err
	}
	asm := archive.New(blobs, urls, archive.WithLevel(cfg.ArchiveLevel), archive.WithMetrics(m))
	coord := files.NewCoordinator(blobs, files.NewSQLStore(dbh, cfg.DBDriver), urls, asm, files.WithMetrics(m))

	router := api.NewRouter(api.Deps{
		Files:          coord,
		URLs:           urls,
		Blobs:          blobs,
		Auth:           auth.NewAuthService(cfg.JWTSecret),
		APIKeys:        auth.NewAPIKeyStore(dbh),
		Metrics:        m,
		DB:             dbh,
		BasePath:       cfg.BasePath,
		AllowedOrigins: cfg.AllowedOrigins,
		Limits:         api.UploadLimits{MaxFiles: cfg.MaxUploadFiles, MaxBytes: cfg.MaxUploadBytes},
		MetricsHandler: metrics.HandlerFor(reg),
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTPAddr).Str("db", cfg.DBDriver).Str("blob", cfg.BlobDriver).
			Str("base_path", cfg.BasePath).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}

func openBlobStore(cfg config.Config) (storage.BlobStore, error) {
	switch cfg.BlobDriver {
	case "fs":
		return storage.NewFSStore(cfg.BlobBasePath)
	case "s3":
		return storage.NewS3Store(storage.S3Config{
			Bucket:         cfg.S3Bucket,
			Region:         cfg.S3Region,
			Endpoint:       cfg.S3Endpoint,
			Prefix:         cfg.S3Prefix,
			ForcePathStyle: cfg.S3ForcePathStyle,
		})
	default:
		return nil, fmt.Errorf("unsupported blob driver: %s", cfg.BlobDriver)
	}
}

func openDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return db.Open(ctx, db.Driver(cfg.DBDriver), cfg.DBDSN)
}
