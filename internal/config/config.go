package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPAddr       string   `yaml:"http_addr"`
	APIBaseURL     string   `yaml:"api_base_url"` // externally reachable origin + BASE_PATH prefix for signed links
	BasePath       string   `yaml:"base_path"`
	AllowedOrigins []string `yaml:"allowed_origins"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // json|console

	DBDriver string `yaml:"db_driver"`
	DBDSN    string `yaml:"db_dsn"`

	BlobDriver   string `yaml:"blob_driver"` // fs|s3
	BlobBasePath string `yaml:"blob_base_path"`

	S3Bucket         string `yaml:"s3_bucket"`
	S3Region         string `yaml:"s3_region"`
	S3Endpoint       string `yaml:"s3_endpoint"`
	S3Prefix         string `yaml:"s3_prefix"`
	S3ForcePathStyle bool   `yaml:"s3_force_path_style"`

	SignedURLSecret string `yaml:"signed_url_secret"`
	JWTSecret       string `yaml:"jwt_secret"`

	MaxUploadFiles int   `yaml:"max_upload_files"`
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`
	ArchiveLevel   int   `yaml:"archive_level"`
}

func FromEnv() Config {
	addr := envOr("HTTP_ADDR", ":8080")
	return Config{
		HTTPAddr:       addr,
		APIBaseURL:     strings.TrimSuffix(envOr("API_BASE_URL", "http://localhost"+addr+"/api"), "/"),
		BasePath:       envOr("BASE_PATH", "/api"),
		AllowedOrigins: csvOr("ALLOWED_ORIGINS", "http://localhost:3000"),

		LogLevel:  envOr("LOG_LEVEL", "info"),
		LogFormat: envOr("LOG_FORMAT", "json"),

		DBDriver: envOr("DB_DRIVER", "sqlite"),
		DBDSN:    envOr("DB_DSN", ""),

		BlobDriver:   envOr("BLOB_DRIVER", "fs"),
		BlobBasePath: envOr("BLOB_BASE_PATH", "./upload"),

		S3Bucket:         os.Getenv("S3_BUCKET"),
		S3Region:         envOr("S3_REGION", "us-east-1"),
		S3Endpoint:       os.Getenv("S3_ENDPOINT"),
		S3Prefix:         os.Getenv("S3_PREFIX"),
		S3ForcePathStyle: envBool("S3_FORCE_PATH_STYLE", false),

		SignedURLSecret: os.Getenv("SIGNED_URL_SECRET"),
		JWTSecret:       envOr("JWT_SECRET", "supersecret-dev-key"),

		MaxUploadFiles: envInt("MAX_UPLOAD_FILES", 10),
		MaxUploadBytes: int64(envInt("MAX_UPLOAD_BYTES", 100<<20)),
		ArchiveLevel:   envInt("ARCHIVE_LEVEL", 6),
	}
}

// Load reads the environment and, when path is set, overlays the YAML file on top. Keys absent
// from the file keep their environment value.
func Load(path string) (Config, error) {
	cfg := FromEnv()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.APIBaseURL = strings.TrimSuffix(cfg.APIBaseURL, "/")
	return cfg, nil
}

func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.HTTPAddr, validation.Required),
		validation.Field(&c.APIBaseURL, validation.Required, validation.By(httpURL)),
		validation.Field(&c.DBDriver, validation.Required, validation.In("sqlite", "postgres")),
		validation.Field(&c.BlobDriver, validation.Required, validation.In("fs", "s3")),
		validation.Field(&c.BlobBasePath, requiredIf(c.BlobDriver == "fs")...),
		validation.Field(&c.S3Bucket, requiredIf(c.BlobDriver == "s3")...),
		validation.Field(&c.SignedURLSecret, validation.Required, validation.Length(16, 0)),
		validation.Field(&c.JWTSecret, validation.Required),
		validation.Field(&c.LogFormat, validation.In("json", "console")),
		validation.Field(&c.MaxUploadFiles, validation.Required, validation.Min(1)),
		validation.Field(&c.MaxUploadBytes, validation.Required, validation.Min(int64(1))),
		validation.Field(&c.ArchiveLevel, validation.Required, validation.Min(1), validation.Max(9)),
	)
}

func requiredIf(cond bool) []validation.Rule {
	if cond {
		return []validation.Rule{validation.Required}
	}
	return nil
}

func httpURL(value interface{}) error {
	s, _ := value.(string)
	u, err := url.Parse(s)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("must be an absolute http(s) URL")
	}
	return nil
}

// DownloadURL is the public DownloadGateway endpoint that signed links point at.
func (c Config) DownloadURL() string { return c.APIBaseURL + "/files/download" }

func envOr(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}
func envBool(k string, def bool) bool {
	switch os.Getenv(k) {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return def
	}
}
func envInt(k string, def int) int {
	n, err := strconv.Atoi(os.Getenv(k))
	if err != nil {
		return def
	}
	return n
}
func csvOr(k, def string) []string {
	v := envOr(k, def)
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
