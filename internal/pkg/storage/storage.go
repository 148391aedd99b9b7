package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
)

const (
	BackendNone  = "none"
	BackendLocal = "local"
	BackendS3    = "s3"
)

var ErrUnknownBackend = errors.New("unknown storage backend")

// Storage is the minimal evidence store: write an object, remove it, link to it.
type Storage interface {
	// Save stores an object under key, replacing any existing one.
	Save(ctx context.Context, key string, reader io.Reader, contentType string) error

	// Delete removes an object. Missing objects are not an error.
	Delete(ctx context.Context, key string) error

	GetURL(key string) string
}

// Config selects and configures a backend.
type Config struct {
	Backend   string
	LocalPath string
	BaseURL   string

	// S3Endpoint is set for S3-compatible stores such as MinIO or R2.
	S3Endpoint  string
	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
}

// New returns the configured backend, or nil for BackendNone.
func New(ctx context.Context, cfg Config) (Storage, error) {
	switch cfg.Backend {
	case "", BackendNone:
		return nil, nil
	case BackendLocal:
		return NewLocalStorage(cfg.LocalPath, cfg.BaseURL)
	case BackendS3:
		return NewS3Storage(ctx, cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}
