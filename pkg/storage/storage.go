// Package storage archives executed artifacts in object storage.
package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/feichai0017/prp-orchestrator/pkg/logger"
	"github.com/feichai0017/prp-orchestrator/pkg/storage/minio"
	"github.com/feichai0017/prp-orchestrator/pkg/storage/s3"
)

// StorageType selects the archive backend.
type StorageType string

const (
	StorageTypeNone  StorageType = ""
	StorageTypeS3    StorageType = "s3"
	StorageTypeMinio StorageType = "minio"
)

// Storage is an object store for artifacts.
type Storage interface {
	// Store uploads reader under key and returns the stored key.
	Store(ctx context.Context, reader io.Reader, key string) (string, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	// CleanupBefore deletes objects last modified before threshold and
	// returns how many were removed.
	CleanupBefore(ctx context.Context, threshold time.Time) (int, error)
}

// Config selects and configures a backend.
type Config struct {
	Type  StorageType
	S3    s3.Config
	Minio minio.Config
}

// NewStorage creates the configured backend. StorageTypeNone yields a nil
// Storage and no error.
func NewStorage(ctx context.Context, cfg Config, log logger.Logger) (Storage, error) {
	switch cfg.Type {
	case StorageTypeNone:
		return nil, nil
	case StorageTypeS3:
		st, err := s3.NewS3Storage(ctx, cfg.S3, log)
		if err != nil {
			return nil, err
		}
		return st, nil
	case StorageTypeMinio:
		st, err := minio.NewMinioStorage(ctx, cfg.Minio, log)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}
