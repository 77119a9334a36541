package remote

import (
	"context"
	"errors"
	"fmt"
	"io"

	"dbrb/internal/config"
)

var ErrNotFound = errors.New("object not found")

type ObjectInfo struct {
	Size     int64
	Checksum string
	Metadata map[string]string
}

// ObjectStore is a container/object service. PutObject returns the checksum
// of the bytes the backend received, in the same form as checksum.Hex.
type ObjectStore interface {
	PutContainer(ctx context.Context, container string) error
	PutObject(ctx context.Context, container, name string, body io.Reader, metadata map[string]string) (string, error)
	HeadObject(ctx context.Context, container, name string) (*ObjectInfo, error)
	GetObject(ctx context.Context, container, name string) (io.ReadCloser, error)
	BaseURL() string
	VerifyCredentials(ctx context.Context, container string) error
}

// New builds the object store selected by storage.backend.
func New(ctx context.Context, cfg *config.Config) (ObjectStore, error) {
	switch cfg.Storage.Backend {
	case "s3":
		s3cfg := cfg.Storage.S3
		return NewS3(ctx, s3cfg.Region, s3cfg.Prefix, s3cfg.Endpoint, s3cfg.StorageClass, cfg.S3RetryAttempts())
	case "file":
		return NewFile(cfg.Storage.File.Root)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Storage.Backend)
	}
}

func ValidateStorageClass(storageClass string) error {
	if storageClass == "GLACIER" || storageClass == "DEEP_ARCHIVE" {
		return fmt.Errorf("storage class %s is not immediately accessible (requires restore)", storageClass)
	}
	return nil
}
