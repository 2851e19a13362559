package storage

import (
	"context"
	"fmt"

	"github.com/lifecaller/esteira/internal/config"
)

// New escolhe o backend conforme STORAGE_PROVIDER.
func New(ctx context.Context, cfg config.StorageConfig) (Uploader, error) {
	switch cfg.Provider {
	case "", "noop":
		return NoopUploader{}, nil
	case "s3", "r2", "minio":
		up, err := NewS3Uploader(ctx, S3Config{
			Endpoint:     cfg.S3Endpoint,
			Region:       cfg.S3Region,
			Bucket:       cfg.S3Bucket,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			PublicDomain: cfg.S3PublicURL,
		})
		if err != nil {
			return nil, err
		}
		return up, nil
	default:
		return nil, fmt.Errorf("storage: provedor %s não suportado", cfg.Provider)
	}
}
