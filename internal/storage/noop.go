package storage

import (
	"context"
)

// NoopUploader devolve erro indicando que não há backend configurado.
type NoopUploader struct{}

// Upload sempre retorna ErrUnavailable.
func (NoopUploader) Upload(ctx context.Context, input UploadInput) (*UploadResult, error) {
	return nil, ErrUnavailable
}

// Delete não tem efeito.
func (NoopUploader) Delete(ctx context.Context, key string) error {
	return nil
}
