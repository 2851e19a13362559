package util

import (
	"path"
	"strings"

	"github.com/google/uuid"
)

// NewObjectKey monta chave única de objeto preservando a extensão do arquivo.
func NewObjectKey(prefix, filename string) string {
	ext := strings.ToLower(path.Ext(strings.TrimSpace(filename)))
	if len(ext) > 10 {
		ext = ""
	}
	return strings.TrimSuffix(prefix, "/") + "/" + uuid.NewString() + ext
}
