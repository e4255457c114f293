package storage

import (
	"context"
	"fmt"
	"path"
	"strings"

	"model-orchestrator/core/models"
)

// BlobStore persists model binaries
type BlobStore interface {
	Write(ctx context.Context, path string, data []byte) error
	Delete(ctx context.Context, path string) error
	Size(ctx context.Context, path string) (int64, error)
}

// ArtifactPath returns the storage key of a model binary.
// Layout: <prefix>/<model_type>/<version>/model.bin
func ArtifactPath(prefix string, modelType models.ModelType, version string) string {
	prefix = strings.Trim(prefix, "/")
	p := path.Join(string(modelType), version, "model.bin")
	if prefix == "" {
		return p
	}
	return prefix + "/" + p
}

// ParseArtifactPath splits a key produced by ArtifactPath
func ParseArtifactPath(prefix, key string) (models.ModelType, string, error) {
	rest := strings.TrimPrefix(key, strings.Trim(prefix, "/")+"/")
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[2] != "model.bin" {
		return "", "", fmt.Errorf("not an artifact path: %s", key)
	}
	return models.ModelType(parts[0]), parts[1], nil
}
