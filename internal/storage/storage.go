// Package storage keeps generated book artifacts (covers, audio, exports) and
// hands back URLs clients can download them from.
package storage

import (
	"context"
	"path"

	"bookforge/internal/domain"
)

// ArtifactStore stores one artifact and returns where it can be fetched.
type ArtifactStore interface {
	Put(ctx context.Context, key string, data []byte, mimeType string) (*domain.AssetRef, error)
}

// JobKey namespaces an artifact under its job.
func JobKey(jobID, name string) string {
	return path.Join("books", jobID, name)
}

var (
	_ ArtifactStore = (*FileStore)(nil)
	_ ArtifactStore = (*S3Store)(nil)
)
