package providers

import (
	"context"

	"github.com/rowforge/rowforge/internal/entity"
	"github.com/rowforge/rowforge/internal/manifest"
)

// ConfigProvider resolves a config version to its validated manifest and
// on-disk script package. Config versions are immutable once created.
type ConfigProvider interface {
	GetManifest(ctx context.Context, versionID string) (*manifest.Manifest, error)
	GetPackagePath(ctx context.Context, versionID string) (*entity.ConfigVersion, error)
}

// ResolvedDocument is one input document located on local disk.
type ResolvedDocument struct {
	DocumentID string
	Path       string
	Filename   string
	SHA256     string
}

// DocumentProvider resolves input document ids to local file paths and
// content hashes.
type DocumentProvider interface {
	Resolve(ctx context.Context, documentID string) (*ResolvedDocument, error)
}
