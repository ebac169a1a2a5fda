package activation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rowforge/rowforge/internal/entity"
)

const resultFile = "result.json"

// MetadataStore reads and writes activation result files. The result file is
// the source of truth for whether an environment can be reused.
type MetadataStore struct{}

// Load reads the result file from an activation directory. A missing file is
// reported as (nil, nil): the environment was never built.
func (MetadataStore) Load(dir string) (*entity.ActivationMetadata, error) {
	b, err := os.ReadFile(filepath.Join(dir, resultFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read activation result: %w", err)
	}
	var meta entity.ActivationMetadata
	if err := json.Unmarshal(b, &meta); err != nil {
		return nil, fmt.Errorf("decode activation result: %w", err)
	}
	return &meta, nil
}

// Save writes the result file atomically so metadata reads stay consistent
// even when a build dies mid-write.
func (MetadataStore) Save(dir string, meta *entity.ActivationMetadata) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("activation dir: %w", err)
	}
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal activation result: %w", err)
	}
	tmp := filepath.Join(dir, resultFile+".tmp")
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write activation result: %w", err)
	}
	return os.Rename(tmp, filepath.Join(dir, resultFile))
}
