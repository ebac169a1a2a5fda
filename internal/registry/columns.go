package registry

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rowforge/rowforge/internal/manifest"
)

// RegistryError reports a column script that could not be resolved or whose
// capabilities failed signature validation. Raised while building modules,
// never while processing rows.
type RegistryError struct {
	Script string
	Field  string
	Reason string
}

func (e *RegistryError) Error() string {
	return fmt.Sprintf("column registry: field %q script %q: %s", e.Field, e.Script, e.Reason)
}

// Plugin is the typed capability bundle a script identifier resolves to.
type Plugin interface {
	Detectors() []Detector
	Transformer() Transformer // may be nil
	Validator() Validator     // may be nil
}

// Factory builds a Plugin for one manifest column.
type Factory func(col manifest.Column) (Plugin, error)

// ColumnModule is one resolved, validated column: created once per
// activation-ready environment and reused across jobs.
type ColumnModule struct {
	Field       string
	Meta        manifest.Column
	Detectors   []Detector
	Transformer Transformer
	Validator   Validator
}

// ColumnRegistry maps declared script identifiers to registered factories.
type ColumnRegistry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	logger    *slog.Logger
}

// NewColumnRegistry creates an empty registry.
func NewColumnRegistry(logger *slog.Logger) *ColumnRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &ColumnRegistry{
		factories: make(map[string]Factory),
		logger:    logger,
	}
}

// Register binds a factory to a script identifier. Later registrations win.
func (r *ColumnRegistry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// resolve looks a script reference up by exact identifier first, then by its
// base name without extension ("scripts/member_id.py" -> "member_id").
func (r *ColumnRegistry) resolve(script string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if f, ok := r.factories[script]; ok {
		return f, true
	}
	base := strings.TrimSuffix(filepath.Base(script), filepath.Ext(script))
	f, ok := r.factories[base]
	return f, ok
}

// Build resolves every enabled column in declaration order into a validated
// ColumnModule. Any resolution or signature failure aborts the whole build.
func (r *ColumnRegistry) Build(m *manifest.Manifest) ([]*ColumnModule, error) {
	cols := m.EnabledColumns()
	modules := make([]*ColumnModule, 0, len(cols))
	for _, col := range cols {
		factory, ok := r.resolve(col.Script)
		if !ok {
			return nil, &RegistryError{Script: col.Script, Field: col.Field, Reason: "no registered plugin"}
		}
		plugin, err := factory(col)
		if err != nil {
			return nil, &RegistryError{Script: col.Script, Field: col.Field, Reason: err.Error()}
		}

		detectors := plugin.Detectors()
		if len(detectors) == 0 {
			return nil, &RegistryError{Script: col.Script, Field: col.Field, Reason: "plugin exposes no detectors"}
		}
		for _, d := range detectors {
			if err := validateCapability("detector", d); err != nil {
				return nil, &RegistryError{Script: col.Script, Field: col.Field, Reason: err.Error()}
			}
		}
		mod := &ColumnModule{Field: col.Field, Meta: col, Detectors: detectors}
		if t := plugin.Transformer(); t != nil {
			if err := validateCapability("transformer", t); err != nil {
				return nil, &RegistryError{Script: col.Script, Field: col.Field, Reason: err.Error()}
			}
			mod.Transformer = t
		}
		if v := plugin.Validator(); v != nil {
			if err := validateCapability("validator", v); err != nil {
				return nil, &RegistryError{Script: col.Script, Field: col.Field, Reason: err.Error()}
			}
			mod.Validator = v
		}

		r.logger.Debug("column module resolved",
			"field", col.Field,
			"script", col.Script,
			"detectors", len(detectors),
			"has_transformer", mod.Transformer != nil,
			"has_validator", mod.Validator != nil,
		)
		modules = append(modules, mod)
	}
	return modules, nil
}
