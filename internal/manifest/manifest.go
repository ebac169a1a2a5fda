package manifest

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rowforge/rowforge/constants"
)

// Column declares one output field and the script that detects it.
type Column struct {
	Field    string   `json:"field"`
	Label    string   `json:"label,omitempty"`
	Script   string   `json:"script"`
	Required bool     `json:"required,omitempty"`
	Enabled  *bool    `json:"enabled,omitempty"`
	Synonyms []string `json:"synonyms,omitempty"`
	Pattern  string   `json:"pattern,omitempty"`
}

// IsEnabled treats a missing enabled flag as true.
func (c Column) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Defaults holds engine defaults for a config version.
type Defaults struct {
	TimeoutSeconds int     `json:"timeout_seconds,omitempty"`
	MemoryMB       int     `json:"memory_mb,omitempty"`
	MatchThreshold float64 `json:"match_threshold,omitempty"`
	SampleSize     int     `json:"sample_size,omitempty"`
}

// Timeout returns the per-job wall-clock budget.
func (d Defaults) Timeout() time.Duration {
	return time.Duration(d.TimeoutSeconds) * time.Second
}

// Writer configures the normalized output.
type Writer struct {
	SheetName      string `json:"sheet_name,omitempty"`
	UnmappedPrefix string `json:"unmapped_prefix,omitempty"`
	AppendUnmapped bool   `json:"append_unmapped_columns,omitempty"`
}

// HookRef names a hook: either a registered factory or a script in the package.
type HookRef struct {
	Name   string `json:"name,omitempty"`
	Script string `json:"script,omitempty"`
}

// Hooks lists hook references per lifecycle stage.
type Hooks struct {
	OnActivate     []HookRef `json:"on_activate,omitempty"`
	OnJobStart     []HookRef `json:"on_job_start,omitempty"`
	OnAfterExtract []HookRef `json:"on_after_extract,omitempty"`
	OnBeforeSave   []HookRef `json:"on_before_save,omitempty"`
	OnJobEnd       []HookRef `json:"on_job_end,omitempty"`
}

// ForStage returns the references declared for a stage, in declaration order.
func (h Hooks) ForStage(stage constants.HookStage) []HookRef {
	switch stage {
	case constants.StageOnActivate:
		return h.OnActivate
	case constants.StageOnJobStart:
		return h.OnJobStart
	case constants.StageOnAfterExtract:
		return h.OnAfterExtract
	case constants.StageOnBeforeSave:
		return h.OnBeforeSave
	case constants.StageOnJobEnd:
		return h.OnJobEnd
	}
	return nil
}

// Manifest is the declarative description of a configuration version:
// column order, engine defaults, writer config and lifecycle hooks.
type Manifest struct {
	Schema   string   `json:"schema"`
	Version  string   `json:"manifest_version"`
	Columns  []Column `json:"columns"`
	Defaults Defaults `json:"defaults,omitempty"`
	Writer   Writer   `json:"writer,omitempty"`
	Hooks    Hooks    `json:"hooks,omitempty"`
}

// EnabledColumns returns enabled columns in declaration order.
func (m *Manifest) EnabledColumns() []Column {
	out := make([]Column, 0, len(m.Columns))
	for _, c := range m.Columns {
		if c.IsEnabled() {
			out = append(out, c)
		}
	}
	return out
}

// Parse validates raw manifest JSON against the manifest schema, decodes it,
// and fills engine defaults.
func Parse(b []byte) (*Manifest, error) {
	if err := ValidateJSONAgainstSchema(BuildManifestJSONSchema(), b); err != nil {
		return nil, fmt.Errorf("manifest rejected: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	m.fillDefaults()
	return &m, nil
}

func (m *Manifest) fillDefaults() {
	if m.Defaults.TimeoutSeconds <= 0 {
		m.Defaults.TimeoutSeconds = 300
	}
	if m.Defaults.MatchThreshold <= 0 {
		m.Defaults.MatchThreshold = 0.5
	}
	if m.Defaults.SampleSize <= 0 {
		m.Defaults.SampleSize = 20
	}
	if m.Writer.SheetName == "" {
		m.Writer.SheetName = "Output"
	}
	if m.Writer.UnmappedPrefix == "" {
		m.Writer.UnmappedPrefix = "raw_"
	}
}
