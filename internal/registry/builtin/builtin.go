// Package builtin registers the standard column plugins so a config bundle
// works without shipping custom capability code: synonym and regexp detection
// plus numeric and date normalization.
package builtin

import (
	"github.com/rowforge/rowforge/internal/registry"
)

// Register installs every built-in plugin factory.
func Register(r *registry.ColumnRegistry) {
	r.Register("synonym", NewSynonymPlugin)
	r.Register("regexp", NewRegexpPlugin)
	r.Register("numeric", NewNumericPlugin)
	r.Register("date", NewDatePlugin)
}

// capability implements the declared-parameter surface shared by all
// built-in detectors, transformers and validators.
type capability struct {
	name   string
	params []string
	extra  bool
}

func (c capability) Name() string       { return c.name }
func (c capability) Params() []string   { return c.params }
func (c capability) AcceptsExtra() bool { return c.extra }

var (
	detectorParams    = []string{"field", "header", "values", "column_index", "table", "job_context", "env"}
	transformerParams = []string{"field", "value", "row", "values", "column_index"}
	validatorParams   = []string{"field", "value", "row_index"}
)

// plugin is a static capability bundle.
type plugin struct {
	detectors   []registry.Detector
	transformer registry.Transformer
	validator   registry.Validator
}

func (p plugin) Detectors() []registry.Detector    { return p.detectors }
func (p plugin) Transformer() registry.Transformer { return p.transformer }
func (p plugin) Validator() registry.Validator     { return p.validator }
