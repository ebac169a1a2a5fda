package registry

import (
	"context"
	"fmt"
)

// TableContext describes the table a capability is looking at.
type TableContext struct {
	SourceFile string
	Sheet      string
	Headers    []string
	RowCount   int
}

// JobContext carries run identity into capabilities.
type JobContext struct {
	JobID           string
	TraceID         string
	WorkspaceID     string
	ConfigVersionID string
	Attempt         int
}

// DetectInput is one detection call: one candidate header for one field.
type DetectInput struct {
	Field       string
	Header      string
	Values      []string // bounded sample, size from manifest defaults
	ColumnIndex int
	Table       TableContext
	Job         JobContext
	Env         map[string]string
}

// TransformInput is one transform call: every value of a mapped column.
type TransformInput struct {
	Field       string
	Header      string
	Values      []string
	ColumnIndex int
	Table       TableContext
	Job         JobContext
	Env         map[string]string
}

// TransformResult carries converted values plus any per-value warnings.
type TransformResult struct {
	Values   []string
	Warnings []string
}

// ValidateInput is one validation call: a single transformed value.
type ValidateInput struct {
	Field    string
	Value    string
	RowIndex int
	Row      map[string]string
}

// Capability is the common surface of detectors, transformers and validators.
// Params declares the parameter names the capability consumes; the registry
// checks them at build time so a bad capability fails activation, not a row.
type Capability interface {
	Name() string
	Params() []string
	AcceptsExtra() bool
}

// Detector scores a candidate header for one or more fields.
type Detector interface {
	Capability
	Detect(ctx context.Context, in DetectInput) (map[string]float64, error)
}

// Transformer converts a mapped column's values.
type Transformer interface {
	Capability
	Transform(ctx context.Context, in TransformInput) (TransformResult, error)
}

// Validator checks one transformed value.
type Validator interface {
	Capability
	Validate(ctx context.Context, in ValidateInput) ([]string, error)
}

// allowedParams is the fixed parameter vocabulary capabilities may declare.
var allowedParams = map[string]struct{}{
	"field":        {},
	"header":       {},
	"values":       {},
	"value":        {},
	"row":          {},
	"rows":         {},
	"row_index":    {},
	"column_index": {},
	"table":        {},
	"job_context":  {},
	"env":          {},
}

// Required parameter subsets per capability role.
var (
	requiredDetectorParams    = []string{"field"}
	requiredTransformerParams = []string{"field", "value", "row"}
	requiredValidatorParams   = []string{"field", "value", "row_index"}
)

// validateCapability enforces the signature contract: every declared name must
// be in the allowed set, and the role's required subset must be covered. A
// capability accepting arbitrary extras satisfies the required check without
// enumerating every name, but may still not declare an unknown name.
func validateCapability(role string, c Capability) error {
	declared := make(map[string]struct{}, len(c.Params()))
	for _, p := range c.Params() {
		if _, ok := allowedParams[p]; !ok {
			return fmt.Errorf("%s %q declares unknown parameter %q", role, c.Name(), p)
		}
		declared[p] = struct{}{}
	}
	if c.AcceptsExtra() {
		return nil
	}
	var required []string
	switch role {
	case "detector":
		required = requiredDetectorParams
	case "transformer":
		required = requiredTransformerParams
	case "validator":
		required = requiredValidatorParams
	}
	for _, p := range required {
		if _, ok := declared[p]; !ok {
			return fmt.Errorf("%s %q missing required parameter %q", role, c.Name(), p)
		}
	}
	return nil
}
