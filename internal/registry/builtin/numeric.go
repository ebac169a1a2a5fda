package builtin

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rowforge/rowforge/internal/manifest"
	"github.com/rowforge/rowforge/internal/registry"
)

// NewNumericPlugin builds the numeric column bundle: a detector scoring how
// much of the sample parses as a number, a normalizing transformer and a
// validator flagging residual non-numeric values.
func NewNumericPlugin(col manifest.Column) (registry.Plugin, error) {
	return plugin{
		detectors: []registry.Detector{&numericDetector{
			capability: capability{name: "detect_numeric", params: detectorParams},
			field:      col.Field,
		}},
		transformer: &numericTransformer{
			capability: capability{name: "transform_numeric", params: transformerParams},
		},
		validator: &numericValidator{
			capability: capability{name: "validate_numeric", params: validatorParams},
		},
	}, nil
}

type numericDetector struct {
	capability
	field string
}

func (d *numericDetector) Detect(_ context.Context, in registry.DetectInput) (map[string]float64, error) {
	if len(in.Values) == 0 {
		return nil, nil
	}
	parsed := 0
	for _, v := range in.Values {
		if _, ok := parseNumber(v); ok {
			parsed++
		}
	}
	if parsed == 0 {
		return nil, nil
	}
	return map[string]float64{d.field: float64(parsed) / float64(len(in.Values))}, nil
}

type numericTransformer struct{ capability }

func (t *numericTransformer) Transform(_ context.Context, in registry.TransformInput) (registry.TransformResult, error) {
	out := registry.TransformResult{Values: make([]string, len(in.Values))}
	for i, v := range in.Values {
		if v == "" {
			continue
		}
		n, ok := parseNumber(v)
		if !ok {
			out.Values[i] = v
			out.Warnings = append(out.Warnings, fmt.Sprintf("row %d: %q is not numeric", i, v))
			continue
		}
		out.Values[i] = n
	}
	return out, nil
}

type numericValidator struct{ capability }

func (v *numericValidator) Validate(_ context.Context, in registry.ValidateInput) ([]string, error) {
	if in.Value == "" {
		return nil, nil
	}
	if _, ok := parseNumber(in.Value); !ok {
		return []string{fmt.Sprintf("value %q is not numeric", in.Value)}, nil
	}
	return nil, nil
}

// parseNumber accepts plain and thousands-separated decimals, optionally
// wrapped in a currency symbol, and returns the canonical form.
func parseNumber(s string) (string, bool) {
	clean := strings.TrimSpace(s)
	clean = strings.TrimLeft(clean, "$€£ ")
	clean = strings.ReplaceAll(clean, ",", "")
	if clean == "" {
		return "", false
	}
	f, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		return "", false
	}
	return strconv.FormatFloat(f, 'f', -1, 64), true
}
