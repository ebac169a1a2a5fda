package builtin

import (
	"context"
	"fmt"
	"time"

	"github.com/rowforge/rowforge/internal/manifest"
	"github.com/rowforge/rowforge/internal/registry"
)

var dateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"02.01.2006",
	"Jan 2, 2006",
	"2 Jan 2006",
	"2006/01/02",
}

// NewDatePlugin builds the date column bundle: detection by parseability and
// normalization to ISO 8601 dates.
func NewDatePlugin(col manifest.Column) (registry.Plugin, error) {
	return plugin{
		detectors: []registry.Detector{&dateDetector{
			capability: capability{name: "detect_date", params: detectorParams},
			field:      col.Field,
		}},
		transformer: &dateTransformer{
			capability: capability{name: "transform_date", params: transformerParams},
		},
		validator: &dateValidator{
			capability: capability{name: "validate_date", params: validatorParams},
		},
	}, nil
}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

type dateDetector struct {
	capability
	field string
}

func (d *dateDetector) Detect(_ context.Context, in registry.DetectInput) (map[string]float64, error) {
	if len(in.Values) == 0 {
		return nil, nil
	}
	parsed := 0
	for _, v := range in.Values {
		if _, ok := parseDate(v); ok {
			parsed++
		}
	}
	if parsed == 0 {
		return nil, nil
	}
	return map[string]float64{d.field: float64(parsed) / float64(len(in.Values))}, nil
}

type dateTransformer struct{ capability }

func (t *dateTransformer) Transform(_ context.Context, in registry.TransformInput) (registry.TransformResult, error) {
	out := registry.TransformResult{Values: make([]string, len(in.Values))}
	for i, v := range in.Values {
		if v == "" {
			continue
		}
		d, ok := parseDate(v)
		if !ok {
			out.Values[i] = v
			out.Warnings = append(out.Warnings, fmt.Sprintf("row %d: %q is not a recognized date", i, v))
			continue
		}
		out.Values[i] = d.Format("2006-01-02")
	}
	return out, nil
}

type dateValidator struct{ capability }

func (v *dateValidator) Validate(_ context.Context, in registry.ValidateInput) ([]string, error) {
	if in.Value == "" {
		return nil, nil
	}
	if _, err := time.Parse("2006-01-02", in.Value); err != nil {
		return []string{fmt.Sprintf("value %q is not an ISO date", in.Value)}, nil
	}
	return nil, nil
}
