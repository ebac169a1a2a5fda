package builtin

import (
	"context"
	"fmt"
	"regexp"

	"github.com/rowforge/rowforge/internal/manifest"
	"github.com/rowforge/rowforge/internal/registry"
)

// NewRegexpPlugin builds a value-shape detector from the column's pattern,
// plus a transformer extracting the first capture group when one is declared.
func NewRegexpPlugin(col manifest.Column) (registry.Plugin, error) {
	if col.Pattern == "" {
		return nil, fmt.Errorf("regexp plugin requires a column pattern")
	}
	re, err := regexp.Compile(col.Pattern)
	if err != nil {
		return nil, fmt.Errorf("compile pattern: %w", err)
	}
	p := plugin{
		detectors: []registry.Detector{&regexpDetector{
			capability: capability{name: "detect_regexp", params: detectorParams},
			field:      col.Field,
			re:         re,
		}},
	}
	if re.NumSubexp() > 0 {
		p.transformer = &regexpTransformer{
			capability: capability{name: "transform_regexp", params: transformerParams},
			re:         re,
		}
	}
	return p, nil
}

type regexpDetector struct {
	capability
	field string
	re    *regexp.Regexp
}

// Detect scores the fraction of sampled values matching the pattern.
func (d *regexpDetector) Detect(_ context.Context, in registry.DetectInput) (map[string]float64, error) {
	if len(in.Values) == 0 {
		return nil, nil
	}
	matched := 0
	for _, v := range in.Values {
		if d.re.MatchString(v) {
			matched++
		}
	}
	if matched == 0 {
		return nil, nil
	}
	return map[string]float64{d.field: float64(matched) / float64(len(in.Values))}, nil
}

type regexpTransformer struct {
	capability
	re *regexp.Regexp
}

func (t *regexpTransformer) Transform(_ context.Context, in registry.TransformInput) (registry.TransformResult, error) {
	out := registry.TransformResult{Values: make([]string, len(in.Values))}
	for i, v := range in.Values {
		m := t.re.FindStringSubmatch(v)
		if len(m) > 1 {
			out.Values[i] = m[1]
			continue
		}
		out.Values[i] = v
		if v != "" {
			out.Warnings = append(out.Warnings, fmt.Sprintf("row %d: %q does not match pattern", i, v))
		}
	}
	return out, nil
}
