package builtin

import (
	"context"
	"strings"

	"github.com/rowforge/rowforge/internal/manifest"
	"github.com/rowforge/rowforge/internal/registry"
)

// NewSynonymPlugin builds the header-name detector: it scores a candidate
// header against the column's field, label and declared synonyms.
func NewSynonymPlugin(col manifest.Column) (registry.Plugin, error) {
	targets := make([]string, 0, len(col.Synonyms)+2)
	targets = append(targets, normalizeHeader(col.Field))
	if col.Label != "" {
		targets = append(targets, normalizeHeader(col.Label))
	}
	for _, s := range col.Synonyms {
		targets = append(targets, normalizeHeader(s))
	}
	return plugin{
		detectors: []registry.Detector{&synonymDetector{
			capability: capability{name: "detect_synonym", params: detectorParams},
			field:      col.Field,
			targets:    targets,
		}},
	}, nil
}

type synonymDetector struct {
	capability
	field   string
	targets []string
}

func (d *synonymDetector) Detect(_ context.Context, in registry.DetectInput) (map[string]float64, error) {
	header := normalizeHeader(in.Header)
	if header == "" {
		return nil, nil
	}
	best := 0.0
	for _, t := range d.targets {
		if t == "" {
			continue
		}
		switch {
		case header == t:
			best = max(best, 1.0)
		case strings.Contains(header, t) || strings.Contains(t, header):
			best = max(best, 0.6)
		}
	}
	if best == 0 {
		return nil, nil
	}
	return map[string]float64{d.field: best}, nil
}

// normalizeHeader lowercases and collapses every non-alphanumeric run so
// "Member ID", "member_id" and "member-id" compare equal.
func normalizeHeader(s string) string {
	var b strings.Builder
	lastSep := true
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastSep = false
		default:
			if !lastSep {
				b.WriteByte('_')
				lastSep = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}
