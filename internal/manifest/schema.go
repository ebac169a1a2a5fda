package manifest

// BuildManifestJSONSchema returns a JSON-Schema (draft 2020-12 subset) as a
// generic map. Manifests are validated against it before any column or hook
// resolution happens.
func BuildManifestJSONSchema() map[string]any {
	hookRef := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"name":   map[string]any{"type": "string"},
			"script": map[string]any{"type": "string"},
		},
	}
	hookList := map[string]any{"type": "array", "items": hookRef}

	column := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"field":    map[string]any{"type": "string", "minLength": 1, "pattern": `^[a-z][a-z0-9_]*$`},
			"label":    map[string]any{"type": "string"},
			"script":   map[string]any{"type": "string", "minLength": 1},
			"required": map[string]any{"type": "boolean"},
			"enabled":  map[string]any{"type": "boolean"},
			"synonyms": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"pattern":  map[string]any{"type": "string"},
		},
		"required": []string{"field", "script"},
	}

	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"schema":           map[string]any{"type": "string"},
			"manifest_version": map[string]any{"type": "string", "minLength": 1},
			"columns": map[string]any{
				"type":     "array",
				"minItems": 1,
				"items":    column,
			},
			"defaults": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"properties": map[string]any{
					"timeout_seconds": map[string]any{"type": "integer", "minimum": 1},
					"memory_mb":       map[string]any{"type": "integer", "minimum": 1},
					"match_threshold": map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0},
					"sample_size":     map[string]any{"type": "integer", "minimum": 1},
				},
			},
			"writer": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"properties": map[string]any{
					"sheet_name":              map[string]any{"type": "string"},
					"unmapped_prefix":         map[string]any{"type": "string"},
					"append_unmapped_columns": map[string]any{"type": "boolean"},
				},
			},
			"hooks": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"properties": map[string]any{
					"on_activate":      hookList,
					"on_job_start":     hookList,
					"on_after_extract": hookList,
					"on_before_save":   hookList,
					"on_job_end":       hookList,
				},
			},
		},
		"required": []string{"manifest_version", "columns"},
	}
}
