package manifest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowforge/rowforge/constants"
)

func validManifestJSON() []byte {
	return []byte(`{
		"manifest_version": "1",
		"columns": [
			{"field": "member_id", "script": "synonym", "required": true, "synonyms": ["Member ID", "ID"]},
			{"field": "amount", "script": "numeric"},
			{"field": "notes", "script": "synonym", "enabled": false}
		],
		"defaults": {"timeout_seconds": 60, "match_threshold": 0.7},
		"writer": {"sheet_name": "Normalized"},
		"hooks": {
			"on_job_start": [{"name": "audit"}],
			"on_before_save": [{"script": "hooks/before_save.py"}]
		}
	}`)
}

func TestParse_Valid(t *testing.T) {
	m, err := Parse(validManifestJSON())
	require.NoError(t, err)
	require.NotNil(t, m)

	assert.Equal(t, "1", m.Version)
	require.Len(t, m.Columns, 3)
	assert.Equal(t, "member_id", m.Columns[0].Field)
	assert.True(t, m.Columns[0].Required)

	assert.Equal(t, 60, m.Defaults.TimeoutSeconds)
	assert.Equal(t, time.Minute, m.Defaults.Timeout())
	assert.Equal(t, 0.7, m.Defaults.MatchThreshold)
	assert.Equal(t, "Normalized", m.Writer.SheetName)
}

func TestParse_FillsDefaults(t *testing.T) {
	m, err := Parse([]byte(`{
		"manifest_version": "1",
		"columns": [{"field": "a", "script": "synonym"}]
	}`))
	require.NoError(t, err)

	assert.Equal(t, 300, m.Defaults.TimeoutSeconds)
	assert.Equal(t, 0.5, m.Defaults.MatchThreshold)
	assert.Equal(t, 20, m.Defaults.SampleSize)
	assert.Equal(t, "Output", m.Writer.SheetName)
	assert.Equal(t, "raw_", m.Writer.UnmappedPrefix)
}

func TestParse_RejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"missing columns":     `{"manifest_version": "1"}`,
		"empty columns":       `{"manifest_version": "1", "columns": []}`,
		"missing script":      `{"manifest_version": "1", "columns": [{"field": "a"}]}`,
		"bad field name":      `{"manifest_version": "1", "columns": [{"field": "Member ID", "script": "s"}]}`,
		"unknown property":    `{"manifest_version": "1", "columns": [{"field": "a", "script": "s"}], "extra": 1}`,
		"threshold too large": `{"manifest_version": "1", "columns": [{"field": "a", "script": "s"}], "defaults": {"match_threshold": 1.5}}`,
		"not json":            `{`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(body))
			assert.Error(t, err)
		})
	}
}

func TestEnabledColumns(t *testing.T) {
	m, err := Parse(validManifestJSON())
	require.NoError(t, err)

	enabled := m.EnabledColumns()
	require.Len(t, enabled, 2)
	assert.Equal(t, "member_id", enabled[0].Field)
	assert.Equal(t, "amount", enabled[1].Field)
}

func TestHooksForStage(t *testing.T) {
	m, err := Parse(validManifestJSON())
	require.NoError(t, err)

	start := m.Hooks.ForStage(constants.StageOnJobStart)
	require.Len(t, start, 1)
	assert.Equal(t, "audit", start[0].Name)

	save := m.Hooks.ForStage(constants.StageOnBeforeSave)
	require.Len(t, save, 1)
	assert.Equal(t, "hooks/before_save.py", save[0].Script)

	assert.Empty(t, m.Hooks.ForStage(constants.StageOnJobEnd))
}
