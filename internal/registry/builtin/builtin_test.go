package builtin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowforge/rowforge/internal/manifest"
	"github.com/rowforge/rowforge/internal/registry"
)

func TestRegister_AllPluginsValidate(t *testing.T) {
	r := registry.NewColumnRegistry(nil)
	Register(r)

	m := &manifest.Manifest{
		Version: "1",
		Columns: []manifest.Column{
			{Field: "member_id", Script: "synonym", Synonyms: []string{"Member ID"}},
			{Field: "amount", Script: "numeric"},
			{Field: "joined", Script: "date"},
			{Field: "code", Script: "regexp", Pattern: `^[A-Z]{2}\d{4}$`},
		},
	}
	modules, err := r.Build(m)
	require.NoError(t, err)
	require.Len(t, modules, 4)
}

func TestSynonymDetector(t *testing.T) {
	p, err := NewSynonymPlugin(manifest.Column{
		Field:    "member_id",
		Synonyms: []string{"Member Number"},
	})
	require.NoError(t, err)
	d := p.Detectors()[0]

	scores, err := d.Detect(context.Background(), registry.DetectInput{Header: "Member ID"})
	require.NoError(t, err)
	assert.Equal(t, 1.0, scores["member_id"])

	scores, err = d.Detect(context.Background(), registry.DetectInput{Header: "member-number"})
	require.NoError(t, err)
	assert.Equal(t, 1.0, scores["member_id"])

	scores, err = d.Detect(context.Background(), registry.DetectInput{Header: "Membership Status"})
	require.NoError(t, err)
	assert.Empty(t, scores)
}

func TestNumericPlugin(t *testing.T) {
	p, err := NewNumericPlugin(manifest.Column{Field: "amount"})
	require.NoError(t, err)

	scores, err := p.Detectors()[0].Detect(context.Background(), registry.DetectInput{
		Values: []string{"$1,200.50", "17", "n/a", "3.14"},
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.75, scores["amount"], 1e-9)

	res, err := p.Transformer().Transform(context.Background(), registry.TransformInput{
		Field:  "amount",
		Values: []string{"$1,200.50", "", "n/a"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"1200.5", "", "n/a"}, res.Values)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], `"n/a"`)

	issues, err := p.Validator().Validate(context.Background(), registry.ValidateInput{
		Field: "amount", Value: "n/a", RowIndex: 2,
	})
	require.NoError(t, err)
	require.Len(t, issues, 1)
}

func TestDatePlugin(t *testing.T) {
	p, err := NewDatePlugin(manifest.Column{Field: "joined"})
	require.NoError(t, err)

	res, err := p.Transformer().Transform(context.Background(), registry.TransformInput{
		Field:  "joined",
		Values: []string{"01/02/2006", "Jan 2, 2006", "yesterday"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"2006-01-02", "2006-01-02", "yesterday"}, res.Values)
	require.Len(t, res.Warnings, 1)

	issues, err := p.Validator().Validate(context.Background(), registry.ValidateInput{
		Field: "joined", Value: "yesterday",
	})
	require.NoError(t, err)
	require.Len(t, issues, 1)

	issues, err = p.Validator().Validate(context.Background(), registry.ValidateInput{
		Field: "joined", Value: "2006-01-02",
	})
	require.NoError(t, err)
	assert.Empty(t, issues)
}

func TestRegexpPlugin(t *testing.T) {
	p, err := NewRegexpPlugin(manifest.Column{Field: "code", Pattern: `^[A-Z]{2}\d{4}$`})
	require.NoError(t, err)

	scores, err := p.Detectors()[0].Detect(context.Background(), registry.DetectInput{
		Values: []string{"AB1234", "CD5678", "oops", "EF9012"},
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.75, scores["code"], 1e-9)

	_, err = NewRegexpPlugin(manifest.Column{Field: "code", Pattern: `([`})
	assert.Error(t, err)
}

func TestNormalizeHeader(t *testing.T) {
	assert.Equal(t, "member_id", normalizeHeader("  Member ID "))
	assert.Equal(t, "member_id", normalizeHeader("member-id"))
	assert.Equal(t, "member_id", normalizeHeader("MEMBER__ID"))
	assert.Equal(t, "", normalizeHeader("!!!"))
}
