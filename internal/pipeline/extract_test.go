package pipeline

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowforge/rowforge/internal/manifest"
	"github.com/rowforge/rowforge/internal/registry"
	"github.com/rowforge/rowforge/internal/registry/builtin"
	"github.com/rowforge/rowforge/internal/telemetry"
)

func writeCSVFile(t *testing.T, dir, name string, records [][]string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	w := csv.NewWriter(f)
	require.NoError(t, w.WriteAll(records))
	return path
}

func testBindings(t *testing.T) *telemetry.Bindings {
	t.Helper()
	dir := t.TempDir()
	events, err := telemetry.NewEventSink(filepath.Join(dir, "events.ndjson"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { events.Close() })
	return telemetry.NewBindings(events, &telemetry.ArtifactSink{Path: filepath.Join(dir, "artifact.json")}, nil)
}

func buildModules(t *testing.T, m *manifest.Manifest) []*registry.ColumnModule {
	t.Helper()
	r := registry.NewColumnRegistry(nil)
	builtin.Register(r)
	modules, err := r.Build(m)
	require.NoError(t, err)
	return modules
}

func membershipManifest(t *testing.T) *manifest.Manifest {
	t.Helper()
	m, err := manifest.Parse([]byte(`{
		"manifest_version": "1",
		"columns": [
			{"field": "member_id", "script": "synonym", "required": true, "synonyms": ["Member ID"]},
			{"field": "amount", "script": "numeric"}
		],
		"writer": {"append_unmapped_columns": true}
	}`))
	require.NoError(t, err)
	return m
}

func TestExtractInputs_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	path := writeCSVFile(t, dir, "members.csv", [][]string{
		{"Member ID", "Amount", "Notes"},
		{"M-001", "$1,200.50", "vip"},
		{"M-002", "n/a", ""},
	})

	m := membershipManifest(t)
	e := NewExtractor(testBindings(t), nil)
	tables, err := e.ExtractInputs(context.Background(),
		[]StagedInput{{Path: path, OriginalName: "members.csv"}},
		buildModules(t, m), m, registry.JobContext{JobID: "job-1"}, nil)
	require.NoError(t, err)
	require.Len(t, tables, 1)

	table := tables[0]
	assert.Equal(t, "members.csv", table.SourceFile)
	require.Len(t, table.Mapped, 2)
	assert.Equal(t, "member_id", table.Mapped[0].Field)
	assert.Equal(t, "amount", table.Mapped[1].Field)

	// The unmapped Notes column is carried with the configured prefix.
	require.Len(t, table.Extras, 1)
	assert.Equal(t, "raw_Notes", table.Extras[0].OutputHeader)

	require.Len(t, table.Rows, 2)
	assert.Equal(t, "M-001", table.Rows[0]["member_id"])
	assert.Equal(t, "1200.5", table.Rows[0]["amount"])
	assert.Equal(t, "vip", table.Rows[0]["raw_Notes"])

	// "n/a" survives untransformed and is reported twice: transform warning
	// and row validation.
	assert.Equal(t, "n/a", table.Rows[1]["amount"])
	assert.NotEmpty(t, table.Issues)
}

func TestExtractInputs_RequiredColumnMissing(t *testing.T) {
	dir := t.TempDir()
	path := writeCSVFile(t, dir, "input.csv", [][]string{
		{"Something Else"},
		{"x"},
	})

	m := membershipManifest(t)
	e := NewExtractor(testBindings(t), nil)
	tables, err := e.ExtractInputs(context.Background(),
		[]StagedInput{{Path: path, OriginalName: "input.csv"}},
		buildModules(t, m), m, registry.JobContext{}, nil)
	require.NoError(t, err)
	require.Len(t, tables, 1)

	found := false
	for _, issue := range tables[0].Issues {
		if issue.Field == "member_id" && issue.RowIndex == -1 {
			found = true
		}
	}
	assert.True(t, found, "expected a required-column issue for member_id")
}

func TestExtractInputs_UnreadableFile(t *testing.T) {
	m := membershipManifest(t)
	e := NewExtractor(testBindings(t), nil)
	_, err := e.ExtractInputs(context.Background(),
		[]StagedInput{{Path: filepath.Join(t.TempDir(), "missing.csv"), OriginalName: "missing.csv"}},
		buildModules(t, m), m, registry.JobContext{}, nil)
	assert.Error(t, err)
}

func TestWriteOutput_CSVRoundTrip(t *testing.T) {
	dir := t.TempDir()
	in := writeCSVFile(t, dir, "members.csv", [][]string{
		{"Member ID", "Amount"},
		{"M-001", "10"},
	})

	m := membershipManifest(t)
	e := NewExtractor(testBindings(t), nil)
	tables, err := e.ExtractInputs(context.Background(),
		[]StagedInput{{Path: in, OriginalName: "members.csv"}},
		buildModules(t, m), m, registry.JobContext{}, nil)
	require.NoError(t, err)

	out := filepath.Join(dir, "out.csv")
	require.NoError(t, WriteOutput(out, m, tables))

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, records, 2)
	assert.Equal(t, []string{"member_id", "amount"}, records[0])
	assert.Equal(t, []string{"M-001", "10"}, records[1])
}

func TestReadTable_UnsupportedExtension(t *testing.T) {
	_, err := ReadTable(filepath.Join(t.TempDir(), "input.pdf"), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CSV, XLSX")
}

// mismatchTransformer drops every value but the first.
type mismatchTransformer struct{ stubCapability }

func (mismatchTransformer) Transform(_ context.Context, in registry.TransformInput) (registry.TransformResult, error) {
	return registry.TransformResult{Values: in.Values[:1]}, nil
}

func TestExtractInputs_TransformLengthMismatchRecorded(t *testing.T) {
	dir := t.TempDir()
	path := writeCSVFile(t, dir, "amounts.csv", [][]string{
		{"Amount"},
		{"1"},
		{"2"},
	})

	m, err := manifest.Parse([]byte(`{
		"manifest_version": "1",
		"columns": [{"field": "amount", "script": "numeric"}]
	}`))
	require.NoError(t, err)

	mod := &registry.ColumnModule{
		Field: "amount",
		Meta:  manifest.Column{Field: "amount"},
		Detectors: []registry.Detector{scoreDetector{
			stubCapability: stubCapability{name: "amount_match"},
			field:          "amount",
			scores:         map[string]float64{"Amount": 1.0},
		}},
		Transformer: mismatchTransformer{stubCapability{name: "truncating"}},
	}

	e := NewExtractor(testBindings(t), nil)
	tables, err := e.ExtractInputs(context.Background(),
		[]StagedInput{{Path: path, OriginalName: "amounts.csv"}},
		[]*registry.ColumnModule{mod}, m, registry.JobContext{}, nil)
	require.NoError(t, err)
	require.Len(t, tables, 1)

	// The short result is discarded, originals survive, and the loss is
	// reported as an issue on the field.
	require.Len(t, tables[0].Rows, 2)
	assert.Equal(t, "1", tables[0].Rows[0]["amount"])
	assert.Equal(t, "2", tables[0].Rows[1]["amount"])

	var reported bool
	for _, issue := range tables[0].Issues {
		if issue.Field == "amount" && strings.Contains(issue.Message, "transform returned 1 values for 2 rows") {
			reported = true
		}
	}
	assert.True(t, reported, "expected a length-mismatch issue for amount")
}
