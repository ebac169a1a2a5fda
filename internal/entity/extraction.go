package entity

// ScoreContribution records one detector's share of a mapping score.
type ScoreContribution struct {
	Detector string  `json:"detector"`
	Score    float64 `json:"score"`
}

// MappedColumn is a header assigned to a manifest field.
type MappedColumn struct {
	Field         string              `json:"field"`
	Header        string              `json:"header"`
	Index         int                 `json:"index"`
	Score         float64             `json:"score"`
	Contributions []ScoreContribution `json:"contributions,omitempty"`
}

// ExtraColumn is a header never selected for any field.
type ExtraColumn struct {
	Header       string `json:"header"`
	Index        int    `json:"index"`
	OutputHeader string `json:"output_header,omitempty"`
}

// ValidationIssue is a transformer warning or validator failure attached to a table.
type ValidationIssue struct {
	Field    string `json:"field"`
	RowIndex int    `json:"row_index"`
	Message  string `json:"message"`
}

// FileExtraction is the normalized result for one input file. Created per
// input file per run; embedded in the artifact, never persisted elsewhere.
type FileExtraction struct {
	SourceFile string              `json:"source_file"`
	Sheet      string              `json:"sheet,omitempty"`
	Mapped     []MappedColumn      `json:"mapped"`
	Extras     []ExtraColumn       `json:"extras,omitempty"`
	Rows       []map[string]string `json:"rows"`
	Issues     []ValidationIssue   `json:"issues,omitempty"`
}
