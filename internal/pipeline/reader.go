package pipeline

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/rowforge/rowforge/constants"
)

// RawTable is one input file decoded to a header row plus data rows.
type RawTable struct {
	SourceFile string
	Sheet      string
	Headers    []string
	Rows       [][]string
}

// ReadTable decodes a CSV or XLSX file. For workbooks the named sheet is
// used, falling back to the first sheet when sheet is empty.
func ReadTable(path, sheet string) (*RawTable, error) {
	switch constants.MapExtToFormat(filepath.Ext(path)) {
	case "CSV":
		return readCSV(path)
	case "XLSX":
		return readXLSX(path, sheet)
	}
	return nil, fmt.Errorf("unsupported input format %s (supported: %s)",
		filepath.Ext(path), strings.Join(constants.TableFormats, ", "))
}

func readCSV(path string) (*RawTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("empty table: %s", filepath.Base(path))
	}
	return &RawTable{
		SourceFile: filepath.Base(path),
		Headers:    records[0],
		Rows:       normalizeRows(records[1:], len(records[0])),
	}, nil
}

func readXLSX(path, sheet string) (*RawTable, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("workbook has no sheets: %s", filepath.Base(path))
		}
		sheet = sheets[0]
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("empty table: %s!%s", filepath.Base(path), sheet)
	}
	return &RawTable{
		SourceFile: filepath.Base(path),
		Sheet:      sheet,
		Headers:    rows[0],
		Rows:       normalizeRows(rows[1:], len(rows[0])),
	}, nil
}

// normalizeRows pads or trims every row to the header width; spreadsheet
// libraries drop trailing empty cells.
func normalizeRows(rows [][]string, width int) [][]string {
	out := make([][]string, len(rows))
	for i, row := range rows {
		if len(row) == width {
			out[i] = row
			continue
		}
		fixed := make([]string, width)
		copy(fixed, row)
		out[i] = fixed
	}
	return out
}

// sampleColumn returns up to size non-empty values from column idx.
func sampleColumn(rows [][]string, idx, size int) []string {
	sample := make([]string, 0, size)
	for _, row := range rows {
		if idx >= len(row) {
			continue
		}
		if v := row[idx]; v != "" {
			sample = append(sample, v)
			if len(sample) == size {
				break
			}
		}
	}
	return sample
}
