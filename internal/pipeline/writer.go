package pipeline

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/rowforge/rowforge/internal/entity"
	"github.com/rowforge/rowforge/internal/manifest"
)

// outputColumns computes the output header order: enabled fields in manifest
// declaration order, then appended unmapped headers in first-seen order.
func outputColumns(m *manifest.Manifest, tables []*entity.FileExtraction) []string {
	cols := make([]string, 0, len(m.Columns))
	for _, c := range m.EnabledColumns() {
		cols = append(cols, c.Field)
	}
	if m.Writer.AppendUnmapped {
		seen := make(map[string]bool)
		for _, t := range tables {
			for _, ex := range t.Extras {
				if ex.OutputHeader != "" && !seen[ex.OutputHeader] {
					seen[ex.OutputHeader] = true
					cols = append(cols, ex.OutputHeader)
				}
			}
		}
	}
	return cols
}

// WriteOutput writes the normalized tables to path, choosing the format from
// the extension (.csv or .xlsx).
func WriteOutput(path string, m *manifest.Manifest, tables []*entity.FileExtraction) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("output dir: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return writeCSV(path, m, tables)
	}
	return writeXLSX(path, m, tables)
}

func writeXLSX(path string, m *manifest.Manifest, tables []*entity.FileExtraction) error {
	f := excelize.NewFile()
	sheet := m.Writer.SheetName
	if index, _ := f.GetSheetIndex(sheet); index == -1 {
		if _, err := f.NewSheet(sheet); err != nil {
			return err
		}
	}
	activeIndex, _ := f.GetSheetIndex(sheet)
	f.SetActiveSheet(activeIndex)
	// Drop the default sheet when it is not the configured one.
	if sheet != "Sheet1" {
		_ = f.DeleteSheet("Sheet1")
	}

	cols := outputColumns(m, tables)
	for i, h := range cols {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	row := 2
	for _, t := range tables {
		for _, r := range t.Rows {
			for i, col := range cols {
				cell, _ := excelize.CoordinatesToCellName(i+1, row)
				_ = f.SetCellValue(sheet, cell, r[col])
			}
			row++
		}
	}

	for i := range cols {
		name, _ := excelize.ColumnNumberToName(i + 1)
		_ = f.SetColWidth(sheet, name, name, 18)
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}
	return nil
}

func writeCSV(path string, m *manifest.Manifest, tables []*entity.FileExtraction) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	cols := outputColumns(m, tables)
	if err := w.Write(cols); err != nil {
		return err
	}
	record := make([]string, len(cols))
	for _, t := range tables {
		for _, r := range t.Rows {
			for i, col := range cols {
				record[i] = r[col]
			}
			if err := w.Write(record); err != nil {
				return err
			}
		}
	}
	w.Flush()
	return w.Error()
}
