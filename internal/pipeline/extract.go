package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rowforge/rowforge/constants"
	"github.com/rowforge/rowforge/internal/entity"
	"github.com/rowforge/rowforge/internal/manifest"
	"github.com/rowforge/rowforge/internal/registry"
	"github.com/rowforge/rowforge/internal/telemetry"
)

// StagedInput is one input file staged into the job directory.
type StagedInput struct {
	Path         string
	OriginalName string
}

// Extractor turns staged input files into normalized tables using the
// resolved column modules.
type Extractor struct {
	logger *slog.Logger
	events *telemetry.Bindings
}

// NewExtractor creates an extractor emitting per-file telemetry to events.
func NewExtractor(events *telemetry.Bindings, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{logger: logger, events: events}
}

// ExtractInputs processes every staged input in order. Every processed file
// and every validation issue emits a structured event in addition to being
// embedded in the returned tables.
func (e *Extractor) ExtractInputs(ctx context.Context, inputs []StagedInput, modules []*registry.ColumnModule, m *manifest.Manifest, jobCtx registry.JobContext, env map[string]string) ([]*entity.FileExtraction, error) {
	tables := make([]*entity.FileExtraction, 0, len(inputs))
	for _, in := range inputs {
		table, err := e.processTable(ctx, in, modules, m, jobCtx, env)
		if err != nil {
			return nil, fmt.Errorf("process %s: %w", in.OriginalName, err)
		}
		tables = append(tables, table)

		e.events.Emit(constants.EventFileProcessed, map[string]any{
			"job_id":  jobCtx.JobID,
			"file":    table.SourceFile,
			"rows":    len(table.Rows),
			"mapped":  len(table.Mapped),
			"extras":  len(table.Extras),
			"issues":  len(table.Issues),
		})
		for _, issue := range table.Issues {
			e.events.Emit(constants.EventValidationIssue, map[string]any{
				"job_id":    jobCtx.JobID,
				"file":      table.SourceFile,
				"field":     issue.Field,
				"row_index": issue.RowIndex,
				"message":   issue.Message,
			})
		}
	}
	return tables, nil
}

func (e *Extractor) processTable(ctx context.Context, in StagedInput, modules []*registry.ColumnModule, m *manifest.Manifest, jobCtx registry.JobContext, env map[string]string) (*entity.FileExtraction, error) {
	raw, err := ReadTable(in.Path, "")
	if err != nil {
		return nil, err
	}
	raw.SourceFile = in.OriginalName

	mapped, extras, err := MapColumns(ctx, modules, raw, m.Defaults, jobCtx, env)
	if err != nil {
		return nil, err
	}

	table := &entity.FileExtraction{
		SourceFile: raw.SourceFile,
		Sheet:      raw.Sheet,
		Mapped:     mapped,
		Extras:     assignExtraHeaders(extras, m.Writer),
	}

	byField := make(map[string]*registry.ColumnModule, len(modules))
	for _, mod := range modules {
		byField[mod.Field] = mod
		if mod.Meta.Required && !isMapped(mapped, mod.Field) {
			table.Issues = append(table.Issues, entity.ValidationIssue{
				Field:    mod.Field,
				RowIndex: -1,
				Message:  "required column not found in input",
			})
		}
	}

	tableCtx := registry.TableContext{
		SourceFile: raw.SourceFile,
		Sheet:      raw.Sheet,
		Headers:    raw.Headers,
		RowCount:   len(raw.Rows),
	}

	// Column-wise transform, then row assembly.
	values := make(map[string][]string, len(mapped))
	for _, mc := range mapped {
		col := make([]string, len(raw.Rows))
		for i, row := range raw.Rows {
			col[i] = row[mc.Index]
		}
		mod := byField[mc.Field]
		if mod != nil && mod.Transformer != nil {
			res, err := mod.Transformer.Transform(ctx, registry.TransformInput{
				Field:       mc.Field,
				Header:      mc.Header,
				Values:      col,
				ColumnIndex: mc.Index,
				Table:       tableCtx,
				Job:         jobCtx,
				Env:         env,
			})
			if err != nil {
				return nil, fmt.Errorf("transform %s: %w", mc.Field, err)
			}
			if len(res.Values) == len(col) {
				col = res.Values
			} else {
				// The original column is kept; the lost transform must be
				// visible downstream.
				table.Issues = append(table.Issues, entity.ValidationIssue{
					Field:    mc.Field,
					RowIndex: -1,
					Message:  fmt.Sprintf("transform returned %d values for %d rows, keeping originals", len(res.Values), len(col)),
				})
			}
			for _, w := range res.Warnings {
				table.Issues = append(table.Issues, entity.ValidationIssue{
					Field:    mc.Field,
					RowIndex: -1,
					Message:  w,
				})
			}
		}
		values[mc.Field] = col
	}

	table.Rows = make([]map[string]string, len(raw.Rows))
	for i := range raw.Rows {
		row := make(map[string]string, len(mapped)+len(table.Extras))
		for _, mc := range mapped {
			row[mc.Field] = values[mc.Field][i]
		}
		for _, ex := range table.Extras {
			if ex.OutputHeader != "" {
				row[ex.OutputHeader] = raw.Rows[i][ex.Index]
			}
		}
		table.Rows[i] = row
	}

	// Row-wise validation on transformed values.
	for _, mc := range mapped {
		mod := byField[mc.Field]
		if mod == nil || mod.Validator == nil {
			continue
		}
		for i, row := range table.Rows {
			issues, err := mod.Validator.Validate(ctx, registry.ValidateInput{
				Field:    mc.Field,
				Value:    row[mc.Field],
				RowIndex: i,
				Row:      row,
			})
			if err != nil {
				return nil, fmt.Errorf("validate %s: %w", mc.Field, err)
			}
			for _, msg := range issues {
				table.Issues = append(table.Issues, entity.ValidationIssue{
					Field:    mc.Field,
					RowIndex: i,
					Message:  msg,
				})
			}
		}
	}

	e.logger.Debug("table processed",
		"file", table.SourceFile,
		"rows", len(table.Rows),
		"mapped", len(table.Mapped),
		"extras", len(table.Extras),
		"issues", len(table.Issues),
	)
	return table, nil
}

// assignExtraHeaders fills output headers for unmapped columns when the
// writer appends them; otherwise they stay recorded but are dropped from
// output.
func assignExtraHeaders(extras []entity.ExtraColumn, w manifest.Writer) []entity.ExtraColumn {
	if !w.AppendUnmapped {
		return extras
	}
	for i := range extras {
		extras[i].OutputHeader = w.UnmappedPrefix + extras[i].Header
	}
	return extras
}

func isMapped(mapped []entity.MappedColumn, field string) bool {
	for _, mc := range mapped {
		if mc.Field == field {
			return true
		}
	}
	return false
}
