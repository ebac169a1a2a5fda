package pipeline

import (
	"context"
	"fmt"

	"github.com/rowforge/rowforge/internal/entity"
	"github.com/rowforge/rowforge/internal/manifest"
	"github.com/rowforge/rowforge/internal/registry"
)

// headerScore is the aggregate score for one (field, header) pair.
type headerScore struct {
	total         float64
	contributions []entity.ScoreContribution
}

// MapColumns runs every detector of every column module against every
// candidate header and assigns headers to fields.
//
// Contributions for the same (field, header) pair are summed. Fields claim
// headers in manifest declaration order: each field takes its highest-scoring
// unclaimed header iff that aggregate score meets the threshold, so when two
// fields tie on a header the first-declared field wins. Headers never claimed
// become extras.
func MapColumns(ctx context.Context, modules []*registry.ColumnModule, raw *RawTable, defaults manifest.Defaults, jobCtx registry.JobContext, env map[string]string) ([]entity.MappedColumn, []entity.ExtraColumn, error) {
	tableCtx := registry.TableContext{
		SourceFile: raw.SourceFile,
		Sheet:      raw.Sheet,
		Headers:    raw.Headers,
		RowCount:   len(raw.Rows),
	}

	// scores[field][headerIndex]
	scores := make(map[string]map[int]*headerScore)
	samples := make([][]string, len(raw.Headers))
	for i := range raw.Headers {
		samples[i] = sampleColumn(raw.Rows, i, defaults.SampleSize)
	}

	for _, mod := range modules {
		for _, det := range mod.Detectors {
			for idx, header := range raw.Headers {
				in := registry.DetectInput{
					Field:       mod.Field,
					Header:      header,
					Values:      samples[idx],
					ColumnIndex: idx,
					Table:       tableCtx,
					Job:         jobCtx,
					Env:         env,
				}
				contrib, err := det.Detect(ctx, in)
				if err != nil {
					return nil, nil, fmt.Errorf("detector %s on %q: %w", det.Name(), header, err)
				}
				for field, score := range contrib {
					if scores[field] == nil {
						scores[field] = make(map[int]*headerScore)
					}
					hs := scores[field][idx]
					if hs == nil {
						hs = &headerScore{}
						scores[field][idx] = hs
					}
					hs.total += score
					hs.contributions = append(hs.contributions, entity.ScoreContribution{
						Detector: det.Name(),
						Score:    score,
					})
				}
			}
		}
	}

	// Assignment pass: declaration order settles ties between fields.
	claimed := make(map[int]bool)
	var mapped []entity.MappedColumn
	for _, mod := range modules {
		best := -1
		var bestScore *headerScore
		for idx := range raw.Headers {
			if claimed[idx] {
				continue
			}
			hs := scores[mod.Field][idx]
			if hs == nil {
				continue
			}
			// Header ties within one field resolve to the lowest column index.
			if bestScore == nil || hs.total > bestScore.total {
				best = idx
				bestScore = hs
			}
		}
		if bestScore == nil || bestScore.total < defaults.MatchThreshold {
			continue
		}
		claimed[best] = true
		mapped = append(mapped, entity.MappedColumn{
			Field:         mod.Field,
			Header:        raw.Headers[best],
			Index:         best,
			Score:         bestScore.total,
			Contributions: bestScore.contributions,
		})
	}

	var extras []entity.ExtraColumn
	for idx, header := range raw.Headers {
		if !claimed[idx] {
			extras = append(extras, entity.ExtraColumn{Header: header, Index: idx})
		}
	}
	return mapped, extras, nil
}
