// Package model implements the anomaly detector: a standard scaler and a
// deterministic isolation forest, trained and applied on feature matrices.
package model

import (
	"fmt"
	"math"

	"github.com/opensource-finance/sentinel/internal/domain"
)

// minMaxEps keeps the batch normalization finite when every score in the
// batch is identical.
const minMaxEps = 1e-9

// Model bundles a fitted scaler, a trained forest, and the exact feature
// schema both were fitted on.
type Model struct {
	Scaler *Scaler
	Forest *Forest
	Schema domain.ModelSchema
}

// Train fits a scaler and isolation forest on the matrix. columns and
// vocab become the persisted schema that inference later enforces.
func Train(matrix [][]float64, columns []string, vocab domain.Vocabulary, cfg domain.ModelConfig) (*Model, error) {
	if len(matrix) == 0 {
		return nil, fmt.Errorf("train: no feature rows")
	}
	if len(columns) != len(matrix[0]) {
		return nil, fmt.Errorf("train: %d columns named but rows have %d values", len(columns), len(matrix[0]))
	}

	scaler, err := FitScaler(matrix)
	if err != nil {
		return nil, fmt.Errorf("train: %w", err)
	}
	scaled, err := scaler.Transform(matrix)
	if err != nil {
		return nil, fmt.Errorf("train: %w", err)
	}
	forest, err := TrainForest(scaled, cfg.Trees, cfg.SubsampleSize, cfg.Seed)
	if err != nil {
		return nil, fmt.Errorf("train: %w", err)
	}

	return &Model{
		Scaler: scaler,
		Forest: forest,
		Schema: domain.ModelSchema{
			Columns:    append([]string(nil), columns...),
			Vocabulary: vocab,
		},
	}, nil
}

// Infer scores a feature matrix. columns must equal the trained schema
// exactly; any drift returns a SchemaMismatchError rather than a silent
// reorder. The returned probabilities are min-max normalized within this
// batch, so they rank events against each other in one run only.
func (m *Model) Infer(matrix [][]float64, columns []string) ([]float64, error) {
	if !m.Schema.ColumnsEqual(columns) {
		return nil, &domain.SchemaMismatchError{
			Want: m.Schema.Columns,
			Got:  columns,
		}
	}
	if len(matrix) == 0 {
		return nil, nil
	}

	scaled, err := m.Scaler.Transform(matrix)
	if err != nil {
		return nil, fmt.Errorf("infer: %w", err)
	}

	raw := make([]float64, len(scaled))
	lo, hi := math.Inf(1), math.Inf(-1)
	for i, row := range scaled {
		s := m.Forest.Score(row)
		raw[i] = s
		if s < lo {
			lo = s
		}
		if s > hi {
			hi = s
		}
	}

	span := hi - lo + minMaxEps
	probs := make([]float64, len(raw))
	for i, s := range raw {
		probs[i] = (s - lo) / span
	}
	return probs, nil
}
