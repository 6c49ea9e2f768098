package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"

	"claimscore/internal/schema"
)

// Linear is a binary logistic model:
//
//	p = sigmoid(bias + Σ w_i x_i)
//
// A NaN feature contributes nothing to the sum.
type Linear struct {
	FeatureNames []string  `json:"feature_names"`
	Weights      []float64 `json:"weights"`
	Bias         float64   `json:"bias"`
	Threshold    float64   `json:"threshold"`
}

// LoadLinear decodes a linear artifact and checks that its feature names are
// exactly the schema columns in schema order.
func LoadLinear(r io.Reader, s *schema.Schema) (*Linear, error) {
	var m Linear
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, &ArtifactError{Reason: "decode: " + err.Error()}
	}
	if len(m.Weights) != len(m.FeatureNames) {
		return nil, &ArtifactError{Reason: fmt.Sprintf("%d weights for %d features", len(m.Weights), len(m.FeatureNames))}
	}
	if !s.Equal(m.FeatureNames) {
		i := schema.FirstDifference(s.Columns(), m.FeatureNames)
		return nil, &ArtifactError{Reason: fmt.Sprintf("feature names differ from schema %s at position %d", s.Version(), i)}
	}
	if m.Threshold == 0 {
		m.Threshold = 0.5
	}
	if m.Threshold <= 0 || m.Threshold >= 1 {
		return nil, &ArtifactError{Reason: fmt.Sprintf("threshold %v outside (0, 1)", m.Threshold)}
	}
	return &m, nil
}

// PredictProba returns the fraud probability of each row.
func (m *Linear) PredictProba(X [][]float64) []float64 {
	out := make([]float64, len(X))
	for i, row := range X {
		sum := m.Bias
		for j, v := range row {
			if math.IsNaN(v) {
				continue
			}
			sum += m.Weights[j] * v
		}
		out[i] = sigmoid(sum)
	}
	return out
}

// Predict implements gate.Classifier.
func (m *Linear) Predict(ctx context.Context, X [][]float64) ([]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkWidth(X, len(m.Weights)); err != nil {
		return nil, err
	}
	proba := m.PredictProba(X)
	out := make([]int, len(proba))
	for i, p := range proba {
		if p >= m.Threshold {
			out[i] = 1
		}
	}
	return out, nil
}
