// Package classifier loads the fraud models the gate can call.
//
// Three kinds are supported:
//   - linear: a logistic model exported as JSON weights
//   - trees:  an XGBoost JSON dump of a gradient-boosted ensemble
//   - remote: an HTTP model service
//
// Local artifacts are checked against the schema at load time; a model that
// was trained on a different column set is refused before any upload is
// scored.
package classifier

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"claimscore/internal/config"
	"claimscore/internal/gate"
	"claimscore/internal/schema"
)

// ErrArtifact marks a model artifact that cannot serve the schema.
var ErrArtifact = errors.New("invalid model artifact")

// ArtifactError describes why an artifact was refused.
type ArtifactError struct {
	Path   string
	Reason string
}

func (e *ArtifactError) Error() string {
	if e.Path == "" {
		return "model artifact: " + e.Reason
	}
	return fmt.Sprintf("model artifact %s: %s", e.Path, e.Reason)
}

func (e *ArtifactError) Unwrap() error { return ErrArtifact }

// Open builds the classifier described by m for schema s.
func Open(m config.Model, s *schema.Schema) (gate.Classifier, error) {
	threshold := m.Threshold
	if threshold == 0 {
		threshold = config.DefaultThreshold
	}

	switch m.Kind {
	case "linear":
		f, err := os.Open(m.Path)
		if err != nil {
			return nil, fmt.Errorf("open linear model: %w", err)
		}
		defer f.Close()
		lin, err := LoadLinear(f, s)
		if err != nil {
			return nil, withPath(err, m.Path)
		}
		if m.Threshold != 0 {
			lin.Threshold = m.Threshold
		}
		return lin, nil

	case "trees":
		f, err := os.Open(m.Path)
		if err != nil {
			return nil, fmt.Errorf("open tree model: %w", err)
		}
		defer f.Close()
		tr, err := LoadTrees(f, s, m.BaseScore, threshold)
		if err != nil {
			return nil, withPath(err, m.Path)
		}
		return tr, nil

	case "remote":
		timeout := time.Duration(m.TimeoutSeconds) * time.Second
		if timeout <= 0 {
			timeout = config.DefaultTimeoutSeconds * time.Second
		}
		return NewRemote(m.URL, timeout, s.Columns()), nil

	default:
		return nil, fmt.Errorf("unsupported model kind %q", m.Kind)
	}
}

func withPath(err error, path string) error {
	var ae *ArtifactError
	if errors.As(err, &ae) && ae.Path == "" {
		ae.Path = path
	}
	return err
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// logit is the inverse of sigmoid. p must be in (0, 1).
func logit(p float64) float64 {
	return math.Log(p / (1 - p))
}

func checkWidth(X [][]float64, want int) error {
	for i, row := range X {
		if len(row) != want {
			return fmt.Errorf("row %d has %d features, model expects %d", i, len(row), want)
		}
	}
	return nil
}
