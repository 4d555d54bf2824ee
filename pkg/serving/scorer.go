// Package serving scores feature vectors against the persisted risk model.
package serving

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/synaptica-ai/halo/pkg/common/logger"
	"github.com/synaptica-ai/halo/pkg/ml/forest"
	"github.com/synaptica-ai/halo/pkg/observability/metrics"
	"github.com/synaptica-ai/halo/pkg/storage"
)

const (
	OutcomeEvent   = "Hypoglycemic Episode (6 months)"
	OutcomeNoEvent = "No Hypoglycemic Event Expected (6 months)"

	ConfidenceHigh   = "High"
	ConfidenceMedium = "Medium"
	ConfidenceLow    = "Low"

	PlaceholderProbability = 0.75
)

var (
	ErrMissingFeature = errors.New("missing feature")
	ErrUnknownFeature = errors.New("unknown feature")
)

// Prediction keeps the probability at full precision; rounding is a
// presentation concern.
type Prediction struct {
	Outcome     string
	Probability float64
	Confidence  string
	Placeholder bool
}

// Confidence buckets a probability: above 0.7 is High, above 0.4 Medium.
func Confidence(p float64) string {
	switch {
	case p > 0.7:
		return ConfidenceHigh
	case p > 0.4:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

func Outcome(p float64) string {
	if p > 0.5 {
		return OutcomeEvent
	}
	return OutcomeNoEvent
}

func placeholder() Prediction {
	return Prediction{Outcome: OutcomeEvent, Probability: PlaceholderProbability, Confidence: ConfidenceHigh, Placeholder: true}
}

// Scorer is safe for concurrent use. The model is swapped as a whole.
type Scorer struct {
	model atomic.Pointer[forest.Model]
}

func NewScorer(model *forest.Model) *Scorer {
	s := &Scorer{}
	s.Swap(model)
	return s
}

// LoadScorer reads the model at path. A missing or unreadable model leaves
// the scorer in placeholder mode and is logged.
func LoadScorer(path string) *Scorer {
	s := NewScorer(nil)
	if err := s.Reload(path); err != nil {
		logger.Log.WithError(err).WithField("path", path).Warn("Model not loaded; serving placeholder predictions")
	}
	return s
}

func (s *Scorer) Swap(model *forest.Model) {
	s.model.Store(model)
	metrics.SetModelLoaded(model != nil)
}

// Reload replaces the model only when the new one reads and validates.
func (s *Scorer) Reload(path string) error {
	model, err := storage.LoadModel(path)
	metrics.ObserveReload(err == nil)
	if err != nil {
		return err
	}
	s.Swap(model)
	logger.Log.WithFields(map[string]interface{}{
		"path":     path,
		"trees":    len(model.Trees),
		"features": len(model.FeatureNames),
	}).Info("Model loaded")
	return nil
}

func (s *Scorer) Model() *forest.Model { return s.model.Load() }

// Score accepts any vector length: short vectors are zero-padded and long
// ones truncated to the model width.
func (s *Scorer) Score(vector []float64) Prediction {
	model := s.model.Load()
	if model == nil {
		metrics.ObservePrediction(true)
		return placeholder()
	}
	width := model.NumFeatures()
	x := vector
	if len(vector) != width {
		metrics.ObserveVectorMismatch()
		x = make([]float64, width)
		copy(x, vector)
	}
	metrics.ObservePrediction(false)
	return predict(model, x)
}

// ScoreNamed builds the vector from the model's feature order and rejects
// requests that omit a feature or name one the model does not know.
func (s *Scorer) ScoreNamed(features map[string]float64) (Prediction, error) {
	model := s.model.Load()
	if model == nil {
		metrics.ObservePrediction(true)
		return placeholder(), nil
	}
	known := make(map[string]struct{}, len(model.FeatureNames))
	x := make([]float64, len(model.FeatureNames))
	var missing []string
	for i, name := range model.FeatureNames {
		known[name] = struct{}{}
		v, ok := features[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		x[i] = v
	}
	if len(missing) > 0 {
		metrics.ObserveNamedRejected()
		return Prediction{}, fmt.Errorf("%w: %s", ErrMissingFeature, strings.Join(missing, ", "))
	}
	var unknown []string
	for name := range features {
		if _, ok := known[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		metrics.ObserveNamedRejected()
		return Prediction{}, fmt.Errorf("%w: %s", ErrUnknownFeature, strings.Join(unknown, ", "))
	}
	metrics.ObservePrediction(false)
	return predict(model, x), nil
}

func predict(model *forest.Model, x []float64) Prediction {
	p := model.PredictProba(x)
	return Prediction{Outcome: Outcome(p), Probability: p, Confidence: Confidence(p)}
}
