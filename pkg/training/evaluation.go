package training

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/synaptica-ai/halo/pkg/ml/metrics"
	"github.com/synaptica-ai/halo/pkg/ml/shap"
)

type FoldResult struct {
	Fold        int         `json:"fold"`
	TrainRows   int         `json:"train_rows"`
	TestRows    int         `json:"test_rows"`
	Oversampled bool        `json:"oversampled"`
	AUC         float64     `json:"auc"`
	ROC         metrics.ROC `json:"-"`
	TPR         []float64   `json:"-"`
}

type Holdout struct {
	TrainRows int            `json:"train_rows"`
	TestRows  int            `json:"test_rows"`
	Accuracy  float64        `json:"accuracy"`
	AUC       float64        `json:"roc_auc"`
	Report    metrics.Report `json:"classification_report"`
}

// AttributionStatus either carries the attribution or why there is none.
type AttributionStatus struct {
	Generated bool
	Reason    string
	Result    *shap.Attribution
}

// Note is the one-line status written into the report.
func (a AttributionStatus) Note() string {
	if a.Generated {
		return "SHAP generated"
	}
	return "SHAP not generated: " + a.Reason
}

type Evaluation struct {
	Label       string
	Rows        int
	Positives   int
	Features    []string
	Oversampler string
	Folds       []FoldResult
	MeanFPR     []float64
	MeanTPR     []float64
	MeanAUC     float64
	Calibration []metrics.CalibrationBin
	Brier       float64
	Attribution AttributionStatus
	Holdout     Holdout
	Duration    time.Duration
}

// Markdown renders the human-readable evaluation report.
func (e *Evaluation) Markdown() string {
	var b strings.Builder
	b.WriteString("# HALO evaluation\n")
	fmt.Fprintf(&b, "Accuracy: %.4f\n", e.Holdout.Accuracy)
	fmt.Fprintf(&b, "ROC AUC: %s\n\n", formatFloat(e.Holdout.AUC, 4))
	b.WriteString("```\n")
	b.WriteString(e.Holdout.Report.String())
	b.WriteString("```\n\n")
	fmt.Fprintf(&b, "SHAP status: %s\n\n", e.Attribution.Note())

	b.WriteString("## Cross-validation\n\n")
	fmt.Fprintf(&b, "Label: %s, rows: %d, positives: %d, oversampling: %s\n\n", e.Label, e.Rows, e.Positives, e.Oversampler)
	b.WriteString("| fold | train | test | oversampled | AUC |\n|---|---|---|---|---|\n")
	for _, f := range e.Folds {
		fmt.Fprintf(&b, "| %d | %d | %d | %t | %.3f |\n", f.Fold, f.TrainRows, f.TestRows, f.Oversampled, f.AUC)
	}
	fmt.Fprintf(&b, "\nMean ROC AUC: %.3f\n", e.MeanAUC)
	fmt.Fprintf(&b, "Brier score (out-of-fold): %.4f\n", e.Brier)

	if e.Attribution.Generated && e.Attribution.Result != nil {
		b.WriteString("\n## Top features by mean |SHAP|\n\n")
		for i, r := range e.Attribution.Result.Ranking() {
			if i == 10 {
				break
			}
			fmt.Fprintf(&b, "%d. %s (%.4f)\n", i+1, r.Feature, r.MeanAbs)
		}
	}
	return b.String()
}

// Summary is the machine-readable subset persisted as JSON. Undefined
// values are written as null.
type Summary struct {
	Label            string                   `json:"label"`
	Rows             int                      `json:"rows"`
	Positives        int                      `json:"positives"`
	Features         []string                 `json:"features"`
	Oversampler      string                   `json:"oversampler"`
	Folds            []FoldResult             `json:"folds"`
	MeanAUC          *float64                 `json:"mean_auc"`
	Brier            *float64                 `json:"brier"`
	Calibration      []metrics.CalibrationBin `json:"calibration"`
	HoldoutAccuracy  *float64                 `json:"holdout_accuracy"`
	HoldoutAUC       *float64                 `json:"holdout_auc"`
	Report           metrics.Report           `json:"classification_report"`
	Attribution      string                   `json:"attribution"`
	DurationSeconds  float64                  `json:"duration_seconds"`
	Ranking          []shap.Ranked            `json:"attribution_ranking,omitempty"`
	ModelGeneratedAt time.Time                `json:"generated_at"`
}

func (e *Evaluation) Summary(now time.Time) Summary {
	s := Summary{
		Label:            e.Label,
		Rows:             e.Rows,
		Positives:        e.Positives,
		Features:         e.Features,
		Oversampler:      e.Oversampler,
		Folds:            e.Folds,
		MeanAUC:          finite(e.MeanAUC),
		Brier:            finite(e.Brier),
		Calibration:      e.Calibration,
		HoldoutAccuracy:  finite(e.Holdout.Accuracy),
		HoldoutAUC:       finite(e.Holdout.AUC),
		Report:           e.Holdout.Report,
		Attribution:      e.Attribution.Note(),
		DurationSeconds:  e.Duration.Seconds(),
		ModelGeneratedAt: now.UTC(),
	}
	if e.Attribution.Result != nil {
		s.Ranking = e.Attribution.Result.Ranking()
	}
	return s
}

// Importance maps each feature to its mean |SHAP| share, falling back to
// the model's impurity importances when attribution did not run.
func (e *Evaluation) Importance(impurity []float64) map[string]float64 {
	out := make(map[string]float64, len(e.Features))
	if e.Attribution.Generated && e.Attribution.Result != nil {
		total := 0.0
		for _, v := range e.Attribution.Result.MeanAbs {
			total += v
		}
		for i, name := range e.Attribution.Result.FeatureNames {
			if total > 0 {
				out[name] = e.Attribution.Result.MeanAbs[i] / total
			} else {
				out[name] = 0
			}
		}
		return out
	}
	for i, name := range e.Features {
		if i < len(impurity) {
			out[name] = impurity[i]
		}
	}
	return out
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func formatFloat(v float64, digits int) string {
	if math.IsNaN(v) {
		return "nan"
	}
	return fmt.Sprintf("%.*f", digits, v)
}
