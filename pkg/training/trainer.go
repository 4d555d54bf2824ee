// Package training cross-validates, explains and fits the hypoglycemia risk
// classifier on the stacked panel.
package training

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/synaptica-ai/halo/pkg/common/logger"
	"github.com/synaptica-ai/halo/pkg/common/rng"
	"github.com/synaptica-ai/halo/pkg/dataset"
	"github.com/synaptica-ai/halo/pkg/ml/forest"
	"github.com/synaptica-ai/halo/pkg/ml/metrics"
	"github.com/synaptica-ai/halo/pkg/ml/shap"
	"github.com/synaptica-ai/halo/pkg/ml/validation"
	"github.com/synaptica-ai/halo/pkg/panel"
	"golang.org/x/sync/errgroup"
)

var (
	ErrSingleClass     = errors.New("label has a single class")
	ErrTooFewPositives = errors.New("minority class is smaller than the fold count")
)

// Oversampler rebalances a training split.
type Oversampler interface {
	Resample(r *rand.Rand, x [][]float64, y []int) ([][]float64, []int, error)
}

// Attributor explains a fitted model over a set of rows.
type Attributor interface {
	Attribute(ctx context.Context, model *forest.Model, rows [][]float64) (*shap.Attribution, error)
}

// TreeAttributor runs exact TreeSHAP.
type TreeAttributor struct{}

func (TreeAttributor) Attribute(ctx context.Context, model *forest.Model, rows [][]float64) (*shap.Attribution, error) {
	explainer, err := shap.NewTreeExplainer(model)
	if err != nil {
		return nil, err
	}
	return explainer.Explain(ctx, rows)
}

type Options struct {
	Label           string         `yaml:"label" json:"label"`
	Folds           int            `yaml:"folds" json:"folds"`
	Seed            uint64         `yaml:"seed" json:"seed"`
	OversampleBelow float64        `yaml:"oversample_below" json:"oversample_below"`
	GridPoints      int            `yaml:"grid_points" json:"grid_points"`
	CalibrationBins int            `yaml:"calibration_bins" json:"calibration_bins"`
	HoldoutFraction float64        `yaml:"holdout_fraction" json:"holdout_fraction"`
	AttributionRows int            `yaml:"attribution_rows" json:"attribution_rows"`
	Forest          forest.Options `yaml:"forest" json:"forest"`
}

func DefaultOptions() Options {
	return Options{
		Label:           panel.LabelHypo,
		Folds:           5,
		Seed:            42,
		OversampleBelow: 0.4,
		GridPoints:      100,
		CalibrationBins: 10,
		HoldoutFraction: 0.2,
		AttributionRows: 250,
		Forest:          forest.DefaultOptions(),
	}
}

type Trainer struct {
	opts        Options
	oversampler Oversampler
	attributor  Attributor
}

// NewTrainer takes optional capabilities; a nil oversampler or attributor is
// recorded in the evaluation instead of failing the run.
func NewTrainer(opts Options, oversampler Oversampler, attributor Attributor) *Trainer {
	d := DefaultOptions()
	if opts.Label == "" {
		opts.Label = d.Label
	}
	if opts.Folds < 2 {
		opts.Folds = d.Folds
	}
	if opts.GridPoints < 2 {
		opts.GridPoints = d.GridPoints
	}
	if opts.CalibrationBins <= 0 {
		opts.CalibrationBins = d.CalibrationBins
	}
	if opts.HoldoutFraction <= 0 || opts.HoldoutFraction >= 1 {
		opts.HoldoutFraction = d.HoldoutFraction
	}
	if opts.AttributionRows <= 0 {
		opts.AttributionRows = d.AttributionRows
	}
	return &Trainer{opts: opts, oversampler: oversampler, attributor: attributor}
}

// Result is everything a run produces. Model is the holdout-split classifier
// that gets persisted for serving.
type Result struct {
	Evaluation *Evaluation
	Model      *forest.Model
	Final      *forest.Model
	Matrix     *Matrix
}

func (t *Trainer) Run(ctx context.Context, stacked *dataset.Table) (*Result, error) {
	start := time.Now()
	m, err := BuildMatrix(stacked, t.opts.Label)
	if err != nil {
		return nil, err
	}
	counts := classCounts(m.Y)
	if counts[0] == 0 || counts[1] == 0 {
		return nil, fmt.Errorf("%w: %d negatives, %d positives", ErrSingleClass, counts[0], counts[1])
	}
	if min(counts[0], counts[1]) < t.opts.Folds {
		return nil, fmt.Errorf("%w: %d minority rows for %d folds", ErrTooFewPositives, min(counts[0], counts[1]), t.opts.Folds)
	}

	log := logger.WithStage("training").WithFields(map[string]interface{}{
		"rows":      len(m.Y),
		"features":  len(m.Names),
		"positives": counts[1],
	})
	log.Info("Starting cross-validation")

	eval := &Evaluation{
		Label:       t.opts.Label,
		Rows:        len(m.Y),
		Positives:   counts[1],
		Features:    m.Names,
		Oversampler: t.oversamplerPath(),
	}
	if err := t.crossValidate(ctx, m, eval); err != nil {
		return nil, err
	}

	final, err := t.fit(ctx, rng.Derive(t.opts.Seed, 1000), m.X, m.Y, m.Names)
	if err != nil {
		return nil, fmt.Errorf("final model: %w", err)
	}
	eval.Attribution = t.attribute(ctx, final, m)

	model, err := t.holdout(ctx, m, eval)
	if err != nil {
		return nil, err
	}
	eval.Duration = time.Since(start)

	log.WithFields(map[string]interface{}{
		"mean_auc":    eval.MeanAUC,
		"holdout_auc": eval.Holdout.AUC,
		"duration":    eval.Duration.String(),
	}).Info("Training finished")
	return &Result{Evaluation: eval, Model: model, Final: final, Matrix: m}, nil
}

func (t *Trainer) oversamplerPath() string {
	if t.oversampler == nil {
		return "unavailable"
	}
	return "smote"
}

// fit oversamples when the positive rate is below the threshold, then grows
// a forest. Both steps draw from r in that order.
func (t *Trainer) fit(ctx context.Context, r *rand.Rand, x [][]float64, y []int, names []string) (*forest.Model, error) {
	x, y, _, err := t.maybeOversample(r, x, y)
	if err != nil {
		return nil, err
	}
	return forest.NewClassifier(t.opts.Forest).Fit(ctx, r, x, y, names)
}

func (t *Trainer) maybeOversample(r *rand.Rand, x [][]float64, y []int) ([][]float64, []int, bool, error) {
	counts := classCounts(y)
	if t.oversampler == nil || counts[0] == 0 || counts[1] == 0 || positiveRate(y) >= t.opts.OversampleBelow {
		return x, y, false, nil
	}
	rx, ry, err := t.oversampler.Resample(r, x, y)
	if err != nil {
		return nil, nil, false, fmt.Errorf("oversampling: %w", err)
	}
	return rx, ry, true, nil
}

func (t *Trainer) crossValidate(ctx context.Context, m *Matrix, eval *Evaluation) error {
	folds, err := validation.StratifiedKFold(rng.New(t.opts.Seed), m.Y, t.opts.Folds)
	if err != nil {
		return err
	}
	grid := metrics.Linspace(0, 1, t.opts.GridPoints)
	results := make([]FoldResult, len(folds))
	oof := make([][]float64, len(folds))

	g, gctx := errgroup.WithContext(ctx)
	for i, fold := range folds {
		g.Go(func() error {
			r := rng.Derive(t.opts.Seed, i)
			xtr, ytr := subset(m.X, m.Y, fold.Train)
			xte, yte := subset(m.X, m.Y, fold.Test)
			xtr, ytr, oversampled, err := t.maybeOversample(r, xtr, ytr)
			if err != nil {
				return fmt.Errorf("fold %d: %w", i, err)
			}
			model, err := forest.NewClassifier(t.opts.Forest).Fit(gctx, r, xtr, ytr, m.Names)
			if err != nil {
				return fmt.Errorf("fold %d: %w", i, err)
			}
			probs := model.PredictProbaBatch(xte)
			roc, err := metrics.ROCCurve(yte, probs)
			if err != nil {
				return fmt.Errorf("fold %d: %w", i, err)
			}
			tpr := metrics.Interp(grid, roc.FPR, roc.TPR)
			tpr[0] = 0
			results[i] = FoldResult{
				Fold:        i,
				TrainRows:   len(ytr),
				TestRows:    len(yte),
				Oversampled: oversampled,
				AUC:         metrics.AUC(roc.FPR, roc.TPR),
				ROC:         roc,
				TPR:         tpr,
			}
			oof[i] = probs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	meanTPR := make([]float64, len(grid))
	var pooledY []int
	var pooledP []float64
	for i, res := range results {
		for j, v := range res.TPR {
			meanTPR[j] += v / float64(len(results))
		}
		pooledP = append(pooledP, oof[i]...)
		for _, row := range folds[i].Test {
			pooledY = append(pooledY, m.Y[row])
		}
	}
	meanTPR[len(meanTPR)-1] = 1
	bins, err := metrics.Calibration(pooledY, pooledP, t.opts.CalibrationBins)
	if err != nil {
		return fmt.Errorf("calibration: %w", err)
	}

	eval.Folds = results
	eval.MeanFPR = grid
	eval.MeanTPR = meanTPR
	eval.MeanAUC = metrics.AUC(grid, meanTPR)
	eval.Calibration = bins
	eval.Brier = metrics.Brier(pooledY, pooledP)
	return nil
}

// attribute explains a deterministic sample of rows. Failures are recorded,
// never returned.
func (t *Trainer) attribute(ctx context.Context, model *forest.Model, m *Matrix) AttributionStatus {
	if t.attributor == nil {
		return AttributionStatus{Reason: "no attribution method configured"}
	}
	rows := m.X
	if len(rows) > t.opts.AttributionRows {
		idx := rng.Derive(t.opts.Seed, 2000).Perm(len(rows))[:t.opts.AttributionRows]
		rows = make([][]float64, len(idx))
		for k, i := range idx {
			rows[k] = m.X[i]
		}
	}
	attr, err := t.attributor.Attribute(ctx, model, rows)
	if err != nil {
		logger.WithStage("training").WithError(err).Warn("Attribution failed")
		return AttributionStatus{Reason: err.Error()}
	}
	return AttributionStatus{Generated: true, Result: attr}
}

func (t *Trainer) holdout(ctx context.Context, m *Matrix, eval *Evaluation) (*forest.Model, error) {
	split, err := validation.StratifiedSplit(rng.New(t.opts.Seed), m.Y, t.opts.HoldoutFraction)
	if err != nil {
		return nil, fmt.Errorf("holdout split: %w", err)
	}
	xtr, ytr := subset(m.X, m.Y, split.Train)
	xte, yte := subset(m.X, m.Y, split.Test)
	model, err := t.fit(ctx, rng.Derive(t.opts.Seed, 3000), xtr, ytr, m.Names)
	if err != nil {
		return nil, fmt.Errorf("holdout model: %w", err)
	}
	probs := model.PredictProbaBatch(xte)
	pred := make([]int, len(probs))
	for i, p := range probs {
		if p > 0.5 {
			pred[i] = 1
		}
	}
	eval.Holdout = Holdout{
		TrainRows: len(ytr),
		TestRows:  len(yte),
		Accuracy:  metrics.Accuracy(yte, pred),
		AUC:       metrics.ROCAUC(yte, probs),
		Report:    metrics.ClassificationReport(yte, pred),
	}
	if math.IsNaN(eval.Holdout.AUC) {
		logger.WithStage("training").Warn("Holdout split has a single class; AUC undefined")
	}
	return model, nil
}
