package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/synaptica-ai/halo/pkg/cohort"
	"github.com/synaptica-ai/halo/pkg/common/logger"
	"github.com/synaptica-ai/halo/pkg/common/models"
	"github.com/synaptica-ai/halo/pkg/common/rng"
	"github.com/synaptica-ai/halo/pkg/dataset"
	"github.com/synaptica-ai/halo/pkg/impute"
	"github.com/synaptica-ai/halo/pkg/missingness"
	"github.com/synaptica-ai/halo/pkg/ml/resample"
	"github.com/synaptica-ai/halo/pkg/panel"
	"github.com/synaptica-ai/halo/pkg/storage"
	"github.com/synaptica-ai/halo/pkg/training"
)

const eventSource = "halo-pipeline"

// EventPublisher is satisfied by the kafka producer.
type EventPublisher interface {
	PublishEvent(ctx context.Context, eventType string, source string, data map[string]interface{}) error
}

// ImportancePublisher is satisfied by storage.ImportanceCache.
type ImportancePublisher interface {
	Publish(ctx context.Context, importance map[string]float64) error
}

type Runner struct {
	cfg      Config
	store    *storage.ArtifactStore
	trainer  *training.Trainer
	registry Registry
	events   EventPublisher
	cache    ImportancePublisher
}

type Option func(*Runner)

func WithRegistry(registry Registry) Option { return func(r *Runner) { r.registry = registry } }

func WithEvents(events EventPublisher) Option { return func(r *Runner) { r.events = events } }

func WithImportanceCache(cache ImportancePublisher) Option {
	return func(r *Runner) { r.cache = cache }
}

// WithTrainer replaces the default SMOTE + TreeSHAP trainer.
func WithTrainer(trainer *training.Trainer) Option { return func(r *Runner) { r.trainer = trainer } }

func NewRunner(cfg Config, opts ...Option) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	store, err := storage.NewArtifactStore(cfg.ArtifactDir, cfg.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("artifact store: %w", err)
	}
	r := &Runner{cfg: cfg, store: store}
	for _, opt := range opts {
		opt(r)
	}
	if r.trainer == nil {
		r.trainer = training.NewTrainer(cfg.Training, resample.NewSMOTE(5), training.TreeAttributor{})
	}
	return r, nil
}

func (r *Runner) Store() *storage.ArtifactStore { return r.store }

// Report summarizes a completed run.
type Report struct {
	RunID    uuid.UUID
	Wide     int
	Nulled   int
	Imputed  int
	Stacked  int
	Training *training.Result
}

// Run executes every stage in order. Training artifacts are written only
// after training succeeds, so a failed run leaves the previous model intact.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	report := &Report{RunID: uuid.New()}
	log := logger.WithStage("pipeline").WithField("run_id", report.RunID)
	r.startRun(ctx, report.RunID)

	result, err := r.runStages(ctx, report)
	if err != nil {
		log.WithError(err).Error("Pipeline run failed")
		r.finishRun(ctx, report.RunID, StatusFailed, nil, err.Error())
		r.publish(ctx, models.EventRunFailed, map[string]interface{}{
			"run_id": report.RunID.String(),
			"error":  err.Error(),
		})
		return nil, err
	}
	report.Training = result

	eval := result.Evaluation
	r.finishRun(ctx, report.RunID, StatusCompleted, runMetrics(eval), "")
	r.publish(ctx, models.EventModelPublished, map[string]interface{}{
		"run_id":     report.RunID.String(),
		"model_path": r.store.ModelPath(),
		"features":   len(result.Matrix.Names),
	})
	log.WithFields(map[string]interface{}{
		"stacked_rows": report.Stacked,
		"mean_auc":     eval.MeanAUC,
	}).Info("Pipeline run completed")
	return report, nil
}

func (r *Runner) runStages(ctx context.Context, report *Report) (*training.Result, error) {
	wide, err := r.Generate()
	if err != nil {
		return nil, err
	}
	report.Wide = wide.NumRows()
	missing, nulled, err := r.inject(wide)
	if err != nil {
		return nil, err
	}
	report.Nulled = nulled
	imputed, err := r.Impute(missing)
	if err != nil {
		return nil, err
	}
	report.Imputed = imputed.Mask.Count()
	stacked, err := r.Stack(imputed.Table)
	if err != nil {
		return nil, err
	}
	report.Stacked = stacked.NumRows()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.Train(ctx, stacked)
}

// Generate synthesizes the complete wide cohort.
func (r *Runner) Generate() (*dataset.Table, error) {
	patients := cohort.NewSynthesizer().Generate(rng.New(r.cfg.Seeds.Synthesize), r.cfg.CohortSize)
	wide, err := cohort.Flatten(patients)
	if err != nil {
		return nil, fmt.Errorf("flattening cohort: %w", err)
	}
	return wide, r.writeStage(wide, storage.WideFile(r.cfg.CohortSize, ""))
}

func (r *Runner) Inject(wide *dataset.Table) (*dataset.Table, error) {
	out, _, err := r.inject(wide)
	return out, err
}

func (r *Runner) inject(wide *dataset.Table) (*dataset.Table, int, error) {
	injector, err := missingness.NewInjector(r.cfg.Missingness)
	if err != nil {
		return nil, 0, err
	}
	before := nullCount(wide)
	out, err := injector.Inject(rng.New(r.cfg.Seeds.Missingness), wide)
	if err != nil {
		return nil, 0, fmt.Errorf("injecting missingness: %w", err)
	}
	return out, nullCount(out) - before, r.writeStage(out, storage.WideFile(wide.NumRows(), "missing"))
}

func (r *Runner) Impute(missing *dataset.Table) (*impute.Result, error) {
	res, err := impute.NewImputer(r.cfg.Impute).FitTransform(rng.New(r.cfg.Seeds.Impute), missing)
	if err != nil {
		return nil, fmt.Errorf("imputing: %w", err)
	}
	return res, r.writeStage(res.Table, storage.WideFile(missing.NumRows(), "mice"))
}

func (r *Runner) Stack(imputed *dataset.Table) (*dataset.Table, error) {
	stacked, err := panel.Reshape(imputed)
	if err != nil {
		return nil, fmt.Errorf("reshaping panel: %w", err)
	}
	return stacked, r.writeStage(stacked, storage.StackedFile)
}

// Train fits and evaluates, then writes the model and every training output.
func (r *Runner) Train(ctx context.Context, stacked *dataset.Table) (*training.Result, error) {
	result, err := r.trainer.Run(ctx, stacked)
	if err != nil {
		return nil, fmt.Errorf("training: %w", err)
	}
	if err := r.writeTraining(result); err != nil {
		return nil, err
	}
	importance := result.Evaluation.Importance(result.Model.Importances)
	if r.cache != nil {
		if err := r.cache.Publish(ctx, importance); err != nil {
			logger.WithStage("pipeline").WithError(err).Warn("Importance cache not updated")
		}
	}
	return result, nil
}

type artifactStep struct {
	name  string
	write func() error
}

func (r *Runner) writeTraining(result *training.Result) error {
	eval := result.Evaluation
	steps := []artifactStep{
		{storage.ReportFile, func() error { return r.store.WriteText(storage.ReportFile, eval.Markdown()) }},
		{storage.MetricsFile, func() error { return r.store.WriteJSON(storage.MetricsFile, eval.Summary(time.Now())) }},
		{storage.ImportanceFile, func() error {
			return r.store.WriteJSON(storage.ImportanceFile, eval.Importance(result.Model.Importances))
		}},
		{storage.ROCChartFile, func() error { return r.store.WriteWith(storage.ROCChartFile, eval.RenderROC) }},
		{storage.CalibChartFile, func() error { return r.store.WriteWith(storage.CalibChartFile, eval.RenderCalibration) }},
	}
	// Outputs from an earlier run must not contradict this one.
	if eval.Attribution.Generated {
		steps = append(steps,
			artifactStep{storage.ShapChartFile, func() error { return r.store.WriteWith(storage.ShapChartFile, eval.RenderAttribution) }},
			artifactStep{storage.ShapErrorFile, func() error { return r.store.Remove(storage.ShapErrorFile) }},
		)
	} else {
		steps = append(steps,
			artifactStep{storage.ShapErrorFile, func() error { return r.store.WriteText(storage.ShapErrorFile, eval.Attribution.Reason+"\n") }},
			artifactStep{storage.ShapChartFile, func() error { return r.store.Remove(storage.ShapChartFile) }},
		)
	}
	// The feature list and the model go last and together: serving reads
	// positional vectors in the persisted feature order.
	steps = append(steps,
		artifactStep{storage.FeaturesFile, func() error { return r.store.SaveFeatures(result.Matrix.Names) }},
		artifactStep{storage.ModelFile, func() error { return r.store.SaveModel(result.Model) }},
	)
	for _, step := range steps {
		if err := step.write(); err != nil {
			return fmt.Errorf("writing %s: %w", step.name, err)
		}
	}
	return nil
}

func (r *Runner) writeStage(t *dataset.Table, name string) error {
	path := r.store.OutputPath(name)
	if err := t.WriteCSVFile(path); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	logger.WithStage("pipeline").WithFields(map[string]interface{}{
		"file":    path,
		"rows":    t.NumRows(),
		"columns": t.NumColumns(),
	}).Info("Stage output written")
	return nil
}

func (r *Runner) startRun(ctx context.Context, id uuid.UUID) {
	if r.registry == nil {
		return
	}
	now := time.Now().UTC()
	run := &RunModel{
		ID:         id,
		Status:     StatusRunning,
		CohortSize: r.cfg.CohortSize,
		Config:     r.cfg.Summary(),
		CreatedAt:  now,
		UpdatedAt:  now,
		StartedAt:  &now,
	}
	if err := r.registry.Start(ctx, run); err != nil {
		logger.WithStage("pipeline").WithError(err).Warn("Run not recorded")
	}
}

func (r *Runner) finishRun(ctx context.Context, id uuid.UUID, status string, metrics map[string]interface{}, errorMessage string) {
	if r.registry == nil {
		return
	}
	artifact := ""
	if status == StatusCompleted {
		artifact = r.store.ModelPath()
	}
	if err := r.registry.Finish(context.WithoutCancel(ctx), id, status, metrics, artifact, errorMessage); err != nil {
		logger.WithStage("pipeline").WithError(err).Warn("Run status not recorded")
	}
}

func (r *Runner) publish(ctx context.Context, eventType string, data map[string]interface{}) {
	if r.events == nil {
		return
	}
	if err := r.events.PublishEvent(context.WithoutCancel(ctx), eventType, eventSource, data); err != nil {
		logger.WithStage("pipeline").WithError(err).WithField("event_type", eventType).Warn("Event not published")
	}
}

// runMetrics drops undefined values; the registry stores JSON.
func runMetrics(eval *training.Evaluation) map[string]interface{} {
	out := map[string]interface{}{
		"rows":      eval.Rows,
		"positives": eval.Positives,
	}
	for name, v := range map[string]float64{
		"mean_auc":         eval.MeanAUC,
		"brier":            eval.Brier,
		"holdout_accuracy": eval.Holdout.Accuracy,
		"holdout_auc":      eval.Holdout.AUC,
	} {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out[name] = v
		}
	}
	return out
}

func nullCount(t *dataset.Table) int {
	n := 0
	for _, c := range t.Columns() {
		n += c.NullCount()
	}
	return n
}

// IsDataError reports whether err came from the data rather than the
// environment, so callers can pick an exit code.
func IsDataError(err error) bool {
	return errors.Is(err, training.ErrSingleClass) ||
		errors.Is(err, training.ErrTooFewPositives) ||
		errors.Is(err, dataset.ErrMissingColumn)
}
