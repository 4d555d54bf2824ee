package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/synaptica-ai/halo/pkg/common/models"
	"github.com/synaptica-ai/halo/pkg/dataset"
	"github.com/synaptica-ai/halo/pkg/ml/forest"
	"github.com/synaptica-ai/halo/pkg/panel"
	"github.com/synaptica-ai/halo/pkg/storage"
	"github.com/synaptica-ai/halo/pkg/training"
)

type fakeRegistry struct {
	mu       sync.Mutex
	started  []uuid.UUID
	statuses map[uuid.UUID]string
	metrics  map[string]interface{}
}

func (f *fakeRegistry) Start(_ context.Context, run *RunModel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, run.ID)
	return nil
}

func (f *fakeRegistry) Finish(_ context.Context, id uuid.UUID, status string, metrics map[string]interface{}, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statuses == nil {
		f.statuses = map[uuid.UUID]string{}
	}
	f.statuses[id] = status
	f.metrics = metrics
	return nil
}

type fakeEvents struct{ types []string }

func (f *fakeEvents) PublishEvent(_ context.Context, eventType, _ string, _ map[string]interface{}) error {
	f.types = append(f.types, eventType)
	return nil
}

type fakeCache struct{ published map[string]float64 }

func (f *fakeCache) Publish(_ context.Context, importance map[string]float64) error {
	f.published = importance
	return nil
}

func testConfig(t *testing.T) Config {
	t.Helper()
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.CohortSize = 300
	cfg.ArtifactDir = dir
	cfg.OutputDir = filepath.Join(dir, "outputs")
	cfg.Impute.MaxIter = 2
	cfg.Training.Forest = forest.Options{Trees: 8, Bootstrap: true, Balanced: true}
	cfg.Training.AttributionRows = 20
	return cfg
}

func TestRunWritesEveryOutput(t *testing.T) {
	cfg := testConfig(t)
	registry := &fakeRegistry{}
	events := &fakeEvents{}
	cache := &fakeCache{}
	runner, err := NewRunner(cfg, WithRegistry(registry), WithEvents(events), WithImportanceCache(cache))
	if err != nil {
		t.Fatalf("runner: %v", err)
	}
	report, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Wide != 300 || report.Stacked != 600 || report.Nulled == 0 || report.Imputed == 0 || report.Imputed > report.Nulled {
		t.Fatalf("unexpected report %+v", report)
	}

	for _, name := range []string{
		storage.WideFile(300, ""), storage.WideFile(300, "missing"), storage.WideFile(300, "mice"),
		storage.StackedFile, storage.FeaturesFile, storage.ReportFile, storage.MetricsFile,
		storage.ImportanceFile, storage.ROCChartFile, storage.CalibChartFile, storage.ShapChartFile,
	} {
		if _, err := os.Stat(runner.Store().OutputPath(name)); err != nil {
			t.Fatalf("missing output %s: %v", name, err)
		}
	}
	if _, err := os.Stat(runner.Store().OutputPath(storage.ShapErrorFile)); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("shap error file written although attribution succeeded")
	}
	model, err := storage.LoadModel(runner.Store().ModelPath())
	if err != nil {
		t.Fatalf("load model: %v", err)
	}
	names, err := storage.ReadFeatures(runner.Store().OutputPath(storage.FeaturesFile))
	if err != nil || len(names) != len(model.FeatureNames) {
		t.Fatalf("feature list does not match model: %v %v", names, err)
	}

	mice, err := dataset.ReadCSVFile(runner.Store().OutputPath(storage.WideFile(300, "mice")))
	if err != nil {
		t.Fatalf("read mice: %v", err)
	}
	if !mice.Has("hba1c_T1_mice_imputed") {
		t.Fatal("imputed wide file lacks indicator columns")
	}
	stacked, err := dataset.ReadCSVFile(runner.Store().OutputPath(storage.StackedFile))
	if err != nil {
		t.Fatalf("read stacked: %v", err)
	}
	tps, _ := stacked.Floats(panel.ColTimepoint)
	for _, tp := range tps {
		if tp == 2 {
			t.Fatal("stacked panel contains a T2 row")
		}
	}

	if registry.statuses[report.RunID] != StatusCompleted || registry.metrics["mean_auc"] == nil {
		t.Fatalf("registry not updated: %+v", registry)
	}
	if len(events.types) != 1 || events.types[0] != models.EventModelPublished {
		t.Fatalf("unexpected events %v", events.types)
	}
	if len(cache.published) != len(model.FeatureNames) {
		t.Fatalf("cache got %d features, model has %d", len(cache.published), len(model.FeatureNames))
	}
}

func TestFailedTrainingKeepsPreviousArtifacts(t *testing.T) {
	cfg := testConfig(t)
	runner, err := NewRunner(cfg)
	if err != nil {
		t.Fatalf("runner: %v", err)
	}
	sentinel := []byte("previous model")
	if err := os.WriteFile(runner.Store().ModelPath(), sentinel, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	stacked := dataset.NewTable(10)
	ids := make([]string, 10)
	sex := make([]string, 10)
	for i := range ids {
		ids[i] = "P"
		sex[i] = "F"
	}
	_ = stacked.AddText("patient_id", ids)
	_ = stacked.AddText("sex", sex)
	_ = stacked.AddNumeric("hba1c", make([]float64, 10))
	_ = stacked.AddNumeric(panel.LabelHypo, make([]float64, 10))

	_, err = runner.Train(context.Background(), stacked)
	if !errors.Is(err, training.ErrSingleClass) {
		t.Fatalf("expected single class error, got %v", err)
	}
	content, _ := os.ReadFile(runner.Store().ModelPath())
	if string(content) != string(sentinel) {
		t.Fatal("failed training overwrote the model")
	}
	if _, err := os.Stat(runner.Store().OutputPath(storage.MetricsFile)); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("failed training wrote metrics")
	}
	if !IsDataError(err) {
		t.Fatal("single class should classify as a data error")
	}
}

func TestAttributionFailureWritesNote(t *testing.T) {
	cfg := testConfig(t)
	trainer := training.NewTrainer(cfg.Training, nil, nil)
	runner, err := NewRunner(cfg, WithTrainer(trainer))
	if err != nil {
		t.Fatalf("runner: %v", err)
	}
	if err := runner.store.WriteText(storage.ShapChartFile, "stale"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := runner.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	note, err := os.ReadFile(runner.Store().OutputPath(storage.ShapErrorFile))
	if err != nil || len(note) == 0 {
		t.Fatalf("missing shap error note: %v", err)
	}
	if _, err := os.Stat(runner.Store().OutputPath(storage.ShapChartFile)); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("stale shap chart survived")
	}
}

func TestFailedArtifactWriteKeepsPreviousModel(t *testing.T) {
	cfg := testConfig(t)
	runner, err := NewRunner(cfg)
	if err != nil {
		t.Fatalf("runner: %v", err)
	}
	sentinel := []byte("previous model")
	if err := os.WriteFile(runner.Store().ModelPath(), sentinel, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	// A non-empty directory at the metrics path makes the rename fail.
	blocked := runner.Store().OutputPath(storage.MetricsFile)
	if err := os.MkdirAll(filepath.Join(blocked, "keep"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	if _, err := runner.Run(context.Background()); err == nil {
		t.Fatal("expected the metrics write to fail")
	}
	content, _ := os.ReadFile(runner.Store().ModelPath())
	if string(content) != string(sentinel) {
		t.Fatal("model was replaced before every artifact was written")
	}
	if _, err := os.Stat(runner.Store().OutputPath(storage.FeaturesFile)); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("feature list was written for a model that was never persisted")
	}
}

func TestLoadConfigOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	content := "cohort_size: 120\nseeds:\n  missingness: 7\ntraining:\n  folds: 3\n  forest:\n    trees: 20\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.CohortSize != 120 || cfg.Seeds.Missingness != 7 || cfg.Seeds.Synthesize != 42 {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.Training.Folds != 3 || cfg.Training.Forest.Trees != 20 || !cfg.Training.Forest.Bootstrap {
		t.Fatalf("training overlay lost defaults: %+v", cfg.Training)
	}
	if len(cfg.Missingness.Tiers) != 3 {
		t.Fatal("missingness schedule defaults lost")
	}

	if err := os.WriteFile(path, []byte("cohort_size: 0\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected validation error for empty cohort")
	}
}
