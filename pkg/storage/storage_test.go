package storage

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/synaptica-ai/halo/pkg/ml/forest"
)

func tinyModel() *forest.Model {
	return &forest.Model{
		FeatureNames: []string{"hba1c", "sex_M"},
		ClassWeights: [2]float64{0.6, 3},
		Trees: []forest.Tree{{Nodes: []forest.Node{
			{Feature: 0, Threshold: 7, Left: 1, Right: 2, Value: [2]float64{0.5, 0.5}, Cover: 10},
			{Feature: -1, Value: [2]float64{0.2, 0.8}, Cover: 4},
			{Feature: -1, Value: [2]float64{0.9, 0.1}, Cover: 6},
		}}},
		Importances: []float64{1, 0},
	}
}

func TestModelRoundTripThroughZstd(t *testing.T) {
	dir := t.TempDir()
	store, err := NewArtifactStore(dir, filepath.Join(dir, "outputs"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := store.SaveModel(tinyModel()); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := LoadModel(store.ModelPath())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := loaded.PredictProba([]float64{6, 0}); got != 0.8 {
		t.Fatalf("loaded model scores %v, want 0.8", got)
	}
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if e.Name() != ModelFile && e.Name() != "outputs" {
			t.Fatalf("stray file %s left behind", e.Name())
		}
	}
}

func TestLoadModelRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), ModelFile)
	if err := os.WriteFile(path, []byte("not zstd"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadModel(path); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestFeaturesAndOutputs(t *testing.T) {
	dir := t.TempDir()
	store, _ := NewArtifactStore(dir, dir)
	if err := store.SaveFeatures([]string{"age_at_index", "sex_M"}); err != nil {
		t.Fatalf("save features: %v", err)
	}
	names, err := ReadFeatures(store.OutputPath(FeaturesFile))
	if err != nil || len(names) != 2 || names[1] != "sex_M" {
		t.Fatalf("read features %v %v", names, err)
	}
	raw, _ := os.ReadFile(store.OutputPath(FeaturesFile))
	if string(raw) != "features\nage_at_index\nsex_M\n" {
		t.Fatalf("unexpected csv %q", raw)
	}

	if err := store.WriteJSON(ImportanceFile, map[string]float64{"hba1c": 0.7}); err != nil {
		t.Fatalf("write json: %v", err)
	}
	imp, err := ReadImportance(store.OutputPath(ImportanceFile))
	if err != nil || imp["hba1c"] != 0.7 {
		t.Fatalf("read importance %v %v", imp, err)
	}

	if err := store.WriteText(ShapErrorFile, "SHAP not generated"); err != nil {
		t.Fatalf("write text: %v", err)
	}
	if err := store.Remove(ShapErrorFile); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := store.Remove(ShapErrorFile); err != nil {
		t.Fatalf("removing a missing file should succeed: %v", err)
	}
	if WideFile(500, "mice") != "synthetic_halo_wide_500_mice.csv" || WideFile(500, "") != "synthetic_halo_wide_500.csv" {
		t.Fatal("unexpected wide file names")
	}
}

func TestWriteAtomicKeepsOldFileOnFailure(t *testing.T) {
	dir := t.TempDir()
	store, _ := NewArtifactStore(dir, dir)
	_ = store.WriteText(ReportFile, "old")
	boom := errors.New("boom")
	err := store.WriteWith(ReportFile, func(w io.Writer) error {
		_, _ = w.Write([]byte("partial"))
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected write error, got %v", err)
	}
	raw, _ := os.ReadFile(store.OutputPath(ReportFile))
	if string(raw) != "old" {
		t.Fatalf("previous artifact clobbered: %q", raw)
	}
}

func TestDecodeImportance(t *testing.T) {
	got, err := decodeImportance(map[string]string{"hba1c": "0.25", "bmi": "1e-3"})
	if err != nil || got["hba1c"] != 0.25 || got["bmi"] != 0.001 {
		t.Fatalf("decode %v %v", got, err)
	}
	if _, err := decodeImportance(map[string]string{"x": "nope"}); err == nil {
		t.Fatal("expected parse error")
	}
}
