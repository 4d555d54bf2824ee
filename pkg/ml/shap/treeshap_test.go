package shap

import (
	"context"
	"math"
	"testing"

	"github.com/synaptica-ai/halo/pkg/common/rng"
	"github.com/synaptica-ai/halo/pkg/ml/forest"
)

func stump() *forest.Model {
	return &forest.Model{
		FeatureNames: []string{"a", "b"},
		Trees: []forest.Tree{{Nodes: []forest.Node{
			{Feature: 0, Threshold: 0.5, Left: 1, Right: 2, Value: [2]float64{0.5, 0.5}, Cover: 2},
			{Feature: -1, Value: [2]float64{1, 0}, Cover: 1},
			{Feature: -1, Value: [2]float64{0, 1}, Cover: 1},
		}}},
	}
}

func TestStumpAttribution(t *testing.T) {
	e, err := NewTreeExplainer(stump())
	if err != nil {
		t.Fatalf("explainer: %v", err)
	}
	if e.ExpectedValue() != 0.5 {
		t.Fatalf("expected value %v", e.ExpectedValue())
	}
	phi, err := e.Values([]float64{0, 7})
	if err != nil {
		t.Fatalf("values: %v", err)
	}
	if math.Abs(phi[0]+0.5) > 1e-12 || phi[1] != 0 {
		t.Fatalf("unexpected attribution %v", phi)
	}
}

func TestLocalAccuracyOnTrainedForest(t *testing.T) {
	r := rng.New(8)
	x := make([][]float64, 200)
	y := make([]int, len(x))
	for i := range x {
		x[i] = []float64{r.NormFloat64(), r.NormFloat64(), r.NormFloat64(), r.NormFloat64()}
		if x[i][0]+0.5*x[i][1]*x[i][2] > 0.2 {
			y[i] = 1
		}
	}
	model, err := forest.NewClassifier(forest.Options{Trees: 15, Bootstrap: true, Balanced: true}).
		Fit(context.Background(), rng.New(3), x, y, []string{"a", "b", "c", "d"})
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	e, err := NewTreeExplainer(model)
	if err != nil {
		t.Fatalf("explainer: %v", err)
	}
	attr, err := e.Explain(context.Background(), x[:40])
	if err != nil {
		t.Fatalf("explain: %v", err)
	}
	for i, phi := range attr.Values {
		sum := attr.BaseValue
		for _, v := range phi {
			sum += v
		}
		if got := model.PredictProba(x[i]); math.Abs(sum-got) > 1e-9 {
			t.Fatalf("row %d: attributions sum to %v, prediction %v", i, sum, got)
		}
	}
	if ranking := attr.Ranking(); ranking[0].Feature != "a" {
		t.Fatalf("expected feature a to rank first, got %v", ranking)
	}
}

func TestValuesRejectsWrongWidth(t *testing.T) {
	e, _ := NewTreeExplainer(stump())
	if _, err := e.Values([]float64{1}); err == nil {
		t.Fatal("expected width error")
	}
	if _, err := NewTreeExplainer(nil); err == nil {
		t.Fatal("expected nil model error")
	}
}
