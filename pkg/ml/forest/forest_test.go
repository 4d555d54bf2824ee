package forest

import (
	"context"
	"errors"
	"testing"

	"github.com/synaptica-ai/halo/pkg/common/rng"
)

func separable(n int) ([][]float64, []int) {
	r := rng.New(5)
	x := make([][]float64, n)
	y := make([]int, n)
	for i := range x {
		signal := r.Float64()*2 - 1
		x[i] = []float64{signal, r.NormFloat64(), r.NormFloat64()}
		if signal > 0.3 {
			y[i] = 1
		}
	}
	return x, y
}

func TestForestLearnsThreshold(t *testing.T) {
	x, y := separable(300)
	model, err := NewClassifier(Options{Trees: 25, Bootstrap: true, Balanced: true}).
		Fit(context.Background(), rng.New(42), x, y, []string{"signal", "noise_a", "noise_b"})
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	if err := model.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	correct := 0
	for i, row := range x {
		if model.Predict(row) == y[i] {
			correct++
		}
	}
	if acc := float64(correct) / float64(len(x)); acc < 0.97 {
		t.Fatalf("training accuracy %.3f too low", acc)
	}
	if p := model.PredictProba([]float64{0.9, 0, 0}); p < 0.8 {
		t.Fatalf("expected confident positive, got %v", p)
	}
	if p := model.PredictProba([]float64{-0.9, 0, 0}); p > 0.2 {
		t.Fatalf("expected confident negative, got %v", p)
	}

	sum := 0.0
	for _, v := range model.Importances {
		sum += v
	}
	if sum < 0.999 || sum > 1.001 {
		t.Fatalf("importances sum to %v", sum)
	}
	if model.Importances[0] < model.Importances[1] || model.Importances[0] < model.Importances[2] {
		t.Fatalf("signal feature should dominate: %v", model.Importances)
	}
}

func TestForestIsDeterministic(t *testing.T) {
	x, y := separable(120)
	names := []string{"a", "b", "c"}
	a, _ := NewClassifier(Options{Trees: 10, Bootstrap: true, Workers: 4}).Fit(context.Background(), rng.New(1), x, y, names)
	b, _ := NewClassifier(Options{Trees: 10, Bootstrap: true, Workers: 1}).Fit(context.Background(), rng.New(1), x, y, names)
	for i, row := range x {
		if a.PredictProba(row) != b.PredictProba(row) {
			t.Fatalf("row %d scored differently across runs", i)
		}
	}
}

func TestBalancedWeights(t *testing.T) {
	x := [][]float64{{0}, {1}, {2}, {3}}
	y := []int{0, 0, 0, 1}
	model, err := NewClassifier(Options{Trees: 1, Balanced: true}).Fit(context.Background(), rng.New(1), x, y, []string{"v"})
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	if model.ClassWeights[0] != 4.0/6 || model.ClassWeights[1] != 2 {
		t.Fatalf("unexpected class weights %v", model.ClassWeights)
	}
	if root := model.Trees[0].Nodes[0]; root.Value[1] != 0.5 {
		t.Fatalf("balanced root should be even, got %v", root.Value)
	}
}

func TestFitRejectsBadInput(t *testing.T) {
	c := NewClassifier(DefaultOptions())
	if _, err := c.Fit(context.Background(), rng.New(1), nil, nil, nil); !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
	if _, err := c.Fit(context.Background(), rng.New(1), [][]float64{{1, 2}}, []int{1}, []string{"a"}); !errors.Is(err, ErrFeatureCount) {
		t.Fatalf("expected ErrFeatureCount, got %v", err)
	}
	if _, err := c.Fit(context.Background(), rng.New(1), [][]float64{{1}}, []int{2}, []string{"a"}); !errors.Is(err, ErrNonBinaryLabel) {
		t.Fatalf("expected ErrNonBinaryLabel, got %v", err)
	}
}
