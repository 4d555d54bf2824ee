package metrics

import (
	"errors"
	"math"
	"strings"
	"testing"
)

func TestROCCurveHandlesTies(t *testing.T) {
	y := []int{0, 0, 1, 1}
	scores := []float64{0.1, 0.4, 0.35, 0.8}
	roc, err := ROCCurve(y, scores)
	if err != nil {
		t.Fatalf("roc: %v", err)
	}
	if got := AUC(roc.FPR, roc.TPR); math.Abs(got-0.75) > 1e-12 {
		t.Fatalf("expected AUC 0.75, got %v", got)
	}

	tied, _ := ROCCurve([]int{0, 1}, []float64{0.5, 0.5})
	if len(tied.FPR) != 2 || tied.FPR[1] != 1 || tied.TPR[1] != 1 {
		t.Fatalf("tied scores should step once: %+v", tied)
	}
	if got := ROCAUC([]int{0, 1}, []float64{0.5, 0.5}); got != 0.5 {
		t.Fatalf("tied AUC should be 0.5, got %v", got)
	}
}

func TestROCAUCSingleClass(t *testing.T) {
	if _, err := ROCCurve([]int{1, 1}, []float64{0.2, 0.9}); !errors.Is(err, ErrSingleClass) {
		t.Fatalf("expected ErrSingleClass, got %v", err)
	}
	if !math.IsNaN(ROCAUC([]int{0, 0}, []float64{0.2, 0.9})) {
		t.Fatal("expected NaN AUC for one class")
	}
}

func TestInterp(t *testing.T) {
	xp := []float64{0, 0, 0.5, 1}
	fp := []float64{0, 0.4, 0.8, 1}
	got := Interp([]float64{-1, 0, 0.25, 0.5, 2}, xp, fp)
	want := []float64{0, 0.4, 0.6, 0.8, 1}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-12 {
			t.Fatalf("interp[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	grid := Linspace(0, 1, 100)
	if len(grid) != 100 || grid[0] != 0 || grid[99] != 1 {
		t.Fatalf("bad grid %v", grid[:3])
	}
}

func TestCalibrationKeepsNonEmptyBins(t *testing.T) {
	y := []int{0, 0, 1, 1, 1}
	probs := []float64{0.05, 0.1, 0.55, 0.58, 0.95}
	bins, err := Calibration(y, probs, 10)
	if err != nil {
		t.Fatalf("calibration: %v", err)
	}
	if len(bins) != 3 {
		t.Fatalf("expected 3 non-empty bins, got %+v", bins)
	}
	if bins[0].Count != 2 || bins[0].FractionPositive != 0 {
		t.Fatalf("edge value 0.1 should land in the first bin: %+v", bins[0])
	}
	if bins[1].FractionPositive != 1 || math.Abs(bins[1].MeanPredicted-0.565) > 1e-12 {
		t.Fatalf("unexpected middle bin %+v", bins[1])
	}
	if _, err := Calibration(y, []float64{0, 0, 0, 0, 1.2}, 10); err == nil {
		t.Fatal("expected out-of-range error")
	}
}

func TestCalibrationInteriorEdgeFallsLow(t *testing.T) {
	bins, err := Calibration([]int{0, 1}, []float64{0.3, 0.31}, 10)
	if err != nil {
		t.Fatalf("calibration: %v", err)
	}
	if len(bins) != 2 {
		t.Fatalf("0.3 and 0.31 should land in different bins: %+v", bins)
	}
	if bins[0].MeanPredicted != 0.3 || bins[0].FractionPositive != 0 {
		t.Fatalf("unexpected lower bin %+v", bins[0])
	}
}

func TestClassificationReport(t *testing.T) {
	y := []int{0, 0, 0, 1, 1}
	pred := []int{0, 0, 1, 1, 0}
	r := ClassificationReport(y, pred)
	if r.Classes[0].Support != 3 || r.Classes[1].Support != 2 {
		t.Fatalf("unexpected supports %+v", r.Classes)
	}
	if math.Abs(r.Classes[0].Precision-2.0/3) > 1e-12 || math.Abs(r.Classes[1].Recall-0.5) > 1e-12 {
		t.Fatalf("unexpected scores %+v", r.Classes)
	}
	if math.Abs(r.Accuracy-0.6) > 1e-12 {
		t.Fatalf("accuracy %v", r.Accuracy)
	}
	text := r.String()
	for _, want := range []string{"precision", "weighted avg", "accuracy", "0.60"} {
		if !strings.Contains(text, want) {
			t.Fatalf("report missing %q:\n%s", want, text)
		}
	}

	none := ClassificationReport([]int{0, 1}, []int{0, 0})
	if none.Classes[1].Precision != 0 || none.Classes[1].F1 != 0 {
		t.Fatalf("undefined ratios should be 0: %+v", none.Classes[1])
	}
}
