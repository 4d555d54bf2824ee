package resample

import (
	"errors"
	"testing"

	"github.com/synaptica-ai/halo/pkg/common/rng"
)

func TestSMOTEBalancesClasses(t *testing.T) {
	var x [][]float64
	var y []int
	for i := 0; i < 40; i++ {
		x = append(x, []float64{float64(i), 0})
		y = append(y, 0)
	}
	for i := 0; i < 8; i++ {
		x = append(x, []float64{100 + float64(i), 10})
		y = append(y, 1)
	}

	outX, outY, err := NewSMOTE(5).Resample(rng.New(1), x, y)
	if err != nil {
		t.Fatalf("resample: %v", err)
	}
	var counts [2]int
	for _, label := range outY {
		counts[label]++
	}
	if counts[0] != 40 || counts[1] != 40 {
		t.Fatalf("unexpected class counts %v", counts)
	}
	for i := len(x); i < len(outX); i++ {
		row := outX[i]
		if row[0] < 100 || row[0] > 107 || row[1] != 10 {
			t.Fatalf("synthetic row %v lies outside the minority hull", row)
		}
	}
	if len(x) != 48 {
		t.Fatal("input slice was modified")
	}
}

func TestSMOTEIsSeeded(t *testing.T) {
	x := [][]float64{{0}, {1}, {2}, {3}, {4}, {10}, {11}, {12}}
	y := []int{0, 0, 0, 0, 0, 1, 1, 1}
	a, _, _ := NewSMOTE(5).Resample(rng.New(9), x, y)
	b, _, _ := NewSMOTE(5).Resample(rng.New(9), x, y)
	for i := range a {
		if a[i][0] != b[i][0] {
			t.Fatalf("row %d differs", i)
		}
	}
}

func TestSMOTEEdgeCases(t *testing.T) {
	x := [][]float64{{0}, {1}, {2}, {9}}
	if _, _, err := NewSMOTE(5).Resample(rng.New(1), x, []int{0, 0, 0, 1}); !errors.Is(err, ErrTooFewMinority) {
		t.Fatalf("expected ErrTooFewMinority, got %v", err)
	}
	outX, _, err := NewSMOTE(5).Resample(rng.New(1), x[:2], []int{0, 1})
	if err != nil || len(outX) != 2 {
		t.Fatalf("balanced input should pass through, got %d rows err %v", len(outX), err)
	}
}
