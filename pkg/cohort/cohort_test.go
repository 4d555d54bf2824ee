package cohort

import (
	"bytes"
	"math"
	"testing"

	"github.com/synaptica-ai/halo/pkg/common/rng"
	"github.com/synaptica-ai/halo/pkg/dataset"
)

func generateCSV(t *testing.T, seed uint64, n int) (*dataset.Table, []byte) {
	t.Helper()
	patients := NewSynthesizer().Generate(rng.New(seed), n)
	table, err := Flatten(patients)
	if err != nil {
		t.Fatalf("flatten: %v", err)
	}
	var buf bytes.Buffer
	if err := table.WriteCSV(&buf); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	return table, buf.Bytes()
}

func TestGenerateIsReproducible(t *testing.T) {
	table, first := generateCSV(t, 42, 500)
	if table.NumRows() != 500 {
		t.Fatalf("expected 500 rows, got %d", table.NumRows())
	}
	_, second := generateCSV(t, 42, 500)
	if !bytes.Equal(first, second) {
		t.Fatal("same seed produced different cohorts")
	}
	_, other := generateCSV(t, 43, 500)
	if bytes.Equal(first, other) {
		t.Fatal("different seeds produced identical cohorts")
	}
}

func TestEveryFieldHasThreeCompleteTimepoints(t *testing.T) {
	table, _ := generateCSV(t, 7, 120)
	for _, field := range VisitFields() {
		for tp := 0; tp < Timepoints; tp++ {
			values, err := table.Floats(dataset.Suffixed(field, tp))
			if err != nil {
				t.Fatalf("missing column: %v", err)
			}
			for row, v := range values {
				if math.IsNaN(v) {
					t.Fatalf("%s_T%d row %d is null before injection", field, tp, row)
				}
			}
		}
		if table.Has(dataset.Suffixed(field, Timepoints)) {
			t.Fatalf("unexpected fourth timepoint for %s", field)
		}
	}
	for _, name := range StaticColumns() {
		if !table.Has(name) {
			t.Fatalf("missing static column %s", name)
		}
	}
}

func TestEGFRStaysInRange(t *testing.T) {
	inputs := []float64{-3, -0.1, 0, 1e-9, 0.05, 0.4, 0.8, 1.2, 3, 12, 1e6, math.NaN(), math.Inf(1)}
	for _, c := range inputs {
		for _, sex := range []Sex{Male, Female} {
			got := EGFR(c, 72, sex)
			if got < 5.0 || got > 150.0 {
				t.Fatalf("eGFR(%v,%s) = %v out of range", c, sex, got)
			}
		}
	}
	if got := EGFR(0, 70, Male); got != EGFRFallback {
		t.Fatalf("expected fallback for zero creatinine, got %v", got)
	}
	if EGFR(1.0, 70, Female) >= EGFR(1.0, 70, Male) {
		t.Fatal("female coefficient should lower eGFR")
	}
}

func TestEventsAreConsistent(t *testing.T) {
	patients := NewSynthesizer().Generate(rng.New(3), 400)
	for _, p := range patients {
		if p.Static.AgeAtIndex < 60 || p.Static.AgeAtIndex >= 95 {
			t.Fatalf("age out of range: %v", p.Static.AgeAtIndex)
		}
		if p.Static.FrailtyCFS < 1 || p.Static.FrailtyCFS > 9 {
			t.Fatalf("cfs out of range: %v", p.Static.FrailtyCFS)
		}
		for tp, v := range p.Visits {
			e := v.Events
			if e.Hospitalization != (e.MI || e.Stroke || e.HFHosp || e.AKI) {
				t.Fatalf("%s T%d hospitalization is not the OR of major events", p.ID, tp)
			}
			if e.SevereHypo && !e.Hypo {
				t.Fatalf("%s T%d severe hypo without hypo", p.ID, tp)
			}
			if e.Stroke && !e.MI {
				t.Fatalf("%s T%d stroke without MI", p.ID, tp)
			}
			if v.Month != VisitMonths[tp] {
				t.Fatalf("unexpected visit month %s", v.Month)
			}
		}
	}
}

func TestGenerateNonPositiveIsEmpty(t *testing.T) {
	for _, n := range []int{0, -5} {
		if got := NewSynthesizer().Generate(rng.New(1), n); len(got) != 0 {
			t.Fatalf("Generate(%d) returned %d patients", n, len(got))
		}
	}
}
