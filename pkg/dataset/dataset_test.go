package dataset

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"
)

func TestCSVRoundTripKeepsNullsAndKinds(t *testing.T) {
	table := NewTable(3)
	if err := table.AddText("patient_id", []string{"P1", "P2", "P3"}); err != nil {
		t.Fatalf("add text: %v", err)
	}
	if err := table.AddNumeric("sbp_T1", []float64{140, math.NaN(), 128.5}); err != nil {
		t.Fatalf("add numeric: %v", err)
	}

	var buf bytes.Buffer
	if err := table.WriteCSV(&buf); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !strings.Contains(buf.String(), "P2,\n") {
		t.Fatalf("expected empty cell for null, got %q", buf.String())
	}

	loaded, err := ReadCSV(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	ids, err := loaded.Strings("patient_id")
	if err != nil {
		t.Fatalf("patient_id should be text: %v", err)
	}
	if ids[2] != "P3" {
		t.Fatalf("unexpected id %q", ids[2])
	}
	sbp, err := loaded.Floats("sbp_T1")
	if err != nil {
		t.Fatalf("sbp_T1 should be numeric: %v", err)
	}
	if !math.IsNaN(sbp[1]) || sbp[2] != 128.5 {
		t.Fatalf("unexpected sbp values %v", sbp)
	}
}

func TestReadCSVCoercesGarbageInNumericColumn(t *testing.T) {
	loaded, err := ReadCSV(strings.NewReader("hba1c_T0,visit_month_T0\n7.1,2023-01\nabc,2023-01\n"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	values, err := loaded.Floats("hba1c_T0")
	if err != nil {
		t.Fatalf("expected numeric column: %v", err)
	}
	if values[0] != 7.1 || !math.IsNaN(values[1]) {
		t.Fatalf("unexpected coercion %v", values)
	}
	if _, err := loaded.Strings("visit_month_T0"); err != nil {
		t.Fatalf("visit month should stay text: %v", err)
	}
}

func TestCloneIsDeep(t *testing.T) {
	table := NewTable(1)
	_ = table.AddNumeric("x", []float64{1})
	clone := table.Clone()
	values, _ := clone.Floats("x")
	values[0] = 99
	original, _ := table.Floats("x")
	if original[0] != 1 {
		t.Fatalf("clone shares storage with source")
	}
}

func TestColumnLookupErrors(t *testing.T) {
	table := NewTable(0)
	if _, err := table.Column("nope"); !errors.Is(err, ErrMissingColumn) {
		t.Fatalf("expected ErrMissingColumn, got %v", err)
	}
	if err := table.AddNumeric("x", []float64{1}); err == nil {
		t.Fatal("expected row count mismatch error")
	}
}

func TestMedianAndLongitudinal(t *testing.T) {
	if m, ok := Median([]float64{3, math.NaN(), 1, 2, 10}); !ok || m != 2.5 {
		t.Fatalf("expected 2.5, got %v %v", m, ok)
	}
	if _, ok := Median([]float64{math.NaN()}); ok {
		t.Fatal("expected no median for all-null input")
	}
	if !IsLongitudinal("eGFR_T2") || IsLongitudinal("frailty_cfs") {
		t.Fatal("longitudinal detection wrong")
	}
}
