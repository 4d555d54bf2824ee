package impute

import (
	"math"
	"testing"

	"github.com/synaptica-ai/halo/pkg/cohort"
	"github.com/synaptica-ai/halo/pkg/common/rng"
	"github.com/synaptica-ai/halo/pkg/dataset"
	"github.com/synaptica-ai/halo/pkg/missingness"
)

func missingCohort(t *testing.T, n int) *dataset.Table {
	t.Helper()
	wide, err := cohort.Flatten(cohort.NewSynthesizer().Generate(rng.New(42), n))
	if err != nil {
		t.Fatalf("flatten: %v", err)
	}
	inj, err := missingness.NewInjector(missingness.DefaultSchedule())
	if err != nil {
		t.Fatalf("injector: %v", err)
	}
	out, err := inj.Inject(rng.New(2025), wide)
	if err != nil {
		t.Fatalf("inject: %v", err)
	}
	return out
}

func TestNoNullsRemainAndIndicatorsAlign(t *testing.T) {
	in := missingCohort(t, 150)
	res, err := NewImputer(DefaultOptions()).FitTransform(rng.New(0), in)
	if err != nil {
		t.Fatalf("impute: %v", err)
	}
	if res.Mask.Count() == 0 {
		t.Fatal("expected the injected cohort to have gaps")
	}
	if len(res.Indicators) != len(res.Mask.Columns) {
		t.Fatalf("have %d indicators for %d columns", len(res.Indicators), len(res.Mask.Columns))
	}
	for _, name := range res.Mask.Columns {
		values, err := res.Table.Floats(name)
		if err != nil {
			t.Fatalf("imputed column: %v", err)
		}
		flags, err := res.Table.Floats(name + IndicatorSuffix)
		if err != nil {
			t.Fatalf("indicator column: %v", err)
		}
		original, _ := in.Floats(name)
		for r := range values {
			if math.IsNaN(values[r]) {
				t.Fatalf("%s row %d still null", name, r)
			}
			wasMissing := math.IsNaN(original[r])
			if wasMissing != (flags[r] == 1) || (flags[r] != 0 && flags[r] != 1) {
				t.Fatalf("%s row %d indicator %v, originally missing %v", name, r, flags[r], wasMissing)
			}
			if !wasMissing && values[r] != original[r] {
				t.Fatalf("%s row %d observed value changed", name, r)
			}
		}
	}
	if _, err := res.Table.Column("visit_month_T1" + IndicatorSuffix); err == nil {
		t.Fatal("text columns should not get indicators")
	}
	if col, _ := in.Column("hba1c_T2"); col.NullCount() == 0 {
		t.Fatal("imputer mutated its input")
	}
}

func TestImputationIsSeeded(t *testing.T) {
	in := missingCohort(t, 100)
	a, err := NewImputer(DefaultOptions()).FitTransform(rng.New(0), in)
	if err != nil {
		t.Fatalf("impute: %v", err)
	}
	b, _ := NewImputer(DefaultOptions()).FitTransform(rng.New(0), in)
	for _, name := range a.Mask.Columns {
		x, _ := a.Table.Floats(name)
		y, _ := b.Table.Floats(name)
		for r := range x {
			if x[r] != y[r] {
				t.Fatalf("%s row %d differs across runs: %v vs %v", name, r, x[r], y[r])
			}
		}
	}
}

func TestAllNullColumnFallsBack(t *testing.T) {
	table := dataset.NewTable(4)
	nan := math.NaN()
	_ = table.AddText("patient_id", []string{"a", "b", "c", "d"})
	_ = table.AddNumeric("sbp_T0", []float64{120, 130, 140, 150})
	_ = table.AddNumeric("sbp_T1", []float64{122, nan, 141, 149})
	_ = table.AddNumeric("acr_T2", []float64{nan, nan, nan, nan})
	_ = table.AddNumeric("age_at_index", []float64{nan, 70, 71, 72})

	res, err := NewImputer(Options{MaxIter: 4, SamplePosterior: false}).FitTransform(rng.New(0), table)
	if err != nil {
		t.Fatalf("impute: %v", err)
	}
	acr, _ := res.Table.Floats("acr_T2")
	flags, _ := res.Table.Floats("acr_T2" + IndicatorSuffix)
	for r := range acr {
		if acr[r] != 0 || flags[r] != 1 {
			t.Fatalf("row %d: acr %v flag %v", r, acr[r], flags[r])
		}
	}
	sbp, _ := res.Table.Floats("sbp_T1")
	if math.IsNaN(sbp[1]) || sbp[1] < 100 || sbp[1] > 170 {
		t.Fatalf("implausible imputed sbp %v", sbp[1])
	}
	age, _ := res.Table.Floats("age_at_index")
	if !math.IsNaN(age[0]) {
		t.Fatal("static columns are not imputed")
	}
	if res.Table.Has("age_at_index" + IndicatorSuffix) {
		t.Fatal("static columns get no indicator")
	}
}
