package missingness

import (
	"bytes"
	"math"
	"testing"

	"github.com/synaptica-ai/halo/pkg/cohort"
	"github.com/synaptica-ai/halo/pkg/common/rng"
	"github.com/synaptica-ai/halo/pkg/dataset"
)

func wideCohort(t *testing.T, n int) *dataset.Table {
	t.Helper()
	table, err := cohort.Flatten(cohort.NewSynthesizer().Generate(rng.New(42), n))
	if err != nil {
		t.Fatalf("flatten: %v", err)
	}
	return table
}

func inject(t *testing.T, wide *dataset.Table, seed uint64) *dataset.Table {
	t.Helper()
	inj, err := NewInjector(DefaultSchedule())
	if err != nil {
		t.Fatalf("new injector: %v", err)
	}
	out, err := inj.Inject(rng.New(seed), wide)
	if err != nil {
		t.Fatalf("inject: %v", err)
	}
	return out
}

func TestScoresAreNulledTogether(t *testing.T) {
	out := inject(t, wideCohort(t, 400), 2025)
	scores := DefaultSchedule().Scores
	nulledPatients := 0
	for row := 0; row < out.NumRows(); row++ {
		nulls := 0
		for _, name := range scores {
			values, _ := out.Floats(name)
			if math.IsNaN(values[row]) {
				nulls++
			}
		}
		if nulls != 0 && nulls != len(scores) {
			t.Fatalf("row %d has %d of %d scores null", row, nulls, len(scores))
		}
		if nulls > 0 {
			nulledPatients++
		}
	}
	if nulledPatients == 0 {
		t.Fatal("expected some patients to lose their score block")
	}
}

func TestOnlyTimepointsOneAndTwoAreTouched(t *testing.T) {
	wide := wideCohort(t, 300)
	out := inject(t, wide, 1)
	for _, field := range cohort.VisitFields() {
		values, _ := out.Floats(dataset.Suffixed(field, 0))
		for row, v := range values {
			if math.IsNaN(v) {
				t.Fatalf("%s_T0 row %d was nulled", field, row)
			}
		}
	}
	for tp := 1; tp <= 2; tp++ {
		for _, event := range []string{"event_hypo", "event_MI", "hospitalization_flag", "hr", "fpg"} {
			col, _ := out.Column(dataset.Suffixed(event, tp))
			if col.NullCount() != 0 {
				t.Fatalf("%s_T%d should never be nulled", event, tp)
			}
		}
	}
	sbp, _ := wide.Column("sbp_T1")
	if sbp.NullCount() != 0 {
		t.Fatal("injector mutated its input")
	}
}

func TestFrailerPatientsLoseMoreLabs(t *testing.T) {
	out := inject(t, wideCohort(t, 2000), 9)
	wide := wideCohort(t, 2000)
	frailty, _ := wide.Floats(cohort.ColFrailty)
	hba1c, _ := out.Floats("hba1c_T2")
	var fitMissing, fitTotal, frailMissing, frailTotal float64
	for row, f := range frailty {
		switch {
		case f <= 2:
			fitTotal++
			if math.IsNaN(hba1c[row]) {
				fitMissing++
			}
		case f >= 5:
			frailTotal++
			if math.IsNaN(hba1c[row]) {
				frailMissing++
			}
		}
	}
	if fitTotal == 0 || frailTotal == 0 {
		t.Fatal("cohort lacks fit or frail patients")
	}
	if frailMissing/frailTotal <= fitMissing/fitTotal {
		t.Fatalf("frail rate %.3f not above fit rate %.3f", frailMissing/frailTotal, fitMissing/fitTotal)
	}
}

func TestInjectIsDeterministic(t *testing.T) {
	wide := wideCohort(t, 200)
	var a, b bytes.Buffer
	_ = inject(t, wide, 2025).WriteCSV(&a)
	_ = inject(t, wide, 2025).WriteCSV(&b)
	if !bytes.Equal(a.Bytes(), b.Bytes()) {
		t.Fatal("same seed produced different missingness")
	}
}

func TestScheduleValidation(t *testing.T) {
	s := DefaultSchedule()
	s.Tiers[1].Scores = 1.5
	if _, err := NewInjector(s); err == nil {
		t.Fatal("expected invalid probability error")
	}
	if _, err := NewInjector(Schedule{}); err == nil {
		t.Fatal("expected empty schedule error")
	}
}
