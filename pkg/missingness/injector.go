package missingness

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/synaptica-ai/halo/pkg/cohort"
	"github.com/synaptica-ai/halo/pkg/common/logger"
	"github.com/synaptica-ai/halo/pkg/dataset"
)

// Tier holds the nulling probabilities for one frailty band.
type Tier struct {
	MaxFrailty float64 `yaml:"max_frailty" json:"max_frailty"`
	LabsT1     float64 `yaml:"labs_t1" json:"labs_t1"`
	LabsT2     float64 `yaml:"labs_t2" json:"labs_t2"`
	Scores     float64 `yaml:"scores" json:"scores"`
	Vitals     float64 `yaml:"vitals" json:"vitals"`
}

// Schedule maps frailty to missingness. Tiers are checked in order; the
// first whose MaxFrailty is >= the patient's CFS applies, the last catches
// everything above.
type Schedule struct {
	Tiers          []Tier   `yaml:"tiers" json:"tiers"`
	DefaultFrailty float64  `yaml:"default_frailty" json:"default_frailty"`
	Labs           []string `yaml:"labs" json:"labs"`
	Scores         []string `yaml:"scores" json:"scores"`
	Vitals         []string `yaml:"vitals" json:"vitals"`
}

// DefaultSchedule makes frailer patients lose more data in every block.
func DefaultSchedule() Schedule {
	return Schedule{
		Tiers: []Tier{
			{MaxFrailty: 2, LabsT1: 0.08, LabsT2: 0.12, Scores: 0.30, Vitals: 0.04},
			{MaxFrailty: 4, LabsT1: 0.18, LabsT2: 0.25, Scores: 0.50, Vitals: 0.06},
			{MaxFrailty: 9, LabsT1: 0.35, LabsT2: 0.45, Scores: 0.75, Vitals: 0.12},
		},
		DefaultFrailty: 3,
		Labs:           []string{"hba1c", "ldl", "hdl", "trig", "acr", "creatinine", "eGFR"},
		Scores:         []string{cohort.ColFrailty, "frailty_fried", "adl_score", "iadl_score", "mmse", "moca"},
		Vitals:         []string{"sbp", "dbp", "weight_kg"},
	}
}

func (s Schedule) Validate() error {
	if len(s.Tiers) == 0 {
		return fmt.Errorf("missingness schedule has no tiers")
	}
	for i, tier := range s.Tiers {
		for _, p := range []float64{tier.LabsT1, tier.LabsT2, tier.Scores, tier.Vitals} {
			if p < 0 || p > 1 || math.IsNaN(p) {
				return fmt.Errorf("tier %d has probability %v outside [0,1]", i, p)
			}
		}
		if i > 0 && tier.MaxFrailty < s.Tiers[i-1].MaxFrailty {
			return fmt.Errorf("tier %d max_frailty is below tier %d", i, i-1)
		}
	}
	return nil
}

func (s Schedule) tierFor(frailty float64) Tier {
	if math.IsNaN(frailty) {
		frailty = s.DefaultFrailty
	}
	for _, tier := range s.Tiers {
		if frailty <= tier.MaxFrailty {
			return tier
		}
	}
	return s.Tiers[len(s.Tiers)-1]
}

type Injector struct {
	schedule Schedule
}

func NewInjector(schedule Schedule) (*Injector, error) {
	if err := schedule.Validate(); err != nil {
		return nil, err
	}
	return &Injector{schedule: schedule}, nil
}

// Inject returns a copy of the cohort with cells nulled at timepoints 1 and 2
// (labs, vitals) and the score block nulled as a whole per patient.
// Frailty is read before any nulling so the score block cannot hide it.
func (inj *Injector) Inject(rng *rand.Rand, wide *dataset.Table) (*dataset.Table, error) {
	out := wide.Clone()
	frailty := make([]float64, out.NumRows())
	if col, err := out.Floats(cohort.ColFrailty); err == nil {
		copy(frailty, col)
	} else {
		for i := range frailty {
			frailty[i] = inj.schedule.DefaultFrailty
		}
	}

	labs := make([][2][]float64, 0, len(inj.schedule.Labs))
	for _, base := range inj.schedule.Labs {
		labs = append(labs, [2][]float64{optional(out, dataset.Suffixed(base, 1)), optional(out, dataset.Suffixed(base, 2))})
	}
	scores := make([][]float64, 0, len(inj.schedule.Scores))
	for _, name := range inj.schedule.Scores {
		if col := optional(out, name); col != nil {
			scores = append(scores, col)
		}
	}
	vitals := make([][]float64, 0, 2*len(inj.schedule.Vitals))
	for tp := 1; tp <= 2; tp++ {
		for _, base := range inj.schedule.Vitals {
			vitals = append(vitals, optional(out, dataset.Suffixed(base, tp)))
		}
	}

	nulled := 0
	for row := 0; row < out.NumRows(); row++ {
		tier := inj.schedule.tierFor(frailty[row])
		for _, pair := range labs {
			nulled += maybeNull(rng, pair[0], row, tier.LabsT1)
			nulled += maybeNull(rng, pair[1], row, tier.LabsT2)
		}
		if len(scores) > 0 && rng.Float64() < tier.Scores {
			for _, col := range scores {
				if !math.IsNaN(col[row]) {
					col[row] = math.NaN()
					nulled++
				}
			}
		}
		for _, col := range vitals {
			nulled += maybeNull(rng, col, row, tier.Vitals)
		}
	}

	logger.WithStage("missingness").WithFields(map[string]interface{}{
		"rows":   out.NumRows(),
		"nulled": nulled,
	}).Info("Injected frailty-driven missingness")
	return out, nil
}

func optional(t *dataset.Table, name string) []float64 {
	values, err := t.Floats(name)
	if err != nil {
		return nil
	}
	return values
}

// maybeNull always consumes one draw when the column exists so the stream
// stays aligned across patients.
func maybeNull(rng *rand.Rand, col []float64, row int, p float64) int {
	if col == nil {
		return 0
	}
	if rng.Float64() < p && !math.IsNaN(col[row]) {
		col[row] = math.NaN()
		return 1
	}
	return 0
}
