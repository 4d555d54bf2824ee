package cohort

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// EGFRFallback is returned whenever the eGFR estimate cannot be computed.
const EGFRFallback = 60.0

const (
	egfrMin = 5.0
	egfrMax = 150.0
)

// EGFR estimates kidney function from creatinine (mg/dL), age and sex with an
// MDRD-style power law, clipped to a physiological range.
func EGFR(creatinine, age float64, sex Sex) float64 {
	if !(creatinine > 0) || !(age > 0) || math.IsInf(creatinine, 0) || math.IsInf(age, 0) {
		return EGFRFallback
	}
	egfr := 175 * math.Pow(creatinine, -1.154) * math.Pow(age, -0.203)
	if sex == Female {
		egfr *= 0.742
	}
	if math.IsNaN(egfr) || math.IsInf(egfr, 0) {
		return EGFRFallback
	}
	return round(math.Max(egfrMin, math.Min(egfrMax, egfr)), 1)
}

// Synthesizer draws patients from fixed parametric models.
type Synthesizer struct {
	MaleFraction    float64
	InsulinRate     float64
	SBPNoise        float64
	HbA1cNoise      float64
	CreatinineNoise float64
}

func NewSynthesizer() *Synthesizer {
	return &Synthesizer{
		MaleFraction:    0.48,
		InsulinRate:     0.25,
		SBPNoise:        9,
		HbA1cNoise:      0.35,
		CreatinineNoise: 0.16,
	}
}

// Generate draws n complete patients. All randomness comes from rng.
func (s *Synthesizer) Generate(rng *rand.Rand, n int) []Patient {
	if n <= 0 {
		return []Patient{}
	}
	d := draws{rng: rng}
	patients := make([]Patient, n)
	for i := range patients {
		patients[i] = s.patient(d, fmt.Sprintf("P%d", 100000+i))
	}
	return patients
}

func (s *Synthesizer) patient(d draws, id string) Patient {
	p := Patient{ID: id, Sex: Female}
	st := &p.Static
	st.AgeAtIndex = float64(60 + d.rng.IntN(35))
	if d.bernoulli(s.MaleFraction) {
		p.Sex = Male
	}
	st.BMI = round(math.Max(15, d.normal(27, 4)), 1)
	st.DMDurationYears = math.Floor(math.Max(0, d.exponential(8)))
	st.HTNDurationYears = math.Floor(math.Max(0, d.exponential(10)))
	st.FrailtyCFS = clip(d.poisson(3), 1, 9)
	st.FrailtyFried = clip(d.poisson(1), 0, 5)
	st.ADLScore = clip(d.poisson(5), 0, 6)
	st.IADLScore = clip(d.poisson(6), 0, 8)
	st.MMSE = math.Trunc(clip(d.normal(27, 3), 0, 30))
	st.MoCA = math.Trunc(clip(d.normal(25, 4), 0, 30))
	if d.bernoulli(s.InsulinRate) {
		st.InsulinFlag = 1
	}
	st.MedCount = d.poisson(5)
	st.PrimaryCareVisits = d.poisson(3)
	st.SpecialistVisits = d.poisson(1)
	st.EDVisits = d.poisson(0.2)

	baseCreat := 0.7
	hemoglobinMean := 12.0
	if p.Sex == Male {
		baseCreat = 0.9
		hemoglobinMean = 13.0
	}
	baseCreat = round(baseCreat+0.01*(st.AgeAtIndex-60)+d.normal(0, s.CreatinineNoise), 2)
	baseHbA1c := round(math.Max(4.5, d.normal(7.6, 1.3)), 2)

	for t := 0; t < Timepoints; t++ {
		v := &p.Visits[t]
		v.Month = VisitMonths[t]
		v.Creatinine = round(baseCreat+d.normal(0, s.CreatinineNoise), 2)
		v.EGFR = EGFR(v.Creatinine, st.AgeAtIndex, p.Sex)
		if t == 0 {
			v.HbA1c = baseHbA1c
			v.SBP = math.Round(d.normal(140, 16))
		} else {
			prev := p.Visits[t-1]
			v.HbA1c = round(prev.HbA1c+d.normal(0, s.HbA1cNoise), 2)
			v.SBP = math.Round(prev.SBP + d.normal(0, s.SBPNoise))
		}
		v.DBP = math.Round(d.normal(80, 9))
		v.HR = math.Round(d.normal(76, 8))
		v.WeightKg = round(60+(st.BMI-22)*0.7+d.normal(0, 3), 1)
		v.LDL = round(math.Max(40, d.normal(110, 32)), 1)
		v.HDL = round(math.Max(25, d.normal(48, 9)), 1)
		v.Trig = round(math.Abs(d.normal(140, 60)), 1)
		v.ACR = round(math.Abs(d.normal(20, 50)), 1)
		v.FPG = math.Floor(math.Abs(d.normal(140, 35)))
		v.RPG = math.Floor(math.Abs(d.normal(180, 60)))
		v.Hemoglobin = round(d.normal(hemoglobinMean, 1.2), 1)
		v.Events = s.events(d, st, v)
	}
	return p
}

// events draws one visit's outcomes. Probabilities are linear in concurrent covariates.
func (s *Synthesizer) events(d draws, st *Static, v *Visit) Events {
	var e Events
	hypoP := 0.01 + 0.06*st.InsulinFlag
	if v.HbA1c < 7.0 {
		hypoP += 0.02
	}
	e.Hypo = d.bernoulli(hypoP)
	e.SevereHypo = e.Hypo && d.bernoulli(0.12)
	e.UncontrolledHTN = v.SBP > 140 || v.DBP > 90
	miP := 0.005 + (st.AgeAtIndex-60)*0.003 + math.Max(0, v.SBP-140)*0.001
	e.MI = d.bernoulli(miP)
	e.Stroke = e.MI && d.bernoulli(0.4)
	e.HFHosp = d.bernoulli(0.01)
	e.AKI = d.bernoulli(0.004)
	e.Hospitalization = e.MI || e.Stroke || e.HFHosp || e.AKI
	return e
}

type draws struct {
	rng *rand.Rand
}

func (d draws) normal(mu, sigma float64) float64 {
	return distuv.Normal{Mu: mu, Sigma: sigma, Src: d.rng}.Rand()
}

func (d draws) poisson(lambda float64) float64 {
	return distuv.Poisson{Lambda: lambda, Src: d.rng}.Rand()
}

func (d draws) exponential(mean float64) float64 {
	return distuv.Exponential{Rate: 1 / mean, Src: d.rng}.Rand()
}

func (d draws) bernoulli(p float64) bool {
	return d.rng.Float64() < p
}

func clip(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
