package cohort

import (
	"fmt"

	"github.com/synaptica-ai/halo/pkg/dataset"
)

type staticField struct {
	name string
	get  func(*Static) float64
}

type visitField struct {
	name string
	get  func(*Visit) float64
}

// Wide-table column names for the cohort. Other stages refer to these.
const (
	ColPatientID = "patient_id"
	ColSex       = "sex"
	ColFrailty   = "frailty_cfs"
)

var staticFields = []staticField{
	{"age_at_index", func(s *Static) float64 { return s.AgeAtIndex }},
	{"bmi", func(s *Static) float64 { return s.BMI }},
	{"dm_duration_years", func(s *Static) float64 { return s.DMDurationYears }},
	{"htn_duration_years", func(s *Static) float64 { return s.HTNDurationYears }},
	{ColFrailty, func(s *Static) float64 { return s.FrailtyCFS }},
	{"frailty_fried", func(s *Static) float64 { return s.FrailtyFried }},
	{"adl_score", func(s *Static) float64 { return s.ADLScore }},
	{"iadl_score", func(s *Static) float64 { return s.IADLScore }},
	{"mmse", func(s *Static) float64 { return s.MMSE }},
	{"moca", func(s *Static) float64 { return s.MoCA }},
	{"insulin_flag", func(s *Static) float64 { return s.InsulinFlag }},
	{"med_count", func(s *Static) float64 { return s.MedCount }},
	{"primary_care_visits_12mo", func(s *Static) float64 { return s.PrimaryCareVisits }},
	{"specialist_visits_12mo", func(s *Static) float64 { return s.SpecialistVisits }},
	{"ed_visits_12mo", func(s *Static) float64 { return s.EDVisits }},
}

var visitFields = []visitField{
	{"sbp", func(v *Visit) float64 { return v.SBP }},
	{"dbp", func(v *Visit) float64 { return v.DBP }},
	{"hr", func(v *Visit) float64 { return v.HR }},
	{"weight_kg", func(v *Visit) float64 { return v.WeightKg }},
	{"hba1c", func(v *Visit) float64 { return v.HbA1c }},
	{"fpg", func(v *Visit) float64 { return v.FPG }},
	{"rpg", func(v *Visit) float64 { return v.RPG }},
	{"creatinine", func(v *Visit) float64 { return v.Creatinine }},
	{"eGFR", func(v *Visit) float64 { return v.EGFR }},
	{"ldl", func(v *Visit) float64 { return v.LDL }},
	{"hdl", func(v *Visit) float64 { return v.HDL }},
	{"trig", func(v *Visit) float64 { return v.Trig }},
	{"acr", func(v *Visit) float64 { return v.ACR }},
	{"hemoglobin", func(v *Visit) float64 { return v.Hemoglobin }},
	{"event_hypo", func(v *Visit) float64 { return flag(v.Events.Hypo) }},
	{"event_severe_hypo", func(v *Visit) float64 { return flag(v.Events.SevereHypo) }},
	{"event_uncontrolled_htn", func(v *Visit) float64 { return flag(v.Events.UncontrolledHTN) }},
	{"event_MI", func(v *Visit) float64 { return flag(v.Events.MI) }},
	{"event_stroke", func(v *Visit) float64 { return flag(v.Events.Stroke) }},
	{"event_HF_hosp", func(v *Visit) float64 { return flag(v.Events.HFHosp) }},
	{"event_AKI", func(v *Visit) float64 { return flag(v.Events.AKI) }},
	{"hospitalization_flag", func(v *Visit) float64 { return flag(v.Events.Hospitalization) }},
}

// StaticColumns lists the per-patient numeric columns in wide-table order.
func StaticColumns() []string {
	names := make([]string, len(staticFields))
	for i, f := range staticFields {
		names[i] = f.name
	}
	return names
}

// VisitFields lists the un-suffixed per-visit numeric fields.
func VisitFields() []string {
	names := make([]string, len(visitFields))
	for i, f := range visitFields {
		names[i] = f.name
	}
	return names
}

// Flatten turns patients into one wide row each: identity, static covariates,
// then every visit field suffixed with its timepoint.
func Flatten(patients []Patient) (*dataset.Table, error) {
	n := len(patients)
	table := dataset.NewTable(n)

	ids := make([]string, n)
	sexes := make([]string, n)
	for i := range patients {
		ids[i] = patients[i].ID
		sexes[i] = string(patients[i].Sex)
	}
	if err := table.AddText(ColPatientID, ids); err != nil {
		return nil, err
	}
	if err := table.AddText(ColSex, sexes); err != nil {
		return nil, err
	}

	for _, f := range staticFields {
		values := make([]float64, n)
		for i := range patients {
			values[i] = f.get(&patients[i].Static)
		}
		if err := table.AddNumeric(f.name, values); err != nil {
			return nil, err
		}
	}

	for t := 0; t < Timepoints; t++ {
		months := make([]string, n)
		for i := range patients {
			months[i] = patients[i].Visits[t].Month
		}
		if err := table.AddText(dataset.Suffixed("visit_month", t), months); err != nil {
			return nil, err
		}
		for _, f := range visitFields {
			values := make([]float64, n)
			for i := range patients {
				values[i] = f.get(&patients[i].Visits[t])
			}
			if err := table.AddNumeric(dataset.Suffixed(f.name, t), values); err != nil {
				return nil, fmt.Errorf("flattening %s: %w", f.name, err)
			}
		}
	}
	return table, nil
}

func flag(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
