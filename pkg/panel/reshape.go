// Package panel turns the wide cohort into a rolling-window supervised table.
package panel

import (
	"fmt"
	"math"

	"github.com/synaptica-ai/halo/pkg/cohort"
	"github.com/synaptica-ai/halo/pkg/common/logger"
	"github.com/synaptica-ai/halo/pkg/dataset"
)

// Stacked-table column names.
const (
	ColTimepoint = "timepoint"
	ColSexMale   = "sex_M"
	LabelHypo    = "hypo_next6m"
	LabelCV      = "cv_next6m"
)

// Statics are carried unchanged onto every stacked row of a patient.
var Statics = []string{"age_at_index", "bmi", "dm_duration_years", "htn_duration_years", "insulin_flag", "med_count"}

// Covariates are read at the source timepoint and emitted without suffix.
var Covariates = []string{"hba1c", "creatinine", "eGFR", "ldl", "hdl", "trig", "acr", "sbp", "dbp", "weight_kg"}

var cvEvents = []string{"event_MI", "event_stroke", "event_HF_hosp"}

// SourceTimepoints are the visits that have a following visit to label from.
var SourceTimepoints = []int{0, 1}

// Columns lists the stacked table header in order.
func Columns() []string {
	cols := []string{cohort.ColPatientID, ColTimepoint}
	cols = append(cols, Statics...)
	cols = append(cols, Covariates...)
	return append(cols, ColSexMale, LabelHypo, LabelCV)
}

// Reshape emits one row per patient and source timepoint, labelled from the
// next visit's event flags. A missing or absent flag counts as no event.
func Reshape(wide *dataset.Table) (*dataset.Table, error) {
	ids, err := wide.Strings(cohort.ColPatientID)
	if err != nil {
		return nil, err
	}
	sexes, err := wide.Strings(cohort.ColSex)
	if err != nil {
		return nil, err
	}
	statics := make([][]float64, len(Statics))
	for i, name := range Statics {
		if statics[i], err = wide.Floats(name); err != nil {
			return nil, fmt.Errorf("static covariate: %w", err)
		}
	}
	covariates := make([][][]float64, len(SourceTimepoints))
	for ti, tp := range SourceTimepoints {
		covariates[ti] = make([][]float64, len(Covariates))
		for i, base := range Covariates {
			if covariates[ti][i], err = wide.Floats(dataset.Suffixed(base, tp)); err != nil {
				return nil, fmt.Errorf("covariate at T%d: %w", tp, err)
			}
		}
	}

	n := wide.NumRows()
	rows := n * len(SourceTimepoints)
	outIDs := make([]string, 0, rows)
	timepoint := make([]float64, 0, rows)
	outStatics := make([][]float64, len(Statics))
	outCovariates := make([][]float64, len(Covariates))
	sexMale := make([]float64, 0, rows)
	hypo := make([]float64, 0, rows)
	cv := make([]float64, 0, rows)

	for r := 0; r < n; r++ {
		for ti, tp := range SourceTimepoints {
			outIDs = append(outIDs, ids[r])
			timepoint = append(timepoint, float64(tp))
			for i := range Statics {
				outStatics[i] = append(outStatics[i], statics[i][r])
			}
			for i := range Covariates {
				outCovariates[i] = append(outCovariates[i], covariates[ti][i][r])
			}
			male := 0.0
			if sexes[r] == string(cohort.Male) {
				male = 1
			}
			sexMale = append(sexMale, male)

			next := tp + 1
			hypo = append(hypo, eventAt(wide, "event_hypo", next, r))
			anyCV := 0.0
			for _, event := range cvEvents {
				anyCV = math.Max(anyCV, eventAt(wide, event, next, r))
			}
			cv = append(cv, anyCV)
		}
	}

	out := dataset.NewTable(rows)
	if err := out.AddText(cohort.ColPatientID, outIDs); err != nil {
		return nil, err
	}
	if err := out.AddNumeric(ColTimepoint, timepoint); err != nil {
		return nil, err
	}
	for i, name := range Statics {
		if err := out.AddNumeric(name, orEmpty(outStatics[i])); err != nil {
			return nil, err
		}
	}
	for i, name := range Covariates {
		if err := out.AddNumeric(name, orEmpty(outCovariates[i])); err != nil {
			return nil, err
		}
	}
	for _, c := range []struct {
		name   string
		values []float64
	}{{ColSexMale, sexMale}, {LabelHypo, hypo}, {LabelCV, cv}} {
		if err := out.AddNumeric(c.name, c.values); err != nil {
			return nil, err
		}
	}

	logger.WithStage("panel").WithFields(map[string]interface{}{
		"patients": n,
		"rows":     rows,
	}).Info("Stacked rolling-window dataset")
	return out, nil
}

func eventAt(wide *dataset.Table, event string, tp, row int) float64 {
	values, err := wide.Floats(dataset.Suffixed(event, tp))
	if err != nil || math.IsNaN(values[row]) || values[row] < 0.5 {
		return 0
	}
	return 1
}

func orEmpty(values []float64) []float64 {
	if values == nil {
		return []float64{}
	}
	return values
}
