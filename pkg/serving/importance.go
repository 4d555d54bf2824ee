package serving

import (
	"context"
	"errors"
	"sort"

	"github.com/synaptica-ai/halo/pkg/common/logger"
	"github.com/synaptica-ai/halo/pkg/common/models"
	"github.com/synaptica-ai/halo/pkg/observability/metrics"
	"github.com/synaptica-ai/halo/pkg/storage"
)

// StaticImportance is shown when no precomputed mapping exists.
var StaticImportance = []models.FeatureImportance{
	{Feature: "Age", Importance: 0.23, Description: "Patient age (74 years)"},
	{Feature: "HbA1c Level", Importance: 0.19, Description: "Current: 8.2% (target: <7%)"},
	{Feature: "Blood Pressure", Importance: 0.17, Description: "Systolic: 145 mmHg"},
	{Feature: "Medication Count", Importance: 0.14, Description: "Currently taking 8 medications"},
	{Feature: "Frailty Score", Importance: 0.12, Description: "Score: 3/5 (moderate frailty)"},
	{Feature: "Comorbidities", Importance: 0.08, Description: "Hypertension, metabolic syndrome"},
	{Feature: "BMI", Importance: 0.07, Description: "32.1 kg/m² (obese)"},
}

var descriptions = map[string]string{
	"age_at_index":       "Age at cohort entry",
	"bmi":                "Body mass index",
	"dm_duration_years":  "Years since diabetes diagnosis",
	"htn_duration_years": "Years since hypertension diagnosis",
	"insulin_flag":       "On insulin therapy",
	"med_count":          "Number of active medications",
	"hba1c":              "HbA1c at the current visit",
	"creatinine":         "Serum creatinine",
	"eGFR":               "Estimated glomerular filtration rate",
	"ldl":                "LDL cholesterol",
	"hdl":                "HDL cholesterol",
	"trig":               "Triglycerides",
	"acr":                "Albumin-to-creatinine ratio",
	"sbp":                "Systolic blood pressure",
	"dbp":                "Diastolic blood pressure",
	"weight_kg":          "Body weight",
	"sex_M":              "Male sex",
}

type importanceGetter interface {
	Get(ctx context.Context) (map[string]float64, error)
}

// ImportanceSource answers feature-importance reads from the Redis cache,
// then the artifact file, then the static list.
type ImportanceSource struct {
	cache importanceGetter
	path  string
}

// NewImportanceSource accepts a nil cache when Redis is disabled.
func NewImportanceSource(cache importanceGetter, path string) *ImportanceSource {
	return &ImportanceSource{cache: cache, path: path}
}

func (s *ImportanceSource) FeatureImportance(ctx context.Context) []models.FeatureImportance {
	if s.cache != nil {
		mapping, err := s.cache.Get(ctx)
		if err == nil && len(mapping) > 0 {
			metrics.ObserveImportanceSource("cache")
			return ranked(mapping)
		}
		if err != nil && !errors.Is(err, storage.ErrCacheMiss) {
			logger.Log.WithError(err).Warn("Importance cache read failed")
		}
	}
	if s.path != "" {
		if mapping, err := storage.ReadImportance(s.path); err == nil && len(mapping) > 0 {
			metrics.ObserveImportanceSource("file")
			return ranked(mapping)
		}
	}
	metrics.ObserveImportanceSource("static")
	out := make([]models.FeatureImportance, len(StaticImportance))
	copy(out, StaticImportance)
	return out
}

func ranked(mapping map[string]float64) []models.FeatureImportance {
	out := make([]models.FeatureImportance, 0, len(mapping))
	for name, v := range mapping {
		out = append(out, models.FeatureImportance{Feature: name, Importance: v, Description: descriptions[name]})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Importance != out[j].Importance {
			return out[i].Importance > out[j].Importance
		}
		return out[i].Feature < out[j].Feature
	})
	return out
}
