package models

import (
	"time"

	"github.com/google/uuid"
)

// Event is the envelope published on the model topic.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // model.published, run.failed
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

const (
	EventModelPublished = "model.published"
	EventRunFailed      = "run.failed"
)

// Serving
type PredictionRequest struct {
	PatientFeatures []float64 `json:"patient_features"`
}

type NamedPredictionRequest struct {
	Features map[string]float64 `json:"features"`
}

type PredictionResponse struct {
	Outcome     string  `json:"outcome"`
	Probability float64 `json:"probability"`
	Confidence  string  `json:"confidence"`
	Placeholder bool    `json:"placeholder,omitempty"`
}

type FeatureImportance struct {
	Feature     string  `json:"feature"`
	Importance  float64 `json:"importance"`
	Description string  `json:"description,omitempty"`
}

// ModelPrediction is the model card served to dashboards. Scores are
// percentages of the holdout split.
type ModelPrediction struct {
	Model       string               `json:"model"`
	Loaded      bool                 `json:"loaded"`
	Accuracy    float64              `json:"accuracy"`
	Precision   float64              `json:"precision"`
	Recall      float64              `json:"recall"`
	F1Score     float64              `json:"f1Score"`
	MeanCVAUC   *float64             `json:"mean_cv_auc,omitempty"`
	Features    []string             `json:"features"`
	Predictions []PredictionResponse `json:"predictions"`
	GeneratedAt *time.Time           `json:"generated_at,omitempty"`
}

// Pipeline runs
type PipelineRun struct {
	ID           uuid.UUID              `json:"id"`
	Status       string                 `json:"status"`
	CohortSize   int                    `json:"cohort_size"`
	Config       map[string]interface{} `json:"config,omitempty"`
	Metrics      map[string]interface{} `json:"metrics,omitempty"`
	ArtifactPath string                 `json:"artifact_path,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	StartedAt    *time.Time             `json:"started_at,omitempty"`
	CompletedAt  *time.Time             `json:"completed_at,omitempty"`
}
