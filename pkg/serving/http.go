package serving

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/synaptica-ai/halo/pkg/common/logger"
	"github.com/synaptica-ai/halo/pkg/common/models"
	mlmetrics "github.com/synaptica-ai/halo/pkg/ml/metrics"
	"github.com/synaptica-ai/halo/pkg/observability/metrics"
)

const ModelName = "Random Forest Classifier"

type Handler struct {
	scorer      *Scorer
	importance  *ImportanceSource
	metricsPath string
	maxBody     int64
}

func NewHandler(scorer *Scorer, importance *ImportanceSource, metricsPath string, maxBody int64) *Handler {
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	return &Handler{scorer: scorer, importance: importance, metricsPath: metricsPath, maxBody: maxBody}
}

func (h *Handler) Register(router *mux.Router) {
	router.HandleFunc("/health", h.health).Methods("GET")
	router.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) { metrics.WritePrometheus(w) }).Methods("GET")
	router.HandleFunc("/api/ml/run-prediction", h.runPrediction).Methods("POST")
	router.HandleFunc("/api/ml/run-prediction/named", h.runNamedPrediction).Methods("POST")
	router.HandleFunc("/api/ml/feature-importance", h.featureImportance).Methods("GET")
	router.HandleFunc("/api/ml/predictions", h.modelPredictions).Methods("GET")
	// Preflight requests only need a route so the CORS middleware runs.
	router.PathPrefix("/").Methods("OPTIONS").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "healthy",
		"model_loaded": h.scorer.Model() != nil,
	})
}

func (h *Handler) runPrediction(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req models.PredictionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	pred := h.scorer.Score(req.PatientFeatures)
	logger.Log.WithFields(map[string]interface{}{
		"features":    len(req.PatientFeatures),
		"placeholder": pred.Placeholder,
		"latency_ms":  time.Since(start).Milliseconds(),
	}).Debug("Prediction completed")
	writeJSON(w, http.StatusOK, toResponse(pred))
}

func (h *Handler) runNamedPrediction(w http.ResponseWriter, r *http.Request) {
	var req models.NamedPredictionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	pred, err := h.scorer.ScoreNamed(req.Features)
	if errors.Is(err, ErrMissingFeature) || errors.Is(err, ErrUnknownFeature) {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err != nil {
		logger.Log.WithError(err).Error("Named prediction failed")
		writeError(w, http.StatusInternalServerError, "Prediction failed")
		return
	}
	writeJSON(w, http.StatusOK, toResponse(pred))
}

func (h *Handler) featureImportance(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.importance.FeatureImportance(r.Context()))
}

type persistedMetrics struct {
	HoldoutAccuracy *float64         `json:"holdout_accuracy"`
	MeanAUC         *float64         `json:"mean_auc"`
	Report          mlmetrics.Report `json:"classification_report"`
	GeneratedAt     *time.Time       `json:"generated_at"`
}

func (h *Handler) modelPredictions(w http.ResponseWriter, r *http.Request) {
	card := models.ModelPrediction{Model: ModelName, Predictions: []models.PredictionResponse{}}
	if model := h.scorer.Model(); model != nil {
		card.Loaded = true
		card.Features = model.FeatureNames
	}
	if content, err := os.ReadFile(h.metricsPath); err == nil {
		var pm persistedMetrics
		if err := json.Unmarshal(content, &pm); err != nil {
			logger.Log.WithError(err).WithField("path", h.metricsPath).Warn("Unreadable metrics file")
		} else {
			if pm.HoldoutAccuracy != nil {
				card.Accuracy = percent(*pm.HoldoutAccuracy)
			}
			card.Precision = percent(pm.Report.Weighted.Precision)
			card.Recall = percent(pm.Report.Weighted.Recall)
			card.F1Score = percent(pm.Report.Weighted.F1)
			card.MeanCVAUC = pm.MeanAUC
			card.GeneratedAt = pm.GeneratedAt
		}
	}
	writeJSON(w, http.StatusOK, []models.ModelPrediction{card})
}

func toResponse(p Prediction) models.PredictionResponse {
	return models.PredictionResponse{
		Outcome:     p.Outcome,
		Probability: math.Round(p.Probability*100) / 100,
		Confidence:  p.Confidence,
		Placeholder: p.Placeholder,
	}
}

func percent(v float64) float64 {
	return math.Round(v*1000) / 10
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.WithError(err).Error("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
