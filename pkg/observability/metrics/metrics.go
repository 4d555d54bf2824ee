package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
)

var (
	predictionsServed    atomic.Int64
	placeholderServed    atomic.Int64
	vectorMismatches     atomic.Int64
	namedRejected        atomic.Int64
	modelReloads         atomic.Int64
	modelReloadFailures  atomic.Int64
	modelLoaded          atomic.Int64
	importanceFromCache  atomic.Int64
	importanceFromFile   atomic.Int64
	importanceFromStatic atomic.Int64
)

func ObservePrediction(placeholder bool) {
	predictionsServed.Add(1)
	if placeholder {
		placeholderServed.Add(1)
	}
}

func ObserveVectorMismatch() { vectorMismatches.Add(1) }

func ObserveNamedRejected() { namedRejected.Add(1) }

func ObserveReload(ok bool) {
	if ok {
		modelReloads.Add(1)
		return
	}
	modelReloadFailures.Add(1)
}

func SetModelLoaded(loaded bool) {
	if loaded {
		modelLoaded.Store(1)
		return
	}
	modelLoaded.Store(0)
}

// ObserveImportanceSource counts which tier answered a feature-importance read.
func ObserveImportanceSource(source string) {
	switch source {
	case "cache":
		importanceFromCache.Add(1)
	case "file":
		importanceFromFile.Add(1)
	default:
		importanceFromStatic.Add(1)
	}
}

type sample struct {
	name, help, kind string
	value            int64
}

func snapshot() []sample {
	return []sample{
		{"halo_serving_predictions_total", "Predictions returned by the scoring endpoints.", "counter", predictionsServed.Load()},
		{"halo_serving_placeholder_predictions_total", "Predictions answered with the placeholder because no model was loaded.", "counter", placeholderServed.Load()},
		{"halo_serving_vector_length_mismatches_total", "Positional vectors padded or truncated to the model width.", "counter", vectorMismatches.Load()},
		{"halo_serving_named_rejected_total", "Named scoring requests rejected for missing or unknown features.", "counter", namedRejected.Load()},
		{"halo_serving_model_reloads_total", "Successful model reloads.", "counter", modelReloads.Load()},
		{"halo_serving_model_reload_failures_total", "Model reloads that kept the previous model.", "counter", modelReloadFailures.Load()},
		{"halo_serving_model_loaded", "Whether a trained model is currently served.", "gauge", modelLoaded.Load()},
		{"halo_serving_importance_cache_reads_total", "Feature-importance reads answered from Redis.", "counter", importanceFromCache.Load()},
		{"halo_serving_importance_file_reads_total", "Feature-importance reads answered from the artifact file.", "counter", importanceFromFile.Load()},
		{"halo_serving_importance_static_reads_total", "Feature-importance reads answered from the static list.", "counter", importanceFromStatic.Load()},
	}
}

func write(w io.Writer) {
	for _, s := range snapshot() {
		fmt.Fprintf(w, "# HELP %s %s\n", s.name, s.help)
		fmt.Fprintf(w, "# TYPE %s %s\n", s.name, s.kind)
		fmt.Fprintf(w, "%s %d\n", s.name, s.value)
	}
}

func WritePrometheus(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	write(w)
}
