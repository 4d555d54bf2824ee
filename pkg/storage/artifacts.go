package storage

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/synaptica-ai/halo/pkg/common/logger"
	"github.com/synaptica-ai/halo/pkg/ml/forest"
)

// Artifact file names.
const (
	ModelFile      = "hypo_risk_rf_model.bin"
	FeaturesFile   = "hypo_risk_model_features.csv"
	ReportFile     = "halo_evaluation_report.md"
	MetricsFile    = "halo_metrics.json"
	ShapErrorFile  = "halo_shap_error.txt"
	ImportanceFile = "halo_feature_importance.json"
	ROCChartFile   = "halo_kfold_roc.html"
	CalibChartFile = "halo_calibration.html"
	ShapChartFile  = "halo_shap_summary.html"
	StackedFile    = "synthetic_halo_rolling_stacked.csv"
)

// WideFile names the wide cohort file for a cohort of n patients with an
// optional stage suffix such as "missing" or "mice".
func WideFile(n int, suffix string) string {
	if suffix == "" {
		return fmt.Sprintf("synthetic_halo_wide_%d.csv", n)
	}
	return fmt.Sprintf("synthetic_halo_wide_%d_%s.csv", n, suffix)
}

// ArtifactStore owns the model directory and the stage output directory.
type ArtifactStore struct {
	artifactDir string
	outputDir   string
}

func NewArtifactStore(artifactDir, outputDir string) (*ArtifactStore, error) {
	for _, dir := range []string{artifactDir, outputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return &ArtifactStore{artifactDir: artifactDir, outputDir: outputDir}, nil
}

func (s *ArtifactStore) ModelPath() string { return filepath.Join(s.artifactDir, ModelFile) }

func (s *ArtifactStore) OutputPath(name string) string { return filepath.Join(s.outputDir, name) }

// WriteAtomic writes through a temp file in the target directory and renames
// it into place, so readers never observe a partial file.
func WriteAtomic(path string, write func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// SaveModel persists the model as zstd-compressed JSON.
func (s *ArtifactStore) SaveModel(m *forest.Model) error {
	err := WriteAtomic(s.ModelPath(), func(w io.Writer) error {
		enc, err := zstd.NewWriter(w)
		if err != nil {
			return err
		}
		if err := json.NewEncoder(enc).Encode(m); err != nil {
			enc.Close()
			return err
		}
		return enc.Close()
	})
	if err != nil {
		return fmt.Errorf("saving model: %w", err)
	}
	logger.Log.WithFields(map[string]interface{}{
		"path":  s.ModelPath(),
		"trees": len(m.Trees),
	}).Info("Model saved")
	return nil
}

func LoadModel(path string) (*forest.Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	var m forest.Model
	if err := json.NewDecoder(dec).Decode(&m); err != nil {
		return nil, fmt.Errorf("decoding model %s: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// SaveFeatures writes the ordered feature list as a one-column CSV.
func (s *ArtifactStore) SaveFeatures(names []string) error {
	return WriteAtomic(s.OutputPath(FeaturesFile), func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.Write([]string{"features"}); err != nil {
			return err
		}
		for _, name := range names {
			if err := cw.Write([]string{name}); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	})
}

func ReadFeatures(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 || len(records[0]) == 0 || records[0][0] != "features" {
		return nil, fmt.Errorf("%s: missing features header", path)
	}
	names := make([]string, 0, len(records)-1)
	for _, rec := range records[1:] {
		names = append(names, rec[0])
	}
	return names, nil
}

func (s *ArtifactStore) WriteText(name, content string) error {
	return WriteAtomic(s.OutputPath(name), func(w io.Writer) error {
		_, err := io.WriteString(w, content)
		return err
	})
}

func (s *ArtifactStore) WriteJSON(name string, v interface{}) error {
	return WriteAtomic(s.OutputPath(name), func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	})
}

func (s *ArtifactStore) WriteWith(name string, write func(io.Writer) error) error {
	return WriteAtomic(s.OutputPath(name), write)
}

// Remove deletes an output file; a missing file is not an error.
func (s *ArtifactStore) Remove(name string) error {
	err := os.Remove(s.OutputPath(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func ReadImportance(path string) (map[string]float64, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out map[string]float64
	if err := json.Unmarshal(content, &out); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return out, nil
}
