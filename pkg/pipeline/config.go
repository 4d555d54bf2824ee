// Package pipeline runs the offline stages in order and records each run.
package pipeline

import (
	"fmt"
	"os"

	"github.com/synaptica-ai/halo/pkg/impute"
	"github.com/synaptica-ai/halo/pkg/missingness"
	"github.com/synaptica-ai/halo/pkg/training"
	"gopkg.in/yaml.v3"
)

type Seeds struct {
	Synthesize  uint64 `yaml:"synthesize" json:"synthesize"`
	Missingness uint64 `yaml:"missingness" json:"missingness"`
	Impute      uint64 `yaml:"impute" json:"impute"`
}

// Config drives one pipeline run. Training carries its own seed.
type Config struct {
	CohortSize  int                  `yaml:"cohort_size" json:"cohort_size"`
	ArtifactDir string               `yaml:"artifact_dir" json:"artifact_dir"`
	OutputDir   string               `yaml:"output_dir" json:"output_dir"`
	Seeds       Seeds                `yaml:"seeds" json:"seeds"`
	Missingness missingness.Schedule `yaml:"missingness" json:"missingness"`
	Impute      impute.Options       `yaml:"impute" json:"impute"`
	Training    training.Options     `yaml:"training" json:"training"`
}

func DefaultConfig() Config {
	return Config{
		CohortSize:  500,
		ArtifactDir: "./api",
		OutputDir:   "./api/outputs",
		Seeds:       Seeds{Synthesize: 42, Missingness: 2025, Impute: 0},
		Missingness: missingness.DefaultSchedule(),
		Impute:      impute.DefaultOptions(),
		Training:    training.DefaultOptions(),
	}
}

// LoadConfig overlays the YAML file at path on DefaultConfig. An empty path
// returns the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading pipeline config: %w", err)
	}
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing pipeline config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.CohortSize <= 0 {
		return fmt.Errorf("cohort_size must be positive, got %d", c.CohortSize)
	}
	if c.ArtifactDir == "" || c.OutputDir == "" {
		return fmt.Errorf("artifact_dir and output_dir are required")
	}
	return c.Missingness.Validate()
}

// Summary is the flattened view stored with each registry run.
func (c Config) Summary() map[string]interface{} {
	return map[string]interface{}{
		"cohort_size":      c.CohortSize,
		"seed_synthesize":  c.Seeds.Synthesize,
		"seed_missingness": c.Seeds.Missingness,
		"seed_impute":      c.Seeds.Impute,
		"seed_training":    c.Training.Seed,
		"label":            c.Training.Label,
		"folds":            c.Training.Folds,
		"trees":            c.Training.Forest.Trees,
		"impute_max_iter":  c.Impute.MaxIter,
	}
}
