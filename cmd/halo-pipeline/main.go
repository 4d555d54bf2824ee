package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/synaptica-ai/halo/pkg/common/config"
	"github.com/synaptica-ai/halo/pkg/common/database"
	"github.com/synaptica-ai/halo/pkg/common/kafka"
	"github.com/synaptica-ai/halo/pkg/common/logger"
	"github.com/synaptica-ai/halo/pkg/common/models"
	"github.com/synaptica-ai/halo/pkg/dataset"
	"github.com/synaptica-ai/halo/pkg/pipeline"
	"github.com/synaptica-ai/halo/pkg/storage"
	"gorm.io/gorm"
)

type flags struct {
	configPath string
	outputDir  string
	cohortSize int
	seed       int64
	input      string
}

func main() {
	_ = godotenv.Load()
	logger.Init("halo-pipeline")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		logger.Log.WithError(err).Error("halo-pipeline failed")
		if pipeline.IsDataError(err) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	f := &flags{}
	root := &cobra.Command{
		Use:           "halo-pipeline",
		Short:         "Synthesize, impute and model the HALO diabetes cohort",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&f.configPath, "config", "", "pipeline YAML config (defaults apply when empty)")
	root.PersistentFlags().StringVar(&f.outputDir, "out", "", "stage output directory")
	root.PersistentFlags().IntVar(&f.cohortSize, "n", 0, "cohort size")
	root.PersistentFlags().Int64Var(&f.seed, "seed", -1, "seed for the stage being run")

	root.AddCommand(
		runCommand(f),
		generateCommand(f),
		stageCommand(f, "inject", "Null values with frailty-driven missingness", func(r *pipeline.Runner, in *dataset.Table) error {
			_, err := r.Inject(in)
			return err
		}, func(cfg pipeline.Config) string { return storage.WideFile(cfg.CohortSize, "") }),
		stageCommand(f, "impute", "Fill missing longitudinal values by chained Bayesian ridge", func(r *pipeline.Runner, in *dataset.Table) error {
			_, err := r.Impute(in)
			return err
		}, func(cfg pipeline.Config) string { return storage.WideFile(cfg.CohortSize, "missing") }),
		stageCommand(f, "stack", "Reshape the imputed cohort into the rolling panel", func(r *pipeline.Runner, in *dataset.Table) error {
			_, err := r.Stack(in)
			return err
		}, func(cfg pipeline.Config) string { return storage.WideFile(cfg.CohortSize, "mice") }),
		trainCommand(f),
		runsCommand(),
	)
	return root
}

// loadConfig applies the seed flag to whichever stage the command runs.
func loadConfig(f *flags, stage string) (pipeline.Config, error) {
	path := f.configPath
	if path == "" {
		path = config.Load().PipelineConfigPath
	}
	cfg, err := pipeline.LoadConfig(path)
	if err != nil {
		return cfg, err
	}
	if f.outputDir != "" {
		cfg.OutputDir = f.outputDir
	}
	if f.cohortSize > 0 {
		cfg.CohortSize = f.cohortSize
	}
	if f.seed >= 0 {
		seed := uint64(f.seed)
		switch stage {
		case "generate":
			cfg.Seeds.Synthesize = seed
		case "inject":
			cfg.Seeds.Missingness = seed
		case "impute":
			cfg.Seeds.Impute = seed
		case "train":
			cfg.Training.Seed = seed
		default:
			cfg.Seeds.Synthesize = seed
			cfg.Training.Seed = seed
		}
	}
	return cfg, cfg.Validate()
}

func runCommand(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run every stage and publish the trained model",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(f, "run")
			if err != nil {
				return err
			}
			env := config.Load()
			var opts []pipeline.Option

			if env.RunRegistryEnabled {
				db, err := database.OpenPostgres(env)
				if err != nil {
					return fmt.Errorf("run registry: %w", err)
				}
				defer database.ClosePostgres(db)
				repo := pipeline.NewRepository(db)
				if err := repo.AutoMigrate(); err != nil {
					return fmt.Errorf("migrating run registry: %w", err)
				}
				opts = append(opts, pipeline.WithRegistry(repo))
			}
			if env.EventsEnabled {
				producer := kafka.NewProducer(env)
				defer producer.Close()
				opts = append(opts, pipeline.WithEvents(producer))
			}
			if env.ImportanceCacheEnabled {
				client := database.NewRedis(env)
				defer client.Close()
				opts = append(opts, pipeline.WithImportanceCache(storage.NewImportanceCache(client, env.ImportanceCacheKey, env.ImportanceCacheTTL)))
			}

			runner, err := pipeline.NewRunner(cfg, opts...)
			if err != nil {
				return err
			}
			report, err := runner.Run(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run %s: %d stacked rows, mean ROC AUC %.3f\n",
				report.RunID, report.Stacked, report.Training.Evaluation.MeanAUC)
			return nil
		},
	}
}

func generateCommand(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "generate",
		Short: "Synthesize the complete wide cohort",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(f, "generate")
			if err != nil {
				return err
			}
			runner, err := pipeline.NewRunner(cfg)
			if err != nil {
				return err
			}
			_, err = runner.Generate()
			return err
		},
	}
}

// stageCommand reads the previous stage's file (or --in) and runs one stage.
func stageCommand(f *flags, use, short string, stage func(*pipeline.Runner, *dataset.Table) error, defaultInput func(pipeline.Config) string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(f, use)
			if err != nil {
				return err
			}
			runner, err := pipeline.NewRunner(cfg)
			if err != nil {
				return err
			}
			in, err := readInput(runner, f.input, defaultInput(cfg))
			if err != nil {
				return err
			}
			return stage(runner, in)
		},
	}
	cmd.Flags().StringVar(&f.input, "in", "", "input CSV (defaults to the previous stage's output)")
	return cmd
}

func trainCommand(f *flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Cross-validate, explain and persist the risk model",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(f, "train")
			if err != nil {
				return err
			}
			runner, err := pipeline.NewRunner(cfg)
			if err != nil {
				return err
			}
			stacked, err := readInput(runner, f.input, storage.StackedFile)
			if err != nil {
				return err
			}
			result, err := runner.Train(cmd.Context(), stacked)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), result.Evaluation.Markdown())
			return nil
		},
	}
	cmd.Flags().StringVar(&f.input, "in", "", "stacked panel CSV")
	return cmd
}

func runsCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent pipeline runs from the registry",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := database.OpenPostgres(config.Load())
			if err != nil {
				return err
			}
			defer database.ClosePostgres(db)
			runs, err := listRuns(cmd.Context(), db, limit)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(runs)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs")
	return cmd
}

func listRuns(ctx context.Context, db *gorm.DB, limit int) ([]models.PipelineRun, error) {
	runs, err := pipeline.NewRepository(db).List(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]models.PipelineRun, len(runs))
	for i, run := range runs {
		out[i] = run.ToPipelineRun()
	}
	return out, nil
}

func readInput(runner *pipeline.Runner, explicit, fallback string) (*dataset.Table, error) {
	path := explicit
	if path == "" {
		path = runner.Store().OutputPath(fallback)
	}
	table, err := dataset.ReadCSVFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return table, nil
}
