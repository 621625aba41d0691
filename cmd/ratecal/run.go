package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"ratecal/internal/calibration"
	"ratecal/internal/config"
	"ratecal/internal/evolve"
	"ratecal/internal/exporter"
	"ratecal/internal/infrastructure"
	"ratecal/internal/ingest"
	"ratecal/internal/services"
)

// runFlags override the calibration section of the config for one run.
type runFlags struct {
	sheet           string
	ratingVariables []string
	actualField     string
	expectedField   string
	weightField     string
	mode            string
	grouped         bool
	credibility     bool
	strategy        string
	maxIterations   int
	seed            uint64
	workers         int
	output          string
	noExport        bool
}

func newRunCmd(root *rootFlags) *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run [input]",
		Short: "Calibrate a dataset and write the factor reports",
		Long: `Calibrate a dataset and write the factor reports.
The input is a .csv, .tsv, .txt or .xlsx file, or a Google Sheets range
written as gsheet://<spreadsheet-id>/<range>.

Flags override the calibration section of the config file. The summary and
factor table go to stdout, logs go to stderr.`,
		Example: `  ratecal run policies.csv -v region,tier --mode joint
  ratecal run book.xlsx --sheet Experience -v region --credibility --weight exposure
  ratecal run gsheet://1AbC/Data!A1:F500 -v territory -o out/`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCalibration(cmd, root, flags, args[0])
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.sheet, "sheet", "", "worksheet name for xlsx inputs (default: first sheet with every column)")
	f.StringSliceVarP(&flags.ratingVariables, "rating-variables", "v", nil, "rating variables, in stage order")
	f.StringVar(&flags.actualField, "actual", "", "actual loss column")
	f.StringVar(&flags.expectedField, "expected", "", "expected loss column")
	f.StringVar(&flags.weightField, "weight", "", "credibility weight column")
	f.StringVarP(&flags.mode, "mode", "m", "", "sequential or joint")
	f.BoolVar(&flags.grouped, "grouped", false, "fit joint factors per rating variable group")
	f.BoolVar(&flags.credibility, "credibility", false, "bound factors by the credibility of the weight column")
	f.StringVar(&flags.strategy, "strategy", "", "optimizer strategy (cmaes, guess, neldermead)")
	f.IntVar(&flags.maxIterations, "max-iterations", 0, "optimizer iteration limit")
	f.Uint64Var(&flags.seed, "seed", 0, "optimizer seed (0 picks one from the clock)")
	f.IntVarP(&flags.workers, "workers", "w", 0, "parallel objective evaluations (-1 for every CPU)")
	f.StringVarP(&flags.output, "output", "o", "", "report directory (default: paths.reports_dir)")
	f.BoolVar(&flags.noExport, "no-export", false, "print the summary without writing report files")
	return cmd
}

// apply copies the flags the user set onto the calibration config.
func (f *runFlags) apply(cmd *cobra.Command, c *config.CalibrationConfig) {
	changed := cmd.Flags().Changed
	if changed("rating-variables") {
		c.RatingVariables = f.ratingVariables
	}
	if changed("actual") {
		c.ActualField = f.actualField
	}
	if changed("expected") {
		c.ExpectedField = f.expectedField
	}
	if changed("weight") {
		c.WeightField = f.weightField
	}
	if changed("mode") {
		c.Mode = strings.ToLower(f.mode)
	}
	if changed("grouped") {
		c.Grouped = f.grouped
	}
	if changed("credibility") {
		c.Credibility.Enabled = f.credibility
	}
	if changed("strategy") {
		c.Optimizer.Strategy = strings.ToLower(f.strategy)
	}
	if changed("max-iterations") {
		c.Optimizer.MaxIterations = f.maxIterations
	}
	if changed("seed") {
		c.Optimizer.Seed = f.seed
	}
	if changed("workers") {
		c.Optimizer.Workers = f.workers
	}
}

func runCalibration(cmd *cobra.Command, root *rootFlags, flags *runFlags, input string) error {
	ctx := cmd.Context()

	cfg, err := root.load()
	if err != nil {
		return err
	}
	flags.apply(cmd, &cfg.Calibration)
	if err := cfg.Validate(); err != nil {
		return err
	}
	if len(cfg.Calibration.RatingVariables) == 0 {
		return fmt.Errorf("no rating variables: pass --rating-variables or set calibration.rating_variables")
	}

	logger := infrastructure.NewLoggerTo(cmd.ErrOrStderr(), cfg.Logging.Level)

	paths, err := config.ResolvePaths(cfg.Paths, "")
	if err != nil {
		return fmt.Errorf("failed to resolve paths: %w", err)
	}
	if flags.output != "" {
		paths.ReportsDir = flags.output
	}

	spec := cfg.Calibration.DatasetSpec()
	src, err := ingest.Open(ctx, input, flags.sheet,
		ingest.Columns(spec.RatingVariables, spec.ActualField, spec.ExpectedField, spec.WeightField),
		ingest.SheetsOptions{CredentialsFile: cfg.Sheets.CredentialsFile, APIKey: cfg.Sheets.APIKey})
	if err != nil {
		return err
	}
	records, err := ingest.Load(ctx, src, spec, logger)
	if err != nil {
		return err
	}

	reports := exporter.NewReportExporter(paths, exporter.DefaultPrecision, logger)
	service := services.NewCalibrationService(
		services.NewMemoryRunStore(1),
		evolve.New(infrastructure.WithComponent(logger, "optimizer")),
		logger,
		services.WithReports(paths, reports),
	)

	run, err := service.Calibrate(ctx, services.RunRequest{
		Records: records,
		Source:  src.Describe(),
		Spec:    spec,
		Options: cfg.Calibration.Options(),
		Export:  !flags.noExport,
	}, logProgress(logger))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if err := reports.WriteSummary(out, &exporter.Report{
		RunID:  run.ID,
		Source: run.Source,
		Rows:   run.Rows,
		Spec:   run.Spec,
		Result: run.Result,
	}); err != nil {
		return err
	}
	if len(run.Reports) > 0 {
		fmt.Fprintln(out)
		for _, f := range run.Reports {
			fmt.Fprintf(out, "wrote %s\n", f)
		}
	}
	return nil
}

// logProgress logs stage boundaries. Evaluation ticks stay at debug.
func logProgress(logger *slog.Logger) calibration.ProgressHandler {
	return func(ev calibration.ProgressEvent) {
		switch ev.Kind {
		case calibration.EventStageStarted:
			logger.Info("Stage started",
				slog.Int("stage", ev.Stage),
				slog.Int("stages", ev.Stages),
				slog.Any("variables", ev.Variables))
		case calibration.EventStageCompleted:
			logger.Info("Stage completed",
				slog.Int("stage", ev.Stage),
				slog.Int("stages", ev.Stages),
				slog.Float64("deviation", ev.Deviation),
				slog.Float64("ratio", ev.Ratio),
				slog.Bool("converged", ev.Converged))
		case calibration.EventEvaluation:
			logger.Debug("Evaluation",
				slog.Int("stage", ev.Stage),
				slog.Int64("evaluations", ev.Evaluations),
				slog.Float64("score", ev.Score))
		}
	}
}
