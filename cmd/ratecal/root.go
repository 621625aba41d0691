package main

import (
	"github.com/spf13/cobra"

	"ratecal/internal/config"
	"ratecal/pkg/contracts"
)

// rootFlags are shared by every subcommand.
type rootFlags struct {
	configFile string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:   "ratecal",
		Short: "Credibility-weighted rating factor calibration",
		Long: `ratecal calibrates multiplicative rating factors so that expected losses
reproduce actual losses, within credibility bounds for each level.

- run:   calibrate a CSV, TSV, XLSX or Google Sheets dataset and write reports
- serve: start the HTTP API with live progress over websockets`,
		Version:       contracts.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.PersistentFlags().StringVarP(&flags.configFile, "config", "c", "", "config file (default searches ratecal.yaml, config.yaml, configs/)")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")

	cmd.AddCommand(newRunCmd(flags), newServeCmd(flags), newVersionCmd())
	return cmd
}

// load reads the configuration and applies the root overrides.
func (f *rootFlags) load() (*config.Config, error) {
	cfg, err := config.Load(f.configFile)
	if err != nil {
		return nil, err
	}
	if f.logLevel != "" {
		cfg.Logging.Level = f.logLevel
	}
	return cfg, nil
}
