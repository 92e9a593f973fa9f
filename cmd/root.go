// Package cmd implements the stageflow command line.
package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/davidroman0O/stageflow/config"
	"github.com/davidroman0O/stageflow/logging"
)

// options are the persistent flags shared by every command
type options struct {
	configPath string
	logLevel   string
}

// load reads the configuration and applies flag overrides.
func (o *options) load() (*config.Config, *logging.ConsoleLogger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logging.NewWriterLogger(level, os.Stderr), nil
}

// NewRootCmd builds the stageflow command tree.
func NewRootCmd(version string) *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:          "stageflow",
		Short:        "Multi-stage workflow orchestration engine",
		Long:         "Runs conversational multi-stage workflows: forms, decisions, actions and aggregations, modifiable while they run.",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to the configuration file (default: ./stageflow.yaml, env: STAGEFLOW_*)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override log.level (debug, info, warn, error)")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newDefinitionsCmd(opts))
	cmd.AddCommand(newSchemaCmd())

	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	if version == "" {
		version = "dev"
	}
	cmd.Version = version
	return cmd
}
