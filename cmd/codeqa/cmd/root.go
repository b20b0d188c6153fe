// Package cmd provides the CLI commands for codeqa.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/alakhanpal23/codebase-qa/internal/config"
	"github.com/alakhanpal23/codebase-qa/internal/engine"
	"github.com/alakhanpal23/codebase-qa/internal/logging"
	"github.com/alakhanpal23/codebase-qa/pkg/version"
)

var (
	configPath     string
	dataDirFlag    string
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the codeqa CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "codeqa",
		Short: "Question answering over indexed codebases",
		Long: `codeqa indexes source repositories into a local vector store and
answers natural-language questions about them with cited code snippets.

Indexing and retrieval run entirely locally. Embeddings come from a local
Ollama server when configured, or a built-in static embedder otherwise.

Typical flow:
  codeqa ingest backend ./services/backend
  codeqa query "where are auth tokens validated" --repo backend`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.SetVersionTemplate("codeqa version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.codeqa.yaml)")
	cmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "", "Override the index data directory")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")

	cmd.PersistentPreRunE = setupLogging
	cmd.PersistentPostRun = func(*cobra.Command, []string) {
		if loggingCleanup != nil {
			loggingCleanup()
			loggingCleanup = nil
		}
	}

	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newQueryCmd())
	cmd.AddCommand(newReposCmd())
	cmd.AddCommand(newDeleteCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// loadConfig resolves configuration with CLI flag overrides applied.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dataDirFlag != "" {
		cfg.Storage.DataDir = dataDirFlag
	}
	if debugMode {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// setupLogging routes structured logs to a file under the data directory so
// stdout stays clean for command output.
func setupLogging(*cobra.Command, []string) error {
	cfg, err := loadConfig()
	if err != nil {
		// Config errors surface when the command runs; logging falls back
		// to defaults here.
		return nil
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.WriteToStderr = debugMode
	logCfg.FilePath = cfg.Logging.FilePath
	if logCfg.FilePath == "" {
		logCfg.FilePath = filepath.Join(cfg.Storage.DataDir, "logs", "codeqa.log")
	}

	cleanup, err := logging.SetupDefault(logCfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	loggingCleanup = cleanup
	return nil
}

// openEngine loads configuration and assembles the engine.
func openEngine(ctx context.Context) (*engine.Engine, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	eng, err := engine.Open(ctx, cfg, slog.Default())
	if err != nil {
		return nil, nil, err
	}
	return eng, cfg, nil
}
