package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/essential-labs/essential-node/internal/config"
	"github.com/essential-labs/essential-node/internal/logging"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "essential-node",
	Short: "Runs the node's block/state store, relayer and validation workers",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to config file (overrides discovery)")
}

// loadNodeConfig resolves configuration, honouring the --config flag;
// every subcommand that touches the store starts with it and then builds
// its logger with newLogger.
func loadNodeConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	return logging.New(logging.Options{
		FilePath: cfg.LogFilePath,
		Debug:    cfg.LogDebug,
	})
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
