package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/essential-labs/essential-node/internal/node"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the node: relayer and validation workers against the configured database",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadNodeConfig()
		if err != nil {
			return err
		}
		log := newLogger(cfg)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		n, err := node.Start(ctx, cfg, log)
		if err != nil {
			return err
		}

		log.Info("node started", "instance_id", n.InstanceID(), "db_path", cfg.DBPath, "relayer_enabled", cfg.Relayer.Enabled, "validation_enabled", cfg.Validation.Enabled)

		<-ctx.Done()
		log.Info("shutdown signal received")
		return n.Shutdown()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
