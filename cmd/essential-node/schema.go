package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/essential-labs/essential-node/internal/store"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Database schema operations",
}

var schemaVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Open the configured database and verify its schema version matches this binary",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadNodeConfig()
		if err != nil {
			return err
		}
		log := newLogger(cfg)

		st, err := store.Open(context.Background(), cfg.DBPath, 1, log)
		if err != nil {
			return err
		}
		defer st.Close()

		fmt.Println("schema OK")
		return nil
	},
}

func init() {
	schemaCmd.AddCommand(schemaVerifyCmd)
	rootCmd.AddCommand(schemaCmd)
}
