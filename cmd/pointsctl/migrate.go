package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cleanpoints/cleanpoints-api/internal/config"
	"github.com/cleanpoints/cleanpoints-api/internal/pkg/database"
)

func init() {
	rootCmd.AddCommand(migrateCmd)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		db, err := database.Open(cfg.DatabaseDriver, cfg.DatabaseURL, cfg.SQLitePath)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer database.Close(db)

		if err := database.Migrate(commandContext(cmd), db); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "schema up to date (%s)\n", db.DriverName())
		return nil
	},
}
