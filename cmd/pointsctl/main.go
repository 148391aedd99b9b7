// Command pointsctl runs operator tasks against the points ledger.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/cleanpoints/cleanpoints-api/internal/config"
	"github.com/cleanpoints/cleanpoints-api/internal/domain/account"
	"github.com/cleanpoints/cleanpoints-api/internal/domain/ledger"
	"github.com/cleanpoints/cleanpoints-api/internal/pkg/database"
	"github.com/cleanpoints/cleanpoints-api/internal/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:   "pointsctl",
	Short: "Operate the CleanPoints ledger",
	Long: `pointsctl migrates the schema, audits account balances against the
transaction log and mints tokens for operators. It reads the same
environment as the API server.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()
		logger.Init(logger.Config{Level: cfg.LogLevel, Environment: cfg.Env, Service: "pointsctl"})
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openLedger connects to the configured database and builds an engine with
// no realtime notifier.
func openLedger(cfg *config.Config) (*sqlx.DB, *ledger.Engine, *account.SQLRepository, error) {
	db, err := database.Open(cfg.DatabaseDriver, cfg.DatabaseURL, cfg.SQLitePath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect database: %w", err)
	}

	accounts := account.NewRepository(db)
	engine := ledger.NewEngine(ledger.NewUnitOfWork(db), accounts, ledger.NewTransactionLog(db), nil, ledger.Config{
		MaxRetries: cfg.LedgerMaxRetries,
		OpTimeout:  cfg.LedgerOpTimeout,
		Discount:   cfg.DiscountPolicy(),
	})
	return db, engine, accounts, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
