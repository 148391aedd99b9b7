package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cleanpoints/cleanpoints-api/internal/config"
	"github.com/cleanpoints/cleanpoints-api/internal/pkg/database"
)

func init() {
	rootCmd.AddCommand(auditCmd)
}

var auditCmd = &cobra.Command{
	Use:   "audit [ACCOUNT_ID]",
	Short: "Replay transaction logs and compare against stored balances",
	Long: `Replays each account's transactions in id order from zero and checks
every resulting balance, the stored balance and the activity counter.
Without an argument every account is audited. Exits non-zero on divergence.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAudit,
}

func runAudit(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	db, engine, accounts, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer database.Close(db)

	ctx := commandContext(cmd)
	var ids []uuid.UUID
	if len(args) == 1 {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid account id %q: %w", args[0], err)
		}
		ids = []uuid.UUID{id}
	} else {
		if ids, err = accounts.ListIDs(ctx); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	diverged := 0
	for _, id := range ids {
		report, err := engine.Verify(ctx, id)
		if err != nil {
			return fmt.Errorf("audit %s: %w", id, err)
		}
		if report.Consistent {
			fmt.Fprintf(out, "ok       %s balance=%d transactions=%d\n", id, report.StoredBalance, report.Transactions)
			continue
		}
		diverged++
		fmt.Fprintf(out, "DIVERGED %s stored=%d replayed=%d\n", id, report.StoredBalance, report.ReplayedBalance)
		if d := report.Divergence; d != nil {
			fmt.Fprintf(out, "         transaction %d: %s (expected %d, recorded %d)\n", d.TransactionID, d.Reason, d.Expected, d.Recorded)
		}
	}

	fmt.Fprintf(out, "%d accounts audited, %d diverged\n", len(ids), diverged)
	if diverged > 0 {
		return fmt.Errorf("%d of %d accounts diverged from their transaction log", diverged, len(ids))
	}
	return nil
}
