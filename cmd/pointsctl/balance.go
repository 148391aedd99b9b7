package main

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cleanpoints/cleanpoints-api/internal/config"
	"github.com/cleanpoints/cleanpoints-api/internal/domain/ledger"
	"github.com/cleanpoints/cleanpoints-api/internal/pkg/database"
)

func init() {
	rootCmd.AddCommand(balanceCmd)
	balanceCmd.Flags().IntP("history", "n", 0, "Also print the most recent N transactions")
}

var balanceCmd = &cobra.Command{
	Use:   "balance ACCOUNT_ID",
	Short: "Show an account's balance and discount",
	Args:  cobra.ExactArgs(1),
	RunE:  runBalance,
}

func runBalance(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid account id %q: %w", args[0], err)
	}
	history, _ := cmd.Flags().GetInt("history")

	cfg := config.Load()
	db, engine, _, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer database.Close(db)

	ctx := commandContext(cmd)
	a, err := engine.Balance(ctx, id)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "account    %s\n", a.ID)
	fmt.Fprintf(out, "balance    %d\n", a.Balance)
	fmt.Fprintf(out, "activities %d\n", a.TotalEarnedActivities)
	fmt.Fprintf(out, "discount   %d%%\n", engine.DiscountPolicy().Percent(a.Balance))
	fmt.Fprintf(out, "disabled   %t\n", a.Disabled)

	if history <= 0 {
		return nil
	}
	txs, err := engine.History(ctx, id, ledger.ListOptions{Limit: history})
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	for i := range txs {
		if err := enc.Encode(&txs[i]); err != nil {
			return err
		}
	}
	return nil
}
