package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cleanpoints/cleanpoints-api/internal/config"
	"github.com/cleanpoints/cleanpoints-api/internal/middleware"
	"github.com/cleanpoints/cleanpoints-api/internal/pkg/jwt"
)

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().String("role", middleware.RoleMember, "Role claim: member or admin")
}

var tokenCmd = &cobra.Command{
	Use:   "token ACCOUNT_ID",
	Short: "Mint an access token signed with JWT_SECRET",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid account id %q: %w", args[0], err)
		}

		role, _ := cmd.Flags().GetString("role")
		if role != middleware.RoleMember && role != middleware.RoleAdmin {
			return fmt.Errorf("unknown role %q", role)
		}

		cfg := config.Load()
		token, err := jwt.NewService(cfg.JWTSecret, cfg.JWTAccessTTL).GenerateAccessToken(id, role)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}
