package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id UUID PRIMARY KEY,
		display_name VARCHAR(100) NOT NULL DEFAULT '',
		email VARCHAR(255) UNIQUE,
		avatar_url TEXT,
		balance BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
		total_earned_activities BIGINT NOT NULL DEFAULT 0 CHECK (total_earned_activities >= 0),
		disabled BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id BIGSERIAL PRIMARY KEY,
		account_id UUID NOT NULL REFERENCES accounts(id),
		kind VARCHAR(16) NOT NULL CHECK (kind IN ('earn', 'spend')),
		category VARCHAR(32) NOT NULL,
		amount BIGINT NOT NULL CHECK (amount > 0),
		resulting_balance BIGINT NOT NULL CHECK (resulting_balance >= 0),
		reference TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_account_id ON transactions (account_id, id)`,
	`CREATE TABLE IF NOT EXISTS courses (
		id UUID PRIMARY KEY,
		title VARCHAR(200) NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE TABLE IF NOT EXISTS products (
		id UUID PRIMARY KEY,
		name VARCHAR(200) NOT NULL,
		price NUMERIC(12, 2) NOT NULL CHECK (price > 0),
		available BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE TABLE IF NOT EXISTS rewards (
		id UUID PRIMARY KEY,
		name VARCHAR(200) NOT NULL,
		points_required BIGINT NOT NULL CHECK (points_required > 0),
		available BOOLEAN NOT NULL DEFAULT TRUE
	)`,
}

// SQLite keeps prices as TEXT so decimal values round-trip exactly.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL DEFAULT '',
		email TEXT UNIQUE,
		avatar_url TEXT,
		balance INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
		total_earned_activities INTEGER NOT NULL DEFAULT 0 CHECK (total_earned_activities >= 0),
		disabled BOOLEAN NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		kind TEXT NOT NULL CHECK (kind IN ('earn', 'spend')),
		category TEXT NOT NULL,
		amount INTEGER NOT NULL CHECK (amount > 0),
		resulting_balance INTEGER NOT NULL CHECK (resulting_balance >= 0),
		reference TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_account_id ON transactions (account_id, id)`,
	`CREATE TABLE IF NOT EXISTS courses (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT 1
	)`,
	`CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		price TEXT NOT NULL,
		available BOOLEAN NOT NULL DEFAULT 1
	)`,
	`CREATE TABLE IF NOT EXISTS rewards (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		points_required INTEGER NOT NULL CHECK (points_required > 0),
		available BOOLEAN NOT NULL DEFAULT 1
	)`,
}

// Migrate creates the ledger and catalog tables for the connection's dialect.
// Statements are idempotent.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	var stmts []string
	switch db.DriverName() {
	case DriverPostgres:
		stmts = postgresSchema
	case DriverSQLite:
		stmts = sqliteSchema
	default:
		return fmt.Errorf("migrate: unsupported driver %q", db.DriverName())
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migrate: begin tx: %w", err)
	}
	defer tx.Rollback()

	for i, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: statement %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migrate: commit: %w", err)
	}

	log.Info().Str("driver", db.DriverName()).Int("statements", len(stmts)).Msg("Database schema up to date")
	return nil
}
