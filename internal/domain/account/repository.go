package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/cleanpoints/cleanpoints-api/internal/pkg/database"
)

const queryTimeout = 3 * time.Second

const selectColumns = `id, display_name, email, avatar_url, balance, total_earned_activities, disabled, created_at, updated_at`

// Repository is the Account Store. It never touches the transaction log.
type Repository interface {
	Create(ctx context.Context, a *Account) error
	Get(ctx context.Context, id uuid.UUID) (*Account, error)
	CompareAndUpdate(ctx context.Context, id uuid.UUID, expectedBalance int64, upd BalanceUpdate) error
	SetDisabled(ctx context.Context, id uuid.UUID, disabled bool, at time.Time) error
	UpdateProfile(ctx context.Context, id uuid.UUID, patch ProfilePatch, at time.Time) error
	ListIDs(ctx context.Context) ([]uuid.UUID, error)
}

// SQLRepository works against a pool or an open transaction.
type SQLRepository struct {
	db sqlx.ExtContext
}

func NewRepository(db sqlx.ExtContext) *SQLRepository {
	return &SQLRepository{db: db}
}

func (r *SQLRepository) Create(ctx context.Context, a *Account) error {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := r.db.Rebind(`
		INSERT INTO accounts (id, display_name, email, avatar_url, balance, total_earned_activities, disabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := r.db.ExecContext(ctx2, query,
		a.ID, a.DisplayName, a.Email, a.AvatarURL,
		a.Balance, a.TotalEarnedActivities, a.Disabled,
		a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return ErrEmailTaken
		}
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (r *SQLRepository) Get(ctx context.Context, id uuid.UUID) (*Account, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var a Account
	query := r.db.Rebind(`SELECT ` + selectColumns + ` FROM accounts WHERE id = ?`)
	if err := sqlx.GetContext(ctx2, r.db, &a, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return &a, nil
}

// CompareAndUpdate writes upd only if the stored balance still equals
// expectedBalance and the account is enabled. Zero affected rows is reported
// as ErrConflict; the caller re-reads to learn why.
func (r *SQLRepository) CompareAndUpdate(ctx context.Context, id uuid.UUID, expectedBalance int64, upd BalanceUpdate) error {
	if upd.Balance < 0 {
		return ErrNegativeBalance
	}

	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := r.db.Rebind(`
		UPDATE accounts
		SET balance = ?,
			total_earned_activities = total_earned_activities + ?,
			updated_at = ?
		WHERE id = ? AND balance = ? AND disabled = ?
	`)
	result, err := r.db.ExecContext(ctx2, query, upd.Balance, upd.ActivitiesDelta, upd.At, id, expectedBalance, false)
	if err != nil {
		switch {
		case database.IsCheckViolation(err):
			return ErrNegativeBalance
		case database.IsSerializationFailure(err):
			return ErrConflict
		}
		return fmt.Errorf("compare and update balance: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return ErrConflict
	}
	return nil
}

func (r *SQLRepository) SetDisabled(ctx context.Context, id uuid.UUID, disabled bool, at time.Time) error {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := r.db.Rebind(`UPDATE accounts SET disabled = ?, updated_at = ? WHERE id = ?`)
	result, err := r.db.ExecContext(ctx2, query, disabled, at, id)
	if err != nil {
		return fmt.Errorf("set disabled: %w", err)
	}
	return expectOneRow(result)
}

// UpdateProfile applies the allow-listed fields in patch. Column names come
// from this function, never from the caller.
func (r *SQLRepository) UpdateProfile(ctx context.Context, id uuid.UUID, patch ProfilePatch, at time.Time) error {
	if patch.IsEmpty() {
		return ErrNothingToUpdate
	}

	sets := make([]string, 0, 3)
	args := make([]interface{}, 0, 4)
	if patch.DisplayName != nil {
		sets = append(sets, "display_name = ?")
		args = append(args, *patch.DisplayName)
	}
	if patch.AvatarURL != nil {
		sets = append(sets, "avatar_url = ?")
		args = append(args, sql.NullString{String: *patch.AvatarURL, Valid: *patch.AvatarURL != ""})
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, at, id)

	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := r.db.Rebind(`UPDATE accounts SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`)
	result, err := r.db.ExecContext(ctx2, query, args...)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	return expectOneRow(result)
}

func (r *SQLRepository) ListIDs(ctx context.Context) ([]uuid.UUID, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	ids := make([]uuid.UUID, 0)
	if err := sqlx.SelectContext(ctx2, r.db, &ids, `SELECT id FROM accounts ORDER BY created_at, id`); err != nil {
		return nil, fmt.Errorf("list account ids: %w", err)
	}
	return ids, nil
}

func expectOneRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
