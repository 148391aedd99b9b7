package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const queryTimeout = 3 * time.Second

// Repository looks up catalog entries. Catalog maintenance happens elsewhere.
type Repository interface {
	GetCourse(ctx context.Context, id uuid.UUID) (*Course, error)
	GetProduct(ctx context.Context, id uuid.UUID) (*Product, error)
	GetReward(ctx context.Context, id uuid.UUID) (*Reward, error)
}

type SQLRepository struct {
	db sqlx.ExtContext
}

func NewRepository(db sqlx.ExtContext) *SQLRepository {
	return &SQLRepository{db: db}
}

func (r *SQLRepository) GetCourse(ctx context.Context, id uuid.UUID) (*Course, error) {
	var c Course
	if err := r.get(ctx, &c, `SELECT id, title, active FROM courses WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCourseNotFound
		}
		return nil, fmt.Errorf("get course: %w", err)
	}
	return &c, nil
}

func (r *SQLRepository) GetProduct(ctx context.Context, id uuid.UUID) (*Product, error) {
	var p Product
	if err := r.get(ctx, &p, `SELECT id, name, price, available FROM products WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}
	return &p, nil
}

func (r *SQLRepository) GetReward(ctx context.Context, id uuid.UUID) (*Reward, error) {
	var rw Reward
	if err := r.get(ctx, &rw, `SELECT id, name, points_required, available FROM rewards WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRewardNotFound
		}
		return nil, fmt.Errorf("get reward: %w", err)
	}
	return &rw, nil
}

func (r *SQLRepository) get(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	return sqlx.GetContext(ctx, r.db, dest, r.db.Rebind(query), args...)
}
