package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cleanpoints/cleanpoints-api/internal/middleware"
	"github.com/cleanpoints/cleanpoints-api/internal/pkg/logger"
)

// Service handles account lifecycle outside of balance mutations.
type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

// Open creates an account with a zero balance.
func (s *Service) Open(ctx context.Context, req *OpenRequest) (*Account, error) {
	now := s.now()
	a := &Account{
		ID:          uuid.New(),
		DisplayName: strings.TrimSpace(req.DisplayName),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if email := strings.ToLower(strings.TrimSpace(req.Email)); email != "" {
		a.Email = sql.NullString{String: email, Valid: true}
	}

	if err := s.repo.Create(ctx, a); err != nil {
		return nil, err
	}

	logger.LogInfo(ctx, "account opened", "account_id", a.ID.String())
	return a, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Account, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) UpdateProfile(ctx context.Context, id uuid.UUID, req *UpdateProfileRequest) (*Account, error) {
	patch := ProfilePatch{AvatarURL: req.AvatarURL}
	if req.DisplayName != nil {
		name := strings.TrimSpace(*req.DisplayName)
		patch.DisplayName = &name
	}

	if err := s.repo.UpdateProfile(ctx, id, patch, s.now()); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

// Disable blocks further ledger mutations. Accounts are never deleted.
func (s *Service) Disable(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.SetDisabled(ctx, id, true, s.now()); err != nil {
		return err
	}
	logger.FromContext(ctx).Warn().Str("account_id", id.String()).Msg("account disabled")
	return nil
}

func (s *Service) Enable(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.SetDisabled(ctx, id, false, s.now()); err != nil {
		return err
	}
	logger.LogInfo(ctx, "account enabled", "account_id", id.String())
	return nil
}

// IsActive reports whether the account exists and is enabled. Unknown
// accounts yield middleware.ErrUnknownAccount.
func (s *Service) IsActive(ctx context.Context, id uuid.UUID) (bool, error) {
	a, err := s.repo.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return false, fmt.Errorf("%w: %w", middleware.ErrUnknownAccount, err)
	}
	if err != nil {
		return false, err
	}
	return !a.Disabled, nil
}
