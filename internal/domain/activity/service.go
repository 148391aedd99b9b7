package activity

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/cleanpoints/cleanpoints-api/internal/domain/catalog"
	"github.com/cleanpoints/cleanpoints-api/internal/domain/ledger"
	"github.com/cleanpoints/cleanpoints-api/internal/domain/recycling"
	"github.com/cleanpoints/cleanpoints-api/internal/pkg/storage"
)

const (
	DefaultCourseRewardPoints    = 10
	DefaultRecyclingRewardPoints = 50
)

// Ledger is the part of the ledger engine activities drive.
type Ledger interface {
	Earn(ctx context.Context, accountID uuid.UUID, amount int64, reference string, category ledger.Category) (*ledger.Receipt, error)
	Redeem(ctx context.Context, accountID uuid.UUID, cost int64, reference string) (*ledger.Receipt, error)
	Purchase(ctx context.Context, accountID uuid.UUID, basePrice decimal.Decimal, reference string) (*ledger.PurchaseReceipt, error)
}

type Config struct {
	CourseRewardPoints    int64
	RecyclingRewardPoints int64
}

// Service turns domain events into ledger calls. It holds no balance logic.
type Service struct {
	ledger    Ledger
	catalog   catalog.Repository
	validator recycling.Validator
	evidence  storage.Storage
	cfg       Config
}

// NewService wires the adapters. evidence may be nil, in which case photos are
// not retained.
func NewService(l Ledger, cat catalog.Repository, validator recycling.Validator, evidence storage.Storage, cfg Config) *Service {
	if cfg.CourseRewardPoints <= 0 {
		cfg.CourseRewardPoints = DefaultCourseRewardPoints
	}
	if cfg.RecyclingRewardPoints <= 0 {
		cfg.RecyclingRewardPoints = DefaultRecyclingRewardPoints
	}
	return &Service{ledger: l, catalog: cat, validator: validator, evidence: evidence, cfg: cfg}
}

// CompleteCourse awards the fixed course reward.
func (s *Service) CompleteCourse(ctx context.Context, accountID, courseID uuid.UUID) (*ledger.Receipt, error) {
	course, err := s.catalog.GetCourse(ctx, courseID)
	if err != nil {
		return nil, catalogError(err)
	}
	if !course.Active {
		return nil, catalog.ErrUnavailable
	}

	return s.ledger.Earn(ctx, accountID, s.cfg.CourseRewardPoints, "course:"+courseID.String(), ledger.CategoryCourse)
}

// SubmitRecycling earns the recycling reward only when the validator accepts
// the photo. Evidence is stored before the earn and removed if the earn fails.
func (s *Service) SubmitRecycling(ctx context.Context, accountID uuid.UUID, containerID string, photo []byte, contentType string) (*RecyclingResult, error) {
	valid, err := s.validator.Validate(ctx, photo)
	if err != nil {
		return nil, err
	}
	if !valid {
		log.Info().Str("account_id", accountID.String()).Str("container_id", containerID).Msg("recycling submission rejected")
		return &RecyclingResult{Valid: false}, nil
	}

	fp := recycling.Fingerprint(photo)
	reference := fmt.Sprintf("recycling:%s:%s", containerID, fp[:16])

	var evidenceKey, evidenceURL string
	if s.evidence != nil {
		evidenceKey = fmt.Sprintf("recycling/%s/%s%s", accountID, fp, storage.ExtensionForMime(contentType))
		if err := s.evidence.Save(ctx, evidenceKey, bytes.NewReader(photo), contentType); err != nil {
			return nil, fmt.Errorf("%w: store evidence: %v", ledger.ErrStorageFailure, err)
		}
		evidenceURL = s.evidence.GetURL(evidenceKey)
	}

	receipt, err := s.ledger.Earn(ctx, accountID, s.cfg.RecyclingRewardPoints, reference, ledger.CategoryRecycling)
	if err != nil {
		if evidenceKey != "" {
			if delErr := s.evidence.Delete(context.WithoutCancel(ctx), evidenceKey); delErr != nil {
				log.Warn().Err(delErr).Str("key", evidenceKey).Msg("orphaned recycling evidence")
			}
		}
		return nil, err
	}

	return &RecyclingResult{
		Valid:       true,
		Earned:      receipt.Transaction.Amount,
		Receipt:     receipt,
		EvidenceURL: evidenceURL,
	}, nil
}

// Purchase buys a product at its catalog price less the balance discount.
func (s *Service) Purchase(ctx context.Context, accountID, productID uuid.UUID) (*ledger.PurchaseReceipt, error) {
	product, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		return nil, catalogError(err)
	}
	if !product.Available {
		return nil, catalog.ErrUnavailable
	}

	return s.ledger.Purchase(ctx, accountID, product.Price, "product:"+productID.String())
}

// RedeemReward spends the reward's point cost.
func (s *Service) RedeemReward(ctx context.Context, accountID, rewardID uuid.UUID) (*ledger.Receipt, error) {
	reward, err := s.catalog.GetReward(ctx, rewardID)
	if err != nil {
		return nil, catalogError(err)
	}
	if !reward.Available {
		return nil, catalog.ErrUnavailable
	}

	return s.ledger.Redeem(ctx, accountID, reward.PointsRequired, "reward:"+rewardID.String())
}

// catalogError keeps not-found outcomes and marks every other lookup failure
// as a retryable storage failure.
func catalogError(err error) error {
	switch {
	case errors.Is(err, catalog.ErrCourseNotFound),
		errors.Is(err, catalog.ErrProductNotFound),
		errors.Is(err, catalog.ErrRewardNotFound):
		return err
	default:
		return fmt.Errorf("%w: catalog lookup: %v", ledger.ErrStorageFailure, err)
	}
}
