package activity

import (
	"github.com/google/uuid"

	"github.com/cleanpoints/cleanpoints-api/internal/domain/ledger"
)

// RecyclingResult is returned for every submission; rejected photos earn nothing.
type RecyclingResult struct {
	Valid       bool            `json:"valid"`
	Earned      int64           `json:"earned"`
	Receipt     *ledger.Receipt `json:"receipt,omitempty"`
	EvidenceURL string          `json:"evidence_url,omitempty"`
}

type PurchaseRequest struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
}
