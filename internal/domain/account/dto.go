package account

import (
	"time"

	"github.com/google/uuid"
)

type OpenRequest struct {
	DisplayName string `json:"display_name" validate:"required,display_name"`
	Email       string `json:"email" validate:"omitempty,email,max=255"`
}

// UpdateProfileRequest is the allow-list for PATCH /accounts/me.
type UpdateProfileRequest struct {
	DisplayName *string `json:"display_name" validate:"omitempty,display_name"`
	AvatarURL   *string `json:"avatar_url" validate:"omitempty,url,max=2048"`
}

type AccountResponse struct {
	ID                    uuid.UUID `json:"id"`
	DisplayName           string    `json:"display_name"`
	Email                 string    `json:"email,omitempty"`
	AvatarURL             string    `json:"avatar_url,omitempty"`
	Balance               int64     `json:"balance"`
	TotalEarnedActivities int64     `json:"total_earned_activities"`
	Disabled              bool      `json:"disabled"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

type OpenResponse struct {
	Account     *AccountResponse `json:"account"`
	AccessToken string           `json:"access_token"`
	ExpiresIn   int              `json:"expires_in"`
}

func AccountResponseFromEntity(a *Account) *AccountResponse {
	return &AccountResponse{
		ID:                    a.ID,
		DisplayName:           a.DisplayName,
		Email:                 a.Email.String,
		AvatarURL:             a.AvatarURL.String,
		Balance:               a.Balance,
		TotalEarnedActivities: a.TotalEarnedActivities,
		Disabled:              a.Disabled,
		CreatedAt:             a.CreatedAt,
		UpdatedAt:             a.UpdatedAt,
	}
}
