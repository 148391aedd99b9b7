package account

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Account is a user's points holder. Balance and TotalEarnedActivities are
// written only through CompareAndUpdate.
type Account struct {
	ID                    uuid.UUID      `db:"id"`
	DisplayName           string         `db:"display_name"`
	Email                 sql.NullString `db:"email"`
	AvatarURL             sql.NullString `db:"avatar_url"`
	Balance               int64          `db:"balance"`
	TotalEarnedActivities int64          `db:"total_earned_activities"`
	Disabled              bool           `db:"disabled"`
	CreatedAt             time.Time      `db:"created_at"`
	UpdatedAt             time.Time      `db:"updated_at"`
}

// BalanceUpdate is the post-image written by a successful compare-and-update.
type BalanceUpdate struct {
	Balance         int64
	ActivitiesDelta int64
	At              time.Time
}

// ProfilePatch lists the only user-editable fields. Nil means unchanged.
type ProfilePatch struct {
	DisplayName *string
	AvatarURL   *string
}

func (p ProfilePatch) IsEmpty() bool {
	return p.DisplayName == nil && p.AvatarURL == nil
}
