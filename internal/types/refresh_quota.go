package types

import (
	"time"

	"github.com/google/uuid"
)

// RefreshQuota tracks per-user manual artifact refreshes for one calendar week.
// Rows are keyed by (user_id, week_start); a fresh week means a fresh row, so
// "resetting" the quota is never an explicit mutation.
type RefreshQuota struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID        uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_quota_user_week" json:"user_id"`
	WeekStart     time.Time `gorm:"column:week_start;not null;uniqueIndex:idx_quota_user_week" json:"week_start"`
	RefreshesUsed int       `gorm:"column:refreshes_used;not null;default:0" json:"refreshes_used"`
	RefreshLimit  int       `gorm:"column:refresh_limit;not null" json:"refresh_limit"`
	CreatedAt     time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt     time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (RefreshQuota) TableName() string {
	return "refresh_quota"
}
