package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// AICallLog records one attempt against the generation provider, including
// attempts that fell through the model fallback chain.
type AICallLog struct {
	ID        uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID    *uuid.UUID     `gorm:"type:uuid;index" json:"user_id,omitempty"`
	SessionID *uuid.UUID     `gorm:"type:uuid;index" json:"session_id,omitempty"`
	CallType  string         `gorm:"column:call_type;not null" json:"call_type"`
	Model     string         `gorm:"column:model;not null" json:"model"`
	Success   bool           `gorm:"column:success;not null" json:"success"`
	Error     string         `gorm:"column:error" json:"error"`
	LatencyMs int64          `gorm:"column:latency_ms;not null;default:0" json:"latency_ms"`
	Usage     datatypes.JSON `gorm:"type:jsonb;column:usage" json:"usage"`
	CreatedAt time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (AICallLog) TableName() string {
	return "ai_call_log"
}
