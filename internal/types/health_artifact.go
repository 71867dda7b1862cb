package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ArtifactType enumerates the derived health-intelligence artifacts regenerated
// for every user by the scheduled batch jobs.
type ArtifactType string

const (
	ArtifactStories     ArtifactType = "stories"
	ArtifactPredictions ArtifactType = "predictions"
	ArtifactInsights    ArtifactType = "insights"
	ArtifactPatterns    ArtifactType = "patterns"
	ArtifactStrategies  ArtifactType = "strategies"
	ArtifactScores      ArtifactType = "scores"
)

func AllArtifactTypes() []ArtifactType {
	return []ArtifactType{
		ArtifactStories,
		ArtifactPredictions,
		ArtifactInsights,
		ArtifactPatterns,
		ArtifactStrategies,
		ArtifactScores,
	}
}

func ParseArtifactType(s string) (ArtifactType, bool) {
	for _, t := range AllArtifactTypes() {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}

type HealthArtifact struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_artifact_user_week_type" json:"user_id"`
	WeekOf    time.Time      `gorm:"column:week_of;not null;uniqueIndex:idx_artifact_user_week_type" json:"week_of"`
	Type      ArtifactType   `gorm:"column:type;type:text;not null;uniqueIndex:idx_artifact_user_week_type" json:"type"`
	Payload   datatypes.JSON `gorm:"type:jsonb;column:payload" json:"payload"`
	Model     string         `gorm:"column:model" json:"model"`
	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (HealthArtifact) TableName() string {
	return "health_artifact"
}
