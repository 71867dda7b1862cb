package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vitalloop/vitalloop-backend/internal/logger"
	"github.com/vitalloop/vitalloop-backend/internal/types"
)

type AICallLogRepo interface {
	Create(ctx context.Context, tx *gorm.DB, entry *types.AICallLog) error
	ListBySession(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) ([]*types.AICallLog, error)
}

type aiCallLogRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAICallLogRepo(db *gorm.DB, baseLog *logger.Logger) AICallLogRepo {
	return &aiCallLogRepo{db: db, log: baseLog.With("repo", "AICallLogRepo")}
}

func (cr *aiCallLogRepo) Create(ctx context.Context, tx *gorm.DB, entry *types.AICallLog) error {
	transaction := tx
	if transaction == nil {
		transaction = cr.db
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	return transaction.WithContext(ctx).Create(entry).Error
}

func (cr *aiCallLogRepo) ListBySession(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) ([]*types.AICallLog, error) {
	transaction := tx
	if transaction == nil {
		transaction = cr.db
	}
	var results []*types.AICallLog
	if err := transaction.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
