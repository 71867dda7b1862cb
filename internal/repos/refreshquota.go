package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vitalloop/vitalloop-backend/internal/logger"
	"github.com/vitalloop/vitalloop-backend/internal/types"
)

type RefreshQuotaRepo interface {
	// TryConsume atomically increments refreshes_used for (userID, weekStart)
	// if and only if the count is still below the limit. Returns false when the
	// quota is already exhausted. The increment-and-check runs as a single
	// guarded UPDATE, so concurrent consumers can never push the row past its
	// limit.
	TryConsume(ctx context.Context, tx *gorm.DB, userID uuid.UUID, weekStart time.Time, limit int) (bool, error)
	Get(ctx context.Context, tx *gorm.DB, userID uuid.UUID, weekStart time.Time) (*types.RefreshQuota, error)
}

type refreshQuotaRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRefreshQuotaRepo(db *gorm.DB, baseLog *logger.Logger) RefreshQuotaRepo {
	return &refreshQuotaRepo{db: db, log: baseLog.With("repo", "RefreshQuotaRepo")}
}

func (rr *refreshQuotaRepo) TryConsume(ctx context.Context, tx *gorm.DB, userID uuid.UUID, weekStart time.Time, limit int) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = rr.db
	}

	// Make sure the week's row exists before the guarded increment.
	row := &types.RefreshQuota{
		ID:           uuid.New(),
		UserID:       userID,
		WeekStart:    weekStart,
		RefreshLimit: limit,
	}
	if err := transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "week_start"}},
			DoNothing: true,
		}).
		Create(row).Error; err != nil {
		return false, err
	}

	res := transaction.WithContext(ctx).Exec(`
		UPDATE refresh_quota
		SET refreshes_used = refreshes_used + 1, updated_at = now()
		WHERE user_id = ? AND week_start = ? AND refreshes_used < refresh_limit
	`, userID, weekStart)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (rr *refreshQuotaRepo) Get(ctx context.Context, tx *gorm.DB, userID uuid.UUID, weekStart time.Time) (*types.RefreshQuota, error) {
	transaction := tx
	if transaction == nil {
		transaction = rr.db
	}
	var quota types.RefreshQuota
	if err := transaction.WithContext(ctx).
		Where("user_id = ? AND week_start = ?", userID, weekStart).
		First(&quota).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &quota, nil
}
