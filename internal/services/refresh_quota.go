package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vitalloop/vitalloop-backend/internal/logger"
	"github.com/vitalloop/vitalloop-backend/internal/repos"
	"github.com/vitalloop/vitalloop-backend/internal/utils"
)

// WeekStartUTC truncates t to the Monday 00:00:00 UTC that starts its week.
func WeekStartUTC(t time.Time) time.Time {
	t = t.UTC()
	daysSinceMonday := (int(t.Weekday()) + 6) % 7
	monday := t.AddDate(0, 0, -daysSinceMonday)
	return time.Date(monday.Year(), monday.Month(), monday.Day(), 0, 0, 0, 0, time.UTC)
}

type RefreshQuotaService interface {
	// Consume spends one manual refresh for the user's current week.
	// Returns ErrQuotaExceeded once the weekly limit is reached.
	Consume(ctx context.Context, userID uuid.UUID, now time.Time) error
	Remaining(ctx context.Context, userID uuid.UUID, now time.Time) (int, error)
}

type refreshQuotaService struct {
	db     *gorm.DB
	log    *logger.Logger
	quotas repos.RefreshQuotaRepo
	limit  int
}

func NewRefreshQuotaService(db *gorm.DB, log *logger.Logger, quotas repos.RefreshQuotaRepo) RefreshQuotaService {
	return &refreshQuotaService{
		db:     db,
		log:    log.With("service", "RefreshQuotaService"),
		quotas: quotas,
		limit:  utils.GetEnvAsInt("REFRESH_WEEKLY_LIMIT", 10, log),
	}
}

func (rs *refreshQuotaService) Consume(ctx context.Context, userID uuid.UUID, now time.Time) error {
	weekStart := WeekStartUTC(now)
	ok, err := rs.quotas.TryConsume(ctx, nil, userID, weekStart, rs.limit)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %d refreshes used for week of %s", ErrQuotaExceeded, rs.limit, weekStart.Format("2006-01-02"))
	}
	return nil
}

func (rs *refreshQuotaService) Remaining(ctx context.Context, userID uuid.UUID, now time.Time) (int, error) {
	quota, err := rs.quotas.Get(ctx, nil, userID, WeekStartUTC(now))
	if err != nil {
		return 0, err
	}
	if quota == nil {
		return rs.limit, nil
	}
	remaining := quota.RefreshLimit - quota.RefreshesUsed
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}
