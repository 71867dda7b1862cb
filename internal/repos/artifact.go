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

type ArtifactRepo interface {
	// Upsert is idempotent on (user_id, week_of, type): re-running a batch for
	// the same week replaces the payload instead of duplicating rows.
	Upsert(ctx context.Context, tx *gorm.DB, artifact *types.HealthArtifact) error
	Get(ctx context.Context, tx *gorm.DB, userID uuid.UUID, weekOf time.Time, artifactType types.ArtifactType) (*types.HealthArtifact, error)
	ListByUserWeek(ctx context.Context, tx *gorm.DB, userID uuid.UUID, weekOf time.Time) ([]*types.HealthArtifact, error)
}

type artifactRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewArtifactRepo(db *gorm.DB, baseLog *logger.Logger) ArtifactRepo {
	return &artifactRepo{db: db, log: baseLog.With("repo", "ArtifactRepo")}
}

func (ar *artifactRepo) Upsert(ctx context.Context, tx *gorm.DB, artifact *types.HealthArtifact) error {
	transaction := tx
	if transaction == nil {
		transaction = ar.db
	}
	if artifact.ID == uuid.Nil {
		artifact.ID = uuid.New()
	}
	return transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}, {Name: "week_of"}, {Name: "type"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"payload", "model", "updated_at",
			}),
		}).
		Create(artifact).Error
}

func (ar *artifactRepo) Get(ctx context.Context, tx *gorm.DB, userID uuid.UUID, weekOf time.Time, artifactType types.ArtifactType) (*types.HealthArtifact, error) {
	transaction := tx
	if transaction == nil {
		transaction = ar.db
	}
	var artifact types.HealthArtifact
	if err := transaction.WithContext(ctx).
		Where("user_id = ? AND week_of = ? AND type = ?", userID, weekOf, artifactType).
		First(&artifact).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &artifact, nil
}

func (ar *artifactRepo) ListByUserWeek(ctx context.Context, tx *gorm.DB, userID uuid.UUID, weekOf time.Time) ([]*types.HealthArtifact, error) {
	transaction := tx
	if transaction == nil {
		transaction = ar.db
	}
	var results []*types.HealthArtifact
	if err := transaction.WithContext(ctx).
		Where("user_id = ? AND week_of = ?", userID, weekOf).
		Order("type ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
