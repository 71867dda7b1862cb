package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vitalloop/vitalloop-backend/internal/logger"
	"github.com/vitalloop/vitalloop-backend/internal/types"
)

type BatchJobRunRepo interface {
	Create(ctx context.Context, tx *gorm.DB, run *types.BatchJobRun) (*types.BatchJobRun, error)
	Save(ctx context.Context, tx *gorm.DB, run *types.BatchJobRun) error
	GetByID(ctx context.Context, tx *gorm.DB, runID uuid.UUID) (*types.BatchJobRun, error)
	ListRecent(ctx context.Context, tx *gorm.DB, jobType types.ArtifactType, limit int) ([]*types.BatchJobRun, error)
}

type batchJobRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewBatchJobRunRepo(db *gorm.DB, baseLog *logger.Logger) BatchJobRunRepo {
	return &batchJobRunRepo{db: db, log: baseLog.With("repo", "BatchJobRunRepo")}
}

func (br *batchJobRunRepo) Create(ctx context.Context, tx *gorm.DB, run *types.BatchJobRun) (*types.BatchJobRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = br.db
	}
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if err := transaction.WithContext(ctx).Create(run).Error; err != nil {
		return nil, err
	}
	return run, nil
}

func (br *batchJobRunRepo) Save(ctx context.Context, tx *gorm.DB, run *types.BatchJobRun) error {
	transaction := tx
	if transaction == nil {
		transaction = br.db
	}
	return transaction.WithContext(ctx).Save(run).Error
}

func (br *batchJobRunRepo) GetByID(ctx context.Context, tx *gorm.DB, runID uuid.UUID) (*types.BatchJobRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = br.db
	}
	var run types.BatchJobRun
	if err := transaction.WithContext(ctx).
		Where("id = ?", runID).
		First(&run).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

func (br *batchJobRunRepo) ListRecent(ctx context.Context, tx *gorm.DB, jobType types.ArtifactType, limit int) ([]*types.BatchJobRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = br.db
	}
	if limit <= 0 {
		limit = 20
	}
	var results []*types.BatchJobRun
	query := transaction.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if jobType != "" {
		query = query.Where("job_type = ?", jobType)
	}
	if err := query.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
