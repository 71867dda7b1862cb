package services

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/vitalloop/vitalloop-backend/internal/logger"
	"github.com/vitalloop/vitalloop-backend/internal/repos"
	"github.com/vitalloop/vitalloop-backend/internal/types"
)

// JobService runs one artifact type across every active user. Both the cron
// scheduler and the manual refresh endpoint funnel through RunArtifactJob.
type JobService interface {
	RunArtifactJob(ctx context.Context, jobType types.ArtifactType) (*BatchReport, error)
}

type jobService struct {
	db        *gorm.DB
	log       *logger.Logger
	users     repos.UserRepo
	runner    BatchRunner
	artifacts ArtifactService
}

func NewJobService(db *gorm.DB, log *logger.Logger, users repos.UserRepo, runner BatchRunner, artifacts ArtifactService) JobService {
	return &jobService{
		db:        db,
		log:       log.With("service", "JobService"),
		users:     users,
		runner:    runner,
		artifacts: artifacts,
	}
}

func (js *jobService) RunArtifactJob(ctx context.Context, jobType types.ArtifactType) (*BatchReport, error) {
	if _, ok := types.ParseArtifactType(string(jobType)); !ok {
		return nil, fmt.Errorf("unknown artifact job type %q", jobType)
	}

	userIDs, err := js.users.ListActiveIDs(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("list active users: %w", err)
	}
	if len(userIDs) == 0 {
		js.log.Info("no active users, skipping artifact job", "job_type", jobType)
		return &BatchReport{JobType: jobType}, nil
	}

	js.log.Info("starting artifact job", "job_type", jobType, "users", len(userIDs))
	return js.runner.Run(ctx, jobType, userIDs, js.artifacts.UnitOfWork(jobType))
}
