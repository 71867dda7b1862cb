package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vitalloop/vitalloop-backend/internal/logger"
	"github.com/vitalloop/vitalloop-backend/internal/repos"
	"github.com/vitalloop/vitalloop-backend/internal/types"
	"github.com/vitalloop/vitalloop-backend/internal/utils"
)

// UnitOfWork performs one job for one user. Returning an error marks that user
// failed without affecting any other user in the run.
type UnitOfWork func(ctx context.Context, userID uuid.UUID) error

// JobEvent describes progress of a batch run on the event bus.
type JobEvent struct {
	JobID     uuid.UUID `json:"job_id"`
	JobType   string    `json:"job_type"`
	Phase     string    `json:"phase"`
	Processed int       `json:"processed"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	Timestamp time.Time `json:"timestamp"`
}

type JobEventPublisher interface {
	PublishJobEvent(ctx context.Context, event JobEvent) error
}

type BatchConfig struct {
	// BatchSize is how many users run concurrently per chunk.
	BatchSize int
	// InterBatchDelay is the pause between chunks.
	InterBatchDelay time.Duration
	// RetryBackoff is waited before each retry pass over failed users.
	// Its length bounds the number of retries per user.
	RetryBackoff []time.Duration
}

func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		BatchSize:       10,
		InterBatchDelay: 2 * time.Second,
		RetryBackoff:    []time.Duration{30 * time.Second, 60 * time.Second},
	}
}

func LoadBatchConfig(log *logger.Logger) BatchConfig {
	def := DefaultBatchConfig()
	cfg := BatchConfig{
		BatchSize:       utils.GetEnvAsInt("BATCH_SIZE", def.BatchSize, log),
		InterBatchDelay: time.Duration(utils.GetEnvAsInt("BATCH_DELAY_SECONDS", int(def.InterBatchDelay/time.Second), log)) * time.Second,
		RetryBackoff:    def.RetryBackoff,
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	return cfg
}

// BatchReport aggregates a finished run.
type BatchReport struct {
	RunID     uuid.UUID
	JobType   types.ArtifactType
	Total     int
	Succeeded int
	Failed    int
	Retried   int
	Canceled  bool
	Elapsed   time.Duration
}

type BatchRunner interface {
	Run(ctx context.Context, jobType types.ArtifactType, userIDs []uuid.UUID, work UnitOfWork) (*BatchReport, error)
}

type batchRunner struct {
	log    *logger.Logger
	runs   repos.BatchJobRunRepo
	events JobEventPublisher
	cfg    BatchConfig
	sleep  func(ctx context.Context, d time.Duration) error
	now    func() time.Time
}

// NewBatchRunner builds a runner. runs and events may be nil; persistence and
// progress events are then skipped.
func NewBatchRunner(log *logger.Logger, runs repos.BatchJobRunRepo, events JobEventPublisher, cfg BatchConfig) BatchRunner {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchConfig().BatchSize
	}
	return &batchRunner{
		log:    log.With("service", "BatchRunner"),
		runs:   runs,
		events: events,
		cfg:    cfg,
		sleep:  sleepCtx,
		now:    time.Now,
	}
}

func (br *batchRunner) Run(ctx context.Context, jobType types.ArtifactType, userIDs []uuid.UUID, work UnitOfWork) (*BatchReport, error) {
	start := br.now()
	run := &types.BatchJobRun{
		ID:         uuid.New(),
		JobType:    jobType,
		Status:     types.BatchJobStatusRunning,
		BatchSize:  br.cfg.BatchSize,
		TotalUsers: len(userIDs),
		StartedAt:  start,
	}
	if br.runs != nil {
		if _, err := br.runs.Create(ctx, nil, run); err != nil {
			br.log.Warn("failed to persist batch run start", "job_type", jobType, "error", err)
		}
	}
	br.publish(ctx, run, "started", 0, 0, 0)

	outcomes := make(map[uuid.UUID]*types.UserOutcome, len(userIDs))
	var mu sync.Mutex

	// Units already in flight run to completion on a non-cancelable context;
	// cancellation takes effect only between chunks. Each unit still bounds
	// itself via the per-attempt timeout downstream.
	workCtx := context.WithoutCancel(ctx)

	runChunk := func(ids []uuid.UUID, retryPass bool) {
		var g errgroup.Group
		g.SetLimit(len(ids))
		for _, id := range ids {
			id := id
			g.Go(func() error {
				err := work(workCtx, id)
				mu.Lock()
				defer mu.Unlock()
				out, ok := outcomes[id]
				if !ok {
					out = &types.UserOutcome{}
					outcomes[id] = out
				}
				if retryPass {
					out.RetriedCount++
				}
				if err != nil {
					out.Success = false
					out.Error = err.Error()
				} else {
					out.Success = true
					out.Error = ""
				}
				// Worker errors stay in the outcome map so the group never
				// cancels sibling users.
				return nil
			})
		}
		_ = g.Wait()
	}

	canceled := false
	chunks := chunkIDs(userIDs, br.cfg.BatchSize)
	for i, chunk := range chunks {
		if ctx.Err() != nil {
			canceled = true
			break
		}
		runChunk(chunk, false)

		mu.Lock()
		processed, succeeded, failed := tally(outcomes)
		mu.Unlock()
		br.publish(ctx, run, "batch_completed", processed, succeeded, failed)

		if ctx.Err() != nil {
			canceled = true
			break
		}
		if i < len(chunks)-1 && br.cfg.InterBatchDelay > 0 {
			if err := br.sleep(ctx, br.cfg.InterBatchDelay); err != nil {
				canceled = true
				break
			}
		}
	}

	// Retry passes over users that failed, bounded by the backoff schedule.
	retried := 0
	if !canceled {
		for attempt := 0; attempt < len(br.cfg.RetryBackoff); attempt++ {
			mu.Lock()
			failedIDs := failedUsers(outcomes)
			mu.Unlock()
			if len(failedIDs) == 0 {
				break
			}
			if err := br.sleep(ctx, br.cfg.RetryBackoff[attempt]); err != nil {
				canceled = true
				break
			}
			br.publish(ctx, run, "retrying", len(outcomes), 0, len(failedIDs))
			for _, chunk := range chunkIDs(failedIDs, br.cfg.BatchSize) {
				if ctx.Err() != nil {
					canceled = true
					break
				}
				runChunk(chunk, true)
			}
			if ctx.Err() != nil {
				canceled = true
			}
			if canceled {
				break
			}
		}
	}

	mu.Lock()
	processed, succeeded, failed := tally(outcomes)
	for _, out := range outcomes {
		if out.RetriedCount > 0 {
			retried++
		}
	}
	final := make(map[string]types.UserOutcome, len(outcomes))
	for id, out := range outcomes {
		final[id.String()] = *out
	}
	mu.Unlock()

	report := &BatchReport{
		RunID:     run.ID,
		JobType:   jobType,
		Total:     len(userIDs),
		Succeeded: succeeded,
		Failed:    failed,
		Retried:   retried,
		Canceled:  canceled,
		Elapsed:   br.now().Sub(start),
	}

	run.Succeeded = succeeded
	run.Failed = failed
	run.Retried = retried
	finished := br.now()
	run.FinishedAt = &finished
	run.ElapsedMilli = report.Elapsed.Milliseconds()
	run.Status = types.BatchJobStatusSucceeded
	phase := "completed"
	if canceled {
		run.Status = types.BatchJobStatusCanceled
		phase = "canceled"
	}
	if err := run.SetOutcomes(final); err != nil {
		br.log.Warn("failed to encode batch outcomes", "job_type", jobType, "error", err)
	}
	if br.runs != nil {
		persistCtx := context.WithoutCancel(ctx)
		if err := br.runs.Save(persistCtx, nil, run); err != nil {
			br.log.Warn("failed to persist batch run result", "job_type", jobType, "error", err)
		}
	}
	br.publish(context.WithoutCancel(ctx), run, phase, processed, succeeded, failed)

	br.log.Info("batch run finished",
		"job_type", jobType,
		"total", report.Total,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"retried", report.Retried,
		"canceled", report.Canceled,
		"elapsed", report.Elapsed.String(),
	)
	if canceled {
		return report, fmt.Errorf("batch run %s canceled: %w", run.ID, context.Cause(ctx))
	}
	return report, nil
}

func (br *batchRunner) publish(ctx context.Context, run *types.BatchJobRun, phase string, processed, succeeded, failed int) {
	if br.events == nil {
		return
	}
	event := JobEvent{
		JobID:     run.ID,
		JobType:   string(run.JobType),
		Phase:     phase,
		Processed: processed,
		Succeeded: succeeded,
		Failed:    failed,
		Timestamp: br.now(),
	}
	if err := br.events.PublishJobEvent(ctx, event); err != nil {
		br.log.Debug("job event publish failed", "job_type", run.JobType, "phase", phase, "error", err)
	}
}

func chunkIDs(ids []uuid.UUID, size int) [][]uuid.UUID {
	if size <= 0 || len(ids) == 0 {
		if len(ids) == 0 {
			return nil
		}
		return [][]uuid.UUID{ids}
	}
	chunks := make([][]uuid.UUID, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}

func tally(outcomes map[uuid.UUID]*types.UserOutcome) (processed, succeeded, failed int) {
	for _, out := range outcomes {
		processed++
		if out.Success {
			succeeded++
		} else {
			failed++
		}
	}
	return
}

func failedUsers(outcomes map[uuid.UUID]*types.UserOutcome) []uuid.UUID {
	var ids []uuid.UUID
	for id, out := range outcomes {
		if !out.Success {
			ids = append(ids, id)
		}
	}
	return ids
}
