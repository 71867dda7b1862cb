package artifactrun

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/activity"

	"github.com/vitalloop/vitalloop-backend/internal/logger"
	"github.com/vitalloop/vitalloop-backend/internal/services"
	"github.com/vitalloop/vitalloop-backend/internal/types"
)

type Activities struct {
	Log  *logger.Logger
	Jobs services.JobService
}

func (a *Activities) Run(ctx context.Context, input RunInput) (RunResult, error) {
	res := RunResult{JobType: strings.TrimSpace(input.JobType)}
	if a == nil || a.Jobs == nil {
		return res, fmt.Errorf("artifactrun: activity not configured")
	}
	jobType, ok := types.ParseArtifactType(res.JobType)
	if !ok {
		return res, fmt.Errorf("artifactrun: unknown job_type %q", res.JobType)
	}

	stopHB := startHeartbeat(ctx)
	defer stopHB()

	report, err := a.Jobs.RunArtifactJob(ctx, jobType)
	if report != nil {
		res.Total = report.Total
		res.Succeeded = report.Succeeded
		res.Failed = report.Failed
		res.Retried = report.Retried
		res.Canceled = report.Canceled
		res.ElapsedMs = report.Elapsed.Milliseconds()
	}
	if err != nil && (report == nil || !report.Canceled) {
		return res, err
	}
	return res, nil
}

func startHeartbeat(ctx context.Context) func() {
	done := make(chan struct{})
	go func() {
		tick := time.NewTicker(30 * time.Second)
		defer tick.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-tick.C:
				activity.RecordHeartbeat(ctx)
			}
		}
	}()
	return func() { close(done) }
}
