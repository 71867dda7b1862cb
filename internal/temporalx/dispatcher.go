package temporalx

import (
	"context"
	"fmt"
	"time"

	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/vitalloop/vitalloop-backend/internal/logger"
	"github.com/vitalloop/vitalloop-backend/internal/temporalx/artifactrun"
	"github.com/vitalloop/vitalloop-backend/internal/types"
)

// Dispatcher starts artifact runs as Temporal workflows. The workflow id keys
// on job type and date, so a trigger re-fired while the day's run is still
// executing attaches to it instead of starting a second one.
type Dispatcher struct {
	log *logger.Logger
	tc  temporalsdkclient.Client
}

func NewDispatcher(log *logger.Logger, tc temporalsdkclient.Client) (*Dispatcher, error) {
	if tc == nil {
		return nil, fmt.Errorf("temporal client is not configured")
	}
	return &Dispatcher{log: log.With("service", "TemporalDispatcher"), tc: tc}, nil
}

func (d *Dispatcher) Dispatch(ctx context.Context, jobType types.ArtifactType) error {
	cfg := LoadConfig()
	workflowID := fmt.Sprintf("artifact-run-%s-%s", jobType, time.Now().UTC().Format("2006-01-02"))
	run, err := d.tc.ExecuteWorkflow(ctx, temporalsdkclient.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: cfg.TaskQueue,
	}, artifactrun.WorkflowName, artifactrun.RunInput{JobType: string(jobType)})
	if err != nil {
		return fmt.Errorf("start artifact workflow: %w", err)
	}
	d.log.Info("artifact workflow started", "job_type", jobType, "workflow_id", run.GetID(), "run_id", run.GetRunID())
	return nil
}
