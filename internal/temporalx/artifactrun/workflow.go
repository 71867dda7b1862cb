package artifactrun

import (
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/workflow"
)

func Workflow(ctx workflow.Context, input RunInput) (RunResult, error) {
	var out RunResult
	if strings.TrimSpace(input.JobType) == "" {
		return out, fmt.Errorf("artifactrun: missing job_type")
	}

	// Retries happen inside the batch runner, not at the workflow level.
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 6 * time.Hour,
		HeartbeatTimeout:    2 * time.Minute,
		RetryPolicy:         nil,
	})

	if err := workflow.ExecuteActivity(ctx, ActivityRun, input).Get(ctx, &out); err != nil {
		return out, err
	}
	if out.Canceled {
		return out, fmt.Errorf("artifact run canceled (job_type=%s)", input.JobType)
	}
	return out, nil
}
