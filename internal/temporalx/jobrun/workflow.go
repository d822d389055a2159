package jobrun

import (
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/workflow"

	"github.com/yungbote/panelapp-backend/internal/domain/jobs"
)

const (
	// RetryInterval separates ticks of a job that failed but still has
	// attempts left.
	RetryInterval = 30 * time.Second
	MaxAttempts   = 5
)

// Workflow drives one job_run row, named by the workflow id, until it
// reaches a terminal state. Retries happen here rather than in the
// activity so each attempt is recorded on the row.
func Workflow(ctx workflow.Context) error {
	jobID := strings.TrimSpace(workflow.GetInfo(ctx).WorkflowExecution.ID)
	if jobID == "" {
		return fmt.Errorf("jobrun: missing job_id")
	}
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Hour,
		HeartbeatTimeout:    time.Minute,
	})

	for {
		var out TickResult
		if err := workflow.ExecuteActivity(ctx, ActivityTick, jobID).Get(ctx, &out); err != nil {
			return err
		}
		switch out.Status {
		case jobs.StatusSucceeded, jobs.StatusCanceled:
			return nil
		case jobs.StatusFailed:
			if out.Attempts >= MaxAttempts {
				return fmt.Errorf("job failed (stage=%s attempts=%d)", out.Stage, out.Attempts)
			}
			workflow.GetLogger(ctx).Warn("Job failed; retrying", "job_id", jobID, "stage", out.Stage, "attempts", out.Attempts)
		}
		if err := workflow.Sleep(ctx, RetryInterval); err != nil {
			return err
		}
	}
}
