package jobrun

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"
	"gorm.io/gorm"

	"github.com/yungbote/panelapp-backend/internal/data/repos"
	types "github.com/yungbote/panelapp-backend/internal/domain"
	"github.com/yungbote/panelapp-backend/internal/domain/jobs"
	jobrt "github.com/yungbote/panelapp-backend/internal/jobs/runtime"
	"github.com/yungbote/panelapp-backend/internal/platform/dbctx"
	"github.com/yungbote/panelapp-backend/internal/platform/logger"
	"github.com/yungbote/panelapp-backend/internal/services"
)

type Activities struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Jobs     repos.JobRunRepo
	Registry *jobrt.Registry
	Notify   services.JobNotifier
}

// Tick runs the job once through its registered handler and reports the
// resulting state. Terminal jobs are reported without running.
func (a *Activities) Tick(ctx context.Context, jobID string) (TickResult, error) {
	res := TickResult{JobID: strings.TrimSpace(jobID)}
	if a == nil || a.DB == nil || a.Jobs == nil || a.Registry == nil {
		return res, fmt.Errorf("jobrun: activity not configured")
	}
	id, err := uuid.Parse(res.JobID)
	if err != nil || id == uuid.Nil {
		return res, fmt.Errorf("jobrun: invalid job_id %q", jobID)
	}

	job, err := a.loadJob(ctx, id)
	if err != nil {
		return res, err
	}
	if job == nil {
		return res, fmt.Errorf("jobrun: job %s not found", id)
	}
	if job.Status == jobs.StatusSucceeded || job.Status == jobs.StatusCanceled {
		return fill(res, job), nil
	}

	stopHB := a.startHeartbeat(ctx, id)
	defer stopHB()

	now := time.Now().UTC()
	ok, err := a.Jobs.UpdateFieldsUnlessStatus(dbctx.Context{Ctx: ctx, Tx: a.DB}, id, []string{jobs.StatusCanceled}, map[string]interface{}{
		"status":       jobs.StatusRunning,
		"attempts":     gorm.Expr("attempts + 1"),
		"locked_at":    now,
		"heartbeat_at": now,
		"updated_at":   now,
	})
	if err != nil {
		return res, fmt.Errorf("jobrun: mark running: %w", err)
	}
	if !ok {
		job.Status = jobs.StatusCanceled
		return fill(res, job), nil
	}
	job.Status = jobs.StatusRunning
	job.Attempts++
	job.LockedAt = &now
	job.HeartbeatAt = &now

	returnedNil := a.run(jobrt.NewContext(ctx, a.DB, job, a.Jobs, a.Notify))

	updated, err := a.loadJob(ctx, id)
	if err != nil {
		return res, err
	}
	if updated == nil {
		return res, fmt.Errorf("jobrun: job %s not found after tick", id)
	}
	// A handler that returns nil without a terminal state would leave the
	// row running forever.
	if returnedNil && updated.Status == jobs.StatusRunning {
		a.Log.Warn("Job handler returned without terminal status; marking succeeded", "job_id", id, "job_type", updated.JobType)
		var result any
		if raw := strings.TrimSpace(string(updated.Result)); raw != "" && raw != "null" {
			result = json.RawMessage(updated.Result)
		}
		jobrt.NewContext(ctx, a.DB, updated, a.Jobs, a.Notify).Succeed("done", result)
	}
	return fill(res, updated), nil
}

func (a *Activities) run(jc *jobrt.Context) (returnedNil bool) {
	h, ok := a.Registry.Get(jc.Job.JobType)
	if !ok {
		jc.Fail("dispatch", fmt.Errorf("no handler registered for job_type=%s", jc.Job.JobType))
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			a.Log.Error("Job handler panic", "job_id", jc.Job.ID, "job_type", jc.Job.JobType, "panic", r)
			jc.Fail("panic", fmt.Errorf("panic: %v", r))
			returnedNil = false
		}
	}()
	if err := h.Run(jc); err != nil {
		jc.Fail("run", err)
		return false
	}
	return true
}

func fill(res TickResult, job *types.JobRun) TickResult {
	res.Status = job.Status
	res.Stage = job.Stage
	res.Progress = job.Progress
	res.Message = job.Message
	res.Attempts = job.Attempts
	return res
}

func (a *Activities) loadJob(ctx context.Context, id uuid.UUID) (*types.JobRun, error) {
	rows, err := a.Jobs.GetByIDs(dbctx.Context{Ctx: ctx, Tx: a.DB}, []uuid.UUID{id})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// startHeartbeat keeps both the activity and the job row alive while the
// handler runs.
func (a *Activities) startHeartbeat(ctx context.Context, id uuid.UUID) func() {
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		activityHB := time.NewTicker(10 * time.Second)
		defer activityHB.Stop()
		rowHB := time.NewTicker(30 * time.Second)
		defer rowHB.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-activityHB.C:
				activity.RecordHeartbeat(ctx)
			case <-rowHB.C:
				_ = a.Jobs.Heartbeat(dbctx.Context{Ctx: ctx, Tx: a.DB}, id)
			}
		}
	}()
	return func() {
		close(done)
		<-stopped
	}
}
