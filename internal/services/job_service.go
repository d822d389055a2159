package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	temporalsdkclient "go.temporal.io/sdk/client"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	dbpkg "github.com/yungbote/panelapp-backend/internal/data/db"
	"github.com/yungbote/panelapp-backend/internal/data/repos"
	types "github.com/yungbote/panelapp-backend/internal/domain"
	"github.com/yungbote/panelapp-backend/internal/domain/jobs"
	"github.com/yungbote/panelapp-backend/internal/platform/ctxutil"
	"github.com/yungbote/panelapp-backend/internal/platform/dbctx"
	"github.com/yungbote/panelapp-backend/internal/platform/logger"
)

// Workflow type started for every dispatched job. Kept literal to avoid an
// import cycle with temporalx/jobrun.
const jobRunWorkflow = "job_run"

var ErrJobNotFound = errors.New("job not found")

type JobService interface {
	Enqueue(dbc dbctx.Context, requestedBy string, jobType string, entityType string, entityID string, payload map[string]any) (*types.JobRun, error)
	Dispatch(dbc dbctx.Context, jobID uuid.UUID) error
	Get(dbc dbctx.Context, jobID uuid.UUID) (*types.JobRun, error)
	GetLatestForEntity(dbc dbctx.Context, entityType string, entityID string, jobType string) (*types.JobRun, error)
	Cancel(dbc dbctx.Context, jobID uuid.UUID) (*types.JobRun, error)
}

type jobService struct {
	db     *gorm.DB
	log    *logger.Logger
	repo   repos.JobRunRepo
	notify JobNotifier

	// Nil means jobs stay queued for the polling worker.
	temporal          temporalsdkclient.Client
	temporalTaskQueue string
}

func NewJobService(
	db *gorm.DB,
	baseLog *logger.Logger,
	repo repos.JobRunRepo,
	notify JobNotifier,
	tc temporalsdkclient.Client,
	taskQueue string,
) JobService {
	if notify == nil {
		notify = NewJobNotifier(nil)
	}
	return &jobService{
		db:                db,
		log:               baseLog.With("service", "JobService"),
		repo:              repo,
		notify:            notify,
		temporal:          tc,
		temporalTaskQueue: strings.TrimSpace(taskQueue),
	}
}

func (s *jobService) Enqueue(dbc dbctx.Context, requestedBy string, jobType string, entityType string, entityID string, payload map[string]any) (*types.JobRun, error) {
	if strings.TrimSpace(jobType) == "" {
		return nil, fmt.Errorf("missing job_type")
	}
	if strings.TrimSpace(requestedBy) == "" {
		requestedBy = ctxutil.User(dbc.Ctx)
	}
	if payload == nil {
		payload = map[string]any{}
	}
	if td := ctxutil.GetTraceData(dbc.Ctx); td != nil {
		if _, ok := payload["trace_id"]; !ok && td.TraceID != "" {
			payload["trace_id"] = td.TraceID
		}
		if _, ok := payload["request_id"]; !ok && td.RequestID != "" {
			payload["request_id"] = td.RequestID
		}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	now := time.Now().UTC()
	job := &types.JobRun{
		ID:          uuid.New(),
		RequestedBy: requestedBy,
		JobType:     jobType,
		EntityType:  entityType,
		EntityID:    entityID,
		Status:      jobs.StatusQueued,
		Stage:       "queued",
		Message:     "Queued",
		Payload:     datatypes.JSON(b),
		Result:      datatypes.JSON([]byte(`{}`)),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if _, err := s.repo.Create(readDBC(s.db, dbc), []*types.JobRun{job}); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	s.notify.JobCreated(job)

	// Inside a caller's transaction the row is not visible yet; the caller
	// dispatches after commit.
	if dbpkg.IsTx(dbc.Tx) {
		s.log.Debug("Job enqueued inside transaction; awaiting dispatch after commit", "job_id", job.ID, "job_type", job.JobType)
		return job, nil
	}
	if err := s.Dispatch(dbctx.Context{Ctx: dbc.Ctx}, job.ID); err != nil {
		return job, err
	}
	return job, nil
}

// Dispatch starts the workflow backing jobID. Without Temporal it is a
// no-op and the polling worker claims the job.
func (s *jobService) Dispatch(dbc dbctx.Context, jobID uuid.UUID) error {
	if jobID == uuid.Nil {
		return fmt.Errorf("missing job id")
	}
	if s.temporal == nil {
		return nil
	}
	ctx := ctxutil.Default(dbc.Ctx)

	err := s.startWorkflow(ctx, jobID)
	if err == nil {
		return nil
	}
	var started *serviceerror.WorkflowExecutionAlreadyStarted
	if errors.As(err, &started) {
		return nil
	}

	now := time.Now().UTC()
	repoCtx := dbctx.Context{Ctx: ctx, Tx: s.db}
	if uerr := s.repo.UpdateFields(repoCtx, jobID, map[string]interface{}{
		"status":        jobs.StatusFailed,
		"stage":         "dispatch",
		"error":         err.Error(),
		"last_error_at": now,
		"locked_at":     nil,
		"updated_at":    now,
	}); uerr != nil {
		s.log.Warn("Mark job failed after dispatch error", "job_id", jobID, "error", uerr)
	}
	if rows, rerr := s.repo.GetByIDs(repoCtx, []uuid.UUID{jobID}); rerr == nil && len(rows) > 0 {
		s.notify.JobFailed(rows[0], "dispatch", err.Error())
	}
	return fmt.Errorf("start temporal workflow: %w", err)
}

func (s *jobService) startWorkflow(ctx context.Context, jobID uuid.UUID) error {
	tq := s.temporalTaskQueue
	if tq == "" {
		tq = "panelapp"
	}
	opts := temporalsdkclient.StartWorkflowOptions{
		ID:                    jobID.String(),
		TaskQueue:             tq,
		WorkflowIDReusePolicy: enums.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
	}
	_, err := s.temporal.ExecuteWorkflow(ctx, opts, jobRunWorkflow)
	return err
}

func (s *jobService) Get(dbc dbctx.Context, jobID uuid.UUID) (*types.JobRun, error) {
	if jobID == uuid.Nil {
		return nil, ErrJobNotFound
	}
	rows, err := s.repo.GetByIDs(readDBC(s.db, dbc), []uuid.UUID{jobID})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 || rows[0] == nil {
		return nil, ErrJobNotFound
	}
	return rows[0], nil
}

func (s *jobService) GetLatestForEntity(dbc dbctx.Context, entityType string, entityID string, jobType string) (*types.JobRun, error) {
	job, err := s.repo.GetLatestByEntity(readDBC(s.db, dbc), entityType, entityID, jobType)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// Cancel stops a queued or running job. Finished jobs are returned as is.
func (s *jobService) Cancel(dbc dbctx.Context, jobID uuid.UUID) (*types.JobRun, error) {
	var updated *types.JobRun
	canceled := false
	_, err := inTx(s.db, dbc, func(inner dbctx.Context) error {
		job, err := s.Get(inner, jobID)
		if err != nil {
			return err
		}
		switch job.Status {
		case jobs.StatusSucceeded, jobs.StatusFailed, jobs.StatusCanceled:
			updated = job
			return nil
		}
		now := time.Now().UTC()
		if err := s.repo.UpdateFields(inner, jobID, map[string]interface{}{
			"status":       jobs.StatusCanceled,
			"message":      "Canceled",
			"locked_at":    nil,
			"heartbeat_at": now,
			"updated_at":   now,
		}); err != nil {
			return err
		}
		job.Status = jobs.StatusCanceled
		job.Message = "Canceled"
		job.LockedAt = nil
		job.HeartbeatAt = &now
		job.UpdatedAt = now
		updated = job
		canceled = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if canceled {
		s.notify.JobFailed(updated, "canceled", "canceled")
		if s.temporal != nil {
			if cerr := s.temporal.CancelWorkflow(ctxutil.Default(dbc.Ctx), jobID.String(), ""); cerr != nil {
				s.log.Debug("Cancel workflow", "job_id", jobID, "error", cerr)
			}
		}
	}
	return updated, nil
}
