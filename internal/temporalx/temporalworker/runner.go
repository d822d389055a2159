package temporalworker

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/activity"
	temporalsdkclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
	"gorm.io/gorm"

	"github.com/yungbote/panelapp-backend/internal/data/repos"
	jobrt "github.com/yungbote/panelapp-backend/internal/jobs/runtime"
	"github.com/yungbote/panelapp-backend/internal/platform/logger"
	"github.com/yungbote/panelapp-backend/internal/services"
	"github.com/yungbote/panelapp-backend/internal/temporalx"
	"github.com/yungbote/panelapp-backend/internal/temporalx/jobrun"
)

// Runner hosts the job_run workflow and its tick activity on the task
// queue.
type Runner struct {
	log      *logger.Logger
	cfg      temporalx.Config
	tc       temporalsdkclient.Client
	db       *gorm.DB
	jobRepo  repos.JobRunRepo
	registry *jobrt.Registry
	notify   services.JobNotifier
}

func NewRunner(
	log *logger.Logger,
	cfg temporalx.Config,
	tc temporalsdkclient.Client,
	db *gorm.DB,
	jobRepo repos.JobRunRepo,
	registry *jobrt.Registry,
	notify services.JobNotifier,
) (*Runner, error) {
	if tc == nil {
		return nil, fmt.Errorf("temporal client is not configured")
	}
	if db == nil || jobRepo == nil || registry == nil {
		return nil, fmt.Errorf("temporal worker missing deps")
	}
	return &Runner{
		log:      log.With("component", "TemporalWorker"),
		cfg:      cfg,
		tc:       tc,
		db:       db,
		jobRepo:  jobRepo,
		registry: registry,
		notify:   notify,
	}, nil
}

// Run starts the worker, retrying start failures until cfg.DialMaxWait,
// and blocks until ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	r.log.Info("Starting Temporal worker", "namespace", r.cfg.Namespace, "task_queue", r.taskQueue())

	deadline := time.Now().Add(r.cfg.DialMaxWait)
	for attempt := 1; ; attempt++ {
		w := r.newWorker()
		err := w.Start()
		if err == nil {
			r.log.Info("Temporal worker started", "task_queue", r.taskQueue(), "attempts", attempt)
			<-ctx.Done()
			w.Stop()
			r.log.Info("Temporal worker stopped")
			return nil
		}
		w.Stop()

		if r.cfg.AutoRegisterNamespace {
			if nerr := temporalx.EnsureNamespace(ctx, r.cfg, r.log); nerr != nil {
				r.log.Warn("Temporal namespace ensure failed", "namespace", r.cfg.Namespace, "error", nerr)
			}
		}
		if r.cfg.DialMaxWait <= 0 || time.Now().After(deadline) {
			return fmt.Errorf("temporal worker start (namespace=%s task_queue=%s): %w", r.cfg.Namespace, r.taskQueue(), err)
		}
		r.log.Warn("Temporal worker failed to start; retrying", "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(r.cfg.DialBackoff):
		}
	}
}

func (r *Runner) taskQueue() string {
	if r.cfg.TaskQueue == "" {
		return temporalx.DefaultTaskQueue
	}
	return r.cfg.TaskQueue
}

func (r *Runner) newWorker() worker.Worker {
	concurrency := r.cfg.WorkerConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	w := worker.New(r.tc, r.taskQueue(), worker.Options{
		MaxConcurrentActivityExecutionSize:     concurrency,
		MaxConcurrentWorkflowTaskExecutionSize: concurrency,
	})
	acts := &jobrun.Activities{
		Log:      r.log,
		DB:       r.db,
		Jobs:     r.jobRepo,
		Registry: r.registry,
		Notify:   r.notify,
	}
	w.RegisterWorkflowWithOptions(jobrun.Workflow, workflow.RegisterOptions{Name: jobrun.WorkflowName})
	w.RegisterActivityWithOptions(acts.Tick, activity.RegisterOptions{Name: jobrun.ActivityTick})
	return w
}
