package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/yungbote/panelapp-backend/internal/data/repos"
	types "github.com/yungbote/panelapp-backend/internal/domain"
	jobdomain "github.com/yungbote/panelapp-backend/internal/domain/jobs"
	"github.com/yungbote/panelapp-backend/internal/domain/panels"
	"github.com/yungbote/panelapp-backend/internal/domain/releases"
	"github.com/yungbote/panelapp-backend/internal/modules/releaseplan"
	"github.com/yungbote/panelapp-backend/internal/observability"
	"github.com/yungbote/panelapp-backend/internal/platform/ctxutil"
	"github.com/yungbote/panelapp-backend/internal/platform/dbctx"
	"github.com/yungbote/panelapp-backend/internal/platform/logger"
)

// DeploymentStatus is the externally visible state of a release deployment.
type DeploymentStatus struct {
	ReleaseID     uint                     `json:"release_id"`
	State         releases.DeploymentState `json:"state"`
	Start         *time.Time               `json:"start,omitempty"`
	End           *time.Time               `json:"end,omitempty"`
	ElapsedMs     *int64                   `json:"elapsed_ms,omitempty"`
	TimedOut      bool                     `json:"timed_out"`
	DeployingUser string                   `json:"deploying_user,omitempty"`
}

type DeploymentService interface {
	RequestDeployment(dbc dbctx.Context, releaseID uint, user string) (*types.JobRun, error)
	Deploy(ctx context.Context, releaseID uint, user string) (*types.ReleaseDeployment, error)
	Status(dbc dbctx.Context, releaseID uint) (*DeploymentStatus, error)
}

// errDeploymentSuperseded means another caller restarted the deployment
// between the start transition and the deployment transaction.
var errDeploymentSuperseded = errors.New("deployment superseded")

type deploymentService struct {
	db            *gorm.DB
	log           *logger.Logger
	releases      repos.ReleaseRepo
	releasePanels repos.ReleasePanelRepo
	deployments   repos.ReleaseDeploymentRepo
	panels        repos.PanelRepo
	snapshotRepo  repos.PanelSnapshotRepo
	historical    repos.HistoricalSnapshotRepo
	snapshots     SnapshotService
	jobs          JobService
	notify        ReleaseNotifier
	now           func() time.Time
}

func NewDeploymentService(
	db *gorm.DB,
	baseLog *logger.Logger,
	releaseRepo repos.ReleaseRepo,
	releasePanelRepo repos.ReleasePanelRepo,
	deploymentRepo repos.ReleaseDeploymentRepo,
	panelRepo repos.PanelRepo,
	snapshotRepo repos.PanelSnapshotRepo,
	historicalRepo repos.HistoricalSnapshotRepo,
	snapshots SnapshotService,
	jobs JobService,
	notify ReleaseNotifier,
) DeploymentService {
	if notify == nil {
		notify = NewReleaseNotifier(nil)
	}
	return &deploymentService{
		db:            db,
		log:           baseLog.With("service", "DeploymentService"),
		releases:      releaseRepo,
		releasePanels: releasePanelRepo,
		deployments:   deploymentRepo,
		panels:        panelRepo,
		snapshotRepo:  snapshotRepo,
		historical:    historicalRepo,
		snapshots:     snapshots,
		jobs:          jobs,
		notify:        notify,
		now:           time.Now,
	}
}

// lock takes the NOWAIT release lock and loads its deployment row.
func (s *deploymentService) lock(dbc dbctx.Context, releaseID uint, op string) (*types.Release, error) {
	rel, err := s.releases.LockForDeploy(dbc, releaseID)
	if errors.Is(err, releases.ErrReleaseLocked) {
		s.log.Info("Release locked by another transaction", "release_id", releaseID, "operation", op)
		observability.Current().IncLockContention(op)
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("lock release: %w", err)
	}
	if rel == nil {
		return nil, releases.ErrReleaseNotFound
	}
	dep, err := s.deployments.GetByRelease(dbc, releaseID)
	if err != nil {
		return nil, err
	}
	rel.Deployment = dep
	return rel, nil
}

// RequestDeployment moves the release to pending and queues the job that
// deploys it. A pending release with a live job returns that job.
func (s *deploymentService) RequestDeployment(dbc dbctx.Context, releaseID uint, user string) (*types.JobRun, error) {
	if user == "" {
		user = ctxutil.User(dbc.Ctx)
	}
	entityID := strconv.FormatUint(uint64(releaseID), 10)

	var (
		rel     *types.Release
		job     *types.JobRun
		created bool
	)
	owned, err := inTx(s.db, dbc, func(dbc dbctx.Context) error {
		var err error
		rel, err = s.lock(dbc, releaseID, "deploy_request")
		if err != nil {
			return err
		}
		now := s.now()
		switch rel.Deployment.State(now) {
		case releases.DeploymentFinished:
			return releases.ErrAlreadyDeployed
		case releases.DeploymentRunning:
			return releases.ErrDeploymentInProgress
		case releases.DeploymentNone:
			dep := &types.ReleaseDeployment{ReleaseID: releaseID, DeployingUser: user}
			if err := s.deployments.Create(dbc, dep); err != nil {
				return fmt.Errorf("create deployment: %w", err)
			}
			rel.Deployment = dep
		case releases.DeploymentTimedOut:
			s.log.Warn("Deployment timed out; resetting to pending", "release_id", releaseID, "start", rel.Deployment.Start)
			if err := s.deployments.UpdateFields(dbc, rel.Deployment.ID, map[string]interface{}{
				"started_at":     nil,
				"deploying_user": user,
			}); err != nil {
				return fmt.Errorf("reset deployment: %w", err)
			}
			rel.Deployment.Start = nil
			rel.Deployment.DeployingUser = user
		}

		live, err := s.jobs.GetLatestForEntity(dbc, releases.EntityTypeRelease, entityID, releases.JobTypeDeploy)
		if err != nil && !errors.Is(err, ErrJobNotFound) {
			return err
		}
		if live != nil && (live.Status == jobdomain.StatusQueued || live.Status == jobdomain.StatusRunning) {
			job = live
			return nil
		}
		job, err = s.jobs.Enqueue(dbc, user, releases.JobTypeDeploy, releases.EntityTypeRelease, entityID, map[string]any{
			"release_id": releaseID,
			"user":       user,
		})
		if err != nil {
			return fmt.Errorf("enqueue deployment: %w", err)
		}
		created = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if owned {
		if created {
			if err := s.jobs.Dispatch(dbctx.Context{Ctx: dbc.Ctx}, job.ID); err != nil {
				return job, err
			}
		}
		s.notify.DeploymentRequested(rel, job)
	}
	s.log.Info("Deployment requested", "release_id", releaseID, "job_id", job.ID, "user", user)
	return job, nil
}

// Deploy runs the release plan. The start transition commits on its own so
// a concurrent caller sees the deployment as running; the rows are then
// deployed in a single transaction that either commits every row or none.
func (s *deploymentService) Deploy(ctx context.Context, releaseID uint, user string) (dep *types.ReleaseDeployment, err error) {
	ctx = ctxutil.Default(ctx)
	if user == "" {
		user = ctxutil.User(ctx)
	}
	ctx, span := observability.StartSpan(ctx, "release.deploy",
		attribute.Int64("release.id", int64(releaseID)),
		attribute.String("release.user", user),
	)
	defer func() { observability.EndSpan(span, err) }()

	start := s.now().UTC().Truncate(time.Microsecond)
	rel, dep, err := s.begin(ctx, releaseID, user, start)
	if err != nil {
		outcome := "error"
		switch {
		case errors.Is(err, releases.ErrReleaseLocked):
			outcome = "locked"
		case errors.Is(err, releases.ErrAlreadyDeployed):
			outcome = "already_deployed"
		case errors.Is(err, releases.ErrDeploymentInProgress):
			outcome = "in_progress"
		}
		observability.Current().ObserveDeployment(outcome, 0)
		return nil, err
	}
	s.notify.DeploymentStarted(rel, dep)
	s.log.Info("Deployment started", "release_id", releaseID, "user", user, "start", start)

	var deployed int
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		deployed, err = s.deployRows(dbctx.Context{Ctx: ctx, Tx: tx}, rel, start)
		return err
	})
	elapsed := s.now().UTC().Sub(start)
	if err != nil {
		observability.Current().ObserveDeployment("failed", elapsed)
		s.log.Error("Deployment failed; it stays running until it times out",
			"release_id", releaseID, "error", err, "elapsed_ms", elapsed.Milliseconds())
		return nil, err
	}

	final, err := s.deployments.GetByRelease(dbctx.Context{Ctx: ctx, Tx: s.db}, releaseID)
	if err != nil {
		return nil, err
	}
	observability.Current().ObserveDeployment("deployed", elapsed)
	s.log.Info("Deployment finished", "release_id", releaseID, "panels", deployed, "elapsed_ms", elapsed.Milliseconds())
	s.notify.DeploymentFinished(rel, final, deployed)
	return final, nil
}

// begin is the start transition. It writes nothing when the release is
// finished or running.
func (s *deploymentService) begin(ctx context.Context, releaseID uint, user string, start time.Time) (*types.Release, *types.ReleaseDeployment, error) {
	var (
		rel *types.Release
		dep *types.ReleaseDeployment
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		var err error
		rel, err = s.lock(dbc, releaseID, "deploy")
		if err != nil {
			return err
		}
		dep = rel.Deployment
		switch dep.State(start) {
		case releases.DeploymentFinished:
			return releases.ErrAlreadyDeployed
		case releases.DeploymentRunning:
			return releases.ErrDeploymentInProgress
		case releases.DeploymentNone:
			dep = &types.ReleaseDeployment{ReleaseID: releaseID, Start: &start, DeployingUser: user}
			return s.deployments.Create(dbc, dep)
		}
		ok, err := s.deployments.MarkStarted(dbc, dep.ID, start, user)
		if err != nil {
			return fmt.Errorf("mark started: %w", err)
		}
		if !ok {
			return releases.ErrAlreadyDeployed
		}
		dep.Start = &start
		dep.DeployingUser = user
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	rel.Deployment = dep
	return rel, dep, nil
}

func (s *deploymentService) deployRows(dbc dbctx.Context, rel *types.Release, start time.Time) (int, error) {
	current, err := s.lock(dbc, rel.ID, "deploy")
	if err != nil {
		return 0, err
	}
	dep := current.Deployment
	if dep == nil || dep.Start == nil || !dep.Start.Equal(start) || dep.End != nil {
		return 0, errDeploymentSuperseded
	}

	rows, err := s.releasePanels.ListByRelease(dbc, rel.ID, repos.ReleasePanelFilter{})
	if err != nil {
		return 0, fmt.Errorf("load release panels: %w", err)
	}
	for _, row := range rows {
		if err := s.deployRow(dbc, current, row, start, dep.DeployingUser); err != nil {
			return 0, fmt.Errorf("deploy panel %d: %w", row.PanelID, err)
		}
	}

	ok, err := s.deployments.MarkFinished(dbc, dep.ID, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("mark finished: %w", err)
	}
	if !ok {
		return 0, errDeploymentSuperseded
	}
	return len(rows), nil
}

// deployRow applies the row's commands to the stored panel and records the
// versions on either side.
func (s *deploymentService) deployRow(dbc dbctx.Context, rel *types.Release, row *types.ReleasePanel, now time.Time, user string) error {
	panel, err := s.panels.GetByID(dbc, row.PanelID)
	if err != nil {
		return err
	}
	if panel == nil {
		return panels.ErrPanelNotFound
	}
	active, err := s.snapshotRepo.GetActive(dbc, row.PanelID)
	if err != nil {
		return err
	}
	if active == nil {
		return panels.ErrPanelNotFound
	}
	beforeVersion := active.Version()
	signedOffBefore := panel.SignedOffID
	commentBefore := active.Comment

	cmds, _, err := releaseplan.Commands(rel.PromotionComment, now, beforeVersion, row.Promote)
	if err != nil {
		return err
	}

	var (
		final  = active
		signed *types.HistoricalSnapshot
	)
	for _, cmd := range cmds {
		switch c := cmd.(type) {
		case releaseplan.Promote:
			if final, err = s.snapshots.Promote(dbc, row.PanelID, c.Comment, user); err != nil {
				return fmt.Errorf("%s: %w", c.Name(), err)
			}
		case releaseplan.SignOff:
			res, err := s.snapshots.SignOff(dbc, row.PanelID, user, now)
			if err != nil {
				return fmt.Errorf("%s: %w", c.Name(), err)
			}
			signed, final = res.SignedOff, res.Snapshot
		default:
			return fmt.Errorf("unknown command %q", cmd.Name())
		}
	}
	if signed == nil {
		return fmt.Errorf("panel %d was not signed off", row.PanelID)
	}

	before, err := s.historical.GetByVersion(dbc, row.PanelID, beforeVersion)
	if err != nil {
		return err
	}
	if before == nil {
		return fmt.Errorf("%w: panel %d version %s", panels.ErrVersionNotFound, row.PanelID, beforeVersion)
	}

	signedID := signed.ID
	rec := &types.ReleasePanelDeployment{
		ReleasePanelID:    row.ID,
		BeforeID:          before.ID,
		SignedOffBeforeID: signedOffBefore,
		CommentBefore:     commentBefore,
		AfterID:           signed.ID,
		SignedOffAfterID:  &signedID,
		CommentAfter:      final.Comment,
	}
	if err := s.releasePanels.CreateDeployment(dbc, rec); err != nil {
		return fmt.Errorf("record deployment: %w", err)
	}
	observability.Current().IncDeployedPanel(row.Promote)
	s.log.Debug("Panel deployed",
		"release_id", rel.ID,
		"panel_id", row.PanelID,
		"before", beforeVersion.String(),
		"signed_off", signed.Version().String(),
		"active", final.Version().String(),
	)
	return nil
}

func (s *deploymentService) Status(dbc dbctx.Context, releaseID uint) (*DeploymentStatus, error) {
	dbc = readDBC(s.db, dbc)
	rel, err := s.releases.GetByID(dbc, releaseID)
	if err != nil {
		return nil, err
	}
	if rel == nil {
		return nil, releases.ErrReleaseNotFound
	}
	now := s.now()
	dep := rel.Deployment
	out := &DeploymentStatus{
		ReleaseID: releaseID,
		State:     dep.State(now),
		TimedOut:  dep.TimedOut(now),
	}
	if dep != nil {
		out.Start = dep.Start
		out.End = dep.End
		out.DeployingUser = dep.DeployingUser
	}
	if elapsed := dep.Elapsed(now); elapsed != nil {
		ms := elapsed.Milliseconds()
		out.ElapsedMs = &ms
	}
	return out, nil
}
