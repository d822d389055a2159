package release_deploy

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/yungbote/panelapp-backend/internal/data/repos"
	"github.com/yungbote/panelapp-backend/internal/data/repos/testutil"
	types "github.com/yungbote/panelapp-backend/internal/domain"
	"github.com/yungbote/panelapp-backend/internal/domain/jobs"
	"github.com/yungbote/panelapp-backend/internal/domain/releases"
	"github.com/yungbote/panelapp-backend/internal/jobs/runtime"
	"github.com/yungbote/panelapp-backend/internal/jobs/worker"
	"github.com/yungbote/panelapp-backend/internal/platform/dbctx"
	"github.com/yungbote/panelapp-backend/internal/services"
)

type harness struct {
	db      *gorm.DB
	dbc     dbctx.Context
	jobRepo repos.JobRunRepo
	jobs    services.JobService
	deploy  services.DeploymentService
	worker  *worker.Worker
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := testutil.SQLiteDB(t)
	log := testutil.Logger(t)

	panelRepo := repos.NewPanelRepo(db, log)
	snapshotRepo := repos.NewPanelSnapshotRepo(db, log)
	historical := repos.NewHistoricalSnapshotRepo(db, log)
	snapshots := services.NewSnapshotService(db, log, panelRepo, repos.NewPanelTypeRepo(db, log), snapshotRepo,
		repos.NewEntityRepo(db, log), historical, nil)
	jobRepo := repos.NewJobRunRepo(db, log)
	jobSvc := services.NewJobService(db, log, jobRepo, nil, nil, "")
	deploy := services.NewDeploymentService(db, log, repos.NewReleaseRepo(db, log), repos.NewReleasePanelRepo(db, log),
		repos.NewReleaseDeploymentRepo(db, log), panelRepo, snapshotRepo, historical, snapshots, jobSvc, nil)

	reg := runtime.NewRegistry()
	require.NoError(t, reg.Register(New(log, deploy)))
	return &harness{
		db:      db,
		dbc:     dbctx.Context{Ctx: context.Background()},
		jobRepo: jobRepo,
		jobs:    jobSvc,
		deploy:  deploy,
		worker:  worker.NewWorker(db, log, jobRepo, reg, nil, worker.Config{MaxAttempts: 1, PollInterval: 10 * time.Millisecond}),
	}
}

func (h *harness) runOne(t *testing.T, id uuid.UUID) *types.JobRun {
	t.Helper()
	ran, err := h.worker.RunOnce(context.Background())
	require.NoError(t, err)
	require.True(t, ran)
	rows, err := h.jobRepo.GetByIDs(h.dbc, []uuid.UUID{id})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	return rows[0]
}

func TestDeployJob(t *testing.T) {
	h := newHarness(t)
	p, _ := testutil.SeedPanel(t, h.db, "Alpha", 1, 0, "MYH7")
	rel := testutil.SeedRelease(t, h.db, "2025 Q1", "Release {{ version }}", &types.ReleasePanel{PanelID: p.ID, Promote: true})

	job, err := h.deploy.RequestDeployment(h.dbc, rel.ID, "lead")
	require.NoError(t, err)

	got := h.runOne(t, job.ID)
	assert.Equal(t, jobs.StatusSucceeded, got.Status)
	assert.Equal(t, "done", got.Stage)
	var result map[string]any
	require.NoError(t, json.Unmarshal(got.Result, &result))
	assert.Equal(t, "lead", result["deploying_user"])
	assert.EqualValues(t, rel.ID, result["release_id"])

	st, err := h.deploy.Status(h.dbc, rel.ID)
	require.NoError(t, err)
	assert.Equal(t, releases.DeploymentFinished, st.State)
	assert.Equal(t, "lead", st.DeployingUser)

	// A late duplicate job finds the release deployed and stands down.
	dup, err := h.jobs.Enqueue(h.dbc, "lead", releases.JobTypeDeploy, releases.EntityTypeRelease, "", map[string]any{"release_id": rel.ID})
	require.NoError(t, err)
	got = h.runOne(t, dup.ID)
	assert.Equal(t, jobs.StatusSucceeded, got.Status)
	assert.Equal(t, "skipped", got.Stage)
}

func TestDeployJobFailures(t *testing.T) {
	h := newHarness(t)

	cases := []struct {
		name    string
		payload map[string]any
		stage   string
		errText string
	}{
		{"missing release", map[string]any{}, "validate", "missing release_id"},
		{"unknown release", map[string]any{"release_id": 404}, "deploy", releases.ErrReleaseNotFound.Error()},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			job, err := h.jobs.Enqueue(h.dbc, "lead", releases.JobTypeDeploy, releases.EntityTypeRelease, "", tc.payload)
			require.NoError(t, err)
			got := h.runOne(t, job.ID)
			assert.Equal(t, jobs.StatusFailed, got.Status)
			assert.Equal(t, tc.stage, got.Stage)
			assert.Contains(t, got.Error, tc.errText)
		})
	}
}
