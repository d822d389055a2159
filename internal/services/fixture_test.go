package services

import (
	"context"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/panelapp-backend/internal/data/repos"
	"github.com/yungbote/panelapp-backend/internal/data/repos/testutil"
	"github.com/yungbote/panelapp-backend/internal/platform/ctxutil"
	"github.com/yungbote/panelapp-backend/internal/platform/dbctx"
)

var fixedNow = time.Date(2025, 3, 4, 5, 6, 0, 0, time.UTC)

type fixture struct {
	db  *gorm.DB
	dbc dbctx.Context

	panelRepo    repos.PanelRepo
	snapshotRepo repos.PanelSnapshotRepo
	historical   repos.HistoricalSnapshotRepo
	releaseRepo  repos.ReleaseRepo
	rpRepo       repos.ReleasePanelRepo
	depRepo      repos.ReleaseDeploymentRepo
	jobRepo      repos.JobRunRepo

	snapshots SnapshotService
	releases  *releaseService
	jobs      JobService
	deploy    *deploymentService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.SQLiteDB(t)
	log := testutil.Logger(t)
	f := &fixture{
		db:           db,
		dbc:          dbctx.Context{Ctx: ctxutil.WithRequestData(context.Background(), &ctxutil.RequestData{User: "curator"})},
		panelRepo:    repos.NewPanelRepo(db, log),
		snapshotRepo: repos.NewPanelSnapshotRepo(db, log),
		historical:   repos.NewHistoricalSnapshotRepo(db, log),
		releaseRepo:  repos.NewReleaseRepo(db, log),
		rpRepo:       repos.NewReleasePanelRepo(db, log),
		depRepo:      repos.NewReleaseDeploymentRepo(db, log),
		jobRepo:      repos.NewJobRunRepo(db, log),
	}
	f.snapshots = NewSnapshotService(db, log, f.panelRepo, repos.NewPanelTypeRepo(db, log), f.snapshotRepo,
		repos.NewEntityRepo(db, log), f.historical, nil)
	f.releases = NewReleaseService(db, log, f.releaseRepo, f.rpRepo, f.depRepo, f.panelRepo, f.snapshots, nil).(*releaseService)
	f.releases.now = func() time.Time { return fixedNow }
	f.jobs = NewJobService(db, log, f.jobRepo, nil, nil, "")
	f.deploy = f.newDeployment(t, f.releaseRepo)
	return f
}

// newDeployment builds a deployment service on top of releaseRepo so tests
// can swap the release lock.
func (f *fixture) newDeployment(t *testing.T, releaseRepo repos.ReleaseRepo) *deploymentService {
	t.Helper()
	svc := NewDeploymentService(f.db, testutil.Logger(t), releaseRepo, f.rpRepo, f.depRepo, f.panelRepo,
		f.snapshotRepo, f.historical, f.snapshots, f.jobs, nil).(*deploymentService)
	svc.now = func() time.Time { return fixedNow }
	return svc
}

func (f *fixture) count(t *testing.T, model any) int64 {
	t.Helper()
	var n int64
	if err := f.db.Model(model).Count(&n).Error; err != nil {
		t.Fatalf("count %T: %v", model, err)
	}
	return n
}
