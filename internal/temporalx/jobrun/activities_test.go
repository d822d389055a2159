package jobrun

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/yungbote/panelapp-backend/internal/data/repos"
	"github.com/yungbote/panelapp-backend/internal/data/repos/testutil"
	types "github.com/yungbote/panelapp-backend/internal/domain"
	"github.com/yungbote/panelapp-backend/internal/domain/jobs"
	jobrt "github.com/yungbote/panelapp-backend/internal/jobs/runtime"
	"github.com/yungbote/panelapp-backend/internal/platform/dbctx"
)

type stubHandler struct {
	typ string
	fn  func(*jobrt.Context) error
}

func (h stubHandler) Type() string                { return h.typ }
func (h stubHandler) Run(jc *jobrt.Context) error { return h.fn(jc) }

func newActivities(t *testing.T, handlers ...jobrt.Handler) *Activities {
	t.Helper()
	db := testutil.SQLiteDB(t)
	reg := jobrt.NewRegistry()
	for _, h := range handlers {
		require.NoError(t, reg.Register(h))
	}
	return &Activities{
		Log:      testutil.Logger(t),
		DB:       db,
		Jobs:     repos.NewJobRunRepo(db, testutil.Logger(t)),
		Registry: reg,
	}
}

func queue(t *testing.T, a *Activities, jobType, status string) *types.JobRun {
	t.Helper()
	now := time.Now().UTC()
	job := &types.JobRun{
		ID:          uuid.New(),
		RequestedBy: "alice",
		JobType:     jobType,
		Status:      status,
		Stage:       "queued",
		Payload:     datatypes.JSON([]byte(`{}`)),
		Result:      datatypes.JSON([]byte(`{}`)),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_, err := a.Jobs.Create(dbctx.Context{Ctx: context.Background(), Tx: a.DB}, []*types.JobRun{job})
	require.NoError(t, err)
	return job
}

func TestTickRunsHandler(t *testing.T) {
	a := newActivities(t, stubHandler{typ: "ok", fn: func(jc *jobrt.Context) error {
		jc.Succeed("done", map[string]any{"n": 1})
		return nil
	}})
	job := queue(t, a, "ok", jobs.StatusQueued)

	res, err := a.Tick(context.Background(), job.ID.String())
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusSucceeded, res.Status)
	assert.Equal(t, "done", res.Stage)
	assert.Equal(t, 1, res.Attempts)
}

func TestTickCompletesHandlersThatForgetToFinish(t *testing.T) {
	a := newActivities(t, stubHandler{typ: "quiet", fn: func(*jobrt.Context) error { return nil }})
	job := queue(t, a, "quiet", jobs.StatusQueued)

	res, err := a.Tick(context.Background(), job.ID.String())
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusSucceeded, res.Status)
}

func TestTickLeavesTerminalJobsAlone(t *testing.T) {
	runs := 0
	a := newActivities(t, stubHandler{typ: "ok", fn: func(*jobrt.Context) error {
		runs++
		return nil
	}})
	job := queue(t, a, "ok", jobs.StatusCanceled)

	res, err := a.Tick(context.Background(), job.ID.String())
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCanceled, res.Status)
	assert.Zero(t, runs)
}

func TestTickFailsUnknownJobType(t *testing.T) {
	a := newActivities(t)
	job := queue(t, a, "nope", jobs.StatusQueued)

	res, err := a.Tick(context.Background(), job.ID.String())
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusFailed, res.Status)
	assert.Equal(t, "dispatch", res.Stage)

	_, err = a.Tick(context.Background(), "not-a-uuid")
	require.Error(t, err)
}
