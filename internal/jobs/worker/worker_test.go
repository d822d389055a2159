package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/panelapp-backend/internal/data/repos"
	"github.com/yungbote/panelapp-backend/internal/data/repos/testutil"
	types "github.com/yungbote/panelapp-backend/internal/domain"
	"github.com/yungbote/panelapp-backend/internal/domain/jobs"
	"github.com/yungbote/panelapp-backend/internal/jobs/runtime"
	"github.com/yungbote/panelapp-backend/internal/platform/dbctx"
)

type funcHandler struct {
	typ string
	fn  func(*runtime.Context) error
}

func (h funcHandler) Type() string                  { return h.typ }
func (h funcHandler) Run(jc *runtime.Context) error { return h.fn(jc) }

func enqueue(t *testing.T, db *gorm.DB, repo repos.JobRunRepo, jobType string, payload string) *types.JobRun {
	t.Helper()
	now := time.Now().UTC()
	job := &types.JobRun{
		ID:          uuid.New(),
		RequestedBy: "alice",
		JobType:     jobType,
		Status:      jobs.StatusQueued,
		Stage:       "queued",
		Payload:     datatypes.JSON([]byte(payload)),
		Result:      datatypes.JSON([]byte(`{}`)),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_, err := repo.Create(dbctx.Context{Ctx: context.Background(), Tx: db}, []*types.JobRun{job})
	require.NoError(t, err)
	return job
}

func load(t *testing.T, db *gorm.DB, repo repos.JobRunRepo, id uuid.UUID) *types.JobRun {
	t.Helper()
	rows, err := repo.GetByIDs(dbctx.Context{Ctx: context.Background(), Tx: db}, []uuid.UUID{id})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	return rows[0]
}

func newWorker(t *testing.T, db *gorm.DB, repo repos.JobRunRepo, handlers ...runtime.Handler) *Worker {
	t.Helper()
	reg := runtime.NewRegistry()
	for _, h := range handlers {
		require.NoError(t, reg.Register(h))
	}
	return NewWorker(db, testutil.Logger(t), repo, reg, nil, Config{
		Concurrency:  2,
		PollInterval: 10 * time.Millisecond,
		MaxAttempts:  1,
	})
}

func TestWorkerRunsJobsAndStopsCleanly(t *testing.T) {
	db := testutil.SQLiteDB(t)
	repo := repos.NewJobRunRepo(db, testutil.Logger(t))
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var seenUser atomic.Value
	var runs atomic.Int32
	w := newWorker(t, db, repo, funcHandler{typ: "echo", fn: func(jc *runtime.Context) error {
		runs.Add(1)
		id, _ := jc.PayloadUint("release_id")
		seenUser.Store(jc.PayloadString("user"))
		jc.Succeed("done", map[string]any{"release_id": id})
		return nil
	}})
	job := enqueue(t, db, repo, "echo", `{"release_id": 7, "user": "bob"}`)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		return load(t, db, repo, job.ID).Status == jobs.StatusSucceeded
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}

	got := load(t, db, repo, job.ID)
	assert.Equal(t, int32(1), runs.Load())
	assert.Equal(t, "bob", seenUser.Load())
	assert.Equal(t, "done", got.Stage)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, 1, got.Attempts)
	assert.JSONEq(t, `{"release_id": 7}`, string(got.Result))
}

func TestRunOnceFailures(t *testing.T) {
	db := testutil.SQLiteDB(t)
	repo := repos.NewJobRunRepo(db, testutil.Logger(t))
	w := newWorker(t, db, repo,
		funcHandler{typ: "boom", fn: func(*runtime.Context) error { panic("kaput") }},
		funcHandler{typ: "err", fn: func(*runtime.Context) error { return errors.New("bad input") }},
	)
	ctx := context.Background()

	cases := []struct {
		jobType string
		stage   string
		errText string
	}{
		{"missing", "dispatch", "no handler registered for job_type=missing"},
		{"boom", "panic", "panic: kaput"},
		{"err", "run", "bad input"},
	}
	for _, tc := range cases {
		t.Run(tc.jobType, func(t *testing.T) {
			job := enqueue(t, db, repo, tc.jobType, `{}`)
			ran, err := w.RunOnce(ctx)
			require.NoError(t, err)
			require.True(t, ran)

			got := load(t, db, repo, job.ID)
			assert.Equal(t, jobs.StatusFailed, got.Status)
			assert.Equal(t, tc.stage, got.Stage)
			assert.Equal(t, tc.errText, got.Error)
			assert.Nil(t, got.LockedAt)
		})
	}

	// Attempts are used up, so nothing is claimable any more.
	ran, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, ran)
}

func TestCanceledJobIsNotOverwritten(t *testing.T) {
	db := testutil.SQLiteDB(t)
	repo := repos.NewJobRunRepo(db, testutil.Logger(t))
	w := newWorker(t, db, repo, funcHandler{typ: "slow", fn: func(jc *runtime.Context) error {
		require.NoError(t, repo.UpdateFields(dbctx.Context{Ctx: jc.Ctx, Tx: db}, jc.Job.ID, map[string]interface{}{
			"status": jobs.StatusCanceled,
		}))
		jc.Succeed("done", nil)
		return nil
	}})
	job := enqueue(t, db, repo, "slow", `{}`)

	ran, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	require.True(t, ran)
	assert.Equal(t, jobs.StatusCanceled, load(t, db, repo, job.ID).Status)
}
