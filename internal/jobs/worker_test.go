package jobs

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	jobrepo "github.com/liftline/liftline-backend/internal/data/repos/jobs"
	"github.com/liftline/liftline-backend/internal/data/repos/testutil"
	types "github.com/liftline/liftline-backend/internal/domain"
	"github.com/liftline/liftline-backend/internal/jobs/runtime"
	"github.com/liftline/liftline-backend/internal/pkg/dbctx"
)

type countingHandler struct {
	jobType string
	calls   atomic.Int64
	failN   int64
	perm    bool
}

func (h *countingHandler) Type() string { return h.jobType }

func (h *countingHandler) Run(jc *runtime.Context) error {
	n := h.calls.Add(1)
	if h.perm {
		return runtime.Permanent(fmt.Errorf("unrecoverable"))
	}
	if n <= h.failN {
		return fmt.Errorf("transient failure %d", n)
	}
	jc.SetResult(map[string]any{"runs": n})
	return nil
}

func testWorkerConfig() WorkerConfig {
	return WorkerConfig{
		WorkerID:        "test-worker",
		BatchSize:       5,
		PollInterval:    10 * time.Millisecond,
		IdleJitter:      0,
		StaleProcessing: time.Minute,
		SweepInterval:   20 * time.Millisecond,
		Retry:           jobrepo.RetryPolicy{MaxAttempts: 3, BaseBackoff: 0},
	}
}

func waitForStatus(t *testing.T, repo jobrepo.BackgroundJobRepo, id uuid.UUID, want string) *types.BackgroundJob {
	t.Helper()
	dbc := dbctx.Context{Ctx: context.Background()}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rows, err := repo.GetByIDs(dbc, []uuid.UUID{id})
		if err != nil {
			t.Fatalf("GetByIDs: %v", err)
		}
		if len(rows) == 1 && rows[0].Status == want {
			return rows[0]
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never reached status %s", id, want)
	return nil
}

func TestWorkerCompletesJob(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	log := testutil.Logger(t)

	ctx := context.Background()
	repo := jobrepo.NewBackgroundJobRepo(tx, log)

	handler := &countingHandler{jobType: "test.noop"}
	registry := runtime.NewRegistry()
	if err := registry.Register(handler); err != nil {
		t.Fatalf("Register: %v", err)
	}

	userID := uuid.New()
	job := testutil.SeedJob(t, ctx, tx, &userID, "test.noop", types.JobStatusPending, time.Now().UTC().Add(-time.Second))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	NewWorker(tx, log, repo, registry, nil, testWorkerConfig()).Start(runCtx)

	done := waitForStatus(t, repo, job.ID, types.JobStatusCompleted)
	if done.CompletedAt == nil {
		t.Fatalf("completed job missing completed_at: %+v", done)
	}
	if string(done.Result) == "" {
		t.Fatalf("completed job missing result")
	}
	if handler.calls.Load() != 1 {
		t.Fatalf("handler ran %d times", handler.calls.Load())
	}
}

func TestWorkerRetriesThenCompletes(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	log := testutil.Logger(t)

	ctx := context.Background()
	repo := jobrepo.NewBackgroundJobRepo(tx, log)

	handler := &countingHandler{jobType: "test.flaky", failN: 2}
	registry := runtime.NewRegistry()
	if err := registry.Register(handler); err != nil {
		t.Fatalf("Register: %v", err)
	}

	userID := uuid.New()
	job := testutil.SeedJob(t, ctx, tx, &userID, "test.flaky", types.JobStatusPending, time.Now().UTC().Add(-time.Second))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	NewWorker(tx, log, repo, registry, nil, testWorkerConfig()).Start(runCtx)

	done := waitForStatus(t, repo, job.ID, types.JobStatusCompleted)
	if done.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", done.Attempts)
	}
	if handler.calls.Load() != 3 {
		t.Fatalf("handler ran %d times, want 3", handler.calls.Load())
	}
}

func TestWorkerDeadLettersPermanentFailure(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	log := testutil.Logger(t)

	ctx := context.Background()
	repo := jobrepo.NewBackgroundJobRepo(tx, log)

	handler := &countingHandler{jobType: "test.broken", perm: true}
	registry := runtime.NewRegistry()
	if err := registry.Register(handler); err != nil {
		t.Fatalf("Register: %v", err)
	}

	userID := uuid.New()
	job := testutil.SeedJob(t, ctx, tx, &userID, "test.broken", types.JobStatusPending, time.Now().UTC().Add(-time.Second))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	NewWorker(tx, log, repo, registry, nil, testWorkerConfig()).Start(runCtx)

	dead := waitForStatus(t, repo, job.ID, types.JobStatusDead)
	// Permanent errors skip the retry budget entirely.
	if dead.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", dead.Attempts)
	}
	if handler.calls.Load() != 1 {
		t.Fatalf("handler ran %d times, want 1", handler.calls.Load())
	}
}

func TestWorkerDeadLettersUnknownJobType(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	log := testutil.Logger(t)

	ctx := context.Background()
	repo := jobrepo.NewBackgroundJobRepo(tx, log)

	registry := runtime.NewRegistry()
	if err := registry.Register(&countingHandler{jobType: "test.orphan"}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	userID := uuid.New()
	job := testutil.SeedJob(t, ctx, tx, &userID, "test.orphan", types.JobStatusPending, time.Now().UTC().Add(-time.Second))

	w := NewWorker(tx, log, repo, registry, nil, testWorkerConfig())
	claimed, err := repo.ClaimBatch(dbctx.Context{Ctx: ctx}, "test-worker", 1, []string{"test.orphan"})
	if err != nil || len(claimed) != 1 {
		t.Fatalf("ClaimBatch: err=%v len=%d", err, len(claimed))
	}
	// Simulate a claim for a type this process no longer registers.
	claimed[0].JobType = "test.unregistered"
	w.execute(ctx, claimed[0])

	rows, _ := repo.GetByIDs(dbctx.Context{Ctx: ctx}, []uuid.UUID{job.ID})
	if rows[0].Status != types.JobStatusDead {
		t.Fatalf("unregistered job type not dead-lettered: %s", rows[0].Status)
	}
}

func TestWorkerHeartbeatsBatchRemainder(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	log := testutil.Logger(t)

	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}
	repo := jobrepo.NewBackgroundJobRepo(tx, log)

	registry := runtime.NewRegistry()
	if err := registry.Register(&countingHandler{jobType: "test.slow"}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	userID := uuid.New()
	due := time.Now().UTC().Add(-time.Second)
	testutil.SeedJob(t, ctx, tx, &userID, "test.slow", types.JobStatusPending, due)
	testutil.SeedJob(t, ctx, tx, &userID, "test.slow", types.JobStatusPending, due)

	claimed, err := repo.ClaimBatch(dbc, "test-worker", 5, []string{"test.slow"})
	if err != nil || len(claimed) != 2 {
		t.Fatalf("ClaimBatch: err=%v len=%d", err, len(claimed))
	}

	// Age both heartbeats as if the first job had been running a long time.
	stale := time.Now().UTC().Add(-time.Hour)
	for _, j := range claimed {
		if err := tx.Model(&types.BackgroundJob{}).Where("id = ?", j.ID).
			Update("heartbeat_at", stale).Error; err != nil {
			t.Fatalf("age heartbeat: %v", err)
		}
	}

	w := NewWorker(tx, log, repo, registry, nil, testWorkerConfig())
	w.heartbeatPending(ctx, claimed[1:])

	rows, err := repo.GetByIDs(dbc, []uuid.UUID{claimed[0].ID, claimed[1].ID})
	if err != nil || len(rows) != 2 {
		t.Fatalf("GetByIDs: err=%v len=%d", err, len(rows))
	}
	byID := map[uuid.UUID]*types.BackgroundJob{rows[0].ID: rows[0], rows[1].ID: rows[1]}
	running := byID[claimed[0].ID]
	waiting := byID[claimed[1].ID]
	if waiting.HeartbeatAt == nil || !waiting.HeartbeatAt.After(stale) {
		t.Fatalf("unstarted job heartbeat not refreshed: %v", waiting.HeartbeatAt)
	}
	if running.HeartbeatAt == nil || running.HeartbeatAt.UTC().Sub(stale) > time.Second {
		t.Fatalf("running job heartbeat should be untouched: %v", running.HeartbeatAt)
	}
}
