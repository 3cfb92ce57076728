package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/liftline/liftline-backend/internal/data/repos/testutil"
	types "github.com/liftline/liftline-backend/internal/domain"
	"github.com/liftline/liftline-backend/internal/pkg/dbctx"
)

func TestBackgroundJobRepoEnqueueDedup(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)

	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	repo := NewBackgroundJobRepo(db, testutil.Logger(t))

	userID := uuid.New()
	mk := func() *types.BackgroundJob {
		uid := userID
		return &types.BackgroundJob{
			UserID:   &uid,
			JobType:  types.JobTypeProjectionUpdate,
			DedupKey: "dedup-a",
			Source:   "live",
			Priority: 100,
			Payload:  datatypes.JSON([]byte(`{"user_id":"` + userID.String() + `"}`)),
		}
	}

	first, created, err := repo.Enqueue(dbc, mk())
	if err != nil || !created {
		t.Fatalf("Enqueue first: created=%v err=%v", created, err)
	}
	second, created, err := repo.Enqueue(dbc, mk())
	if err != nil {
		t.Fatalf("Enqueue duplicate: %v", err)
	}
	if created {
		t.Fatalf("Enqueue duplicate: expected created=false")
	}
	if second.ID != first.ID {
		t.Fatalf("Enqueue duplicate: expected existing row %s, got %s", first.ID, second.ID)
	}

	// A different dedup key is a different slot.
	other := mk()
	other.DedupKey = "dedup-b"
	_, created, err = repo.Enqueue(dbc, other)
	if err != nil || !created {
		t.Fatalf("Enqueue other key: created=%v err=%v", created, err)
	}

	// Claiming releases the slot: a processing row has already read its
	// inputs, so the next enqueue must create a fresh pending row.
	claimed, err := repo.ClaimBatch(dbc, "w1", 10, []string{types.JobTypeProjectionUpdate})
	if err != nil {
		t.Fatalf("ClaimBatch: %v", err)
	}
	fresh, created, err := repo.Enqueue(dbc, mk())
	if err != nil || !created {
		t.Fatalf("Enqueue after claim: created=%v err=%v", created, err)
	}
	if fresh.ID == first.ID {
		t.Fatalf("Enqueue after claim: expected a new row, got the claimed one")
	}
	for _, j := range claimed {
		if err := repo.Complete(dbc, j.ID, nil); err != nil {
			t.Fatalf("Complete: %v", err)
		}
	}

	// The fresh row now owns the slot; a duplicate dedups onto it.
	again, created, err := repo.Enqueue(dbc, mk())
	if err != nil || created {
		t.Fatalf("Enqueue duplicate of fresh row: created=%v err=%v", created, err)
	}
	if again.ID != fresh.ID {
		t.Fatalf("expected dedup onto %s, got %s", fresh.ID, again.ID)
	}
}

func TestBackgroundJobRepoClaimBatch(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)

	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	repo := NewBackgroundJobRepo(db, testutil.Logger(t))

	now := time.Now().UTC()
	userID := uuid.New()

	low := testutil.SeedJob(t, ctx, tx, &userID, types.JobTypeProjectionUpdate, types.JobStatusPending, now.Add(-2*time.Minute))
	high := testutil.SeedJob(t, ctx, tx, nil, types.JobTypeObjectiveBackfill, types.JobStatusPending, now.Add(-1*time.Minute))
	if err := tx.Model(high).Update("priority", 200).Error; err != nil {
		t.Fatalf("set priority: %v", err)
	}
	future := testutil.SeedJob(t, ctx, tx, &userID, types.JobTypeProjectionUpdate, types.JobStatusPending, now.Add(1*time.Hour))

	claimed, err := repo.ClaimBatch(dbc, "w1", 10, nil)
	if err != nil {
		t.Fatalf("ClaimBatch: %v", err)
	}
	if len(claimed) != 2 {
		t.Fatalf("ClaimBatch: expected 2 due jobs, got %d", len(claimed))
	}
	if claimed[0].ID != low.ID || claimed[1].ID != high.ID {
		t.Fatalf("ClaimBatch: expected priority order [%s %s], got [%s %s]", low.ID, high.ID, claimed[0].ID, claimed[1].ID)
	}
	for _, j := range claimed {
		if j.Status != types.JobStatusProcessing || j.WorkerID != "w1" || j.HeartbeatAt == nil {
			t.Fatalf("ClaimBatch: job %s not marked processing", j.ID)
		}
	}

	// Claimed rows are invisible to the next claimer; the future row stays put.
	again, err := repo.ClaimBatch(dbc, "w2", 10, nil)
	if err != nil {
		t.Fatalf("ClaimBatch again: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("ClaimBatch again: expected 0, got %d", len(again))
	}
	rows, err := repo.GetByIDs(dbc, []uuid.UUID{future.ID})
	if err != nil || len(rows) != 1 || rows[0].Status != types.JobStatusPending {
		t.Fatalf("future job: err=%v rows=%v", err, rows)
	}
}

func TestBackgroundJobRepoFailRetriesThenDead(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)

	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	repo := NewBackgroundJobRepo(db, testutil.Logger(t))

	policy := RetryPolicy{MaxAttempts: 2, BaseBackoff: 0}
	userID := uuid.New()
	job := testutil.SeedJob(t, ctx, tx, &userID, types.JobTypeProjectionUpdate, types.JobStatusPending, time.Now().UTC().Add(-time.Minute))

	claimed, err := repo.ClaimBatch(dbc, "w1", 1, nil)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("ClaimBatch: err=%v len=%d", err, len(claimed))
	}

	status, err := repo.Fail(dbc, job.ID, "boom", false, policy)
	if err != nil {
		t.Fatalf("Fail 1: %v", err)
	}
	if status != types.JobStatusPending {
		t.Fatalf("Fail 1: expected retry, got %s", status)
	}
	rows, _ := repo.GetByIDs(dbc, []uuid.UUID{job.ID})
	if rows[0].Attempts != 1 || rows[0].Error != "boom" || rows[0].LastErrorAt == nil {
		t.Fatalf("Fail 1: row not updated: %+v", rows[0])
	}

	// Zero backoff makes the retry immediately due.
	claimed, err = repo.ClaimBatch(dbc, "w1", 1, nil)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("ClaimBatch retry: err=%v len=%d", err, len(claimed))
	}
	status, err = repo.Fail(dbc, job.ID, "boom again", false, policy)
	if err != nil {
		t.Fatalf("Fail 2: %v", err)
	}
	if status != types.JobStatusDead {
		t.Fatalf("Fail 2: expected dead after %d attempts, got %s", policy.MaxAttempts, status)
	}
}

func TestBackgroundJobRepoFailPermanent(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)

	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	repo := NewBackgroundJobRepo(db, testutil.Logger(t))

	userID := uuid.New()
	job := testutil.SeedJob(t, ctx, tx, &userID, types.JobTypeProjectionUpdate, types.JobStatusPending, time.Now().UTC().Add(-time.Minute))
	if _, err := repo.ClaimBatch(dbc, "w1", 1, nil); err != nil {
		t.Fatalf("ClaimBatch: %v", err)
	}

	status, err := repo.Fail(dbc, job.ID, "bad payload", true, RetryPolicy{MaxAttempts: 5, BaseBackoff: time.Second})
	if err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if status != types.JobStatusDead {
		t.Fatalf("Fail permanent: expected dead on attempt 1, got %s", status)
	}
}

func TestBackgroundJobRepoSweepStale(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)

	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	repo := NewBackgroundJobRepo(db, testutil.Logger(t))

	now := time.Now().UTC()
	userID := uuid.New()

	stale := testutil.SeedJob(t, ctx, tx, &userID, types.JobTypeProjectionUpdate, types.JobStatusProcessing, now.Add(-time.Hour))
	old := now.Add(-30 * time.Minute)
	if err := tx.Model(stale).Updates(map[string]interface{}{"heartbeat_at": old, "worker_id": "w-dead", "attempts": 1}).Error; err != nil {
		t.Fatalf("age heartbeat: %v", err)
	}
	healthy := testutil.SeedJob(t, ctx, tx, &userID, types.JobTypeProjectionUpdate, types.JobStatusProcessing, now.Add(-time.Hour))
	if err := tx.Model(healthy).Update("heartbeat_at", now).Error; err != nil {
		t.Fatalf("fresh heartbeat: %v", err)
	}

	swept, err := repo.SweepStale(dbc, 5*time.Minute)
	if err != nil {
		t.Fatalf("SweepStale: %v", err)
	}
	if swept != 1 {
		t.Fatalf("SweepStale: expected 1 reclaimed, got %d", swept)
	}
	rows, _ := repo.GetByIDs(dbc, []uuid.UUID{stale.ID, healthy.ID})
	for _, row := range rows {
		switch row.ID {
		case stale.ID:
			if row.Status != types.JobStatusPending || row.WorkerID != "" {
				t.Fatalf("stale row not reset: %+v", row)
			}
			// The sweeper charges no attempt; the crash was not the handler's fault.
			if row.Attempts != 1 {
				t.Fatalf("stale row attempts changed: %d", row.Attempts)
			}
		case healthy.ID:
			if row.Status != types.JobStatusProcessing {
				t.Fatalf("healthy row swept: %+v", row)
			}
		}
	}
}

func TestBackgroundJobRepoCompleteRequiresProcessing(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)

	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	repo := NewBackgroundJobRepo(db, testutil.Logger(t))

	userID := uuid.New()
	job := testutil.SeedJob(t, ctx, tx, &userID, types.JobTypeProjectionUpdate, types.JobStatusPending, time.Now().UTC())

	// A worker that lost the row to the sweeper must not mark it completed.
	if err := repo.Complete(dbc, job.ID, datatypes.JSON([]byte(`{"n":1}`))); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	rows, _ := repo.GetByIDs(dbc, []uuid.UUID{job.ID})
	if rows[0].Status != types.JobStatusPending {
		t.Fatalf("Complete touched a non-processing row: %s", rows[0].Status)
	}
}

func TestBackgroundJobRepoAdminTransitions(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)

	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	repo := NewBackgroundJobRepo(db, testutil.Logger(t))

	now := time.Now().UTC()
	userID := uuid.New()

	dead := testutil.SeedJob(t, ctx, tx, &userID, types.JobTypeProjectionUpdate, types.JobStatusDead, now)
	requeued, err := repo.RequeueDead(dbc, dead.ID)
	if err != nil {
		t.Fatalf("RequeueDead: %v", err)
	}
	if requeued.Status != types.JobStatusPending || requeued.Attempts != 0 {
		t.Fatalf("RequeueDead: %+v", requeued)
	}

	// Requeue only applies to dead rows.
	if _, err := repo.RequeueDead(dbc, requeued.ID); err == nil {
		t.Fatalf("RequeueDead on pending: expected error")
	}

	pending := testutil.SeedJob(t, ctx, tx, &userID, types.JobTypeProjectionUpdate, types.JobStatusPending, now)
	canceled, err := repo.CancelPending(dbc, pending.ID)
	if err != nil {
		t.Fatalf("CancelPending: %v", err)
	}
	if canceled.Status != types.JobStatusDead {
		t.Fatalf("CancelPending: %+v", canceled)
	}
	if _, err := repo.CancelPending(dbc, canceled.ID); err == nil {
		t.Fatalf("CancelPending on dead: expected error")
	}
}

func TestBackgroundJobRepoStatusCounts(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)

	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	repo := NewBackgroundJobRepo(db, testutil.Logger(t))

	now := time.Now().UTC()
	userID := uuid.New()
	for i := 0; i < 3; i++ {
		j := testutil.SeedJob(t, ctx, tx, &userID, types.JobTypeProjectionUpdate, types.JobStatusPending, now)
		if err := tx.Model(j).Update("source", "backfill-2026-09").Error; err != nil {
			t.Fatalf("set source: %v", err)
		}
	}
	d := testutil.SeedJob(t, ctx, tx, &userID, types.JobTypeProjectionUpdate, types.JobStatusDead, now)
	if err := tx.Model(d).Update("source", "backfill-2026-09").Error; err != nil {
		t.Fatalf("set source: %v", err)
	}

	counts, err := repo.CountByTypeStatusSource(dbc, types.JobTypeProjectionUpdate, "backfill-2026-09")
	if err != nil {
		t.Fatalf("CountByTypeStatusSource: %v", err)
	}
	got := map[string]int64{}
	for _, c := range counts {
		got[c.Status] = c.Count
	}
	if got[types.JobStatusPending] != 3 || got[types.JobStatusDead] != 1 {
		t.Fatalf("counts: %+v", got)
	}

	deadTotal, err := repo.CountDead(dbc)
	if err != nil || deadTotal != 1 {
		t.Fatalf("CountDead: n=%d err=%v", deadTotal, err)
	}
}

func TestRetryPolicyBackoff(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, BaseBackoff: 30 * time.Second, MaxBackoff: time.Hour}
	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{1, 30 * time.Second},
		{2, 60 * time.Second},
		{3, 120 * time.Second},
		{8, time.Hour},
	}
	for _, c := range cases {
		if got := p.BackoffFor(c.attempts); got != c.want {
			t.Fatalf("BackoffFor(%d) = %v, want %v", c.attempts, got, c.want)
		}
	}
	if got := (RetryPolicy{}).BackoffFor(3); got != 0 {
		t.Fatalf("zero policy backoff = %v", got)
	}
}
