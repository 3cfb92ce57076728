package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/liftline/liftline-backend/internal/data/repos/testutil"
	types "github.com/liftline/liftline-backend/internal/domain"
	"github.com/liftline/liftline-backend/internal/pkg/dbctx"
)

func TestMonitorRepoFreshness(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)

	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	repo := NewMonitorRepo(db, testutil.Logger(t))

	eventTypes := []string{types.EventSetLogged}
	projectionTypes := []string{types.ProjectionStrengthEstimate}
	now := time.Now().UTC().Truncate(time.Second)

	// fresh: projection computed after the newest event
	fresh := testutil.SeedUser(t, ctx, tx, "fresh@example.com")
	testutil.SeedEvent(t, ctx, tx, fresh.ID, types.EventSetLogged, now.Add(-2*time.Hour), "")
	testutil.SeedProjection(t, ctx, tx, fresh.ID, types.ProjectionStrengthEstimate, "bench_press", now.Add(-2*time.Hour))

	// lagging: events newer than any projection write
	lagging := testutil.SeedUser(t, ctx, tx, "lagging@example.com")
	testutil.SeedEvent(t, ctx, tx, lagging.ID, types.EventSetLogged, now.Add(-time.Minute), "")

	// idle: registered, no signal events at all
	idle := testutil.SeedUser(t, ctx, tx, "idle@example.com")

	rows, err := repo.Freshness(dbc, eventTypes, projectionTypes)
	if err != nil {
		t.Fatalf("Freshness: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("Freshness: expected 3 users, got %d", len(rows))
	}
	byUser := map[string]FreshnessRow{}
	for _, row := range rows {
		byUser[row.UserID.String()] = row
	}

	if r := byUser[fresh.ID.String()]; r.LatestSignalAt == nil || r.LatestProjectionAt == nil {
		t.Fatalf("fresh user: %+v", r)
	}
	if r := byUser[lagging.ID.String()]; r.LatestSignalAt == nil || r.LatestProjectionAt != nil {
		t.Fatalf("lagging user: %+v", r)
	}
	if r := byUser[idle.ID.String()]; r.LatestSignalAt != nil || r.LatestProjectionAt != nil {
		t.Fatalf("idle user: %+v", r)
	}
}

func TestMonitorRepoSummary(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)

	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	repo := NewMonitorRepo(db, testutil.Logger(t))

	eventTypes := []string{types.EventSetLogged}
	projectionTypes := []string{types.ProjectionStrengthEstimate}
	now := time.Now().UTC().Truncate(time.Second)

	behind := testutil.SeedUser(t, ctx, tx, "behind@example.com")
	testutil.SeedEvent(t, ctx, tx, behind.ID, types.EventSetLogged, now, "")
	p := testutil.SeedProjection(t, ctx, tx, behind.ID, types.ProjectionStrengthEstimate, "bench_press", now.Add(-10*time.Minute))
	if err := tx.Model(p).Update("updated_at", now.Add(-10*time.Minute)).Error; err != nil {
		t.Fatalf("age projection: %v", err)
	}

	never := testutil.SeedUser(t, ctx, tx, "never@example.com")
	testutil.SeedEvent(t, ctx, tx, never.ID, types.EventSetLogged, now, "")

	testutil.SeedUser(t, ctx, tx, "quiet@example.com")

	summary, err := repo.Summary(dbc, eventTypes, projectionTypes)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if summary.UsersTotal != 3 {
		t.Fatalf("UsersTotal = %d", summary.UsersTotal)
	}
	if summary.UsersWithSignal != 2 {
		t.Fatalf("UsersWithSignal = %d", summary.UsersWithSignal)
	}
	if summary.UsersWithoutProjection != 1 {
		t.Fatalf("UsersWithoutProjection = %d", summary.UsersWithoutProjection)
	}
	if summary.MaxLagSeconds == nil || *summary.MaxLagSeconds < 9*60 {
		t.Fatalf("MaxLagSeconds = %v", summary.MaxLagSeconds)
	}
}
