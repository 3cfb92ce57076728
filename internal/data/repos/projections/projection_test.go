package projections

import (
	"context"
	"testing"
	"time"

	"gorm.io/datatypes"

	"github.com/liftline/liftline-backend/internal/data/repos/testutil"
	types "github.com/liftline/liftline-backend/internal/domain"
	"github.com/liftline/liftline-backend/internal/pkg/dbctx"
)

func TestProjectionRepoBasisGuard(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)

	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	repo := NewProjectionRepo(db, testutil.Logger(t))

	user := testutil.SeedUser(t, ctx, tx, "guard@example.com")
	basis := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	row := func(b time.Time, value string) *types.Projection {
		return &types.Projection{
			UserID:         user.ID,
			ProjectionType: types.ProjectionStrengthEstimate,
			Key:            "bench_press",
			Value:          datatypes.JSON([]byte(value)),
			Source:         "live",
			BasisAt:        b,
		}
	}

	applied, err := repo.Upsert(dbc, row(basis, `{"estimated_1rm_kg":100}`))
	if err != nil || !applied {
		t.Fatalf("Upsert insert: applied=%v err=%v", applied, err)
	}

	// A stale recomputation must lose.
	applied, err = repo.Upsert(dbc, row(basis.Add(-time.Hour), `{"estimated_1rm_kg":90}`))
	if err != nil {
		t.Fatalf("Upsert older: %v", err)
	}
	if applied {
		t.Fatalf("Upsert older: stale basis overwrote newer row")
	}
	stored, err := repo.Get(dbc, user.ID, types.ProjectionStrengthEstimate, "bench_press")
	if err != nil || stored == nil {
		t.Fatalf("Get: row=%v err=%v", stored, err)
	}
	if !stored.BasisAt.Equal(basis) {
		t.Fatalf("Get: basis_at = %v, want %v", stored.BasisAt, basis)
	}

	// Equal basis re-applies: a retried job converges instead of erroring.
	applied, err = repo.Upsert(dbc, row(basis, `{"estimated_1rm_kg":100}`))
	if err != nil || !applied {
		t.Fatalf("Upsert equal basis: applied=%v err=%v", applied, err)
	}

	newer := basis.Add(time.Hour)
	applied, err = repo.Upsert(dbc, row(newer, `{"estimated_1rm_kg":105}`))
	if err != nil || !applied {
		t.Fatalf("Upsert newer: applied=%v err=%v", applied, err)
	}
	stored, _ = repo.Get(dbc, user.ID, types.ProjectionStrengthEstimate, "bench_press")
	if !stored.BasisAt.Equal(newer) {
		t.Fatalf("Upsert newer: basis_at = %v, want %v", stored.BasisAt, newer)
	}
}

func TestProjectionRepoListByUser(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)

	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	repo := NewProjectionRepo(db, testutil.Logger(t))

	user := testutil.SeedUser(t, ctx, tx, "list@example.com")
	other := testutil.SeedUser(t, ctx, tx, "other@example.com")
	now := time.Now().UTC()

	testutil.SeedProjection(t, ctx, tx, user.ID, types.ProjectionObjectiveState, "bench_press", now)
	testutil.SeedProjection(t, ctx, tx, user.ID, types.ProjectionStrengthEstimate, "bench_press", now)
	testutil.SeedProjection(t, ctx, tx, other.ID, types.ProjectionObjectiveState, "squat", now)

	rows, err := repo.ListByUser(dbc, user.ID)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("ListByUser: expected 2 rows, got %d", len(rows))
	}
	for _, row := range rows {
		if row.UserID != user.ID {
			t.Fatalf("ListByUser: wrong user on row %+v", row)
		}
	}
}
