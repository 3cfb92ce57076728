package handlers

import (
	"fmt"
	"time"

	"github.com/liftline/liftline-backend/internal/data/repos"
	types "github.com/liftline/liftline-backend/internal/domain"
	"github.com/liftline/liftline-backend/internal/jobs/projectors"
	"github.com/liftline/liftline-backend/internal/jobs/runtime"
	"github.com/liftline/liftline-backend/internal/pkg/dbctx"
	"github.com/liftline/liftline-backend/internal/pkg/logger"
)

// ProjectionUpdate recomputes one user's projections from the event store.
// It is idempotent: the computation is deterministic in the event slice and
// the write is a basis-guarded upsert, so re-execution after a crash or
// sweeper reclaim converges on the same rows.
type ProjectionUpdate struct {
	log         *logger.Logger
	events      repos.EventRepo
	projections repos.ProjectionRepo
	registry    *projectors.Registry
}

func NewProjectionUpdate(baseLog *logger.Logger, events repos.EventRepo, projections repos.ProjectionRepo, registry *projectors.Registry) *ProjectionUpdate {
	return &ProjectionUpdate{
		log:         baseLog.With("handler", "ProjectionUpdate"),
		events:      events,
		projections: projections,
		registry:    registry,
	}
}

func (h *ProjectionUpdate) Type() string { return types.JobTypeProjectionUpdate }

func (h *ProjectionUpdate) Run(jc *runtime.Context) error {
	userID, ok := jc.PayloadUUID("user_id")
	if !ok {
		return runtime.Permanent(fmt.Errorf("payload missing user_id"))
	}
	source := jc.Source()
	synthesize := jc.PayloadBool("synthesize")

	targets, err := h.resolveTargets(jc)
	if err != nil {
		return runtime.Permanent(err)
	}

	dbc := dbctx.Context{Ctx: jc.Ctx}
	applied, skipped, synthesized := 0, 0, 0
	for _, p := range targets {
		evts, err := h.events.ListByUserAndTypes(dbc, userID, p.EventTypes())
		if err != nil {
			return fmt.Errorf("list events for %s: %w", p.Type(), err)
		}
		if len(evts) == 0 {
			if !synthesize {
				continue
			}
			row := p.Default(userID)
			row.Source = source
			ok, err := h.projections.Upsert(dbc, row)
			if err != nil {
				return fmt.Errorf("upsert default %s: %w", p.Type(), err)
			}
			if ok {
				synthesized++
			} else {
				skipped++
			}
			continue
		}

		rows, err := p.Project(userID, evts)
		if err != nil {
			return runtime.Permanent(fmt.Errorf("project %s: %w", p.Type(), err))
		}
		basis := basisOf(evts)
		for _, row := range rows {
			row.Source = source
			row.BasisAt = basis
			ok, err := h.projections.Upsert(dbc, row)
			if err != nil {
				return fmt.Errorf("upsert %s/%s: %w", row.ProjectionType, row.Key, err)
			}
			if ok {
				applied++
			} else {
				// A newer basis is already stored; this run raced a fresher
				// computation and correctly lost.
				skipped++
			}
		}
		jc.Heartbeat()
	}

	jc.SetResult(map[string]any{
		"applied":     applied,
		"skipped":     skipped,
		"synthesized": synthesized,
	})
	return nil
}

func (h *ProjectionUpdate) resolveTargets(jc *runtime.Context) ([]projectors.Projector, error) {
	if ptypes := jc.PayloadStringSlice("projection_types"); len(ptypes) > 0 {
		out := make([]projectors.Projector, 0, len(ptypes))
		for _, pt := range ptypes {
			p, ok := h.registry.Get(pt)
			if !ok {
				return nil, fmt.Errorf("unknown projection_type %q", pt)
			}
			out = append(out, p)
		}
		return out, nil
	}
	if hints := jc.PayloadStringSlice("event_types"); len(hints) > 0 {
		return h.registry.ForEventTypes(hints), nil
	}
	return h.registry.All(), nil
}

// basisOf is the newest event time in the input slice: the watermark the
// stored row carries so stale recomputations cannot clobber newer ones.
func basisOf(evts []*types.Event) time.Time {
	var basis time.Time
	for _, e := range evts {
		if e.OccurredAt.After(basis) {
			basis = e.OccurredAt
		}
	}
	return basis.UTC()
}
