package handlers

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/liftline/liftline-backend/internal/data/repos"
	"github.com/liftline/liftline-backend/internal/jobs/projectors"
	"github.com/liftline/liftline-backend/internal/jobs/runtime"
	"github.com/liftline/liftline-backend/internal/pkg/dbctx"
	"github.com/liftline/liftline-backend/internal/pkg/logger"
	"github.com/liftline/liftline-backend/internal/services"
)

const (
	OutcomeFanOutEnqueued  = "fan_out_enqueued"
	OutcomeNoEligibleUsers = "no_eligible_users"
)

// BackfillController fans one inference backfill out into per-user
// projection.update jobs. One controller instance is registered per
// projection domain; the controller itself never computes projections.
type BackfillController struct {
	jobType   string
	projector projectors.Projector
	log       *logger.Logger
	users     repos.UserRepo
	events    repos.EventRepo
	jobSvc    services.JobService
}

func NewBackfillController(jobType string, projector projectors.Projector, baseLog *logger.Logger, users repos.UserRepo, events repos.EventRepo, jobSvc services.JobService) *BackfillController {
	return &BackfillController{
		jobType:   jobType,
		projector: projector,
		log:       baseLog.With("handler", "BackfillController", "job_type", jobType),
		users:     users,
		events:    events,
		jobSvc:    jobSvc,
	}
}

func (c *BackfillController) Type() string { return c.jobType }

func (c *BackfillController) Run(jc *runtime.Context) error {
	source := jc.Source()
	if source == "" {
		return runtime.Permanent(fmt.Errorf("payload missing source"))
	}
	includeAll := jc.PayloadBool("include_all_users")

	eventTypes := jc.PayloadStringSlice("event_types")
	if len(eventTypes) == 0 {
		eventTypes = c.projector.EventTypes()
	}

	targets, err := c.resolveTargets(jc, includeAll, eventTypes)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		c.log.Info("backfill found no eligible users", "source", source)
		jc.SetResult(map[string]any{
			"outcome":        OutcomeNoEligibleUsers,
			"users_targeted": 0,
			"jobs_enqueued":  0,
		})
		return nil
	}

	enqueued, deduplicated := 0, 0
	dbc := dbctx.Context{Ctx: jc.Ctx}
	for i, userID := range targets {
		_, created, err := c.jobSvc.EnqueueProjectionUpdate(dbc, userID, []string{c.projector.Type()}, eventTypes, source, includeAll)
		if err != nil {
			return fmt.Errorf("enqueue projection.update for user %s: %w", userID, err)
		}
		if created {
			enqueued++
		} else {
			deduplicated++
		}
		if i%100 == 99 {
			jc.Heartbeat()
		}
	}

	c.log.Info("backfill fan-out complete",
		"source", source,
		"users_targeted", len(targets),
		"jobs_enqueued", enqueued,
		"jobs_deduplicated", deduplicated)

	jc.SetResult(map[string]any{
		"outcome":           OutcomeFanOutEnqueued,
		"users_targeted":    len(targets),
		"jobs_enqueued":     enqueued,
		"jobs_deduplicated": deduplicated,
	})
	return nil
}

func (c *BackfillController) resolveTargets(jc *runtime.Context, includeAll bool, eventTypes []string) ([]uuid.UUID, error) {
	dbc := dbctx.Context{Ctx: jc.Ctx}
	if includeAll {
		ids, err := c.users.ListIDs(dbc)
		if err != nil {
			return nil, fmt.Errorf("list users: %w", err)
		}
		return ids, nil
	}
	ids, err := c.events.DistinctUserIDs(dbc, eventTypes)
	if err != nil {
		return nil, fmt.Errorf("list users with events: %w", err)
	}
	return ids, nil
}
