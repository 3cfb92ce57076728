package app

import (
	"fmt"
	"os"

	"gorm.io/gorm"

	types "github.com/liftline/liftline-backend/internal/domain"
	"github.com/liftline/liftline-backend/internal/jobs"
	"github.com/liftline/liftline-backend/internal/jobs/handlers"
	"github.com/liftline/liftline-backend/internal/jobs/projectors"
	jobruntime "github.com/liftline/liftline-backend/internal/jobs/runtime"
	"github.com/liftline/liftline-backend/internal/pkg/logger"
	"github.com/liftline/liftline-backend/internal/realtime"
	"github.com/liftline/liftline-backend/internal/services"
)

type Services struct {
	Projectors *projectors.Registry
	Bus        realtime.Bus
	Jobs       services.JobService
	Events     services.EventService
	Monitor    services.MonitorService
	Worker     *jobs.Worker
}

// backfillJobTypes pairs each controller job type with the projection it
// fans out.
var backfillJobTypes = map[string]string{
	types.JobTypeObjectiveBackfill: types.ProjectionObjectiveState,
	types.JobTypeStrengthBackfill:  types.ProjectionStrengthEstimate,
	types.JobTypeTimelineBackfill:  types.ProjectionTrainingTimeline,
	types.JobTypeRecoveryBackfill:  types.ProjectionRecoverySummary,
}

func wireServices(db *gorm.DB, log *logger.Logger, r Repos) (Services, error) {
	log.Info("Wiring services...")

	projectorRegistry := projectors.Default()

	bus, err := realtime.NewRedisBus(log)
	if err != nil {
		log.Warn("Redis bus unavailable, job notifications disabled", "error", err)
		bus = realtime.NopBus{}
	}

	jobService := services.NewJobService(db, log, r.BackgroundJob, bus)
	eventService := services.NewEventService(db, log, r.Event, jobService, projectorRegistry)
	monitorService := services.NewMonitorService(db, log, r.Monitor, r.BackgroundJob, projectorRegistry)

	handlerRegistry := jobruntime.NewRegistry()
	if err := handlerRegistry.Register(handlers.NewProjectionUpdate(log, r.Event, r.Projection, projectorRegistry)); err != nil {
		return Services{}, fmt.Errorf("register projection.update handler: %w", err)
	}
	for jobType, projectionType := range backfillJobTypes {
		p, ok := projectorRegistry.Get(projectionType)
		if !ok {
			return Services{}, fmt.Errorf("no projector for %s", projectionType)
		}
		ctrl := handlers.NewBackfillController(jobType, p, log, r.User, r.Event, jobService)
		if err := handlerRegistry.Register(ctrl); err != nil {
			return Services{}, fmt.Errorf("register %s handler: %w", jobType, err)
		}
	}

	workerID, _ := os.Hostname()
	if workerID == "" {
		workerID = "worker-1"
	}
	worker := jobs.NewWorker(db, log, r.BackgroundJob, handlerRegistry, bus, jobs.WorkerConfigFromEnv(workerID))

	return Services{
		Projectors: projectorRegistry,
		Bus:        bus,
		Jobs:       jobService,
		Events:     eventService,
		Monitor:    monitorService,
		Worker:     worker,
	}, nil
}
