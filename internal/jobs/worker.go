package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/liftline/liftline-backend/internal/data/repos"
	types "github.com/liftline/liftline-backend/internal/domain"
	"github.com/liftline/liftline-backend/internal/jobs/runtime"
	"github.com/liftline/liftline-backend/internal/pkg/dbctx"
	"github.com/liftline/liftline-backend/internal/pkg/envutil"
	"github.com/liftline/liftline-backend/internal/pkg/logger"
	"github.com/liftline/liftline-backend/internal/realtime"
)

type WorkerConfig struct {
	WorkerID     string
	BatchSize    int
	PollInterval time.Duration
	// IdleJitter is added to the poll sleep when a claim comes back empty so
	// a fleet of workers does not hammer the table in lockstep.
	IdleJitter      time.Duration
	StaleProcessing time.Duration
	SweepInterval   time.Duration
	Retry           repos.RetryPolicy
}

// WorkerConfigFromEnv reads the tunables the runbooks reference. The stale
// threshold and backoff curve are deliberately configuration, not constants.
func WorkerConfigFromEnv(workerID string) WorkerConfig {
	return WorkerConfig{
		WorkerID:        workerID,
		BatchSize:       envutil.Int("WORKER_BATCH_SIZE", 10),
		PollInterval:    envutil.Seconds("WORKER_POLL_INTERVAL_SECONDS", 1*time.Second),
		IdleJitter:      envutil.Seconds("WORKER_IDLE_JITTER_SECONDS", 1*time.Second),
		StaleProcessing: envutil.Seconds("WORKER_STALE_PROCESSING_SECONDS", 5*time.Minute),
		SweepInterval:   envutil.Seconds("WORKER_SWEEP_INTERVAL_SECONDS", 30*time.Second),
		Retry: repos.RetryPolicy{
			MaxAttempts: envutil.Int("WORKER_MAX_ATTEMPTS", 5),
			BaseBackoff: envutil.Seconds("WORKER_RETRY_BASE_SECONDS", 30*time.Second),
			MaxBackoff:  envutil.Seconds("WORKER_RETRY_MAX_BACKOFF_SECONDS", 1*time.Hour),
		},
	}
}

// Worker polls the shared job table, claims batches, and dispatches each job
// to its registered handler. All mutual exclusion lives in the table's atomic
// claim; workers share nothing else. Delivery is at-least-once, so handlers
// must be idempotent.
type Worker struct {
	db       *gorm.DB
	log      *logger.Logger
	repo     repos.BackgroundJobRepo
	registry *runtime.Registry
	bus      realtime.Bus
	cfg      WorkerConfig
}

func NewWorker(db *gorm.DB, baseLog *logger.Logger, repo repos.BackgroundJobRepo, registry *runtime.Registry, bus realtime.Bus, cfg WorkerConfig) *Worker {
	if bus == nil {
		bus = realtime.NopBus{}
	}
	return &Worker{
		db:       db,
		log:      baseLog.With("component", "JobWorker", "worker_id", cfg.WorkerID),
		repo:     repo,
		registry: registry,
		bus:      bus,
		cfg:      cfg,
	}
}

// Run blocks until ctx is canceled. The poll loop and the sweeper run as
// siblings; either failing terminally stops the worker.
func (w *Worker) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.pollLoop(gctx) })
	g.Go(func() error { return w.sweepLoop(gctx) })
	err := g.Wait()
	if err != nil && err != context.Canceled {
		return err
	}
	return nil
}

// Start runs the worker in the background for callers that also serve HTTP.
func (w *Worker) Start(ctx context.Context) {
	go func() {
		if err := w.Run(ctx); err != nil {
			w.log.Error("Worker stopped", "error", err)
		}
	}()
}

func (w *Worker) pollLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		batch, err := w.repo.ClaimBatch(dbctx.Context{Ctx: ctx}, w.cfg.WorkerID, w.cfg.BatchSize, w.registry.Types())
		if err != nil {
			w.log.Warn("ClaimBatch failed", "error", err)
			if !w.sleep(ctx, w.cfg.PollInterval) {
				return ctx.Err()
			}
			continue
		}
		if len(batch) == 0 {
			if !w.sleep(ctx, w.idleSleep()) {
				return ctx.Err()
			}
			continue
		}
		for i, job := range batch {
			w.execute(ctx, job)
			// Jobs later in the batch were claimed but have not run yet;
			// refresh their heartbeat so a slow predecessor does not let
			// the sweeper reclaim them mid-queue.
			w.heartbeatPending(ctx, batch[i+1:])
		}
	}
}

func (w *Worker) heartbeatPending(ctx context.Context, jobs []*types.BackgroundJob) {
	for _, job := range jobs {
		if err := w.repo.Heartbeat(dbctx.Context{Ctx: ctx}, job.ID); err != nil {
			w.log.Warn("Heartbeat failed", "job_id", job.ID, "error", err)
		}
	}
}

func (w *Worker) sweepLoop(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := w.repo.SweepStale(dbctx.Context{Ctx: ctx}, w.cfg.StaleProcessing)
			if err != nil {
				w.log.Warn("SweepStale failed", "error", err)
				continue
			}
			if n > 0 {
				// Reclaimed, not failed: the crashed worker's attempt left the
				// job idempotently re-runnable.
				w.log.Info("Reclaimed stale processing jobs", "count", n)
			}
		}
	}
}

func (w *Worker) execute(ctx context.Context, job *types.BackgroundJob) {
	h, ok := w.registry.Get(job.JobType)
	if !ok {
		w.log.Warn("No handler registered for job_type", "job_type", job.JobType, "job_id", job.ID)
		w.fail(ctx, job, fmt.Errorf("no handler registered for job_type=%s", job.JobType), true)
		return
	}

	jc := runtime.NewContext(ctx, w.db, job, w.repo)
	var runErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				w.log.Error("Job handler panic", "job_id", job.ID, "job_type", job.JobType, "panic", r)
				runErr = fmt.Errorf("panic: %v", r)
			}
		}()
		runErr = h.Run(jc)
	}()

	if runErr != nil {
		w.fail(ctx, job, runErr, runtime.IsPermanent(runErr))
		return
	}
	w.complete(ctx, job, jc.Result())
}

func (w *Worker) complete(ctx context.Context, job *types.BackgroundJob, result any) {
	var res datatypes.JSON
	if result != nil {
		if b, err := json.Marshal(result); err == nil {
			res = datatypes.JSON(b)
		}
	}
	if err := w.repo.Complete(dbctx.Context{Ctx: ctx}, job.ID, res); err != nil {
		w.log.Error("Complete failed", "job_id", job.ID, "error", err)
		return
	}
	_ = w.bus.Publish(ctx, realtime.Message{
		Event:   realtime.EventJobCompleted,
		JobID:   job.ID,
		JobType: job.JobType,
		Source:  job.Source,
		Status:  types.JobStatusCompleted,
	})
}

func (w *Worker) fail(ctx context.Context, job *types.BackgroundJob, cause error, permanent bool) {
	status, err := w.repo.Fail(dbctx.Context{Ctx: ctx}, job.ID, cause.Error(), permanent, w.cfg.Retry)
	if err != nil {
		w.log.Error("Fail transition failed", "job_id", job.ID, "error", err)
		return
	}
	event := realtime.EventJobFailed
	if status == types.JobStatusDead {
		event = realtime.EventJobDead
		w.log.Error("Job dead-lettered", "job_id", job.ID, "job_type", job.JobType, "error", cause.Error())
	} else {
		w.log.Warn("Job failed, will retry", "job_id", job.ID, "job_type", job.JobType, "error", cause.Error())
	}
	_ = w.bus.Publish(ctx, realtime.Message{
		Event:   event,
		JobID:   job.ID,
		JobType: job.JobType,
		Source:  job.Source,
		Status:  status,
		Data:    map[string]any{"error": cause.Error()},
	})
}

func (w *Worker) idleSleep() time.Duration {
	d := w.cfg.PollInterval
	if w.cfg.IdleJitter > 0 {
		d += time.Duration(rand.Int63n(int64(w.cfg.IdleJitter)))
	}
	return d
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
