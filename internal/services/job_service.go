package services

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/liftline/liftline-backend/internal/data/repos"
	types "github.com/liftline/liftline-backend/internal/domain"
	"github.com/liftline/liftline-backend/internal/pkg/dbctx"
	"github.com/liftline/liftline-backend/internal/pkg/logger"
	"github.com/liftline/liftline-backend/internal/realtime"
)

// Fan-out jobs claim before controller jobs so a long backfill queue does not
// starve the per-user updates it produced.
const (
	PriorityProjectionUpdate = 100
	PriorityBackfill         = 200
)

type JobService interface {
	// EnqueueProjectionUpdate schedules a per-user recompute. created is
	// false when a pending job with the same dedup identity already
	// exists; callers must treat that as success. A processing job does
	// not absorb the enqueue: it has already read its event slice, so a
	// fresh pending row is created to cover the new work.
	EnqueueProjectionUpdate(dbc dbctx.Context, userID uuid.UUID, projectionTypes []string, eventTypes []string, source string, synthesize bool) (*types.BackgroundJob, bool, error)
	// EnqueueBackfill schedules a controller job. The source label is the
	// dedup key: re-issuing the same source while a prior run is still
	// queued returns the existing job with created=false.
	EnqueueBackfill(dbc dbctx.Context, jobType string, source string, eventTypes []string, includeAllUsers bool) (*types.BackgroundJob, bool, error)
	GetByID(dbc dbctx.Context, jobID uuid.UUID) (*types.BackgroundJob, error)
	AggregateStatus(dbc dbctx.Context, jobType string, source string) ([]repos.StatusCount, error)
	CountDead(dbc dbctx.Context) (int64, error)
	RequeueDead(dbc dbctx.Context, jobID uuid.UUID) (*types.BackgroundJob, error)
	CancelPending(dbc dbctx.Context, jobID uuid.UUID) (*types.BackgroundJob, error)
}

type jobService struct {
	db   *gorm.DB
	log  *logger.Logger
	repo repos.BackgroundJobRepo
	bus  realtime.Bus
}

func NewJobService(db *gorm.DB, baseLog *logger.Logger, repo repos.BackgroundJobRepo, bus realtime.Bus) JobService {
	if bus == nil {
		bus = realtime.NopBus{}
	}
	return &jobService{
		db:   db,
		log:  baseLog.With("service", "JobService"),
		repo: repo,
		bus:  bus,
	}
}

// ProjectionUpdateDedupKey builds the fan-out dedup identity:
// (user, source, projection set). Projection types are sorted so the same
// logical job always lands on the same key.
func ProjectionUpdateDedupKey(userID uuid.UUID, source string, projectionTypes []string) string {
	sorted := append([]string(nil), projectionTypes...)
	sort.Strings(sorted)
	return fmt.Sprintf("%s|%s|%s", userID, source, strings.Join(sorted, ","))
}

func (s *jobService) EnqueueProjectionUpdate(dbc dbctx.Context, userID uuid.UUID, projectionTypes []string, eventTypes []string, source string, synthesize bool) (*types.BackgroundJob, bool, error) {
	if userID == uuid.Nil {
		return nil, false, fmt.Errorf("missing user_id")
	}
	if source == "" {
		return nil, false, fmt.Errorf("missing source")
	}
	payload := map[string]any{
		"user_id": userID.String(),
		"source":  source,
	}
	if len(projectionTypes) > 0 {
		payload["projection_types"] = projectionTypes
	}
	if len(eventTypes) > 0 {
		payload["event_types"] = eventTypes
	}
	if synthesize {
		payload["synthesize"] = true
	}
	uid := userID
	job := &types.BackgroundJob{
		UserID:   &uid,
		JobType:  types.JobTypeProjectionUpdate,
		DedupKey: ProjectionUpdateDedupKey(userID, source, projectionTypes),
		Source:   source,
		Priority: PriorityProjectionUpdate,
		Payload:  mustPayload(payload),
	}
	return s.enqueue(dbc, job)
}

func (s *jobService) EnqueueBackfill(dbc dbctx.Context, jobType string, source string, eventTypes []string, includeAllUsers bool) (*types.BackgroundJob, bool, error) {
	if !strings.HasPrefix(jobType, "inference.") || !strings.HasSuffix(jobType, "_backfill") {
		return nil, false, fmt.Errorf("not a backfill job type: %s", jobType)
	}
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, false, fmt.Errorf("missing source")
	}
	payload := map[string]any{
		"source": source,
	}
	if len(eventTypes) > 0 {
		payload["event_types"] = eventTypes
	}
	if includeAllUsers {
		payload["include_all_users"] = true
	}
	job := &types.BackgroundJob{
		JobType:  jobType,
		DedupKey: source,
		Source:   source,
		Priority: PriorityBackfill,
		Payload:  mustPayload(payload),
	}
	return s.enqueue(dbc, job)
}

func (s *jobService) enqueue(dbc dbctx.Context, job *types.BackgroundJob) (*types.BackgroundJob, bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = s.db
	}
	out, created, err := s.repo.Enqueue(dbctx.Context{Ctx: dbc.Ctx, Tx: transaction}, job)
	if err != nil {
		return nil, false, fmt.Errorf("enqueue %s: %w", job.JobType, err)
	}
	if created {
		_ = s.bus.Publish(dbc.Ctx, realtime.Message{
			Event:   realtime.EventJobEnqueued,
			JobID:   out.ID,
			JobType: out.JobType,
			Source:  out.Source,
			Status:  out.Status,
		})
	}
	return out, created, nil
}

func (s *jobService) GetByID(dbc dbctx.Context, jobID uuid.UUID) (*types.BackgroundJob, error) {
	if jobID == uuid.Nil {
		return nil, fmt.Errorf("missing job id")
	}
	rows, err := s.repo.GetByIDs(dbc, []uuid.UUID{jobID})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 || rows[0] == nil {
		return nil, fmt.Errorf("job not found")
	}
	return rows[0], nil
}

func (s *jobService) AggregateStatus(dbc dbctx.Context, jobType string, source string) ([]repos.StatusCount, error) {
	return s.repo.CountByTypeStatusSource(dbc, jobType, source)
}

func (s *jobService) CountDead(dbc dbctx.Context) (int64, error) {
	return s.repo.CountDead(dbc)
}

func (s *jobService) RequeueDead(dbc dbctx.Context, jobID uuid.UUID) (*types.BackgroundJob, error) {
	job, err := s.repo.RequeueDead(dbc, jobID)
	if err != nil {
		return nil, err
	}
	s.log.Info("Dead job requeued", "job_id", jobID, "job_type", job.JobType)
	return job, nil
}

func (s *jobService) CancelPending(dbc dbctx.Context, jobID uuid.UUID) (*types.BackgroundJob, error) {
	job, err := s.repo.CancelPending(dbc, jobID)
	if err != nil {
		return nil, err
	}
	s.log.Info("Pending job canceled", "job_id", jobID, "job_type", job.JobType)
	return job, nil
}

func mustPayload(m map[string]any) datatypes.JSON {
	b, err := json.Marshal(m)
	if err != nil {
		return datatypes.JSON([]byte(`{}`))
	}
	return datatypes.JSON(b)
}
