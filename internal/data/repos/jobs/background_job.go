package jobs

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/liftline/liftline-backend/internal/domain"
	"github.com/liftline/liftline-backend/internal/pkg/dbctx"
	"github.com/liftline/liftline-backend/internal/pkg/logger"
)

// RetryPolicy tunes the failure path. Backoff is exponential:
// base * 2^(attempts-1), capped at MaxBackoff.
type RetryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// BackoffFor returns the delay applied before attempt number `attempts`
// (1-based, i.e. the value after the failing attempt was counted).
func (p RetryPolicy) BackoffFor(attempts int) time.Duration {
	if p.BaseBackoff <= 0 {
		return 0
	}
	d := p.BaseBackoff
	for i := 1; i < attempts; i++ {
		d *= 2
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

type StatusCount struct {
	JobType string `json:"job_type"`
	Status  string `json:"status"`
	Source  string `json:"source"`
	Count   int64  `json:"count"`
}

type BackgroundJobRepo interface {
	// Enqueue inserts the job unless a pending row with the same
	// (job_type, dedup_key) exists, in which case the existing row is
	// returned and created is false. Duplicate enqueue is not an error.
	// Processing rows do not block a new enqueue: a claimed job has
	// already read its inputs, so later work needs its own pending row.
	Enqueue(dbc dbctx.Context, job *types.BackgroundJob) (out *types.BackgroundJob, created bool, err error)
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.BackgroundJob, error)
	FindPending(dbc dbctx.Context, jobType string, dedupKey string) (*types.BackgroundJob, error)
	// ClaimBatch atomically moves up to batchSize due pending rows to
	// processing under SKIP LOCKED, ordered by (priority ASC, scheduled_for ASC).
	ClaimBatch(dbc dbctx.Context, workerID string, batchSize int, jobTypes []string) ([]*types.BackgroundJob, error)
	Complete(dbc dbctx.Context, id uuid.UUID, result datatypes.JSON) error
	// Fail records the error and either reschedules the job with backoff or,
	// once the retry budget is spent (or the failure is permanent), moves it
	// to dead. Returns the resulting status.
	Fail(dbc dbctx.Context, id uuid.UUID, reason string, permanent bool, policy RetryPolicy) (string, error)
	Heartbeat(dbc dbctx.Context, id uuid.UUID) error
	// SweepStale resets processing rows whose heartbeat is older than
	// staleAfter back to pending. Safe only because handlers are idempotent.
	SweepStale(dbc dbctx.Context, staleAfter time.Duration) (int64, error)
	CountByTypeStatusSource(dbc dbctx.Context, jobType string, source string) ([]StatusCount, error)
	CountDead(dbc dbctx.Context) (int64, error)
	RequeueDead(dbc dbctx.Context, id uuid.UUID) (*types.BackgroundJob, error)
	CancelPending(dbc dbctx.Context, id uuid.UUID) (*types.BackgroundJob, error)
}

type backgroundJobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewBackgroundJobRepo(db *gorm.DB, baseLog *logger.Logger) BackgroundJobRepo {
	return &backgroundJobRepo{
		db:  db,
		log: baseLog.With("repo", "BackgroundJobRepo"),
	}
}

func (r *backgroundJobRepo) Enqueue(dbc dbctx.Context, job *types.BackgroundJob) (*types.BackgroundJob, bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if job == nil {
		return nil, false, fmt.Errorf("nil job")
	}
	if job.JobType == "" {
		return nil, false, fmt.Errorf("missing job_type")
	}
	now := time.Now().UTC()
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = types.JobStatusPending
	}
	if job.ScheduledFor.IsZero() {
		job.ScheduledFor = now
	}
	if len(job.Payload) == 0 {
		job.Payload = datatypes.JSON([]byte(`{}`))
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = now
	}

	if job.DedupKey != "" {
		existing, err := r.FindPending(dbctx.Context{Ctx: dbc.Ctx, Tx: transaction}, job.JobType, job.DedupKey)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			return existing, false, nil
		}
	}

	if err := transaction.WithContext(dbc.Ctx).Create(job).Error; err != nil {
		// The check above races with concurrent enqueuers; the partial unique
		// index is authoritative. Resolve the loser to the winning row.
		if job.DedupKey != "" && isUniqueViolation(err) {
			existing, ferr := r.FindPending(dbctx.Context{Ctx: dbc.Ctx, Tx: transaction}, job.JobType, job.DedupKey)
			if ferr == nil && existing != nil {
				return existing, false, nil
			}
		}
		return nil, false, err
	}
	return job, true, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func (r *backgroundJobRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.BackgroundJob, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.BackgroundJob
	if len(ids) == 0 {
		return out, nil
	}
	if err := transaction.WithContext(dbc.Ctx).
		Where("id IN ?", ids).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *backgroundJobRepo) FindPending(dbc dbctx.Context, jobType string, dedupKey string) (*types.BackgroundJob, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if jobType == "" || dedupKey == "" {
		return nil, nil
	}
	var job types.BackgroundJob
	err := transaction.WithContext(dbc.Ctx).
		Where("job_type = ? AND dedup_key = ? AND status = ?", jobType, dedupKey, types.JobStatusPending).
		Limit(1).
		Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	return &job, nil
}

func (r *backgroundJobRepo) ClaimBatch(dbc dbctx.Context, workerID string, batchSize int, jobTypes []string) ([]*types.BackgroundJob, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if batchSize <= 0 {
		batchSize = 1
	}
	now := time.Now().UTC()
	var claimed []*types.BackgroundJob
	err := transaction.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		var rows []*types.BackgroundJob
		q := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND scheduled_for <= ?", types.JobStatusPending, now)
		if len(jobTypes) > 0 {
			q = q.Where("job_type IN ?", jobTypes)
		}
		if err := q.Order("priority ASC, scheduled_for ASC").
			Limit(batchSize).
			Find(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		ids := make([]uuid.UUID, 0, len(rows))
		for _, row := range rows {
			ids = append(ids, row.ID)
		}
		if err := txx.Model(&types.BackgroundJob{}).
			Where("id IN ? AND status = ?", ids, types.JobStatusPending).
			Updates(map[string]interface{}{
				"status":       types.JobStatusProcessing,
				"worker_id":    workerID,
				"claimed_at":   now,
				"heartbeat_at": now,
				"updated_at":   now,
			}).Error; err != nil {
			return err
		}
		for _, row := range rows {
			row.Status = types.JobStatusProcessing
			row.WorkerID = workerID
			row.ClaimedAt = &now
			row.HeartbeatAt = &now
			row.UpdatedAt = now
		}
		claimed = rows
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *backgroundJobRepo) Complete(dbc dbctx.Context, id uuid.UUID, result datatypes.JSON) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"status":       types.JobStatusCompleted,
		"error":        "",
		"completed_at": now,
		"updated_at":   now,
	}
	if result != nil {
		updates["result"] = result
	}
	// Conditional on processing so a worker that lost the row to the sweeper
	// cannot overwrite a later execution's outcome.
	return transaction.WithContext(dbc.Ctx).
		Model(&types.BackgroundJob{}).
		Where("id = ? AND status = ?", id, types.JobStatusProcessing).
		Updates(updates).Error
}

func (r *backgroundJobRepo) Fail(dbc dbctx.Context, id uuid.UUID, reason string, permanent bool, policy RetryPolicy) (string, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return "", fmt.Errorf("missing job id")
	}
	now := time.Now().UTC()
	var status string
	err := transaction.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		var job types.BackgroundJob
		qErr := txx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND status = ?", id, types.JobStatusProcessing).
			First(&job).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			// Already swept or terminally resolved elsewhere.
			return nil
		}
		if qErr != nil {
			return qErr
		}
		attempts := job.Attempts + 1
		updates := map[string]interface{}{
			"attempts":      attempts,
			"error":         reason,
			"last_error_at": now,
			"worker_id":     "",
			"claimed_at":    nil,
			"heartbeat_at":  nil,
			"updated_at":    now,
		}
		if permanent || attempts >= policy.MaxAttempts {
			status = types.JobStatusDead
			updates["status"] = types.JobStatusDead
		} else {
			status = types.JobStatusPending
			updates["status"] = types.JobStatusPending
			updates["scheduled_for"] = now.Add(policy.BackoffFor(attempts))
		}
		return txx.Model(&types.BackgroundJob{}).
			Where("id = ?", id).
			Updates(updates).Error
	})
	if err != nil {
		return "", err
	}
	return status, nil
}

func (r *backgroundJobRepo) Heartbeat(dbc dbctx.Context, id uuid.UUID) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	now := time.Now().UTC()
	return transaction.WithContext(dbc.Ctx).
		Model(&types.BackgroundJob{}).
		Where("id = ? AND status = ?", id, types.JobStatusProcessing).
		Updates(map[string]interface{}{
			"heartbeat_at": now,
			"updated_at":   now,
		}).Error
}

func (r *backgroundJobRepo) SweepStale(dbc dbctx.Context, staleAfter time.Duration) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now().UTC()
	cutoff := now.Add(-staleAfter)
	res := transaction.WithContext(dbc.Ctx).
		Model(&types.BackgroundJob{}).
		Where("status = ? AND heartbeat_at IS NOT NULL AND heartbeat_at < ?", types.JobStatusProcessing, cutoff).
		Updates(map[string]interface{}{
			"status":       types.JobStatusPending,
			"worker_id":    "",
			"claimed_at":   nil,
			"heartbeat_at": nil,
			"updated_at":   now,
		})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *backgroundJobRepo) CountByTypeStatusSource(dbc dbctx.Context, jobType string, source string) ([]StatusCount, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []StatusCount
	q := transaction.WithContext(dbc.Ctx).
		Model(&types.BackgroundJob{}).
		Select("job_type, status, source, COUNT(*) AS count").
		Group("job_type").Group("status").Group("source")
	if jobType != "" {
		q = q.Where("job_type = ?", jobType)
	}
	if source != "" {
		q = q.Where("source = ?", source)
	}
	if err := q.Order("job_type ASC, status ASC, source ASC").Scan(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *backgroundJobRepo) CountDead(dbc dbctx.Context) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var n int64
	if err := transaction.WithContext(dbc.Ctx).
		Model(&types.BackgroundJob{}).
		Where("status = ?", types.JobStatusDead).
		Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

func (r *backgroundJobRepo) RequeueDead(dbc dbctx.Context, id uuid.UUID) (*types.BackgroundJob, error) {
	return r.adminTransition(dbc, id, types.JobStatusDead, map[string]interface{}{
		"status":        types.JobStatusPending,
		"attempts":      0,
		"error":         "",
		"last_error_at": nil,
		"scheduled_for": time.Now().UTC(),
	})
}

func (r *backgroundJobRepo) CancelPending(dbc dbctx.Context, id uuid.UUID) (*types.BackgroundJob, error) {
	return r.adminTransition(dbc, id, types.JobStatusPending, map[string]interface{}{
		"status": types.JobStatusDead,
		"error":  "canceled by operator",
	})
}

func (r *backgroundJobRepo) adminTransition(dbc dbctx.Context, id uuid.UUID, fromStatus string, updates map[string]interface{}) (*types.BackgroundJob, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, fmt.Errorf("missing job id")
	}
	updates["updated_at"] = time.Now().UTC()
	res := transaction.WithContext(dbc.Ctx).
		Model(&types.BackgroundJob{}).
		Where("id = ? AND status = ?", id, fromStatus).
		Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("job not in %s state", fromStatus)
	}
	rows, err := r.GetByIDs(dbctx.Context{Ctx: dbc.Ctx, Tx: transaction}, []uuid.UUID{id})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("job not found")
	}
	return rows[0], nil
}
