package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
	JobStatusDead       = "dead"
)

const (
	JobTypeProjectionUpdate = "projection.update"

	// Backfill controller job types, one per projection domain.
	JobTypeObjectiveBackfill = "inference.objective_backfill"
	JobTypeStrengthBackfill  = "inference.strength_backfill"
	JobTypeTimelineBackfill  = "inference.timeline_backfill"
	JobTypeRecoveryBackfill  = "inference.recovery_backfill"
)

// BackgroundJob is one unit of deferred work in the shared durable queue.
//
// UserID is nil for controller/global jobs. DedupKey, when set, enforces the
// at-most-one-pending guard: a partial unique index over
// (job_type, dedup_key) restricted to pending rows backs the conditional
// enqueue, so duplicate enqueue attempts resolve to the existing row instead
// of a second one. The guard deliberately excludes processing rows: a job
// that has been claimed has already read its inputs, so work arriving after
// the claim must produce a new pending row or it would be lost. Source
// mirrors payload.source so status aggregation can group without unpacking
// jsonb.
type BackgroundJob struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID       *uuid.UUID     `gorm:"type:uuid;index" json:"user_id,omitempty"`
	JobType      string         `gorm:"column:job_type;not null;index" json:"job_type"`
	DedupKey     string         `gorm:"column:dedup_key;not null;default:'';index" json:"dedup_key,omitempty"`
	Source       string         `gorm:"column:source;not null;default:'';index" json:"source,omitempty"`
	Status       string         `gorm:"column:status;not null;index" json:"status"`
	Priority     int            `gorm:"column:priority;not null;default:100;index" json:"priority"`
	Attempts     int            `gorm:"column:attempts;not null;default:0" json:"attempts"`
	Error        string         `gorm:"column:error" json:"error,omitempty"`
	WorkerID     string         `gorm:"column:worker_id" json:"worker_id,omitempty"`
	ScheduledFor time.Time      `gorm:"column:scheduled_for;not null;index" json:"scheduled_for"`
	ClaimedAt    *time.Time     `gorm:"column:claimed_at" json:"claimed_at,omitempty"`
	HeartbeatAt  *time.Time     `gorm:"column:heartbeat_at;index" json:"heartbeat_at,omitempty"`
	LastErrorAt  *time.Time     `gorm:"column:last_error_at" json:"last_error_at,omitempty"`
	CompletedAt  *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
	Payload      datatypes.JSON `gorm:"type:jsonb;column:payload" json:"payload"`
	Result       datatypes.JSON `gorm:"type:jsonb;column:result" json:"result,omitempty"`
	CreatedAt    time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"not null" json:"updated_at"`
}

func (BackgroundJob) TableName() string { return "background_job" }
