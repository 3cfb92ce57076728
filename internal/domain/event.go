package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Event types the projection handlers currently consume. The column itself is
// an open string: unknown types are stored and ignored until a projector
// claims them.
const (
	EventSetLogged        = "set.logged"
	EventObjectiveSet     = "objective.set"
	EventSessionCompleted = "session.completed"
	EventSorenessReported = "soreness.reported"
)

// Event is an immutable fact about a user. Rows are append-only; nothing in
// the write or projection path ever updates or deletes one. OccurredAt is
// event time and carries no ordering guarantee relative to ingestion order.
type Event struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID     uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	User       *User          `gorm:"constraint:OnDelete:CASCADE;foreignKey:UserID;references:ID" json:"user,omitempty"`
	EventType  string         `gorm:"column:event_type;not null;index" json:"event_type"`
	Data       datatypes.JSON `gorm:"type:jsonb;column:data" json:"data"`
	OccurredAt time.Time      `gorm:"column:occurred_at;not null;index" json:"occurred_at"`
	Metadata   datatypes.JSON `gorm:"type:jsonb;column:metadata" json:"metadata,omitempty"`
	CreatedAt  time.Time      `gorm:"not null;index" json:"created_at"`
}

func (Event) TableName() string { return "event" }
