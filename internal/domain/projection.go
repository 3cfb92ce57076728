package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	ProjectionObjectiveState   = "objective_state"
	ProjectionStrengthEstimate = "strength_estimate"
	ProjectionTrainingTimeline = "training_timeline"
	ProjectionRecoverySummary  = "recovery_summary"
)

// Projection is a materialized read model row keyed by its natural key
// (user_id, projection_type, key). BasisAt is the newest event time that fed
// the stored value; the upsert path refuses to replace a row with a
// computation whose basis is older, which is what makes redelivery and
// out-of-order job execution safe. A zero BasisAt marks a synthetic default
// row written for users with no qualifying events.
type Projection struct {
	UserID         uuid.UUID      `gorm:"type:uuid;primaryKey" json:"user_id"`
	ProjectionType string         `gorm:"column:projection_type;primaryKey" json:"projection_type"`
	Key            string         `gorm:"column:key;primaryKey" json:"key"`
	Value          datatypes.JSON `gorm:"type:jsonb;column:value" json:"value"`
	Source         string         `gorm:"column:source;not null;default:''" json:"source,omitempty"`
	BasisAt        time.Time      `gorm:"column:basis_at;not null" json:"basis_at"`
	CreatedAt      time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null;index" json:"updated_at"`
}

func (Projection) TableName() string { return "projection" }

// Synthetic reports whether the row is a source-tagged default written
// without any qualifying events as input.
func (p *Projection) Synthetic() bool {
	return p.BasisAt.IsZero() || p.BasisAt.Unix() == 0
}
