package monitor

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/liftline/liftline-backend/internal/pkg/dbctx"
	"github.com/liftline/liftline-backend/internal/pkg/logger"
)

// FreshnessRow compares, for one user, the newest qualifying event against
// the newest qualifying projection write. Either side can be nil: no signal
// events yet, or no projection computed yet.
type FreshnessRow struct {
	UserID             uuid.UUID  `json:"user_id"`
	LatestSignalAt     *time.Time `json:"latest_signal_at"`
	LatestProjectionAt *time.Time `json:"latest_projection_at"`
}

type FreshnessSummary struct {
	UsersTotal             int64    `json:"users_total"`
	UsersWithSignal        int64    `json:"users_with_signal"`
	UsersWithoutProjection int64    `json:"users_without_projection"`
	MaxLagSeconds          *float64 `json:"max_lag_seconds"`
	AvgLagSeconds          *float64 `json:"avg_lag_seconds"`
}

// MonitorRepo is the read-only lag reporting surface. It never mutates.
type MonitorRepo interface {
	Freshness(dbc dbctx.Context, eventTypes []string, projectionTypes []string) ([]FreshnessRow, error)
	Summary(dbc dbctx.Context, eventTypes []string, projectionTypes []string) (*FreshnessSummary, error)
}

type monitorRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMonitorRepo(db *gorm.DB, baseLog *logger.Logger) MonitorRepo {
	return &monitorRepo{
		db:  db,
		log: baseLog.With("repo", "MonitorRepo"),
	}
}

const freshnessSQL = `
SELECT u.id AS user_id,
       s.latest_signal_at,
       p.latest_projection_at
FROM "user" u
LEFT JOIN (
    SELECT user_id, MAX(occurred_at) AS latest_signal_at
    FROM event
    WHERE event_type IN ?
    GROUP BY user_id
) s ON s.user_id = u.id
LEFT JOIN (
    SELECT user_id, MAX(updated_at) AS latest_projection_at
    FROM projection
    WHERE projection_type IN ?
    GROUP BY user_id
) p ON p.user_id = u.id
ORDER BY u.created_at ASC
`

func (r *monitorRepo) Freshness(dbc dbctx.Context, eventTypes []string, projectionTypes []string) ([]FreshnessRow, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(eventTypes) == 0 || len(projectionTypes) == 0 {
		return nil, nil
	}
	var out []FreshnessRow
	if err := transaction.WithContext(dbc.Ctx).
		Raw(freshnessSQL, eventTypes, projectionTypes).
		Scan(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

const summarySQL = `
SELECT COUNT(*) AS users_total,
       COUNT(s.latest_signal_at) AS users_with_signal,
       COUNT(*) FILTER (
           WHERE s.latest_signal_at IS NOT NULL AND p.latest_projection_at IS NULL
       ) AS users_without_projection,
       MAX(EXTRACT(EPOCH FROM (s.latest_signal_at - p.latest_projection_at))) FILTER (
           WHERE p.latest_projection_at IS NOT NULL AND s.latest_signal_at > p.latest_projection_at
       ) AS max_lag_seconds,
       AVG(EXTRACT(EPOCH FROM (s.latest_signal_at - p.latest_projection_at))) FILTER (
           WHERE p.latest_projection_at IS NOT NULL AND s.latest_signal_at > p.latest_projection_at
       ) AS avg_lag_seconds
FROM "user" u
LEFT JOIN (
    SELECT user_id, MAX(occurred_at) AS latest_signal_at
    FROM event
    WHERE event_type IN ?
    GROUP BY user_id
) s ON s.user_id = u.id
LEFT JOIN (
    SELECT user_id, MAX(updated_at) AS latest_projection_at
    FROM projection
    WHERE projection_type IN ?
    GROUP BY user_id
) p ON p.user_id = u.id
`

func (r *monitorRepo) Summary(dbc dbctx.Context, eventTypes []string, projectionTypes []string) (*FreshnessSummary, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(eventTypes) == 0 || len(projectionTypes) == 0 {
		return &FreshnessSummary{}, nil
	}
	var out FreshnessSummary
	if err := transaction.WithContext(dbc.Ctx).
		Raw(summarySQL, eventTypes, projectionTypes).
		Scan(&out).Error; err != nil {
		return nil, err
	}
	return &out, nil
}
