package projectors

import (
	"time"

	"github.com/google/uuid"

	types "github.com/liftline/liftline-backend/internal/domain"
)

// recoverySummary summarizes the week leading up to the user's newest
// qualifying event. The window anchors on event time, not wall clock, so
// re-running the job over the same events yields the same row.
type recoverySummary struct{}

func NewRecoverySummary() Projector { return &recoverySummary{} }

func (p *recoverySummary) Type() string { return types.ProjectionRecoverySummary }

func (p *recoverySummary) EventTypes() []string {
	return []string{types.EventSessionCompleted, types.EventSorenessReported}
}

func (p *recoverySummary) Project(userID uuid.UUID, events []*types.Event) ([]*types.Projection, error) {
	var anchor time.Time
	for _, e := range events {
		if e.OccurredAt.After(anchor) {
			anchor = e.OccurredAt
		}
	}
	windowStart := anchor.Add(-7 * 24 * time.Hour)

	var (
		lastSessionAt   *time.Time
		sessions7d      int
		sorenessReports int
		sorenessSum     float64
	)
	for _, e := range events {
		switch e.EventType {
		case types.EventSessionCompleted:
			at := e.OccurredAt.UTC()
			if lastSessionAt == nil || at.After(*lastSessionAt) {
				lastSessionAt = &at
			}
			if !e.OccurredAt.Before(windowStart) {
				sessions7d++
			}
		case types.EventSorenessReported:
			if !e.OccurredAt.Before(windowStart) {
				sorenessReports++
				sorenessSum += dataFloat(decodeData(e), "severity")
			}
		}
	}
	var avgSoreness float64
	if sorenessReports > 0 {
		avgSoreness = sorenessSum / float64(sorenessReports)
	}

	row := &types.Projection{
		UserID:         userID,
		ProjectionType: p.Type(),
		Key:            "rolling",
		Value: mustJSON(map[string]any{
			"last_session_at":          lastSessionAt,
			"sessions_last_7d":         sessions7d,
			"soreness_reports_last_7d": sorenessReports,
			"avg_soreness_last_7d":     avgSoreness,
		}),
	}
	return []*types.Projection{row}, nil
}

func (p *recoverySummary) Default(userID uuid.UUID) *types.Projection {
	return syntheticRow(userID, p.Type())
}
