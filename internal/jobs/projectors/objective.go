package projectors

import (
	"time"

	"github.com/google/uuid"

	types "github.com/liftline/liftline-backend/internal/domain"
)

// objectiveState keeps, per exercise, the most recently set objective.
type objectiveState struct{}

func NewObjectiveState() Projector { return &objectiveState{} }

func (p *objectiveState) Type() string { return types.ProjectionObjectiveState }

func (p *objectiveState) EventTypes() []string {
	return []string{types.EventObjectiveSet}
}

func (p *objectiveState) Project(userID uuid.UUID, events []*types.Event) ([]*types.Projection, error) {
	type objective struct {
		Exercise       string    `json:"exercise"`
		TargetWeightKg float64   `json:"target_weight_kg"`
		TargetDate     string    `json:"target_date,omitempty"`
		SetAt          time.Time `json:"set_at"`
	}
	// Events arrive sorted by occurred_at, so the last write per exercise wins.
	latest := make(map[string]objective)
	order := make([]string, 0)
	for _, e := range events {
		data := decodeData(e)
		exercise := dataString(data, "exercise")
		if exercise == "" {
			continue
		}
		if _, seen := latest[exercise]; !seen {
			order = append(order, exercise)
		}
		latest[exercise] = objective{
			Exercise:       exercise,
			TargetWeightKg: dataFloat(data, "target_weight_kg"),
			TargetDate:     dataString(data, "target_date"),
			SetAt:          e.OccurredAt.UTC(),
		}
	}
	out := make([]*types.Projection, 0, len(latest))
	for _, exercise := range order {
		out = append(out, &types.Projection{
			UserID:         userID,
			ProjectionType: p.Type(),
			Key:            exercise,
			Value:          mustJSON(latest[exercise]),
		})
	}
	return out, nil
}

func (p *objectiveState) Default(userID uuid.UUID) *types.Projection {
	return syntheticRow(userID, p.Type())
}
