package projectors

import (
	"time"

	"github.com/google/uuid"

	types "github.com/liftline/liftline-backend/internal/domain"
)

// strengthEstimate materializes, per exercise, the best single-set strength
// estimate seen so far (Epley: weight * (1 + reps/30)).
type strengthEstimate struct{}

func NewStrengthEstimate() Projector { return &strengthEstimate{} }

func (p *strengthEstimate) Type() string { return types.ProjectionStrengthEstimate }

func (p *strengthEstimate) EventTypes() []string {
	return []string{types.EventSetLogged}
}

func (p *strengthEstimate) Project(userID uuid.UUID, events []*types.Event) ([]*types.Projection, error) {
	type bestSet struct {
		WeightKg   float64   `json:"weight_kg"`
		Reps       float64   `json:"reps"`
		OccurredAt time.Time `json:"occurred_at"`
	}
	type estimate struct {
		Exercise       string  `json:"exercise"`
		Estimated1RMKg float64 `json:"estimated_1rm_kg"`
		BestSet        bestSet `json:"best_set"`
		SampleSize     int     `json:"sample_size"`
	}
	best := make(map[string]estimate)
	order := make([]string, 0)
	for _, e := range events {
		data := decodeData(e)
		exercise := dataString(data, "exercise")
		weight := dataFloat(data, "weight_kg")
		reps := dataFloat(data, "reps")
		if exercise == "" || weight <= 0 || reps <= 0 {
			continue
		}
		e1rm := weight * (1 + reps/30)
		cur, seen := best[exercise]
		if !seen {
			order = append(order, exercise)
		}
		cur.Exercise = exercise
		cur.SampleSize++
		if !seen || e1rm > cur.Estimated1RMKg {
			cur.Estimated1RMKg = e1rm
			cur.BestSet = bestSet{WeightKg: weight, Reps: reps, OccurredAt: e.OccurredAt.UTC()}
		}
		best[exercise] = cur
	}
	out := make([]*types.Projection, 0, len(best))
	for _, exercise := range order {
		out = append(out, &types.Projection{
			UserID:         userID,
			ProjectionType: p.Type(),
			Key:            exercise,
			Value:          mustJSON(best[exercise]),
		})
	}
	return out, nil
}

func (p *strengthEstimate) Default(userID uuid.UUID) *types.Projection {
	return syntheticRow(userID, p.Type())
}
