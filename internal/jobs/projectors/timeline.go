package projectors

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	types "github.com/liftline/liftline-backend/internal/domain"
)

// trainingTimeline buckets training activity per ISO week into one row.
type trainingTimeline struct{}

func NewTrainingTimeline() Projector { return &trainingTimeline{} }

func (p *trainingTimeline) Type() string { return types.ProjectionTrainingTimeline }

func (p *trainingTimeline) EventTypes() []string {
	return []string{types.EventSetLogged, types.EventSessionCompleted}
}

func (p *trainingTimeline) Project(userID uuid.UUID, events []*types.Event) ([]*types.Projection, error) {
	type week struct {
		Week     string  `json:"week"`
		Sets     int     `json:"sets"`
		Sessions int     `json:"sessions"`
		VolumeKg float64 `json:"volume_kg"`
	}
	buckets := make(map[string]*week)
	for _, e := range events {
		y, w := e.OccurredAt.UTC().ISOWeek()
		label := fmt.Sprintf("%04d-W%02d", y, w)
		b, ok := buckets[label]
		if !ok {
			b = &week{Week: label}
			buckets[label] = b
		}
		switch e.EventType {
		case types.EventSetLogged:
			data := decodeData(e)
			b.Sets++
			b.VolumeKg += dataFloat(data, "weight_kg") * dataFloat(data, "reps")
		case types.EventSessionCompleted:
			b.Sessions++
		}
	}
	weeks := make([]week, 0, len(buckets))
	for _, b := range buckets {
		weeks = append(weeks, *b)
	}
	sort.Slice(weeks, func(i, j int) bool { return weeks[i].Week < weeks[j].Week })

	row := &types.Projection{
		UserID:         userID,
		ProjectionType: p.Type(),
		Key:            "weekly",
		Value:          mustJSON(map[string]any{"weeks": weeks}),
	}
	return []*types.Projection{row}, nil
}

func (p *trainingTimeline) Default(userID uuid.UUID) *types.Projection {
	return syntheticRow(userID, p.Type())
}
