package projectors

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	types "github.com/liftline/liftline-backend/internal/domain"
)

// Projector derives one projection type from a user's event slice. Project
// must be deterministic in its inputs: the worker may execute the same job
// more than once and the resulting rows have to be identical.
type Projector interface {
	Type() string
	// EventTypes is the signal set: the event types whose presence makes a
	// user relevant to this projection.
	EventTypes() []string
	// Project receives the user's qualifying events sorted by
	// (occurred_at, created_at) and returns the full set of rows for this
	// projection type. BasisAt and Source are stamped by the caller.
	Project(userID uuid.UUID, events []*types.Event) ([]*types.Projection, error)
	// Default returns the source-tagged synthetic row written for users with
	// no qualifying events when a backfill runs with include_all_users.
	Default(userID uuid.UUID) *types.Projection
}

// Registry resolves projectors by type and by signal set. Built once at boot.
type Registry struct {
	ordered []Projector
	byType  map[string]Projector
}

func NewRegistry(projectors ...Projector) *Registry {
	r := &Registry{byType: make(map[string]Projector, len(projectors))}
	for _, p := range projectors {
		if p == nil {
			continue
		}
		if _, exists := r.byType[p.Type()]; exists {
			continue
		}
		r.ordered = append(r.ordered, p)
		r.byType[p.Type()] = p
	}
	return r
}

// Default wires the four shipped projection domains.
func Default() *Registry {
	return NewRegistry(
		NewObjectiveState(),
		NewStrengthEstimate(),
		NewTrainingTimeline(),
		NewRecoverySummary(),
	)
}

func (r *Registry) All() []Projector {
	return r.ordered
}

func (r *Registry) Get(projectionType string) (Projector, bool) {
	p, ok := r.byType[projectionType]
	return p, ok
}

// ForEventTypes returns every projector whose signal set intersects the
// given event types. The write path uses this to decide which projections an
// incoming event invalidates.
func (r *Registry) ForEventTypes(eventTypes []string) []Projector {
	if len(eventTypes) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(eventTypes))
	for _, et := range eventTypes {
		seen[et] = true
	}
	var out []Projector
	for _, p := range r.ordered {
		for _, et := range p.EventTypes() {
			if seen[et] {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.ordered))
	for _, p := range r.ordered {
		out = append(out, p.Type())
	}
	return out
}

// syntheticBasis marks default rows. The zero epoch sorts below any real
// event basis, so the first genuine computation always wins the upsert.
var syntheticBasis = time.Unix(0, 0).UTC()

func syntheticRow(userID uuid.UUID, projectionType string) *types.Projection {
	value, _ := json.Marshal(map[string]any{"synthetic": true})
	return &types.Projection{
		UserID:         userID,
		ProjectionType: projectionType,
		Key:            "default",
		Value:          datatypes.JSON(value),
		BasisAt:        syntheticBasis,
	}
}

func decodeData(e *types.Event) map[string]any {
	if e == nil || len(e.Data) == 0 {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(e.Data, &m); err != nil {
		return map[string]any{}
	}
	return m
}

func dataString(m map[string]any, key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

func dataFloat(m map[string]any, key string) float64 {
	v, ok := m[key]
	if !ok || v == nil {
		return 0
	}
	f, ok := v.(float64)
	if !ok {
		return 0
	}
	return f
}

func mustJSON(v any) datatypes.JSON {
	b, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON([]byte(`{}`))
	}
	return datatypes.JSON(b)
}
