package services

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/liftline/liftline-backend/internal/data/repos"
	types "github.com/liftline/liftline-backend/internal/domain"
	"github.com/liftline/liftline-backend/internal/jobs/projectors"
	"github.com/liftline/liftline-backend/internal/pkg/dbctx"
	"github.com/liftline/liftline-backend/internal/pkg/logger"
)

// SourceLive labels projection updates triggered by the normal write path,
// as opposed to operator backfill runs.
const SourceLive = "live"

type AppendEventInput struct {
	UserID    uuid.UUID
	EventType string
	Data      map[string]any
	// OccurredAt is caller-supplied event time; zero means "stamp with server
	// time now".
	OccurredAt time.Time
	Metadata   map[string]any
}

type EventService interface {
	// Append writes the immutable event and enqueues deduplicated
	// projection.update jobs for every projection the event type invalidates,
	// in one transaction.
	Append(dbc dbctx.Context, input AppendEventInput) (*types.Event, error)
}

type eventService struct {
	db         *gorm.DB
	log        *logger.Logger
	events     repos.EventRepo
	jobs       JobService
	projectors *projectors.Registry
}

func NewEventService(db *gorm.DB, baseLog *logger.Logger, events repos.EventRepo, jobs JobService, registry *projectors.Registry) EventService {
	return &eventService{
		db:         db,
		log:        baseLog.With("service", "EventService"),
		events:     events,
		jobs:       jobs,
		projectors: registry,
	}
}

func (s *eventService) Append(dbc dbctx.Context, input AppendEventInput) (*types.Event, error) {
	if input.UserID == uuid.Nil {
		return nil, fmt.Errorf("missing user_id")
	}
	if input.EventType == "" {
		return nil, fmt.Errorf("missing event_type")
	}
	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	event := &types.Event{
		ID:         uuid.New(),
		UserID:     input.UserID,
		EventType:  input.EventType,
		Data:       marshalOrEmpty(input.Data),
		OccurredAt: occurredAt,
		Metadata:   marshalOrEmpty(input.Metadata),
	}

	transaction := dbc.Tx
	if transaction == nil {
		transaction = s.db
	}
	err := transaction.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		inner := dbctx.Context{Ctx: dbc.Ctx, Tx: txx}
		if _, err := s.events.Append(inner, []*types.Event{event}); err != nil {
			return fmt.Errorf("append event: %w", err)
		}
		// One fan-out job per invalidated projection type. Dedup collapses
		// bursts: if a live update for this (user, projection) is already
		// pending it will read this event too.
		for _, p := range s.projectors.ForEventTypes([]string{input.EventType}) {
			_, _, err := s.jobs.EnqueueProjectionUpdate(inner, input.UserID, []string{p.Type()}, p.EventTypes(), SourceLive, false)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return event, nil
}

func marshalOrEmpty(m map[string]any) datatypes.JSON {
	if len(m) == 0 {
		return datatypes.JSON([]byte(`{}`))
	}
	b, err := json.Marshal(m)
	if err != nil {
		return datatypes.JSON([]byte(`{}`))
	}
	return datatypes.JSON(b)
}
