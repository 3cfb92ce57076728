package events

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/liftline/liftline-backend/internal/domain"
	"github.com/liftline/liftline-backend/internal/pkg/dbctx"
	"github.com/liftline/liftline-backend/internal/pkg/logger"
)

type EventRepo interface {
	Append(dbc dbctx.Context, events []*types.Event) ([]*types.Event, error)
	ListByUserAndTypes(dbc dbctx.Context, userID uuid.UUID, eventTypes []string) ([]*types.Event, error)
	// DistinctUserIDs returns every user with at least one event whose type is
	// in eventTypes. This is the backfill controller's default target-set query.
	DistinctUserIDs(dbc dbctx.Context, eventTypes []string) ([]uuid.UUID, error)
	LatestOccurredAt(dbc dbctx.Context, userID uuid.UUID, eventTypes []string) (*time.Time, error)
}

type eventRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewEventRepo(db *gorm.DB, baseLog *logger.Logger) EventRepo {
	return &eventRepo{
		db:  db,
		log: baseLog.With("repo", "EventRepo"),
	}
}

func (r *eventRepo) Append(dbc dbctx.Context, evts []*types.Event) ([]*types.Event, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(evts) == 0 {
		return []*types.Event{}, nil
	}
	for _, e := range evts {
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
	}
	if err := transaction.WithContext(dbc.Ctx).Create(&evts).Error; err != nil {
		return nil, err
	}
	return evts, nil
}

func (r *eventRepo) ListByUserAndTypes(dbc dbctx.Context, userID uuid.UUID, eventTypes []string) ([]*types.Event, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Event
	if userID == uuid.Nil {
		return out, nil
	}
	q := transaction.WithContext(dbc.Ctx).Where("user_id = ?", userID)
	if len(eventTypes) > 0 {
		q = q.Where("event_type IN ?", eventTypes)
	}
	// occurred_at is caller-supplied and not monotonic; created_at breaks ties
	// so handlers see a stable order across re-runs.
	if err := q.Order("occurred_at ASC, created_at ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *eventRepo) DistinctUserIDs(dbc dbctx.Context, eventTypes []string) ([]uuid.UUID, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var ids []uuid.UUID
	q := transaction.WithContext(dbc.Ctx).Model(&types.Event{}).Distinct("user_id")
	if len(eventTypes) > 0 {
		q = q.Where("event_type IN ?", eventTypes)
	}
	if err := q.Pluck("user_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *eventRepo) LatestOccurredAt(dbc dbctx.Context, userID uuid.UUID, eventTypes []string) (*time.Time, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if userID == uuid.Nil {
		return nil, nil
	}
	var latest *time.Time
	q := transaction.WithContext(dbc.Ctx).Model(&types.Event{}).Where("user_id = ?", userID)
	if len(eventTypes) > 0 {
		q = q.Where("event_type IN ?", eventTypes)
	}
	if err := q.Select("MAX(occurred_at)").Scan(&latest).Error; err != nil {
		return nil, err
	}
	return latest, nil
}
