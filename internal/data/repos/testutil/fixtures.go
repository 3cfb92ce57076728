package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/liftline/liftline-backend/internal/domain"
)

func SeedUser(tb testing.TB, ctx context.Context, tx *gorm.DB, email string) *types.User {
	tb.Helper()
	u := &types.User{
		ID:        uuid.New(),
		Email:     email,
		FirstName: "A",
		LastName:  "B",
	}
	if err := tx.WithContext(ctx).Create(u).Error; err != nil {
		tb.Fatalf("seed user: %v", err)
	}
	return u
}

func SeedEvent(tb testing.TB, ctx context.Context, tx *gorm.DB, userID uuid.UUID, eventType string, occurredAt time.Time, data string) *types.Event {
	tb.Helper()
	if data == "" {
		data = "{}"
	}
	e := &types.Event{
		ID:         uuid.New(),
		UserID:     userID,
		EventType:  eventType,
		Data:       datatypes.JSON([]byte(data)),
		OccurredAt: occurredAt,
		Metadata:   datatypes.JSON([]byte(`{}`)),
	}
	if err := tx.WithContext(ctx).Create(e).Error; err != nil {
		tb.Fatalf("seed event: %v", err)
	}
	return e
}

func SeedJob(tb testing.TB, ctx context.Context, tx *gorm.DB, userID *uuid.UUID, jobType string, status string, scheduledFor time.Time) *types.BackgroundJob {
	tb.Helper()
	j := &types.BackgroundJob{
		ID:           uuid.New(),
		UserID:       userID,
		JobType:      jobType,
		Status:       status,
		Priority:     100,
		ScheduledFor: scheduledFor,
		Payload:      datatypes.JSON([]byte(`{}`)),
	}
	if err := tx.WithContext(ctx).Create(j).Error; err != nil {
		tb.Fatalf("seed job: %v", err)
	}
	return j
}

func SeedProjection(tb testing.TB, ctx context.Context, tx *gorm.DB, userID uuid.UUID, projectionType string, key string, basisAt time.Time) *types.Projection {
	tb.Helper()
	p := &types.Projection{
		UserID:         userID,
		ProjectionType: projectionType,
		Key:            key,
		Value:          datatypes.JSON([]byte(`{}`)),
		BasisAt:        basisAt,
	}
	if err := tx.WithContext(ctx).Create(p).Error; err != nil {
		tb.Fatalf("seed projection: %v", err)
	}
	return p
}
