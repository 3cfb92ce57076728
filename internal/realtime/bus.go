package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/liftline/liftline-backend/internal/pkg/envutil"
	"github.com/liftline/liftline-backend/internal/pkg/logger"
)

const (
	EventJobEnqueued  = "job.enqueued"
	EventJobCompleted = "job.completed"
	EventJobFailed    = "job.failed"
	EventJobDead      = "job.dead"
)

// Message is one job lifecycle notification. Dashboards subscribe to the
// channel instead of polling the job table.
type Message struct {
	Event   string         `json:"event"`
	JobID   uuid.UUID      `json:"job_id"`
	JobType string         `json:"job_type"`
	Source  string         `json:"source,omitempty"`
	Status  string         `json:"status"`
	Data    map[string]any `json:"data,omitempty"`
}

type Bus interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

type redisBus struct {
	log     *logger.Logger
	rdb     *goredis.Client
	channel string
}

func NewRedisBus(log *logger.Logger) (Bus, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	addr := strings.TrimSpace(envutil.String("REDIS_ADDR", ""))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	ch := envutil.String("REDIS_JOB_CHANNEL", "jobs")

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &redisBus{
		log:     log.With("service", "RedisJobBus"),
		rdb:     rdb,
		channel: ch,
	}, nil
}

func (b *redisBus) Publish(ctx context.Context, msg Message) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis job bus not initialized")
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

func (b *redisBus) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}

// NopBus satisfies Bus when redis is not configured. Notifications are
// best-effort everywhere, so running without a bus only degrades visibility.
type NopBus struct{}

func (NopBus) Publish(ctx context.Context, msg Message) error { return nil }
func (NopBus) Close() error                                   { return nil }
