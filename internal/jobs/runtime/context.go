package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/liftline/liftline-backend/internal/data/repos"
	types "github.com/liftline/liftline-backend/internal/domain"
	"github.com/liftline/liftline-backend/internal/pkg/dbctx"
)

/*
Context is the execution contract between the job system and handler code.
It wraps the claimed background_job row, the database handle, and the only
sanctioned ways to heartbeat or stash a result. Handlers never touch the
background_job table directly.
*/
type Context struct {
	Ctx  context.Context
	DB   *gorm.DB
	Job  *types.BackgroundJob
	Repo repos.BackgroundJobRepo

	payload map[string]any
	result  any
}

// NewContext eagerly decodes the job payload so handlers can read inputs via
// Payload()/PayloadUUID()/PayloadString(). A malformed payload leaves an
// empty map; handlers validate required fields and fail permanently.
func NewContext(ctx context.Context, db *gorm.DB, job *types.BackgroundJob, repo repos.BackgroundJobRepo) *Context {
	c := &Context{
		Ctx:  ctx,
		DB:   db,
		Job:  job,
		Repo: repo,
	}
	_ = c.decodePayload()
	return c
}

func (c *Context) decodePayload() error {
	if c.Job == nil {
		return nil
	}
	if len(c.Job.Payload) == 0 {
		c.payload = map[string]any{}
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(c.Job.Payload, &m); err != nil {
		c.payload = map[string]any{}
		return err
	}
	c.payload = m
	return nil
}

// Payload never returns nil.
func (c *Context) Payload() map[string]any {
	if c.payload == nil {
		c.payload = map[string]any{}
	}
	return c.payload
}

func (c *Context) PayloadUUID(key string) (uuid.UUID, bool) {
	v, ok := c.Payload()[key]
	if !ok || v == nil {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(fmt.Sprint(v))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func (c *Context) PayloadString(key string) string {
	v, ok := c.Payload()[key]
	if !ok || v == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

func (c *Context) PayloadBool(key string) bool {
	v, ok := c.Payload()[key]
	if !ok || v == nil {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

func (c *Context) PayloadStringSlice(key string) []string {
	v, ok := c.Payload()[key]
	if !ok || v == nil {
		return nil
	}
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		s := strings.TrimSpace(fmt.Sprint(item))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Source returns payload.source, the traceability label propagated by
// backfill runs and the write path.
func (c *Context) Source() string {
	return c.PayloadString("source")
}

// Heartbeat extends the processing lease so the sweeper does not reclaim a
// long-running but healthy handler.
func (c *Context) Heartbeat() {
	if c == nil || c.Repo == nil || c.Job == nil || c.Job.ID == uuid.Nil {
		return
	}
	ctx := c.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	_ = c.Repo.Heartbeat(dbctx.Context{Ctx: ctx}, c.Job.ID)
}

// SetResult stashes a value the worker serializes into background_job.result
// when the handler returns nil.
func (c *Context) SetResult(v any) {
	if c == nil {
		return
	}
	c.result = v
}

func (c *Context) Result() any {
	if c == nil {
		return nil
	}
	return c.result
}
