package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/liftline/liftline-backend/internal/pkg/dbctx"
	"github.com/liftline/liftline-backend/internal/services"
)

type MonitorHandler struct {
	monitor services.MonitorService
}

func NewMonitorHandler(monitor services.MonitorService) *MonitorHandler {
	return &MonitorHandler{monitor: monitor}
}

// GET /api/admin/freshness?projection_types=a,b
func (h *MonitorHandler) Freshness(c *gin.Context) {
	rows, err := h.monitor.Freshness(dbctx.Context{Ctx: c.Request.Context()}, splitTypes(c.Query("projection_types")))
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "freshness_failed", err)
		return
	}
	RespondOK(c, gin.H{"users": rows})
}

// GET /api/admin/freshness/summary?projection_types=a,b
func (h *MonitorHandler) Summary(c *gin.Context) {
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	summary, err := h.monitor.Summary(dbc, splitTypes(c.Query("projection_types")))
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "summary_failed", err)
		return
	}
	dead, err := h.monitor.DeadJobCount(dbc)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "summary_failed", err)
		return
	}
	RespondOK(c, gin.H{"summary": summary, "dead_jobs": dead})
}

func splitTypes(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
