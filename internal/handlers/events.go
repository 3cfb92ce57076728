package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/liftline/liftline-backend/internal/pkg/dbctx"
	"github.com/liftline/liftline-backend/internal/services"
)

type EventsHandler struct {
	events services.EventService
}

func NewEventsHandler(events services.EventService) *EventsHandler {
	return &EventsHandler{events: events}
}

type appendEventRequest struct {
	UserID     string         `json:"user_id" binding:"required"`
	EventType  string         `json:"event_type" binding:"required"`
	Data       map[string]any `json:"data"`
	OccurredAt *time.Time     `json:"occurred_at"`
	Metadata   map[string]any `json:"metadata"`
}

// POST /api/events
func (h *EventsHandler) Append(c *gin.Context) {
	var req appendEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_user_id", fmt.Errorf("user_id: %w", err))
		return
	}
	input := services.AppendEventInput{
		UserID:    userID,
		EventType: req.EventType,
		Data:      req.Data,
		Metadata:  req.Metadata,
	}
	if req.OccurredAt != nil {
		input.OccurredAt = *req.OccurredAt
	}
	evt, err := h.events.Append(dbctx.Context{Ctx: c.Request.Context()}, input)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "append_failed", err)
		return
	}
	RespondCreated(c, gin.H{"event": evt})
}
