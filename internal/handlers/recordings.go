package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/terrainiq/dashcam-server/internal/repository"
	"github.com/terrainiq/dashcam-server/internal/services/notification"
)

const (
	defaultEventLimit = 20
	maxEventLimit     = 100
)

// EventSource returns recently published upload events.
type EventSource interface {
	Recent(ctx context.Context, n int64) ([]notification.Event, error)
}

// RecordingHandler lists finished recordings and recent upload events.
type RecordingHandler struct {
	catalog repository.Catalog
	events  EventSource
}

// NewRecordingHandler creates a new recording handler. events may be nil.
func NewRecordingHandler(catalog repository.Catalog, events EventSource) *RecordingHandler {
	return &RecordingHandler{catalog: catalog, events: events}
}

// List handles GET /api/recordings.
func (h *RecordingHandler) List(c *gin.Context) {
	recordings, err := h.catalog.ListRecordings(c.Request.Context())
	if err != nil {
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list recordings"})
		return
	}
	c.JSON(http.StatusOK, recordings)
}

// Events handles GET /api/events?limit=n.
func (h *RecordingHandler) Events(c *gin.Context) {
	limit := defaultEventLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			fail(c, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxEventLimit)
	}

	events := []notification.Event{}
	if h.events != nil {
		recent, err := h.events.Recent(c.Request.Context(), int64(limit))
		if err != nil {
			c.Error(err)
			fail(c, http.StatusInternalServerError, "failed to read events")
			return
		}
		if recent != nil {
			events = recent
		}
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "total": len(events), "events": events})
}
