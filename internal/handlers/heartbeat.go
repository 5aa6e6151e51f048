package handlers

import (
	"errors"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/terrainiq/dashcam-server/internal/logging"
)

// HeartbeatRequest is the periodic status report of a device.
type HeartbeatRequest struct {
	Timestamp       string `json:"timestamp"`
	Status          string `json:"status"`
	UploadQueueSize int    `json:"upload_queue_size"`
}

// HeartbeatHandler counts device heartbeats for the lifetime of the process.
type HeartbeatHandler struct {
	count atomic.Int64
	now   func() time.Time
}

// NewHeartbeatHandler creates a new heartbeat handler
func NewHeartbeatHandler() *HeartbeatHandler {
	return &HeartbeatHandler{now: time.Now}
}

// Heartbeat handles POST /heartbeat.
func (h *HeartbeatHandler) Heartbeat(c *gin.Context) {
	var req HeartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		fail(c, http.StatusBadRequest, "invalid heartbeat body")
		return
	}

	n := h.count.Add(1)
	logging.Info().
		Int64("heartbeat_count", n).
		Str("device_timestamp", req.Timestamp).
		Str("device_status", req.Status).
		Int("upload_queue_size", req.UploadQueueSize).
		Msg("heartbeat received")

	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"message":         "Heartbeat received",
		"heartbeat_count": n,
		"server_time":     h.now().UTC().Format(time.RFC3339Nano),
	})
}
