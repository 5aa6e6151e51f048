package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/terrainiq/dashcam-server/internal/logging"
	"github.com/terrainiq/dashcam-server/internal/models"
	"github.com/terrainiq/dashcam-server/internal/services/storage"
	"github.com/terrainiq/dashcam-server/internal/services/upload"
	"github.com/terrainiq/dashcam-server/pkg/utils"
)

const (
	headerChunkIndex    = "X-Chunk-Index"
	headerTotalChunks   = "X-Total-Chunks"
	headerChunkChecksum = "X-Chunk-Checksum"
)

// UploadHandler serves the register / chunk / complete protocol.
type UploadHandler struct {
	tracker   *upload.Tracker
	publicURL string
}

// NewUploadHandler creates a new upload handler. publicURL prefixes the
// links returned on completion.
func NewUploadHandler(tracker *upload.Tracker, publicURL string) *UploadHandler {
	return &UploadHandler{tracker: tracker, publicURL: publicURL}
}

// Register handles POST /upload/register with multipart fields metadata
// and csv.
func (h *UploadHandler) Register(c *gin.Context) {
	metadata, metadataName, err := formFile(c, "metadata")
	if err != nil {
		respondError(c, err)
		return
	}
	defer metadata.Close()

	csv, csvName, err := formFile(c, "csv")
	if err != nil {
		respondError(c, err)
		return
	}
	defer csv.Close()

	reg, err := h.tracker.Register(c.Request.Context(), upload.RegisterInput{
		Metadata:     metadata,
		MetadataName: metadataName,
		CSV:          csv,
		CSVName:      csvName,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"upload_id":    reg.ID,
		"chunk_size":   reg.ChunkSize,
		"total_chunks": reg.TotalChunks,
		"ready":        true,
		"message":      "Upload registered successfully",
	})
}

func formFile(c *gin.Context, field string) (multipart.File, string, error) {
	header, err := c.FormFile(field)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s", upload.ErrMissingInput, field)
	}
	f, err := header.Open()
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s: %v", upload.ErrMissingInput, field, err)
	}
	return f, header.Filename, nil
}

// Chunk handles POST /upload/chunk/:upload_id. The body is the raw chunk
// and X-Chunk-Index names its position. An optional X-Chunk-Checksum
// carries the hex SHA-256 of the body.
func (h *UploadHandler) Chunk(c *gin.Context) {
	id, ok := h.uploadID(c)
	if !ok {
		return
	}
	if !h.tracker.Exists(id) {
		fail(c, http.StatusNotFound, "Upload not found")
		return
	}

	index, err := strconv.Atoi(c.GetHeader(headerChunkIndex))
	if err != nil {
		respondError(c, fmt.Errorf("%w: %s header must be an integer", upload.ErrInvalidChunkIndex, headerChunkIndex))
		return
	}

	body := http.MaxBytesReader(c.Writer, c.Request.Body, h.tracker.MaxChunkBytes())
	data, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(c, fmt.Errorf("%w: limit is %d bytes", upload.ErrChunkTooLarge, tooLarge.Limit))
			return
		}
		fail(c, http.StatusBadRequest, "failed to read chunk body")
		return
	}

	var receipt *models.ChunkReceipt
	if checksum := c.GetHeader(headerChunkChecksum); checksum != "" {
		receipt, err = h.tracker.ReceiveVerifiedChunk(c.Request.Context(), id, storage.Chunk{
			Index:    index,
			Data:     data,
			Checksum: strings.ToLower(checksum),
		})
	} else {
		receipt, err = h.tracker.ReceiveChunk(c.Request.Context(), id, index, data)
	}
	if err != nil {
		respondError(c, err)
		return
	}

	if declared := c.GetHeader(headerTotalChunks); declared != "" {
		if n, err := strconv.Atoi(declared); err != nil || n != receipt.TotalChunks {
			logging.Warn().
				Str("upload_id", id.String()).
				Str("declared_total_chunks", declared).
				Int("total_chunks", receipt.TotalChunks).
				Msg("client total chunk count differs from session")
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"received":        true,
		"chunk_index":     receipt.ChunkIndex,
		"progress":        receipt.Progress,
		"chunks_received": receipt.ChunksReceived,
		"total_chunks":    receipt.TotalChunks,
		"next_chunk":      receipt.NextChunk,
	})
}

// Complete handles POST /upload/complete/:upload_id.
func (h *UploadHandler) Complete(c *gin.Context) {
	id, ok := h.uploadID(c)
	if !ok {
		return
	}

	done, err := h.tracker.Complete(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"upload_id":    done.ID,
		"video_url":    h.fileURL(storage.VideosDir, done.VideoPath),
		"csv_url":      h.fileURL(storage.DataDir, done.CSVPath),
		"metadata_url": h.fileURL(storage.DataDir, done.MetadataPath),
		"completed_at": done.CompletedAt,
	})
}

// Status handles GET /upload/status/:upload_id.
func (h *UploadHandler) Status(c *gin.Context) {
	id, ok := h.uploadID(c)
	if !ok {
		return
	}

	s, err := h.tracker.Status(id)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := gin.H{
		"success":         true,
		"upload_id":       s.ID,
		"filename":        s.Filename,
		"status":          s.Status,
		"progress":        s.Progress,
		"chunks_received": s.ChunksReceived,
		"total_chunks":    s.TotalChunks,
		"size_bytes":      s.SizeBytes,
		"registered_at":   s.RegisteredAt,
		"last_chunk_at":   s.LastChunkAt,
		"completed_at":    s.CompletedAt,
	}
	if s.Error != "" {
		resp["error"] = s.Error
	}
	c.JSON(http.StatusOK, resp)
}

type uploadSummary struct {
	UploadID     uuid.UUID           `json:"upload_id"`
	Filename     string              `json:"filename"`
	Status       models.UploadStatus `json:"status"`
	Progress     float64             `json:"progress"`
	SizeMB       string              `json:"size_mb"`
	RegisteredAt time.Time           `json:"registered_at"`
	CompletedAt  *time.Time          `json:"completed_at"`
}

// List handles GET /uploads.
func (h *UploadHandler) List(c *gin.Context) {
	sessions := h.tracker.List()
	uploads := make([]uploadSummary, 0, len(sessions))
	for _, s := range sessions {
		uploads = append(uploads, uploadSummary{
			UploadID:     s.ID,
			Filename:     s.Filename,
			Status:       s.Status,
			Progress:     s.Progress,
			SizeMB:       fmt.Sprintf("%.2f", float64(s.SizeBytes)/1024/1024),
			RegisteredAt: s.RegisteredAt,
			CompletedAt:  s.CompletedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"total":   len(uploads),
		"uploads": uploads,
	})
}

func (h *UploadHandler) uploadID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("upload_id"))
	if err != nil {
		fail(c, http.StatusNotFound, "Upload not found")
		return uuid.Nil, false
	}
	return id, true
}

func (h *UploadHandler) fileURL(dir, rel string) string {
	return utils.URLPath(h.publicURL, dir, filepath.Base(rel))
}
