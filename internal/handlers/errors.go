package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/terrainiq/dashcam-server/internal/services/upload"
)

// respondError maps tracker errors to status codes and the
// {success: false, error} body.
func respondError(c *gin.Context, err error) {
	var incomplete *upload.IncompleteUploadError
	switch {
	case errors.As(err, &incomplete):
		c.JSON(http.StatusBadRequest, gin.H{
			"success":        false,
			"error":          incomplete.Error(),
			"missing_chunks": incomplete.Missing,
		})
	case errors.Is(err, upload.ErrSessionNotFound):
		fail(c, http.StatusNotFound, "Upload not found")
	case errors.Is(err, upload.ErrMissingInput),
		errors.Is(err, upload.ErrInvalidMetadata),
		errors.Is(err, upload.ErrInvalidChunkIndex),
		errors.Is(err, upload.ErrChecksumMismatch):
		fail(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, upload.ErrChunkTooLarge):
		fail(c, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, upload.ErrSessionClosed):
		fail(c, http.StatusConflict, err.Error())
	default:
		c.Error(err)
		fail(c, http.StatusInternalServerError, "storage failure")
	}
}

func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"success": false, "error": msg})
}
