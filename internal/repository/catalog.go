package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/terrainiq/dashcam-server/internal/models"
	"github.com/terrainiq/dashcam-server/internal/services/storage"
	"github.com/terrainiq/dashcam-server/pkg/utils"
)

// Catalog lists finished recordings, newest first.
type Catalog interface {
	ListRecordings(ctx context.Context) ([]models.Recording, error)
}

// newRecording builds the listing entry of one recording. Empty side file
// names and a zero duration are reported as null.
func newRecording(uploadID, filename, csvName, metadataName string, size int64, durationSeconds int, uploadedAt time.Time) models.Recording {
	rec := models.Recording{
		UploadID:   uploadID,
		Filename:   filename,
		BaseName:   utils.BaseName(filename),
		VideoURL:   utils.URLPath("", storage.VideosDir, filename),
		SizeBytes:  size,
		Size:       FormatSize(size),
		UploadedAt: uploadedAt,
	}
	if csvName != "" {
		u := utils.URLPath("", storage.DataDir, csvName)
		rec.CSVURL = &u
	}
	if metadataName != "" {
		u := utils.URLPath("", storage.DataDir, metadataName)
		rec.MetadataURL = &u
	}
	if durationSeconds > 0 {
		d := FormatDuration(durationSeconds)
		rec.Duration = &d
	}
	return rec
}

// FormatSize renders a byte count as megabytes with two decimals.
func FormatSize(size int64) string {
	return fmt.Sprintf("%.2f MB", float64(size)/1024/1024)
}

// FormatDuration renders seconds as m:ss.
func FormatDuration(seconds int) string {
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
