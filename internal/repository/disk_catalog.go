package repository

import (
	"context"
	"path/filepath"
	"sort"

	"github.com/terrainiq/dashcam-server/internal/logging"
	"github.com/terrainiq/dashcam-server/internal/models"
	"github.com/terrainiq/dashcam-server/internal/services/storage"
	"github.com/terrainiq/dashcam-server/pkg/utils"
	"gopkg.in/yaml.v3"
)

// DiskCatalog lists recordings by scanning the storage directories. A
// recording is any file in videos/; side files are matched by base name in
// data/.
type DiskCatalog struct {
	disk *storage.Disk
}

// NewDiskCatalog creates a catalog over disk.
func NewDiskCatalog(disk *storage.Disk) *DiskCatalog {
	return &DiskCatalog{disk: disk}
}

// ListRecordings returns the recordings on disk, newest first.
func (c *DiskCatalog) ListRecordings(ctx context.Context) ([]models.Recording, error) {
	videos, err := c.disk.List(storage.VideosDir)
	if err != nil {
		return nil, err
	}
	data, err := c.disk.List(storage.DataDir)
	if err != nil {
		return nil, err
	}

	sideFiles := make(map[string]bool, len(data))
	for _, f := range data {
		sideFiles[f.Name] = true
	}

	recordings := make([]models.Recording, 0, len(videos))
	for _, v := range videos {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		csvName := utils.SwapExtension(v.Name, ".csv")
		if !sideFiles[csvName] {
			csvName = ""
		}
		metadataName := utils.SwapExtension(v.Name, ".json")
		var meta models.RecordingMetadata
		if sideFiles[metadataName] {
			meta = c.readMetadata(filepath.Join(storage.DataDir, metadataName))
		} else {
			metadataName = ""
		}

		rec := newRecording("", v.Name, csvName, metadataName, v.Size, meta.Video.DurationSeconds, v.ModTime)
		rec.DeviceID = meta.DeviceID
		recordings = append(recordings, rec)
	}

	sort.SliceStable(recordings, func(i, j int) bool {
		return recordings[i].UploadedAt.After(recordings[j].UploadedAt)
	})
	return recordings, nil
}

// readMetadata decodes a stored metadata document. Metadata is kept as
// received, so the document may be JSON or YAML; errors are ignored.
func (c *DiskCatalog) readMetadata(rel string) models.RecordingMetadata {
	var meta models.RecordingMetadata
	raw, err := c.disk.ReadFile(rel)
	if err != nil {
		return meta
	}
	if err := yaml.Unmarshal(raw, &meta); err != nil {
		logging.Debug().Err(err).Str("path", rel).Msg("ignoring unreadable recording metadata")
	}
	return meta
}
