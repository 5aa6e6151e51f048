package repository_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/terrainiq/dashcam-server/internal/config"
	"github.com/terrainiq/dashcam-server/internal/models"
	"github.com/terrainiq/dashcam-server/internal/repository"
	"github.com/terrainiq/dashcam-server/internal/services/storage"
)

func TestFormatting(t *testing.T) {
	t.Run("should format sizes in megabytes", func(t *testing.T) {
		assert.Equal(t, "0.00 MB", repository.FormatSize(0))
		assert.Equal(t, "1.00 MB", repository.FormatSize(1024*1024))
		assert.Equal(t, "11.44 MB", repository.FormatSize(12_000_000))
	})

	t.Run("should format durations as m:ss", func(t *testing.T) {
		assert.Equal(t, "0:05", repository.FormatDuration(5))
		assert.Equal(t, "1:35", repository.FormatDuration(95))
		assert.Equal(t, "60:00", repository.FormatDuration(3600))
	})
}

func TestDiskCatalog(t *testing.T) {
	fsys := afero.NewMemMapFs()
	disk, err := storage.NewDisk(fsys, "/srv")
	require.NoError(t, err)

	older := time.Date(2024, 4, 12, 8, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)

	write := func(path, content string, mtime time.Time) {
		require.NoError(t, afero.WriteFile(fsys, path, []byte(content), 0o644))
		require.NoError(t, fsys.Chtimes(path, mtime, mtime))
	}
	write("/srv/videos/morning.mp4", "0123456789", older)
	write("/srv/data/morning.csv", "t,v\n", older)
	write("/srv/data/morning.json", `{"device_id":"cam-1","video":{"filename":"morning.mp4","size_bytes":10,"duration_seconds":95}}`, older)
	write("/srv/videos/evening.mp4", "01234", newer)
	write("/srv/data/orphan.csv", "t,v\n", newer)

	catalog := repository.NewDiskCatalog(disk)
	recordings, err := catalog.ListRecordings(context.Background())
	require.NoError(t, err)
	require.Len(t, recordings, 2)

	t.Run("should list newest first", func(t *testing.T) {
		assert.Equal(t, "evening.mp4", recordings[0].Filename)
		assert.Equal(t, "morning.mp4", recordings[1].Filename)
	})

	t.Run("should report missing side files as null", func(t *testing.T) {
		evening := recordings[0]
		assert.Equal(t, "evening", evening.BaseName)
		assert.Equal(t, "/videos/evening.mp4", evening.VideoURL)
		assert.Nil(t, evening.CSVURL)
		assert.Nil(t, evening.MetadataURL)
		assert.Nil(t, evening.Duration)
	})

	t.Run("should link side files and read duration", func(t *testing.T) {
		morning := recordings[1]
		require.NotNil(t, morning.CSVURL)
		assert.Equal(t, "/data/morning.csv", *morning.CSVURL)
		require.NotNil(t, morning.MetadataURL)
		assert.Equal(t, "/data/morning.json", *morning.MetadataURL)
		require.NotNil(t, morning.Duration)
		assert.Equal(t, "1:35", *morning.Duration)
		assert.Equal(t, "cam-1", morning.DeviceID)
		assert.Equal(t, int64(10), morning.SizeBytes)
		assert.Equal(t, older, morning.UploadedAt.UTC())
	})
}

func TestRecordingRepositoryCreation(t *testing.T) {
	t.Run("should fail with nil config", func(t *testing.T) {
		repo, err := repository.NewRecordingRepository(context.Background(), nil)
		assert.Error(t, err)
		assert.Nil(t, repo)
	})
}

func TestRecordingRepository(t *testing.T) {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("requires DATABASE_URL")
	}
	ctx := context.Background()

	repo, err := repository.NewRecordingRepository(ctx, &config.Config{DatabaseURL: url})
	require.NoError(t, err)
	defer repo.Close()

	done := models.CompletedUpload{
		ID:           uuid.New(),
		Filename:     "db-test.mp4",
		VideoPath:    "videos/db-test.mp4",
		CSVPath:      "data/db-test.csv",
		MetadataPath: "data/db-test.json",
		SizeBytes:    2048,
		CompletedAt:  time.Now().UTC().Add(time.Hour),
		Metadata: models.RecordingMetadata{
			DeviceID: "cam-9",
			Video:    models.VideoInfo{Filename: "db-test.mp4", SizeBytes: 2048, DurationSeconds: 61},
		},
	}
	require.NoError(t, repo.Create(ctx, done))
	require.NoError(t, repo.Create(ctx, done))

	recordings, err := repo.ListRecordings(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, recordings)

	first := recordings[0]
	assert.Equal(t, done.ID.String(), first.UploadID)
	assert.Equal(t, "/videos/db-test.mp4", first.VideoURL)
	require.NotNil(t, first.CSVURL)
	assert.Equal(t, "/data/db-test.csv", *first.CSVURL)
	require.NotNil(t, first.Duration)
	assert.Equal(t, "1:01", *first.Duration)
}
