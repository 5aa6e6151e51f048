package utils_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/terrainiq/dashcam-server/pkg/utils"
)

func TestValidateFilename(t *testing.T) {
	t.Run("should accept plain names", func(t *testing.T) {
		assert.True(t, utils.ValidateFilename("trip_2024-05-01.mp4"))
		assert.True(t, utils.ValidateFilename("video"))
	})

	t.Run("should reject traversal", func(t *testing.T) {
		assert.False(t, utils.ValidateFilename(".."))
		assert.False(t, utils.ValidateFilename("../etc/passwd"))
		assert.False(t, utils.ValidateFilename("a..b"))
	})

	t.Run("should reject separators and empty names", func(t *testing.T) {
		assert.False(t, utils.ValidateFilename(""))
		assert.False(t, utils.ValidateFilename("dir/video.mp4"))
		assert.False(t, utils.ValidateFilename(`dir\video.mp4`))
	})

	t.Run("should detect URL-encoded traversal", func(t *testing.T) {
		assert.False(t, utils.ValidateFilename("%2e%2e%2fpasswd"))
		assert.False(t, utils.ValidateFilename("dir%2Fvideo.mp4"))
	})

	t.Run("should detect null byte injection", func(t *testing.T) {
		assert.False(t, utils.ValidateFilename("evil.mp4\x00.csv"))
	})
}

func TestSecureJoin(t *testing.T) {
	t.Run("should join inside base", func(t *testing.T) {
		p, err := utils.SecureJoin("/srv/videos", "a.mp4")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join("/srv/videos", "a.mp4"), p)
	})

	t.Run("should reject escaping paths", func(t *testing.T) {
		_, err := utils.SecureJoin("/srv/videos", "../etc/passwd")
		assert.Error(t, err)
	})
}

func TestSwapExtension(t *testing.T) {
	assert.Equal(t, "trip.csv", utils.SwapExtension("trip.mp4", ".csv"))
	assert.Equal(t, "trip.json", utils.SwapExtension("trip.mp4", "json"))
	assert.Equal(t, "trip.v2.csv", utils.SwapExtension("trip.v2.mov", ".csv"))
	assert.Equal(t, "trip.csv", utils.SwapExtension("trip", ".csv"))
}

func TestURLPath(t *testing.T) {
	assert.Equal(t, "http://localhost:3000/videos/trip.mp4", utils.URLPath("http://localhost:3000/", "videos", "trip.mp4"))
	assert.Equal(t, "http://h/data/my%20trip.csv", utils.URLPath("http://h", "data", "my trip.csv"))
}

func TestGetMimeType(t *testing.T) {
	assert.Equal(t, "video/mp4", utils.GetMimeType("a.MP4"))
	assert.Equal(t, "text/csv", utils.GetMimeType("a.csv"))
	assert.Equal(t, "application/octet-stream", utils.GetMimeType("a.bin"))
}
