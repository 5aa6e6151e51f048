package upload

import (
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring"
	"github.com/google/uuid"
	"github.com/terrainiq/dashcam-server/internal/models"
)

// session is the tracker's mutable record of one upload. The read lock is
// held while chunk bytes are written so that completion, which takes the
// write lock, never races a chunk write into the staging area.
type session struct {
	mu sync.RWMutex

	id           uuid.UUID
	filename     string
	sizeBytes    int64
	chunkSize    int64
	totalChunks  int
	received     *roaring.Bitmap
	status       models.UploadStatus
	registeredAt time.Time
	lastChunkAt  *time.Time
	completedAt  *time.Time
	errMessage   string

	metadataPath string
	csvPath      string
	videoPath    string
	metadata     models.RecordingMetadata
}

// progress returns 100 * received / total. Callers hold mu.
func (s *session) progress() float64 {
	if s.status == models.UploadStatusComplete {
		return 100
	}
	if s.totalChunks == 0 {
		return 0
	}
	return 100 * float64(s.received.GetCardinality()) / float64(s.totalChunks)
}

// missing returns the unreceived indices in ascending order. Callers hold mu.
func (s *session) missing() []int {
	absent := roaring.Flip(s.received, 0, uint64(s.totalChunks))
	out := make([]int, 0, absent.GetCardinality())
	it := absent.Iterator()
	for it.HasNext() {
		out = append(out, int(it.Next()))
	}
	return out
}

// nextChunk returns the first unreceived index after index, wrapping to
// the lowest unreceived one. Callers hold mu.
func (s *session) nextChunk(index int) *int {
	missing := s.missing()
	if len(missing) == 0 {
		return nil
	}
	for _, m := range missing {
		if m > index {
			return &m
		}
	}
	return &missing[0]
}

// lastActivity is the time of the latest chunk, or registration. Callers hold mu.
func (s *session) lastActivity() time.Time {
	if s.lastChunkAt != nil {
		return *s.lastChunkAt
	}
	return s.registeredAt
}

// snapshot copies the session into its public projection. Callers hold mu.
func (s *session) snapshot() models.UploadSession {
	return models.UploadSession{
		ID:             s.id,
		Filename:       s.filename,
		SizeBytes:      s.sizeBytes,
		ChunkSize:      s.chunkSize,
		TotalChunks:    s.totalChunks,
		ChunksReceived: int(s.received.GetCardinality()),
		Status:         s.status,
		Progress:       s.progress(),
		RegisteredAt:   s.registeredAt,
		LastChunkAt:    copyTime(s.lastChunkAt),
		CompletedAt:    copyTime(s.completedAt),
		Error:          s.errMessage,
		MetadataPath:   s.metadataPath,
		CSVPath:        s.csvPath,
		VideoPath:      s.videoPath,
		Metadata:       s.metadata,
	}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
