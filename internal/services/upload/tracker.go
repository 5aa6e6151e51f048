// Package upload implements the register / chunk / complete upload protocol
// on top of the storage layout in package storage.
package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring"
	"github.com/google/uuid"
	"github.com/terrainiq/dashcam-server/internal/logging"
	"github.com/terrainiq/dashcam-server/internal/models"
	"github.com/terrainiq/dashcam-server/internal/services/notification"
	"github.com/terrainiq/dashcam-server/internal/services/storage"
	"github.com/terrainiq/dashcam-server/pkg/utils"
)

const (
	defaultMetadataName = "metadata.json"
	defaultCSVName      = "sensors.csv"
)

// Notifier receives upload lifecycle events.
type Notifier interface {
	Publish(ctx context.Context, eventType notification.EventType, uploadID string, data any) error
}

// Options configures a Tracker.
type Options struct {
	ChunkSize     int64
	MaxChunkBytes int64
	// IdleTimeout expires sessions with no activity for this long. Zero
	// disables expiry.
	IdleTimeout time.Duration
	Notifier    Notifier
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Tracker owns every upload session of the process. Sessions are kept in
// memory until the process exits.
type Tracker struct {
	disk          *storage.Disk
	chunker       *storage.Chunker
	maxChunkBytes int64
	idleTimeout   time.Duration
	notifier      Notifier
	now           func() time.Time

	mu       sync.RWMutex
	sessions map[uuid.UUID]*session
}

// NewTracker creates a tracker storing files on disk.
func NewTracker(disk *storage.Disk, opts Options) *Tracker {
	if opts.MaxChunkBytes <= 0 {
		opts.MaxChunkBytes = 2 * opts.ChunkSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Tracker{
		disk:          disk,
		chunker:       storage.NewChunker(opts.ChunkSize),
		maxChunkBytes: opts.MaxChunkBytes,
		idleTimeout:   opts.IdleTimeout,
		notifier:      opts.Notifier,
		now:           opts.Now,
		sessions:      make(map[uuid.UUID]*session),
	}
}

// ChunkSize returns the chunk size handed out at registration.
func (t *Tracker) ChunkSize() int64 {
	return t.chunker.ChunkSize()
}

// MaxChunkBytes returns the largest accepted chunk body.
func (t *Tracker) MaxChunkBytes() int64 {
	return t.maxChunkBytes
}

// RegisterInput carries the two side files of a registration. A nil reader
// means the file was not supplied.
type RegisterInput struct {
	Metadata     io.Reader
	MetadataName string
	CSV          io.Reader
	CSVName      string
}

// Registration is the result of Register.
type Registration struct {
	ID          uuid.UUID
	ChunkSize   int64
	TotalChunks int
}

// Register opens a new upload session from a metadata document and a CSV
// file.
func (t *Tracker) Register(ctx context.Context, in RegisterInput) (*Registration, error) {
	if in.Metadata == nil || in.CSV == nil {
		return nil, ErrMissingInput
	}

	raw, err := readMetadata(in.Metadata)
	if err != nil {
		return nil, err
	}
	meta, err := ParseMetadata(raw)
	if err != nil {
		return nil, err
	}

	total := t.chunker.CalculateChunkCount(meta.Video.SizeBytes)
	if err := checkChunkCount(total); err != nil {
		return nil, err
	}
	doc, err := metadataJSON(raw)
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	idStr := id.String()

	metadataName := utils.SwapExtension(sideFileName(in.MetadataName, defaultMetadataName), ".json")
	metadataPath, err := t.disk.SaveSideFile(idStr, metadataName, bytes.NewReader(doc))
	if err != nil {
		t.discard(idStr)
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	csvPath, err := t.disk.SaveSideFile(idStr, sideFileName(in.CSVName, defaultCSVName), in.CSV)
	if err != nil {
		t.discard(idStr)
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	if err := t.disk.CreateStaging(idStr); err != nil {
		t.discard(idStr)
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}

	s := &session{
		id:           id,
		filename:     meta.Video.Filename,
		sizeBytes:    meta.Video.SizeBytes,
		chunkSize:    t.chunker.ChunkSize(),
		totalChunks:  total,
		received:     roaring.New(),
		status:       models.UploadStatusPending,
		registeredAt: t.now().UTC(),
		metadataPath: metadataPath,
		csvPath:      csvPath,
		metadata:     meta,
	}

	t.mu.Lock()
	t.sessions[id] = s
	t.mu.Unlock()

	logging.Info().
		Str("upload_id", idStr).
		Str("filename", s.filename).
		Int64("size_bytes", s.sizeBytes).
		Int("total_chunks", s.totalChunks).
		Msg("upload registered")

	reg := &Registration{ID: id, ChunkSize: s.chunkSize, TotalChunks: s.totalChunks}
	t.publish(ctx, notification.EventUploadRegistered, idStr, reg)
	return reg, nil
}

// discard removes whatever a failed registration left on disk.
func (t *Tracker) discard(uploadID string) {
	if err := t.disk.RemoveSideFiles(uploadID); err != nil {
		logging.Warn().Err(err).Str("upload_id", uploadID).Msg("failed to remove side files")
	}
	if err := t.disk.RemoveStaging(uploadID); err != nil {
		logging.Warn().Err(err).Str("upload_id", uploadID).Msg("failed to remove staging area")
	}
}

// Exists reports whether id names a known session.
func (t *Tracker) Exists(id uuid.UUID) bool {
	_, err := t.get(id)
	return err == nil
}

// ReceiveVerifiedChunk is ReceiveChunk for a chunk carrying the sender's
// checksum. A mismatch is rejected before anything is written.
func (t *Tracker) ReceiveVerifiedChunk(ctx context.Context, id uuid.UUID, chunk storage.Chunk) (*models.ChunkReceipt, error) {
	if _, err := t.get(id); err != nil {
		return nil, err
	}
	if !t.chunker.Verify(chunk) {
		return nil, fmt.Errorf("%w: chunk %d", ErrChecksumMismatch, chunk.Index)
	}
	return t.ReceiveChunk(ctx, id, chunk.Index, chunk.Data)
}

// ReceiveChunk stores the bytes of one chunk. Chunks may arrive in any
// order and the same index may be sent again; the latest write wins.
func (t *Tracker) ReceiveChunk(ctx context.Context, id uuid.UUID, index int, data []byte) (*models.ChunkReceipt, error) {
	s, err := t.get(id)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > t.maxChunkBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrChunkTooLarge, len(data), t.maxChunkBytes)
	}

	s.mu.RLock()
	if s.status.Terminal() {
		status := s.status
		s.mu.RUnlock()
		return nil, fmt.Errorf("%w: status is %s", ErrSessionClosed, status)
	}
	if index < 0 || index >= s.totalChunks {
		total := s.totalChunks
		s.mu.RUnlock()
		return nil, fmt.Errorf("%w: %d not in [0, %d)", ErrInvalidChunkIndex, index, total)
	}
	writeErr := t.disk.WriteChunk(id.String(), index, data)
	s.mu.RUnlock()
	if writeErr != nil {
		logging.Error().Err(writeErr).Str("upload_id", id.String()).Int("chunk_index", index).Msg("chunk write failed")
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, writeErr)
	}

	s.mu.Lock()
	if s.status.Terminal() {
		status := s.status
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: status is %s", ErrSessionClosed, status)
	}
	s.received.Add(uint32(index))
	if s.status == models.UploadStatusPending {
		s.status = models.UploadStatusUploading
	}
	now := t.now().UTC()
	s.lastChunkAt = &now

	receipt := &models.ChunkReceipt{
		ChunkIndex:     index,
		Progress:       s.progress(),
		ChunksReceived: int(s.received.GetCardinality()),
		TotalChunks:    s.totalChunks,
		NextChunk:      s.nextChunk(index),
	}
	s.mu.Unlock()

	logging.Debug().
		Str("upload_id", id.String()).
		Int("chunk_index", index).
		Int("chunks_received", receipt.ChunksReceived).
		Int("total_chunks", receipt.TotalChunks).
		Float64("progress", receipt.Progress).
		Msg("chunk received")

	t.publish(ctx, notification.EventChunkReceived, id.String(), receipt)
	return receipt, nil
}

// Complete reassembles the chunks in index order and publishes the side
// files next to the recording. An I/O error marks the session failed.
func (t *Tracker) Complete(ctx context.Context, id uuid.UUID) (*models.CompletedUpload, error) {
	s, err := t.get(id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	result, err := t.finish(s)
	errMessage := s.errMessage
	s.mu.Unlock()

	if errors.Is(err, ErrStorageFailure) {
		t.publish(ctx, notification.EventUploadFailed, id.String(), map[string]string{"error": errMessage})
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	t.publish(ctx, notification.EventUploadCompleted, id.String(), result)
	return result, nil
}

// finish does the work of Complete. Callers hold s.mu.
func (t *Tracker) finish(s *session) (*models.CompletedUpload, error) {
	if s.status.Terminal() {
		return nil, fmt.Errorf("%w: status is %s", ErrSessionClosed, s.status)
	}
	if missing := s.missing(); len(missing) > 0 {
		return nil, &IncompleteUploadError{
			Received: int(s.received.GetCardinality()),
			Total:    s.totalChunks,
			Missing:  missing,
		}
	}

	idStr := s.id.String()
	videoPath, written, err := t.disk.Assemble(idStr, s.totalChunks, s.filename)
	if err != nil {
		return nil, t.fail(s, err)
	}
	csvPath, err := t.disk.CopyToData(s.csvPath, utils.SwapExtension(s.filename, ".csv"))
	if err != nil {
		return nil, t.fail(s, err)
	}
	metadataPath, err := t.disk.CopyToData(s.metadataPath, utils.SwapExtension(s.filename, ".json"))
	if err != nil {
		return nil, t.fail(s, err)
	}
	if err := t.disk.RemoveStaging(idStr); err != nil {
		logging.Warn().Err(err).Str("upload_id", idStr).Msg("failed to remove staging area")
	}

	completedAt := t.now().UTC()
	s.status = models.UploadStatusComplete
	s.completedAt = &completedAt
	s.videoPath = videoPath
	s.csvPath = csvPath
	s.metadataPath = metadataPath

	if written != s.sizeBytes {
		logging.Warn().
			Str("upload_id", idStr).
			Int64("declared_bytes", s.sizeBytes).
			Int64("written_bytes", written).
			Msg("recording size differs from declared size")
	}
	logging.Info().
		Str("upload_id", idStr).
		Str("video_path", videoPath).
		Int64("size_bytes", written).
		Msg("upload complete")

	return &models.CompletedUpload{
		ID:           s.id,
		Filename:     s.filename,
		VideoPath:    videoPath,
		CSVPath:      csvPath,
		MetadataPath: metadataPath,
		SizeBytes:    written,
		CompletedAt:  completedAt,
		Metadata:     s.metadata,
	}, nil
}

// fail marks s failed after an I/O error during completion. Callers hold s.mu.
func (t *Tracker) fail(s *session, cause error) error {
	s.status = models.UploadStatusFailed
	s.errMessage = cause.Error()

	logging.Error().Err(cause).Str("upload_id", s.id.String()).Msg("upload failed")
	return fmt.Errorf("%w: %v", ErrStorageFailure, cause)
}

// Status returns the current projection of one session.
func (t *Tracker) Status(id uuid.UUID) (models.UploadSession, error) {
	s, err := t.get(id)
	if err != nil {
		return models.UploadSession{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot(), nil
}

// List returns every session held in memory, newest registration first.
func (t *Tracker) List() []models.UploadSession {
	t.mu.RLock()
	sessions := make([]*session, 0, len(t.sessions))
	for _, s := range t.sessions {
		sessions = append(sessions, s)
	}
	t.mu.RUnlock()

	out := make([]models.UploadSession, 0, len(sessions))
	for _, s := range sessions {
		s.mu.RLock()
		out = append(out, s.snapshot())
		s.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RegisteredAt.After(out[j].RegisteredAt) })
	return out
}

func (t *Tracker) get(id uuid.UUID) (*session, error) {
	t.mu.RLock()
	s, ok := t.sessions[id]
	t.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

func (t *Tracker) publish(ctx context.Context, eventType notification.EventType, uploadID string, data any) {
	if t.notifier == nil {
		return
	}
	if err := t.notifier.Publish(ctx, eventType, uploadID, data); err != nil {
		logging.Warn().Err(err).Str("event_type", string(eventType)).Str("upload_id", uploadID).Msg("failed to publish event")
	}
}

func sideFileName(name, fallback string) string {
	if utils.ValidateFilename(name) {
		return name
	}
	return fallback
}
