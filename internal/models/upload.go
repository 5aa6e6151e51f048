package models

import (
	"time"

	"github.com/google/uuid"
)

// UploadStatus is the lifecycle state of a chunked upload.
type UploadStatus string

const (
	UploadStatusPending   UploadStatus = "pending"
	UploadStatusUploading UploadStatus = "uploading"
	UploadStatusComplete  UploadStatus = "complete"
	UploadStatusFailed    UploadStatus = "failed"
)

// Terminal reports whether no further transition is possible.
func (s UploadStatus) Terminal() bool {
	return s == UploadStatusComplete || s == UploadStatusFailed
}

// RecordingMetadata is the structured-metadata document a device sends at
// registration.
type RecordingMetadata struct {
	DeviceID   string    `json:"device_id,omitempty" yaml:"device_id"`
	RecordedAt string    `json:"recorded_at,omitempty" yaml:"recorded_at"`
	Video      VideoInfo `json:"video" yaml:"video"`
}

// VideoInfo describes the recording that will be uploaded in chunks.
type VideoInfo struct {
	Filename        string `json:"filename" yaml:"filename"`
	SizeBytes       int64  `json:"size_bytes" yaml:"size_bytes"`
	DurationSeconds int    `json:"duration_seconds,omitempty" yaml:"duration_seconds"`
}

// UploadSession is a point-in-time view of a chunked upload.
type UploadSession struct {
	ID             uuid.UUID    `json:"upload_id"`
	Filename       string       `json:"filename"`
	SizeBytes      int64        `json:"size_bytes"`
	ChunkSize      int64        `json:"chunk_size"`
	TotalChunks    int          `json:"total_chunks"`
	ChunksReceived int          `json:"chunks_received"`
	Status         UploadStatus `json:"status"`
	Progress       float64      `json:"progress"`
	RegisteredAt   time.Time    `json:"registered_at"`
	LastChunkAt    *time.Time   `json:"last_chunk_at"`
	CompletedAt    *time.Time   `json:"completed_at"`
	Error          string       `json:"error,omitempty"`

	MetadataPath string            `json:"-"`
	CSVPath      string            `json:"-"`
	VideoPath    string            `json:"-"`
	Metadata     RecordingMetadata `json:"-"`
}

// ChunkReceipt is the result of accepting one chunk.
type ChunkReceipt struct {
	ChunkIndex     int     `json:"chunk_index"`
	Progress       float64 `json:"progress"`
	ChunksReceived int     `json:"chunks_received"`
	TotalChunks    int     `json:"total_chunks"`
	NextChunk      *int    `json:"next_chunk"`
}

// CompletedUpload is the result of a successful reassembly. Paths are
// relative to the storage root.
type CompletedUpload struct {
	ID           uuid.UUID         `json:"upload_id"`
	Filename     string            `json:"filename"`
	VideoPath    string            `json:"video_path"`
	CSVPath      string            `json:"csv_path"`
	MetadataPath string            `json:"metadata_path"`
	SizeBytes    int64             `json:"size_bytes"`
	CompletedAt  time.Time         `json:"completed_at"`
	Metadata     RecordingMetadata `json:"metadata"`
}
