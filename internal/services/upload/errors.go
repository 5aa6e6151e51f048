package upload

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingInput is returned when a registration lacks one of the side files.
	ErrMissingInput = errors.New("missing required files (metadata and csv)")
	// ErrInvalidMetadata is returned when the metadata document cannot be used.
	ErrInvalidMetadata = errors.New("invalid metadata")
	// ErrSessionNotFound is returned for unknown upload identifiers.
	ErrSessionNotFound = errors.New("upload not found")
	// ErrInvalidChunkIndex is returned for indices outside [0, total_chunks).
	ErrInvalidChunkIndex = errors.New("invalid chunk index")
	// ErrChecksumMismatch is returned when chunk bytes do not match the
	// checksum sent with them.
	ErrChecksumMismatch = errors.New("chunk checksum mismatch")
	// ErrChunkTooLarge is returned when a chunk exceeds the configured limit.
	ErrChunkTooLarge = errors.New("chunk too large")
	// ErrIncompleteUpload is matched by *IncompleteUploadError.
	ErrIncompleteUpload = errors.New("incomplete upload")
	// ErrSessionClosed is returned once an upload is complete or failed.
	ErrSessionClosed = errors.New("upload is closed")
	// ErrStorageFailure wraps filesystem errors.
	ErrStorageFailure = errors.New("storage failure")
)

// IncompleteUploadError lists the chunks still missing when completion was
// requested.
type IncompleteUploadError struct {
	Received int
	Total    int
	Missing  []int
}

func (e *IncompleteUploadError) Error() string {
	return fmt.Sprintf("Incomplete upload: %d/%d chunks", e.Received, e.Total)
}

// Is makes errors.Is(err, ErrIncompleteUpload) hold.
func (e *IncompleteUploadError) Is(target error) bool {
	return target == ErrIncompleteUpload
}
