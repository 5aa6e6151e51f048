package upload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"

	"github.com/terrainiq/dashcam-server/internal/models"
	"github.com/terrainiq/dashcam-server/pkg/utils"
	"gopkg.in/yaml.v3"
)

const maxMetadataBytes = 1 << 20

// maxTotalChunks bounds the chunk count so every index fits the uint32
// chunk set.
const maxTotalChunks = math.MaxUint32

// readMetadata reads at most maxMetadataBytes of a metadata document.
func readMetadata(r io.Reader) ([]byte, error) {
	raw, err := io.ReadAll(io.LimitReader(r, maxMetadataBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read: %v", ErrInvalidMetadata, err)
	}
	if len(raw) > maxMetadataBytes {
		return nil, fmt.Errorf("%w: document larger than %d bytes", ErrInvalidMetadata, maxMetadataBytes)
	}
	return raw, nil
}

// ParseMetadata decodes a JSON or YAML metadata document and checks that it
// names a safe target filename and a positive size.
func ParseMetadata(raw []byte) (models.RecordingMetadata, error) {
	var meta models.RecordingMetadata

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return meta, fmt.Errorf("%w: empty document", ErrInvalidMetadata)
	}

	var err error
	if trimmed[0] == '{' {
		err = json.Unmarshal(trimmed, &meta)
	} else {
		err = yaml.Unmarshal(trimmed, &meta)
	}
	if err != nil {
		return meta, fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}

	if meta.Video.Filename == "" {
		return meta, fmt.Errorf("%w: video.filename is required", ErrInvalidMetadata)
	}
	if !utils.ValidateFilename(meta.Video.Filename) {
		return meta, fmt.Errorf("%w: unsafe video.filename %q", ErrInvalidMetadata, meta.Video.Filename)
	}
	if meta.Video.SizeBytes <= 0 {
		return meta, fmt.Errorf("%w: video.size_bytes must be positive", ErrInvalidMetadata)
	}
	return meta, nil
}

// metadataJSON returns the document as JSON. YAML documents are converted so
// the stored side file always matches its .json name.
func metadataJSON(raw []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return raw, nil
	}
	var doc any
	if err := yaml.Unmarshal(trimmed, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}
	return out, nil
}

// checkChunkCount rejects sizes that split into more chunks than can be
// tracked.
func checkChunkCount(total int) error {
	if int64(total) > maxTotalChunks {
		return fmt.Errorf("%w: video.size_bytes needs %d chunks, at most %d are allowed", ErrInvalidMetadata, total, int64(maxTotalChunks))
	}
	return nil
}
