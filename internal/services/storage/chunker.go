package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// Chunker handles chunk arithmetic for a fixed chunk size
type Chunker struct {
	chunkSize int64
}

// Chunk represents a file chunk
type Chunk struct {
	Index    int
	Data     []byte
	Checksum string
}

// NewChunker creates a new chunker with the specified chunk size
func NewChunker(chunkSize int64) *Chunker {
	return &Chunker{chunkSize: chunkSize}
}

// ChunkSize returns the configured chunk size.
func (c *Chunker) ChunkSize() int64 {
	return c.chunkSize
}

// CalculateChunkCount returns ceil(fileSize / chunkSize).
func (c *Chunker) CalculateChunkCount(fileSize int64) int {
	if fileSize <= 0 {
		return 0
	}
	return int((fileSize + c.chunkSize - 1) / c.chunkSize)
}

// Split reads r to the end and returns its chunks in index order.
func (c *Chunker) Split(r io.Reader) ([]Chunk, error) {
	var chunks []Chunk
	for index := 0; ; index++ {
		buf := make([]byte, c.chunkSize)
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			chunks = append(chunks, Chunk{
				Index:    index,
				Data:     buf[:n],
				Checksum: Checksum(buf[:n]),
			})
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return chunks, nil
		}
		if err != nil {
			return nil, fmt.Errorf("error reading chunk %d: %w", index, err)
		}
	}
}

// Verify verifies chunk integrity
func (c *Chunker) Verify(chunk Chunk) bool {
	return Checksum(chunk.Data) == chunk.Checksum
}

// Checksum returns the hex SHA-256 of data.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
