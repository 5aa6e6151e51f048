// Package client speaks the register / chunk / complete upload protocol.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/terrainiq/dashcam-server/internal/services/storage"
)

const defaultMaxRetries = 3

// APIError is a non-2xx response of the server.
type APIError struct {
	StatusCode    int
	Message       string
	MissingChunks []int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Temporary reports whether retrying the request may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// RegisterResponse is the body of a successful registration.
type RegisterResponse struct {
	UploadID    string `json:"upload_id"`
	ChunkSize   int64  `json:"chunk_size"`
	TotalChunks int    `json:"total_chunks"`
	Ready       bool   `json:"ready"`
	Message     string `json:"message"`
}

// ChunkResponse is the body of an accepted chunk.
type ChunkResponse struct {
	ChunkIndex     int     `json:"chunk_index"`
	Progress       float64 `json:"progress"`
	ChunksReceived int     `json:"chunks_received"`
	TotalChunks    int     `json:"total_chunks"`
	NextChunk      *int    `json:"next_chunk"`
}

// CompleteResponse is the body of a successful completion.
type CompleteResponse struct {
	UploadID    string    `json:"upload_id"`
	VideoURL    string    `json:"video_url"`
	CSVURL      string    `json:"csv_url"`
	MetadataURL string    `json:"metadata_url"`
	CompletedAt time.Time `json:"completed_at"`
}

// StatusResponse is the body of a status query.
type StatusResponse struct {
	UploadID       string     `json:"upload_id"`
	Filename       string     `json:"filename"`
	Status         string     `json:"status"`
	Progress       float64    `json:"progress"`
	ChunksReceived int        `json:"chunks_received"`
	TotalChunks    int        `json:"total_chunks"`
	SizeBytes      int64      `json:"size_bytes"`
	RegisteredAt   time.Time  `json:"registered_at"`
	LastChunkAt    *time.Time `json:"last_chunk_at"`
	CompletedAt    *time.Time `json:"completed_at"`
	Error          string     `json:"error"`
}

// Client uploads recordings to a dashcam server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string
	maxRetries uint64
	retryWait  time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithToken sends a bearer token with every upload request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithRetries sets how often a failed chunk is resent and the initial wait
// between attempts.
func WithRetries(n uint64, wait time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = n
		c.retryWait = wait
	}
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
		maxRetries: defaultMaxRetries,
		retryWait:  500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken replaces the bearer token.
func (c *Client) SetToken(token string) {
	c.token = token
}

// Token exchanges the provisioning secret for a device token and keeps it
// for later requests.
func (c *Client) Token(ctx context.Context, deviceID, secret string) (string, error) {
	body, err := json.Marshal(map[string]string{"device_id": deviceID, "secret": secret})
	if err != nil {
		return "", err
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "/auth/token", "application/json", bytes.NewReader(body), nil, &out); err != nil {
		return "", err
	}
	c.token = out.Token
	return out.Token, nil
}

// Register opens an upload with a metadata document and a CSV file.
func (c *Client) Register(ctx context.Context, metadata, csv []byte) (*RegisterResponse, error) {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for _, part := range []struct {
		field, name string
		data        []byte
	}{
		{"metadata", "metadata.json", metadata},
		{"csv", "sensors.csv", csv},
	} {
		fw, err := w.CreateFormFile(part.field, part.name)
		if err != nil {
			return nil, fmt.Errorf("failed to build %s part: %w", part.field, err)
		}
		if _, err := fw.Write(part.data); err != nil {
			return nil, fmt.Errorf("failed to build %s part: %w", part.field, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to build form: %w", err)
	}

	var out RegisterResponse
	if err := c.do(ctx, http.MethodPost, "/upload/register", w.FormDataContentType(), body, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UploadChunk sends one chunk.
func (c *Client) UploadChunk(ctx context.Context, uploadID string, index, total int, data []byte) (*ChunkResponse, error) {
	return c.uploadChunk(ctx, uploadID, total, storage.Chunk{Index: index, Data: data})
}

// UploadCheckedChunk sends one chunk with its checksum so the server can
// reject bytes damaged in transit.
func (c *Client) UploadCheckedChunk(ctx context.Context, uploadID string, total int, chunk storage.Chunk) (*ChunkResponse, error) {
	if chunk.Checksum == "" {
		chunk.Checksum = storage.Checksum(chunk.Data)
	}
	return c.uploadChunk(ctx, uploadID, total, chunk)
}

func (c *Client) uploadChunk(ctx context.Context, uploadID string, total int, chunk storage.Chunk) (*ChunkResponse, error) {
	headers := map[string]string{
		"X-Chunk-Index":  strconv.Itoa(chunk.Index),
		"X-Total-Chunks": strconv.Itoa(total),
	}
	if chunk.Checksum != "" {
		headers["X-Chunk-Checksum"] = chunk.Checksum
	}
	var out ChunkResponse
	if err := c.do(ctx, http.MethodPost, "/upload/chunk/"+uploadID, "application/octet-stream", bytes.NewReader(chunk.Data), headers, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Complete asks the server to reassemble the upload.
func (c *Client) Complete(ctx context.Context, uploadID string) (*CompleteResponse, error) {
	var out CompleteResponse
	if err := c.do(ctx, http.MethodPost, "/upload/complete/"+uploadID, "", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status returns the state of an upload.
func (c *Client) Status(ctx context.Context, uploadID string) (*StatusResponse, error) {
	var out StatusResponse
	if err := c.do(ctx, http.MethodGet, "/upload/status/"+uploadID, "", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UploadFile runs the whole protocol for one recording. Every chunk carries
// its checksum. Chunks that fail with a temporary error are resent with
// exponential backoff.
func (c *Client) UploadFile(ctx context.Context, metadata, csv []byte, video io.Reader) (*CompleteResponse, error) {
	reg, err := c.Register(ctx, metadata, csv)
	if err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}

	chunks, err := storage.NewChunker(reg.ChunkSize).Split(video)
	if err != nil {
		return nil, fmt.Errorf("read video: %w", err)
	}
	if len(chunks) != reg.TotalChunks {
		return nil, fmt.Errorf("video has %d chunks, server expects %d", len(chunks), reg.TotalChunks)
	}

	for _, chunk := range chunks {
		if err := c.sendChunk(ctx, reg, chunk); err != nil {
			return nil, fmt.Errorf("chunk %d: %w", chunk.Index, err)
		}
	}

	done, err := c.Complete(ctx, reg.UploadID)
	if err != nil {
		return nil, fmt.Errorf("complete: %w", err)
	}
	return done, nil
}

func (c *Client) sendChunk(ctx context.Context, reg *RegisterResponse, chunk storage.Chunk) error {
	op := func() error {
		_, err := c.UploadCheckedChunk(ctx, reg.UploadID, reg.TotalChunks, chunk)
		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.Temporary() {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryWait
	b.Reset()
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, c.maxRetries), ctx))
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, headers map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var failure struct {
			Error         string `json:"error"`
			MissingChunks []int  `json:"missing_chunks"`
		}
		_ = json.Unmarshal(raw, &failure)
		if failure.Error == "" {
			failure.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: failure.Error, MissingChunks: failure.MissingChunks}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
