package repository

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	_ "github.com/lib/pq"
	"github.com/terrainiq/dashcam-server/internal/config"
	"github.com/terrainiq/dashcam-server/internal/models"
	"github.com/terrainiq/dashcam-server/internal/services/notification"
)

const createRecordingsTable = `CREATE TABLE IF NOT EXISTS recordings (
	upload_id        UUID PRIMARY KEY,
	filename         TEXT NOT NULL,
	device_id        TEXT NOT NULL DEFAULT '',
	size_bytes       BIGINT NOT NULL,
	duration_seconds INTEGER NOT NULL DEFAULT 0,
	video_path       TEXT NOT NULL,
	csv_path         TEXT NOT NULL DEFAULT '',
	metadata_path    TEXT NOT NULL DEFAULT '',
	uploaded_at      TIMESTAMPTZ NOT NULL
)`

// RecordingRepository persists completed recordings in Postgres.
type RecordingRepository struct {
	db *sql.DB
}

// NewRecordingRepository connects to cfg.DatabaseURL and creates the
// recordings table when it is missing.
func NewRecordingRepository(ctx context.Context, cfg *config.Config) (*RecordingRepository, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	repo := &RecordingRepository{db: db}
	if err := repo.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

// Close closes the database connection
func (r *RecordingRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Migrate creates the recordings table if it does not exist.
func (r *RecordingRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createRecordingsTable); err != nil {
		return fmt.Errorf("failed to create recordings table: %w", err)
	}
	return nil
}

// Create records a completed upload. Recording the same upload twice is a
// no-op.
func (r *RecordingRepository) Create(ctx context.Context, done models.CompletedUpload) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO recordings (upload_id, filename, device_id, size_bytes, duration_seconds, video_path, csv_path, metadata_path, uploaded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (upload_id) DO NOTHING`,
		done.ID, done.Filename, done.Metadata.DeviceID, done.SizeBytes,
		done.Metadata.Video.DurationSeconds, done.VideoPath, done.CSVPath,
		done.MetadataPath, done.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert recording: %w", err)
	}
	return nil
}

// HandleEvent records the upload described by an upload.completed event.
func (r *RecordingRepository) HandleEvent(ctx context.Context, evt notification.Event) error {
	var done models.CompletedUpload
	if err := evt.Decode(&done); err != nil {
		return fmt.Errorf("failed to decode completed upload: %w", err)
	}
	return r.Create(ctx, done)
}

// ListRecordings returns every recording, newest first.
func (r *RecordingRepository) ListRecordings(ctx context.Context) ([]models.Recording, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT upload_id, filename, device_id, size_bytes, duration_seconds, csv_path, metadata_path, uploaded_at
		 FROM recordings ORDER BY uploaded_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query recordings: %w", err)
	}
	defer rows.Close()

	recordings := []models.Recording{}
	for rows.Next() {
		var (
			uploadID, filename, deviceID string
			csvPath, metadataPath        string
			size                         int64
			duration                     int
			uploadedAt                   time.Time
		)
		if err := rows.Scan(&uploadID, &filename, &deviceID, &size, &duration, &csvPath, &metadataPath, &uploadedAt); err != nil {
			return nil, fmt.Errorf("failed to scan recording: %w", err)
		}
		rec := newRecording(uploadID, filename, baseOf(csvPath), baseOf(metadataPath), size, duration, uploadedAt)
		rec.DeviceID = deviceID
		recordings = append(recordings, rec)
	}

	return recordings, rows.Err()
}

func baseOf(rel string) string {
	if rel == "" {
		return ""
	}
	return filepath.Base(rel)
}
