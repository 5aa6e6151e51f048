package models

import "time"

// Recording is a finished upload as listed by /api/recordings.
type Recording struct {
	UploadID    string    `json:"upload_id,omitempty" db:"upload_id"`
	Filename    string    `json:"filename" db:"filename"`
	BaseName    string    `json:"baseName" db:"-"`
	VideoURL    string    `json:"videoUrl" db:"-"`
	CSVURL      *string   `json:"csvUrl" db:"-"`
	MetadataURL *string   `json:"metadataUrl" db:"-"`
	SizeBytes   int64     `json:"size_bytes" db:"size_bytes"`
	Size        string    `json:"size" db:"-"`
	Duration    *string   `json:"duration" db:"-"`
	DeviceID    string    `json:"device_id,omitempty" db:"device_id"`
	UploadedAt  time.Time `json:"uploadedAt" db:"uploaded_at"`
}
