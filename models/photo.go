package models

import (
	"time"

	"github.com/google/uuid"
)

// Photo mirror status
const (
	PhotoStatusPending  = "pending"
	PhotoStatusUploaded = "uploaded"
	PhotoStatusFailed   = "failed"
)

// ListingPhoto is one queued photo URL to mirror into object storage.
// OriginalURL is unique; re-enqueueing the same URL is a no-op.
type ListingPhoto struct {
	ID          uuid.UUID `json:"id" db:"id"`
	PropertyID  string    `json:"property_id" db:"property_id"`
	OriginalURL string    `json:"original_url" db:"original_url"`
	S3Key       *string   `json:"s3_key" db:"s3_key"`
	ContentHash string    `json:"content_hash" db:"content_hash"`
	Status      string    `json:"status" db:"status"`
	Attempts    int       `json:"attempts" db:"attempts"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}
