package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"realty_pipeline/models"
)

// PhotoStore is the photo-queue capability over the relational store.
type PhotoStore interface {
	GetPhotoByOriginalURL(ctx context.Context, url string) (*models.ListingPhoto, error)
	InsertPhoto(ctx context.Context, p *models.ListingPhoto) error
	GetPendingPhotos(ctx context.Context, limit, maxAttempts int) ([]models.ListingPhoto, error)
	UpdatePhotoStatus(ctx context.Context, id uuid.UUID, status string, s3Key *string, contentHash string, attempts int) error
}

const photoMaxAttempts = 3

// PhotoService manages the listing photo mirror queue.
type PhotoService struct {
	store PhotoStore
}

func NewPhotoService(store PhotoStore) *PhotoService {
	return &PhotoService{store: store}
}

// Enqueue records a photo URL for mirroring. original_url is unique,
// so re-enqueueing an already known URL is a no-op.
func (s *PhotoService) Enqueue(ctx context.Context, propertyID, originalURL string) error {
	existing, err := s.store.GetPhotoByOriginalURL(ctx, originalURL)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	photo := &models.ListingPhoto{
		ID:          uuid.New(),
		PropertyID:  propertyID,
		OriginalURL: originalURL,
		Status:      models.PhotoStatusPending,
		Attempts:    0,
		CreatedAt:   time.Now(),
	}
	return s.store.InsertPhoto(ctx, photo)
}

// GetPending returns queued photos for the mirror worker.
func (s *PhotoService) GetPending(ctx context.Context, limit int) ([]models.ListingPhoto, error) {
	return s.store.GetPendingPhotos(ctx, limit, photoMaxAttempts)
}

func (s *PhotoService) MarkUploaded(ctx context.Context, id uuid.UUID, s3Key, contentHash string) error {
	return s.store.UpdatePhotoStatus(ctx, id, models.PhotoStatusUploaded, &s3Key, contentHash, 0)
}

// MarkFailed bumps attempts and parks the photo once the budget is
// spent.
func (s *PhotoService) MarkFailed(ctx context.Context, id uuid.UUID, attempts int) error {
	status := models.PhotoStatusPending
	if attempts >= photoMaxAttempts {
		status = models.PhotoStatusFailed
	}
	return s.store.UpdatePhotoStatus(ctx, id, status, nil, "", attempts)
}
