package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"realty_pipeline/models"
)

// ListingStore is the relational capability the upsert engine needs:
// lookup by property_id (nil, nil when absent) and a full-row write
// keyed on property_id.
type ListingStore interface {
	GetListing(ctx context.Context, propertyID string) (*models.Listing, error)
	UpsertListing(ctx context.Context, l *models.Listing) error
}

// PhotoQueue receives photo URLs of freshly written listings.
type PhotoQueue interface {
	Enqueue(ctx context.Context, propertyID, originalURL string) error
}

// UpsertOutcome is the per-record reconciliation result.
type UpsertOutcome int

const (
	OutcomeInserted UpsertOutcome = iota
	OutcomeUpdated
	OutcomeUnchanged
)

// ListingService reconciles normalized listings against stored rows:
// insert if new, rewrite only on material change, no write otherwise.
type ListingService struct {
	store  ListingStore
	photos PhotoQueue
	now    func() time.Time
}

func NewListingService(store ListingStore, photos PhotoQueue) *ListingService {
	return &ListingService{
		store:  store,
		photos: photos,
		now:    time.Now,
	}
}

// SetClock overrides the ingestion timestamp source.
func (s *ListingService) SetClock(now func() time.Time) {
	s.now = now
}

// Upsert reconciles one listing. scraped_at is refreshed only on
// insert and on material update, never on a no-op; the comparison is
// field-exact over the canonical set with derived values excluded.
// Safe to re-run: an unchanged listing produces no write.
func (s *ListingService) Upsert(ctx context.Context, l *models.Listing) (UpsertOutcome, error) {
	existing, err := s.store.GetListing(ctx, l.PropertyID)
	if err != nil {
		return OutcomeUnchanged, fmt.Errorf("get listing %s: %w", l.PropertyID, err)
	}

	if existing != nil && existing.Equal(l) {
		return OutcomeUnchanged, nil
	}

	l.ScrapedAt = s.now()
	if err := s.store.UpsertListing(ctx, l); err != nil {
		return OutcomeUnchanged, fmt.Errorf("upsert listing %s: %w", l.PropertyID, err)
	}

	if existing == nil {
		return OutcomeInserted, nil
	}
	return OutcomeUpdated, nil
}

// ProcessBatch runs the upsert for one partition's deduplicated
// mapping and returns its counts. A store failure on one record is
// counted and the rest of the batch continues.
func (s *ListingService) ProcessBatch(ctx context.Context, batch map[string]*models.Listing) models.Counts {
	var counts models.Counts

	for _, l := range batch {
		outcome, err := s.Upsert(ctx, l)
		if err != nil {
			log.Printf("upsert: %v", err)
			counts.Failed++
			continue
		}

		switch outcome {
		case OutcomeInserted:
			counts.Inserted++
		case OutcomeUpdated:
			counts.Updated++
		case OutcomeUnchanged:
			counts.Unchanged++
		}

		if outcome != OutcomeUnchanged {
			s.enqueuePhoto(ctx, l)
		}
	}

	return counts
}

func (s *ListingService) enqueuePhoto(ctx context.Context, l *models.Listing) {
	if s.photos == nil || l.PhotoURL == nil || *l.PhotoURL == "" {
		return
	}
	if err := s.photos.Enqueue(ctx, l.PropertyID, *l.PhotoURL); err != nil {
		log.Printf("Warning: failed to queue photo for %s: %v", l.PropertyID, err)
	}
}
