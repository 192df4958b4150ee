package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"realty_pipeline/models"
)

// memListingStore keeps listings in a map and copies on read so the
// service cannot mutate stored rows through shared pointers.
type memListingStore struct {
	rows     map[string]models.Listing
	writes   int
	getErr   error
	writeErr map[string]error
}

func newMemListingStore() *memListingStore {
	return &memListingStore{rows: make(map[string]models.Listing), writeErr: make(map[string]error)}
}

func (s *memListingStore) GetListing(ctx context.Context, propertyID string) (*models.Listing, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	row, ok := s.rows[propertyID]
	if !ok {
		return nil, nil
	}
	cp := row
	return &cp, nil
}

func (s *memListingStore) UpsertListing(ctx context.Context, l *models.Listing) error {
	if err := s.writeErr[l.PropertyID]; err != nil {
		return err
	}
	s.writes++
	s.rows[l.PropertyID] = *l
	return nil
}

type memPhotoQueue struct {
	enqueued []string
}

func (q *memPhotoQueue) Enqueue(ctx context.Context, propertyID, originalURL string) error {
	q.enqueued = append(q.enqueued, originalURL)
	return nil
}

func sampleListing() *models.Listing {
	price := int64(500000)
	sqft := 1200
	city := "Los Angeles"
	photo := "https://example.com/p.jpg"
	return &models.Listing{
		PropertyID: "p1",
		Price:      &price,
		Sqft:       &sqft,
		City:       &city,
		PhotoURL:   &photo,
		Source:     models.SourceRealtyInUS,
	}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestUpsert_InsertThenUnchanged(t *testing.T) {
	store := newMemListingStore()
	svc := NewListingService(store, nil)
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.SetClock(fixedClock(t0))

	outcome, err := svc.Upsert(context.Background(), sampleListing())
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if outcome != OutcomeInserted {
		t.Fatalf("expected insert outcome, got %d", outcome)
	}
	if store.rows["p1"].ScrapedAt != t0 {
		t.Fatalf("scraped_at not stamped on insert: %v", store.rows["p1"].ScrapedAt)
	}

	// Same upstream data later: no write, scraped_at untouched.
	svc.SetClock(fixedClock(t0.Add(time.Hour)))
	outcome, err = svc.Upsert(context.Background(), sampleListing())
	if err != nil {
		t.Fatalf("re-upsert failed: %v", err)
	}
	if outcome != OutcomeUnchanged {
		t.Fatalf("expected unchanged outcome, got %d", outcome)
	}
	if store.writes != 1 {
		t.Fatalf("unchanged listing must not be rewritten, saw %d writes", store.writes)
	}
	if store.rows["p1"].ScrapedAt != t0 {
		t.Fatalf("scraped_at must not move on a no-op, got %v", store.rows["p1"].ScrapedAt)
	}
}

func TestUpsert_MaterialChangeRefreshesScrapedAt(t *testing.T) {
	store := newMemListingStore()
	svc := NewListingService(store, nil)
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.SetClock(fixedClock(t0))

	if _, err := svc.Upsert(context.Background(), sampleListing()); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	t1 := t0.Add(2 * time.Hour)
	svc.SetClock(fixedClock(t1))
	changed := sampleListing()
	newPrice := int64(475000)
	changed.Price = &newPrice

	outcome, err := svc.Upsert(context.Background(), changed)
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if outcome != OutcomeUpdated {
		t.Fatalf("expected update outcome, got %d", outcome)
	}
	row := store.rows["p1"]
	if *row.Price != 475000 {
		t.Fatalf("price not updated: %d", *row.Price)
	}
	if row.ScrapedAt != t1 {
		t.Fatalf("scraped_at must refresh on material change, got %v", row.ScrapedAt)
	}
}

func TestUpsert_LookupFailure(t *testing.T) {
	store := newMemListingStore()
	store.getErr = errors.New("connection refused")
	svc := NewListingService(store, nil)

	if _, err := svc.Upsert(context.Background(), sampleListing()); err == nil {
		t.Fatalf("expected lookup error to surface")
	}
}

func TestProcessBatch_CountsAndContinuesOnFailure(t *testing.T) {
	store := newMemListingStore()
	store.writeErr["bad"] = errors.New("constraint violation")
	svc := NewListingService(store, nil)

	good := sampleListing()
	bad := sampleListing()
	bad.PropertyID = "bad"

	counts := svc.ProcessBatch(context.Background(), map[string]*models.Listing{
		"p1":  good,
		"bad": bad,
	})

	if counts.Inserted != 1 || counts.Failed != 1 {
		t.Fatalf("unexpected counts: %+v", counts)
	}
	if _, ok := store.rows["p1"]; !ok {
		t.Fatalf("healthy record should still be written")
	}
}

func TestProcessBatch_EnqueuesPhotosOnWriteOnly(t *testing.T) {
	store := newMemListingStore()
	queue := &memPhotoQueue{}
	svc := NewListingService(store, queue)
	svc.SetClock(fixedClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)))

	batch := map[string]*models.Listing{"p1": sampleListing()}
	svc.ProcessBatch(context.Background(), batch)
	if len(queue.enqueued) != 1 {
		t.Fatalf("expected photo enqueued on insert, got %d", len(queue.enqueued))
	}

	// Re-sighting with identical data: no write, no enqueue.
	svc.ProcessBatch(context.Background(), map[string]*models.Listing{"p1": sampleListing()})
	if len(queue.enqueued) != 1 {
		t.Fatalf("unchanged record must not re-enqueue its photo, got %d", len(queue.enqueued))
	}

	// No photo URL: nothing to enqueue even on insert.
	noPhoto := sampleListing()
	noPhoto.PropertyID = "p2"
	noPhoto.PhotoURL = nil
	svc.ProcessBatch(context.Background(), map[string]*models.Listing{"p2": noPhoto})
	if len(queue.enqueued) != 1 {
		t.Fatalf("listing without photo must not enqueue, got %d", len(queue.enqueued))
	}
}
