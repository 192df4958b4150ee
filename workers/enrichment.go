package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"realty_pipeline/models"
	"realty_pipeline/services"
	"realty_pipeline/storage"
)

// EnrichmentStore is the listing-side capability the worker needs:
// candidates to enrich, attempt bookkeeping, and a slot for the found
// photo that lives outside the canonical comparison set.
type EnrichmentStore interface {
	GetEnrichmentCandidates(ctx context.Context, limit, maxAttempts int) ([]storage.EnrichmentCandidate, error)
	SetEnrichedPhotoURL(ctx context.Context, propertyID, photoURL string) error
	IncrementEnrichmentAttempts(ctx context.Context, propertyID string) error
}

// EnrichmentWorker backfills photos for listings whose API payload
// carried a detail URL but no primary photo: fetch the detail page,
// pull og:image and JSON-LD image references, queue them for
// mirroring. Attempts per listing are bounded.
type EnrichmentWorker struct {
	store       EnrichmentStore
	photos      *services.PhotoService
	httpClient  *http.Client
	logFn       LogFunc
	trigger     chan struct{}
	maxAttempts int
}

func NewEnrichmentWorker(store EnrichmentStore, photos *services.PhotoService, client *http.Client, maxAttempts int) *EnrichmentWorker {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &EnrichmentWorker{
		store:       store,
		photos:      photos,
		httpClient:  client,
		logFn:       NoOpLogger,
		trigger:     make(chan struct{}, 1),
		maxAttempts: maxAttempts,
	}
}

func (w *EnrichmentWorker) SetLogFunc(fn LogFunc) {
	if fn != nil {
		w.logFn = fn
	}
}

func (w *EnrichmentWorker) Trigger() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

// Run starts the enrichment worker loop.
func (w *EnrichmentWorker) Run(ctx context.Context, batchSize int, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Enrichment worker stopping")
			return
		case <-w.trigger:
			w.processBatch(ctx, batchSize)
		case <-ticker.C:
			w.processBatch(ctx, batchSize)
		}
	}
}

func (w *EnrichmentWorker) processBatch(ctx context.Context, batchSize int) {
	candidates, err := w.store.GetEnrichmentCandidates(ctx, batchSize, w.maxAttempts)
	if err != nil {
		log.Printf("Enrichment: query error: %v", err)
		return
	}
	if len(candidates) == 0 {
		return
	}

	log.Printf("Enrichment: processing %d listings", len(candidates))

	var enriched int
	for _, c := range candidates {
		if err := w.store.IncrementEnrichmentAttempts(ctx, c.PropertyID); err != nil {
			log.Printf("Enrichment: failed to bump attempts for %s: %v", c.PropertyID, err)
		}

		photoURLs, err := w.Enrich(ctx, c.DetailURL)
		if err != nil {
			log.Printf("Enrichment: %s: %v", c.PropertyID, err)
			continue
		}
		if len(photoURLs) == 0 {
			continue
		}

		if err := w.store.SetEnrichedPhotoURL(ctx, c.PropertyID, photoURLs[0]); err != nil {
			log.Printf("Enrichment: failed to set photo for %s: %v", c.PropertyID, err)
			continue
		}

		if w.photos != nil {
			for _, url := range photoURLs {
				if err := w.photos.Enqueue(ctx, c.PropertyID, url); err != nil {
					log.Printf("Warning: failed to queue photo %s: %v", url, err)
				}
			}
		}

		enriched++
		log.Printf("Enrichment: %s: %d photos found", c.PropertyID, len(photoURLs))

		// Rate limit between requests
		time.Sleep(500 * time.Millisecond)
	}

	if enriched > 0 {
		w.logFn(models.LogLevelInfo, "enrichment_worker",
			fmt.Sprintf("enriched %d of %d listings", enriched, len(candidates)))
	}
}

// Enrich fetches a detail page and extracts photo URLs.
func (w *EnrichmentWorker) Enrich(ctx context.Context, detailURL string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, detailURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	return ParsePhotoURLs(resp.Body)
}

// ParsePhotoURLs pulls photo references out of a listing detail page:
// og:image meta tags first, then image fields of any JSON-LD blocks.
func ParsePhotoURLs(r io.Reader) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	seen := make(map[string]bool)
	var urls []string
	add := func(u string) {
		u = strings.TrimSpace(u)
		if u == "" || !strings.HasPrefix(u, "http") || seen[u] {
			return
		}
		seen[u] = true
		urls = append(urls, u)
	}

	doc.Find(`meta[property="og:image"]`).Each(func(i int, s *goquery.Selection) {
		if content, ok := s.Attr("content"); ok {
			add(content)
		}
	})

	doc.Find(`script[type="application/ld+json"]`).Each(func(i int, s *goquery.Selection) {
		var block struct {
			Image json.RawMessage `json:"image"`
		}
		if err := json.Unmarshal([]byte(s.Text()), &block); err != nil || len(block.Image) == 0 {
			return
		}
		// image is either a string or a list of strings
		var single string
		if err := json.Unmarshal(block.Image, &single); err == nil {
			add(single)
			return
		}
		var many []string
		if err := json.Unmarshal(block.Image, &many); err == nil {
			for _, u := range many {
				add(u)
			}
		}
	})

	return urls, nil
}
