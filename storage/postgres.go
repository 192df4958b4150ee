package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"realty_pipeline/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	store := &PostgresStore{pool: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return store, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS listings (
		property_id TEXT PRIMARY KEY,
		listing_id TEXT,
		status TEXT,
		address TEXT,
		city TEXT,
		state TEXT,
		zip_code TEXT,
		price BIGINT,
		beds INT,
		baths NUMERIC(4,1),
		sqft INT,
		lot_sqft INT,
		property_type TEXT,
		property_subtype TEXT,
		list_date DATE,
		latitude NUMERIC(9,6),
		longitude NUMERIC(9,6),
		is_new_listing BOOLEAN,
		is_foreclosure BOOLEAN,
		is_price_reduced BOOLEAN,
		price_reduced_amount BIGINT,
		last_sold_price BIGINT,
		last_sold_date DATE,
		photo_count INT,
		photo_url TEXT,
		detail_url TEXT,
		source TEXT NOT NULL,
		scraped_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		price_per_sqft NUMERIC(10,2),
		enriched_photo_url TEXT,
		enrichment_attempts INT NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS pipeline_runs (
		id BIGSERIAL PRIMARY KEY,
		source TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ,
		status TEXT NOT NULL,
		fetched INT NOT NULL DEFAULT 0,
		inserted INT NOT NULL DEFAULT 0,
		updated INT NOT NULL DEFAULT 0,
		unchanged INT NOT NULL DEFAULT 0,
		records_failed INT NOT NULL DEFAULT 0,
		zips_failed INT NOT NULL DEFAULT 0,
		error_message TEXT,
		metadata JSONB
	);

	CREATE TABLE IF NOT EXISTS listing_photos (
		id UUID PRIMARY KEY,
		property_id TEXT NOT NULL,
		original_url TEXT NOT NULL UNIQUE,
		s3_key TEXT,
		content_hash TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		attempts INT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_listings_zip ON listings(zip_code);
	CREATE INDEX IF NOT EXISTS idx_listings_status ON listings(status);
	CREATE INDEX IF NOT EXISTS idx_listings_type ON listings(property_type);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON pipeline_runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_photos_pending ON listing_photos(status, attempts);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// =============================================================================
// Listings
// =============================================================================

const listingColumns = `property_id, listing_id, status, address, city, state, zip_code,
	price, beds, baths, sqft, lot_sqft, property_type, property_subtype, list_date,
	latitude, longitude, is_new_listing, is_foreclosure, is_price_reduced,
	price_reduced_amount, last_sold_price, last_sold_date, photo_count, photo_url,
	detail_url, source, scraped_at`

func (s *PostgresStore) GetListing(ctx context.Context, propertyID string) (*models.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings WHERE property_id = $1`

	var l models.Listing
	err := s.pool.QueryRow(ctx, query, propertyID).Scan(
		&l.PropertyID, &l.ListingID, &l.Status, &l.Address, &l.City, &l.State, &l.ZipCode,
		&l.Price, &l.Beds, &l.Baths, &l.Sqft, &l.LotSqft, &l.PropertyType, &l.PropertySubtype, &l.ListDate,
		&l.Latitude, &l.Longitude, &l.IsNewListing, &l.IsForeclosure, &l.IsPriceReduced,
		&l.PriceReducedAmount, &l.LastSoldPrice, &l.LastSoldDate, &l.PhotoCount, &l.PhotoURL,
		&l.DetailURL, &l.Source, &l.ScrapedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// UpsertListing writes the full canonical row. The conflict clause
// covers concurrent first-sightings of one property across partitions;
// change detection happens in the service layer before this is called.
// price_per_sqft is recomputed at write time, never carried over.
func (s *PostgresStore) UpsertListing(ctx context.Context, l *models.Listing) error {
	query := `
		INSERT INTO listings (` + listingColumns + `, price_per_sqft)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29)
		ON CONFLICT (property_id) DO UPDATE SET
			listing_id = EXCLUDED.listing_id,
			status = EXCLUDED.status,
			address = EXCLUDED.address,
			city = EXCLUDED.city,
			state = EXCLUDED.state,
			zip_code = EXCLUDED.zip_code,
			price = EXCLUDED.price,
			beds = EXCLUDED.beds,
			baths = EXCLUDED.baths,
			sqft = EXCLUDED.sqft,
			lot_sqft = EXCLUDED.lot_sqft,
			property_type = EXCLUDED.property_type,
			property_subtype = EXCLUDED.property_subtype,
			list_date = EXCLUDED.list_date,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			is_new_listing = EXCLUDED.is_new_listing,
			is_foreclosure = EXCLUDED.is_foreclosure,
			is_price_reduced = EXCLUDED.is_price_reduced,
			price_reduced_amount = EXCLUDED.price_reduced_amount,
			last_sold_price = EXCLUDED.last_sold_price,
			last_sold_date = EXCLUDED.last_sold_date,
			photo_count = EXCLUDED.photo_count,
			photo_url = EXCLUDED.photo_url,
			detail_url = EXCLUDED.detail_url,
			source = EXCLUDED.source,
			scraped_at = EXCLUDED.scraped_at,
			price_per_sqft = EXCLUDED.price_per_sqft`

	_, err := s.pool.Exec(ctx, query,
		l.PropertyID, l.ListingID, l.Status, l.Address, l.City, l.State, l.ZipCode,
		l.Price, l.Beds, l.Baths, l.Sqft, l.LotSqft, l.PropertyType, l.PropertySubtype, l.ListDate,
		l.Latitude, l.Longitude, l.IsNewListing, l.IsForeclosure, l.IsPriceReduced,
		l.PriceReducedAmount, l.LastSoldPrice, l.LastSoldDate, l.PhotoCount, l.PhotoURL,
		l.DetailURL, l.Source, l.ScrapedAt, l.PricePerSqft(),
	)
	return err
}

// =============================================================================
// Analytics
// =============================================================================

// ExecAll runs the analytics statements in one transaction, so a
// failure mid-recompute rolls back instead of leaving a view dropped
// but not recreated. The transform service owns the SQL; keeping
// execution here keeps the pool private.
func (s *PostgresStore) ExecAll(ctx context.Context, stmts []string) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, stmt := range stmts {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	})
}

// =============================================================================
// Pipeline Runs
// =============================================================================

func (s *PostgresStore) CreatePipelineRun(ctx context.Context, run *models.PipelineRun) error {
	query := `
		INSERT INTO pipeline_runs (source, started_at, status, fetched, inserted, updated,
			unchanged, records_failed, zips_failed, error_message, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''), $11)
		RETURNING id`

	return s.pool.QueryRow(ctx, query,
		run.Source, run.StartedAt, run.Status, run.Fetched, run.Inserted, run.Updated,
		run.Unchanged, run.RecordsFailed, run.ZipsFailed, run.ErrorMessage, run.Metadata,
	).Scan(&run.ID)
}

func (s *PostgresStore) UpdatePipelineRun(ctx context.Context, run *models.PipelineRun) error {
	query := `
		UPDATE pipeline_runs SET
			finished_at = $2, status = $3, fetched = $4, inserted = $5, updated = $6,
			unchanged = $7, records_failed = $8, zips_failed = $9,
			error_message = NULLIF($10, ''), metadata = $11
		WHERE id = $1`

	_, err := s.pool.Exec(ctx, query,
		run.ID, run.FinishedAt, run.Status, run.Fetched, run.Inserted, run.Updated,
		run.Unchanged, run.RecordsFailed, run.ZipsFailed, run.ErrorMessage, run.Metadata,
	)
	return err
}

// =============================================================================
// Listing Photos
// =============================================================================

func (s *PostgresStore) GetPhotoByOriginalURL(ctx context.Context, url string) (*models.ListingPhoto, error) {
	query := `
		SELECT id, property_id, original_url, s3_key, COALESCE(content_hash, ''), status, attempts, created_at
		FROM listing_photos WHERE original_url = $1`

	var p models.ListingPhoto
	err := s.pool.QueryRow(ctx, query, url).Scan(
		&p.ID, &p.PropertyID, &p.OriginalURL, &p.S3Key, &p.ContentHash, &p.Status, &p.Attempts, &p.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) InsertPhoto(ctx context.Context, p *models.ListingPhoto) error {
	query := `
		INSERT INTO listing_photos (id, property_id, original_url, status, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (original_url) DO NOTHING`

	_, err := s.pool.Exec(ctx, query, p.ID, p.PropertyID, p.OriginalURL, p.Status, p.Attempts, p.CreatedAt)
	return err
}

func (s *PostgresStore) GetPendingPhotos(ctx context.Context, limit, maxAttempts int) ([]models.ListingPhoto, error) {
	query := `
		SELECT id, property_id, original_url, s3_key, COALESCE(content_hash, ''), status, attempts, created_at
		FROM listing_photos
		WHERE status = 'pending' AND attempts < $2
		ORDER BY created_at
		LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit, maxAttempts)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var photos []models.ListingPhoto
	for rows.Next() {
		var p models.ListingPhoto
		if err := rows.Scan(
			&p.ID, &p.PropertyID, &p.OriginalURL, &p.S3Key, &p.ContentHash, &p.Status, &p.Attempts, &p.CreatedAt,
		); err != nil {
			return nil, err
		}
		photos = append(photos, p)
	}
	return photos, rows.Err()
}

func (s *PostgresStore) UpdatePhotoStatus(ctx context.Context, id uuid.UUID, status string, s3Key *string, contentHash string, attempts int) error {
	query := `UPDATE listing_photos SET status = $2, s3_key = COALESCE($3, s3_key), content_hash = COALESCE(NULLIF($4, ''), content_hash), attempts = $5 WHERE id = $1`
	_, err := s.pool.Exec(ctx, query, id, status, s3Key, contentHash, attempts)
	return err
}

// =============================================================================
// Enrichment queries
// =============================================================================

// EnrichmentCandidate is a listing carrying a detail URL but no photo.
type EnrichmentCandidate struct {
	PropertyID string
	DetailURL  string
	Attempts   int
}

func (s *PostgresStore) GetEnrichmentCandidates(ctx context.Context, limit, maxAttempts int) ([]EnrichmentCandidate, error) {
	query := `
		SELECT property_id, detail_url, enrichment_attempts
		FROM listings
		WHERE photo_url IS NULL AND enriched_photo_url IS NULL
			AND detail_url IS NOT NULL AND enrichment_attempts < $2
		ORDER BY scraped_at
		LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit, maxAttempts)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []EnrichmentCandidate
	for rows.Next() {
		var c EnrichmentCandidate
		if err := rows.Scan(&c.PropertyID, &c.DetailURL, &c.Attempts); err != nil {
			return nil, err
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

// SetEnrichedPhotoURL records the photo found by enrichment in its own
// column, outside the canonical field set the upsert engine compares.
// The API-sourced photo_url stays untouched, so an unchanged upstream
// record still reconciles as unchanged after enrichment ran.
func (s *PostgresStore) SetEnrichedPhotoURL(ctx context.Context, propertyID, photoURL string) error {
	query := `UPDATE listings SET enriched_photo_url = COALESCE(enriched_photo_url, $2) WHERE property_id = $1`
	_, err := s.pool.Exec(ctx, query, propertyID, photoURL)
	return err
}

func (s *PostgresStore) IncrementEnrichmentAttempts(ctx context.Context, propertyID string) error {
	query := `UPDATE listings SET enrichment_attempts = enrichment_attempts + 1 WHERE property_id = $1`
	_, err := s.pool.Exec(ctx, query, propertyID)
	return err
}
