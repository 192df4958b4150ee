package services

import (
	"context"
	"fmt"
	"log"
)

// AnalyticsStore executes a batch of SQL statements atomically against
// the canonical store.
type AnalyticsStore interface {
	ExecAll(ctx context.Context, stmts []string) error
}

// AnalyticsService recomputes the derived column and the aggregate
// views from the stored listings. Every run is a full recompute, so
// rerunning after any ingest batch is safe; a failure here never
// touches canonical rows.
type AnalyticsService struct {
	store AnalyticsStore
}

func NewAnalyticsService(store AnalyticsStore) *AnalyticsService {
	return &AnalyticsService{store: store}
}

// price_per_sqft holds only where both inputs exist and sqft > 0;
// NULLIF guards the division and the explicit NULL pass clears stale
// values when an input went away.
const pricePerSqftSQL = `
	UPDATE listings
	SET price_per_sqft = ROUND(price::numeric / NULLIF(sqft, 0), 2)
	WHERE price IS NOT NULL AND sqft IS NOT NULL AND sqft > 0`

const pricePerSqftClearSQL = `
	UPDATE listings
	SET price_per_sqft = NULL
	WHERE (price IS NULL OR sqft IS NULL OR sqft <= 0) AND price_per_sqft IS NOT NULL`

const zipSummarySQL = `
	CREATE VIEW zip_summary AS
	SELECT
		zip_code,
		city,
		COUNT(*) AS listing_count,
		AVG(price)::bigint AS avg_price,
		PERCENTILE_CONT(0.5) WITHIN GROUP (ORDER BY price)::bigint AS median_price,
		MIN(price) AS min_price,
		MAX(price) AS max_price,
		AVG(price_per_sqft)::numeric(10,2) AS avg_price_per_sqft,
		AVG(sqft)::int AS avg_sqft,
		ROUND(AVG(beds), 1) AS avg_beds,
		ROUND(AVG(baths), 1) AS avg_baths
	FROM listings
	WHERE price IS NOT NULL
	GROUP BY zip_code, city
	ORDER BY avg_price DESC`

const propertyTypeStatsSQL = `
	CREATE VIEW property_type_stats AS
	SELECT
		property_type,
		property_subtype,
		COUNT(*) AS listing_count,
		AVG(price)::bigint AS avg_price,
		AVG(sqft)::int AS avg_sqft,
		AVG(price_per_sqft)::numeric(10,2) AS avg_price_per_sqft
	FROM listings
	WHERE price IS NOT NULL
	GROUP BY property_type, property_subtype
	ORDER BY listing_count DESC`

const priceDistributionSQL = `
	CREATE VIEW price_distribution AS
	SELECT
		CASE
			WHEN price < 500000 THEN 'Under 500K'
			WHEN price < 1000000 THEN '500K - 1M'
			WHEN price < 2000000 THEN '1M - 2M'
			WHEN price < 5000000 THEN '2M - 5M'
			ELSE '5M+'
		END AS price_range,
		COUNT(*) AS listing_count,
		AVG(sqft)::int AS avg_sqft,
		AVG(beds)::numeric(3,1) AS avg_beds
	FROM listings
	WHERE price IS NOT NULL
	GROUP BY price_range
	ORDER BY MIN(price)`

// RunTransforms refreshes price_per_sqft and rebuilds the three
// aggregate views in one atomic batch: either the whole recompute
// lands or the previous views survive untouched.
func (s *AnalyticsService) RunTransforms(ctx context.Context) error {
	stmts := []string{pricePerSqftSQL, pricePerSqftClearSQL}
	for _, view := range []string{"zip_summary", "property_type_stats", "price_distribution"} {
		stmts = append(stmts,
			fmt.Sprintf("DROP VIEW IF EXISTS %s", view),
			viewSQL[view],
		)
	}

	log.Println("Analytics: recomputing price_per_sqft and rebuilding views")
	if err := s.store.ExecAll(ctx, stmts); err != nil {
		return fmt.Errorf("run transforms: %w", err)
	}
	log.Println("Analytics: transforms complete")
	return nil
}

var viewSQL = map[string]string{
	"zip_summary":         zipSummarySQL,
	"property_type_stats": propertyTypeStatsSQL,
	"price_distribution":  priceDistributionSQL,
}
