package models

import (
	"math"
	"time"
)

// Source tag stored on every row this pipeline writes.
const SourceRealtyInUS = "realty_in_us"

// Listing status values commonly seen from the API. Stored as-is; the
// upstream set is not exhaustive.
const (
	StatusForSale = "for_sale"
	StatusPending = "pending"
	StatusSold    = "sold"
)

// Listing is the canonical stored representation of one property
// record. PropertyID is the external identifier and the sole upsert
// key. Nullable columns are pointers so absent and zero stay distinct.
type Listing struct {
	PropertyID         string     `json:"property_id" db:"property_id"`
	ListingID          *string    `json:"listing_id" db:"listing_id"`
	Status             *string    `json:"status" db:"status"`
	Address            *string    `json:"address" db:"address"`
	City               *string    `json:"city" db:"city"`
	State              *string    `json:"state" db:"state"`
	ZipCode            *string    `json:"zip_code" db:"zip_code"`
	Price              *int64     `json:"price" db:"price"`
	Beds               *int       `json:"beds" db:"beds"`
	Baths              *float64   `json:"baths" db:"baths"`
	Sqft               *int       `json:"sqft" db:"sqft"`
	LotSqft            *int       `json:"lot_sqft" db:"lot_sqft"`
	PropertyType       *string    `json:"property_type" db:"property_type"`
	PropertySubtype    *string    `json:"property_subtype" db:"property_subtype"`
	ListDate           *time.Time `json:"list_date" db:"list_date"`
	Latitude           *float64   `json:"latitude" db:"latitude"`
	Longitude          *float64   `json:"longitude" db:"longitude"`
	IsNewListing       *bool      `json:"is_new_listing" db:"is_new_listing"`
	IsForeclosure      *bool      `json:"is_foreclosure" db:"is_foreclosure"`
	IsPriceReduced     *bool      `json:"is_price_reduced" db:"is_price_reduced"`
	PriceReducedAmount *int64     `json:"price_reduced_amount" db:"price_reduced_amount"`
	LastSoldPrice      *int64     `json:"last_sold_price" db:"last_sold_price"`
	LastSoldDate       *time.Time `json:"last_sold_date" db:"last_sold_date"`
	PhotoCount         *int       `json:"photo_count" db:"photo_count"`
	PhotoURL           *string    `json:"photo_url" db:"photo_url"`
	DetailURL          *string    `json:"detail_url" db:"detail_url"`
	Source             string     `json:"source" db:"source"`
	ScrapedAt          time.Time  `json:"scraped_at" db:"scraped_at"`
}

// PricePerSqft derives price/sqft rounded to cents. Nil when price is
// absent or sqft is absent or zero; never a division fault.
func (l *Listing) PricePerSqft() *float64 {
	if l.Price == nil || l.Sqft == nil || *l.Sqft <= 0 {
		return nil
	}
	v := math.Round(float64(*l.Price)/float64(*l.Sqft)*100) / 100
	return &v
}

// Equal reports whether every canonical field matches. ScrapedAt and
// derived values are excluded so a re-sighting with identical upstream
// data compares equal.
func (l *Listing) Equal(o *Listing) bool {
	if l == nil || o == nil {
		return l == o
	}
	return l.PropertyID == o.PropertyID &&
		l.Source == o.Source &&
		ptrEq(l.ListingID, o.ListingID) &&
		ptrEq(l.Status, o.Status) &&
		ptrEq(l.Address, o.Address) &&
		ptrEq(l.City, o.City) &&
		ptrEq(l.State, o.State) &&
		ptrEq(l.ZipCode, o.ZipCode) &&
		ptrEq(l.Price, o.Price) &&
		ptrEq(l.Beds, o.Beds) &&
		ptrEq(l.Baths, o.Baths) &&
		ptrEq(l.Sqft, o.Sqft) &&
		ptrEq(l.LotSqft, o.LotSqft) &&
		ptrEq(l.PropertyType, o.PropertyType) &&
		ptrEq(l.PropertySubtype, o.PropertySubtype) &&
		timeEq(l.ListDate, o.ListDate) &&
		ptrEq(l.Latitude, o.Latitude) &&
		ptrEq(l.Longitude, o.Longitude) &&
		ptrEq(l.IsNewListing, o.IsNewListing) &&
		ptrEq(l.IsForeclosure, o.IsForeclosure) &&
		ptrEq(l.IsPriceReduced, o.IsPriceReduced) &&
		ptrEq(l.PriceReducedAmount, o.PriceReducedAmount) &&
		ptrEq(l.LastSoldPrice, o.LastSoldPrice) &&
		timeEq(l.LastSoldDate, o.LastSoldDate) &&
		ptrEq(l.PhotoCount, o.PhotoCount) &&
		ptrEq(l.PhotoURL, o.PhotoURL) &&
		ptrEq(l.DetailURL, o.DetailURL)
}

func ptrEq[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func timeEq(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
