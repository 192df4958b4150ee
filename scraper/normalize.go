package scraper

import (
	"encoding/json"
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
	"time"

	"realty_pipeline/models"
)

// rawProperty is the optional-field tree of one search result.
// Intermediate levels are pointers so any missing nesting reads as
// nil, and numeric leaves tolerate malformed values.
type rawProperty struct {
	PropertyID         string          `json:"property_id"`
	ListingID          string          `json:"listing_id"`
	Status             string          `json:"status"`
	ListPrice          looseInt        `json:"list_price"`
	ListDate           string          `json:"list_date"`
	PriceReducedAmount looseInt        `json:"price_reduced_amount"`
	LastSoldPrice      looseInt        `json:"last_sold_price"`
	LastSoldDate       string          `json:"last_sold_date"`
	PhotoCount         looseInt        `json:"photo_count"`
	HRef               string          `json:"href"`
	Location           *rawLocation    `json:"location"`
	Description        *rawDescription `json:"description"`
	Flags              *rawFlags       `json:"flags"`
	PrimaryPhoto       *rawPhoto       `json:"primary_photo"`
}

type rawLocation struct {
	Address *rawAddress `json:"address"`
}

type rawAddress struct {
	Line       string         `json:"line"`
	City       string         `json:"city"`
	StateCode  string         `json:"state_code"`
	PostalCode string         `json:"postal_code"`
	Coordinate *rawCoordinate `json:"coordinate"`
}

type rawCoordinate struct {
	Lat looseFloat `json:"lat"`
	Lon looseFloat `json:"lon"`
}

type rawDescription struct {
	Type    string     `json:"type"`
	SubType string     `json:"sub_type"`
	Beds    looseInt   `json:"beds"`
	Baths   looseFloat `json:"baths"`
	Sqft    looseInt   `json:"sqft"`
	LotSqft looseInt   `json:"lot_sqft"`
}

type rawFlags struct {
	IsNewListing   *bool `json:"is_new_listing"`
	IsForeclosure  *bool `json:"is_foreclosure"`
	IsPriceReduced *bool `json:"is_price_reduced"`
}

type rawPhoto struct {
	Href string `json:"href"`
}

// ParseListing maps one raw API record onto the canonical Listing.
// Missing optional structure yields nil fields; a record without
// property_id (or an undecodable record) is rejected as malformed.
func ParseListing(raw json.RawMessage) (*models.Listing, error) {
	var r rawProperty
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	if r.PropertyID == "" {
		return nil, fmt.Errorf("%w: missing property_id", ErrMalformedRecord)
	}

	l := &models.Listing{
		PropertyID:         r.PropertyID,
		ListingID:          strPtr(r.ListingID),
		Status:             strPtr(r.Status),
		Price:              nonNegInt64(r.PropertyID, "list_price", r.ListPrice),
		PriceReducedAmount: nonNegInt64(r.PropertyID, "price_reduced_amount", r.PriceReducedAmount),
		LastSoldPrice:      nonNegInt64(r.PropertyID, "last_sold_price", r.LastSoldPrice),
		PhotoCount:         nonNegInt(r.PropertyID, "photo_count", r.PhotoCount),
		ListDate:           parseDate(r.ListDate),
		LastSoldDate:       parseDate(r.LastSoldDate),
		DetailURL:          strPtr(r.HRef),
		Source:             models.SourceRealtyInUS,
	}

	if r.Location != nil && r.Location.Address != nil {
		addr := r.Location.Address
		l.Address = strPtr(addr.Line)
		l.City = strPtr(addr.City)
		l.State = strPtr(addr.StateCode)
		l.ZipCode = strPtr(addr.PostalCode)
		if c := addr.Coordinate; c != nil {
			l.Latitude = coord(r.PropertyID, "lat", c.Lat, 90)
			l.Longitude = coord(r.PropertyID, "lon", c.Lon, 180)
		}
	}

	if d := r.Description; d != nil {
		l.PropertyType = strPtr(d.Type)
		l.PropertySubtype = strPtr(d.SubType)
		l.Beds = nonNegInt(r.PropertyID, "beds", d.Beds)
		l.Sqft = nonNegInt(r.PropertyID, "sqft", d.Sqft)
		l.LotSqft = nonNegInt(r.PropertyID, "lot_sqft", d.LotSqft)
		if d.Baths.Valid {
			if d.Baths.Val < 0 {
				logSkip(r.PropertyID, "baths", d.Baths.Val)
			} else {
				v := d.Baths.Val
				l.Baths = &v
			}
		}
	}

	if f := r.Flags; f != nil {
		l.IsNewListing = f.IsNewListing
		l.IsForeclosure = f.IsForeclosure
		l.IsPriceReduced = f.IsPriceReduced
	}

	if p := r.PrimaryPhoto; p != nil && p.Href != "" {
		l.PhotoURL = strPtr(p.Href)
	}

	return l, nil
}

// looseInt reads JSON numbers that may arrive as numbers or numeric
// strings. Anything else decodes as null instead of failing the
// record.
type looseInt struct {
	Val   int64
	Valid bool
}

func (n *looseInt) UnmarshalJSON(b []byte) error {
	n.Val, n.Valid = 0, false
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		return nil
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		n.Val, n.Valid = i, true
		return nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) && math.Abs(f) < math.MaxInt64/2 {
		n.Val, n.Valid = int64(f), true
	}
	return nil
}

type looseFloat struct {
	Val   float64
	Valid bool
}

func (n *looseFloat) UnmarshalJSON(b []byte) error {
	n.Val, n.Valid = 0, false
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		return nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		n.Val, n.Valid = f, true
	}
	return nil
}

// Known API date shapes: RFC3339 with fractional seconds, plus bare
// calendar dates on the last-sold block. Unparseable values read as
// null.
var dateLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"}

func parseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			d := t.UTC().Truncate(24 * time.Hour)
			return &d
		}
	}
	log.Printf("normalize: unparseable date %q dropped", s)
	return nil
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nonNegInt64(id, field string, n looseInt) *int64 {
	if !n.Valid {
		return nil
	}
	if n.Val < 0 {
		logSkip(id, field, float64(n.Val))
		return nil
	}
	v := n.Val
	return &v
}

func nonNegInt(id, field string, n looseInt) *int {
	if !n.Valid {
		return nil
	}
	if n.Val < 0 || n.Val > math.MaxInt32 {
		logSkip(id, field, float64(n.Val))
		return nil
	}
	v := int(n.Val)
	return &v
}

// coord validates |v| <= bound and rounds to 6 decimal places so a
// stored coordinate compares exactly against a refetched one.
func coord(id, field string, n looseFloat, bound float64) *float64 {
	if !n.Valid {
		return nil
	}
	if math.Abs(n.Val) > bound {
		logSkip(id, field, n.Val)
		return nil
	}
	v := math.Round(n.Val*1e6) / 1e6
	return &v
}

func logSkip(id, field string, val float64) {
	log.Printf("normalize: %s: out-of-range %s (%v) dropped", id, field, val)
}
