package models

import (
	"testing"
	"time"
)

func TestPricePerSqft(t *testing.T) {
	price := int64(439999)
	sqft := 712
	zero := 0

	cases := []struct {
		name string
		l    Listing
		want *float64
	}{
		{"both present", Listing{Price: &price, Sqft: &sqft}, f64(617.98)},
		{"nil price", Listing{Sqft: &sqft}, nil},
		{"nil sqft", Listing{Price: &price}, nil},
		{"zero sqft", Listing{Price: &price, Sqft: &zero}, nil},
	}

	for _, c := range cases {
		got := c.l.PricePerSqft()
		if (got == nil) != (c.want == nil) {
			t.Fatalf("%s: got %v, want %v", c.name, got, c.want)
		}
		if got != nil && *got != *c.want {
			t.Fatalf("%s: got %v, want %v", c.name, *got, *c.want)
		}
	}
}

func f64(v float64) *float64 { return &v }

func TestListingEqual(t *testing.T) {
	base := func() *Listing {
		price := int64(100)
		city := "LA"
		d := time.Date(2026, 2, 11, 0, 0, 0, 0, time.UTC)
		return &Listing{
			PropertyID: "p1",
			Price:      &price,
			City:       &city,
			ListDate:   &d,
			Source:     SourceRealtyInUS,
			ScrapedAt:  time.Now(),
		}
	}

	a, b := base(), base()
	// ScrapedAt differs but is excluded from comparison.
	b.ScrapedAt = a.ScrapedAt.Add(time.Hour)
	if !a.Equal(b) {
		t.Fatalf("identical canonical fields must compare equal")
	}

	c := base()
	newPrice := int64(99)
	c.Price = &newPrice
	if a.Equal(c) {
		t.Fatalf("differing price must compare unequal")
	}

	d := base()
	d.Price = nil
	if a.Equal(d) || d.Equal(a) {
		t.Fatalf("nil vs set pointer must compare unequal")
	}

	// Same instant in a different zone still compares equal.
	e := base()
	shifted := e.ListDate.In(time.FixedZone("X", 3600))
	e.ListDate = &shifted
	if !a.Equal(e) {
		t.Fatalf("equal instants in different zones must compare equal")
	}

	if a.Equal(nil) {
		t.Fatalf("non-nil vs nil must compare unequal")
	}
}
