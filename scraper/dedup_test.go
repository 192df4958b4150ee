package scraper

import (
	"testing"

	"realty_pipeline/models"
)

func mkListing(id string, price int64) *models.Listing {
	return &models.Listing{PropertyID: id, Price: &price}
}

func TestDedupe_LastWins(t *testing.T) {
	batch := []*models.Listing{
		mkListing("a", 100),
		mkListing("b", 200),
		mkListing("a", 150),
	}

	out := Dedupe(batch, LastWins)
	if len(out) != 2 {
		t.Fatalf("expected 2 distinct ids, got %d", len(out))
	}
	if got := *out["a"].Price; got != 150 {
		t.Fatalf("expected later record to win for a, got price %d", got)
	}
	if got := *out["b"].Price; got != 200 {
		t.Fatalf("unexpected price for b: %d", got)
	}
}

func TestDedupe_FirstWins(t *testing.T) {
	batch := []*models.Listing{
		mkListing("a", 100),
		mkListing("a", 150),
		mkListing("a", 175),
	}

	out := Dedupe(batch, FirstWins)
	if len(out) != 1 {
		t.Fatalf("expected 1 distinct id, got %d", len(out))
	}
	if got := *out["a"].Price; got != 100 {
		t.Fatalf("expected earliest record to win, got price %d", got)
	}
}

func TestDedupe_SkipsNil(t *testing.T) {
	out := Dedupe([]*models.Listing{nil, mkListing("a", 1), nil}, LastWins)
	if len(out) != 1 {
		t.Fatalf("expected nils skipped, got %d entries", len(out))
	}
}

func TestParsePrecedence(t *testing.T) {
	cases := []struct {
		in   string
		want Precedence
	}{
		{"first_wins", FirstWins},
		{"last_wins", LastWins},
		{"", LastWins},
		{"bogus", LastWins},
	}
	for _, c := range cases {
		if got := ParsePrecedence(c.in); got != c.want {
			t.Fatalf("ParsePrecedence(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
