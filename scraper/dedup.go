package scraper

import "realty_pipeline/models"

// Precedence picks the surviving record when one property_id shows up
// more than once inside a single partition batch.
type Precedence string

const (
	LastWins  Precedence = "last_wins"
	FirstWins Precedence = "first_wins"
)

// ParsePrecedence maps a config string onto a Precedence, defaulting
// to last-seen-wins.
func ParsePrecedence(s string) Precedence {
	if Precedence(s) == FirstWins {
		return FirstWins
	}
	return LastWins
}

// Dedupe collapses duplicate property_ids within one partition's
// ordered batch: exactly one entry per distinct id, chosen by arrival
// order and precedence. Cross-partition duplicates are left to the
// upsert engine's per-key idempotence.
func Dedupe(listings []*models.Listing, p Precedence) map[string]*models.Listing {
	out := make(map[string]*models.Listing, len(listings))
	for _, l := range listings {
		if l == nil {
			continue
		}
		if _, seen := out[l.PropertyID]; seen && p == FirstWins {
			continue
		}
		out[l.PropertyID] = l
	}
	return out
}
