package scraper

import (
	"context"
	"encoding/json"
)

// PageQuery describes one page request for one postal code.
type PageQuery struct {
	PostalCode string
	Status     []string
	Offset     int
	Limit      int
}

// SearchPage is one decoded page of raw results. Results stay raw so
// one undecodable record cannot sink the page.
type SearchPage struct {
	Results []json.RawMessage
	Total   int
	Count   int
}

// HasMore reports whether another page should be requested after this
// one: a full page, with the declared total not yet reached.
func (p *SearchPage) HasMore(nextOffset, pageSize int) bool {
	if len(p.Results) == 0 || len(p.Results) < pageSize {
		return false
	}
	if p.Total > 0 && nextOffset >= p.Total {
		return false
	}
	return true
}

// Fetcher is the upstream API capability: one page of raw records or
// a classified failure.
type Fetcher interface {
	FetchPage(ctx context.Context, q PageQuery) (*SearchPage, error)
}
