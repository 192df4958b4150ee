package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"realty_pipeline/config"
)

// RealtyClient talks to the realty-in-us search endpoint on RapidAPI.
type RealtyClient struct {
	host   string
	key    string
	client *http.Client
}

func NewRealtyClient(cfg config.APIConfig, client *http.Client) *RealtyClient {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &RealtyClient{
		host:   cfg.Host,
		key:    cfg.Key,
		client: client,
	}
}

type searchRequest struct {
	Limit      int      `json:"limit"`
	Offset     int      `json:"offset"`
	PostalCode string   `json:"postal_code"`
	Status     []string `json:"status"`
	Sort       sortSpec `json:"sort"`
}

type sortSpec struct {
	Direction string `json:"direction"`
	Field     string `json:"field"`
}

type searchResponse struct {
	Data struct {
		HomeSearch struct {
			Total   int               `json:"total"`
			Count   int               `json:"count"`
			Results []json.RawMessage `json:"results"`
		} `json:"home_search"`
	} `json:"data"`
}

// FetchPage issues a single search request. Failures come back as
// *APIError so the orchestrator can tell transient from fatal.
func (c *RealtyClient) FetchPage(ctx context.Context, q PageQuery) (*SearchPage, error) {
	payload := searchRequest{
		Limit:      q.Limit,
		Offset:     q.Offset,
		PostalCode: q.PostalCode,
		Status:     q.Status,
		Sort:       sortSpec{Direction: "desc", Field: "list_date"},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}

	url := fmt.Sprintf("https://%s/properties/v3/list", c.host)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-rapidapi-host", c.host)
	req.Header.Set("x-rapidapi-key", c.key)

	resp, err := c.client.Do(req)
	if err != nil {
		// The caller backing out is its signal, not an API failure.
		// A per-request timeout also satisfies DeadlineExceeded, so
		// check the caller's context rather than the error: a slow
		// response is transient and worth retrying.
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, &APIError{Kind: FailureTransient, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Kind:       classifyStatus(resp.StatusCode),
			Body:       string(bytes.TrimSpace(respBody)),
		}
		if apiErr.Kind == FailureRateLimit {
			apiErr.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		}
		return nil, apiErr
	}

	var result searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		// A garbled 200 body is worth another attempt.
		return nil, &APIError{StatusCode: resp.StatusCode, Kind: FailureTransient, Err: fmt.Errorf("decode response: %w", err)}
	}

	return &SearchPage{
		Results: result.Data.HomeSearch.Results,
		Total:   result.Data.HomeSearch.Total,
		Count:   result.Data.HomeSearch.Count,
	}, nil
}

// backoffDelay doubles base per attempt up to ceil, then adds up to
// 25% jitter from rng. Deterministic for a seeded rng.
func backoffDelay(attempt int, base, ceil time.Duration, rng *rand.Rand) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if ceil > 0 && d >= ceil {
			d = ceil
			break
		}
	}
	if rng != nil && d > 0 {
		d += time.Duration(rng.Int63n(int64(d)/4 + 1))
	}
	if ceil > 0 && d > ceil {
		d = ceil
	}
	return d
}
