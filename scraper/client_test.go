package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"realty_pipeline/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*RealtyClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewTLSServer(handler)
	t.Cleanup(srv.Close)
	cfg := config.APIConfig{
		Host: strings.TrimPrefix(srv.URL, "https://"),
		Key:  "test-key",
	}
	return NewRealtyClient(cfg, srv.Client()), srv
}

func TestFetchPage_Success(t *testing.T) {
	var gotReq searchRequest
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/properties/v3/list" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("x-rapidapi-key") != "test-key" {
			t.Errorf("missing api key header")
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Write([]byte(`{"data":{"home_search":{"total":120,"count":2,"results":[{"property_id":"1"},{"property_id":"2"}]}}}`))
	})

	page, err := client.FetchPage(context.Background(), PageQuery{
		PostalCode: "90004",
		Status:     []string{"for_sale"},
		Offset:     40,
		Limit:      20,
	})
	if err != nil {
		t.Fatalf("FetchPage failed: %v", err)
	}
	if page.Total != 120 || page.Count != 2 || len(page.Results) != 2 {
		t.Fatalf("unexpected page: total=%d count=%d results=%d", page.Total, page.Count, len(page.Results))
	}
	if gotReq.PostalCode != "90004" || gotReq.Offset != 40 || gotReq.Limit != 20 {
		t.Fatalf("unexpected request payload: %+v", gotReq)
	}
	if gotReq.Sort.Field != "list_date" || gotReq.Sort.Direction != "desc" {
		t.Fatalf("unexpected sort: %+v", gotReq.Sort)
	}
}

func TestFetchPage_AuthFailureIsFatal(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"bad key"}`, http.StatusUnauthorized)
	})

	_, err := client.FetchPage(context.Background(), PageQuery{PostalCode: "90004", Limit: 20})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.Kind != FailureAuth {
		t.Fatalf("expected auth failure, got %s", apiErr.Kind)
	}
	if !apiErr.Fatal() || apiErr.Retryable() {
		t.Fatalf("auth failure must be fatal and not retryable")
	}
	if apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unexpected status %d", apiErr.StatusCode)
	}
}

func TestFetchPage_RateLimitCarriesRetryAfter(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.FetchPage(context.Background(), PageQuery{PostalCode: "90004", Limit: 20})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.Kind != FailureRateLimit {
		t.Fatalf("expected rate limit, got %s", apiErr.Kind)
	}
	if apiErr.RetryAfter != 7*time.Second {
		t.Fatalf("expected RetryAfter 7s, got %s", apiErr.RetryAfter)
	}
	if !apiErr.Retryable() || apiErr.Fatal() {
		t.Fatalf("rate limit must be retryable and not fatal")
	}
}

func TestFetchPage_ServerErrorIsTransient(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusInternalServerError)
	})

	_, err := client.FetchPage(context.Background(), PageQuery{PostalCode: "90004", Limit: 20})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.Kind != FailureTransient || !apiErr.Retryable() {
		t.Fatalf("expected retryable transient failure, got %s", apiErr.Kind)
	}
}

func TestFetchPage_TimeoutIsTransient(t *testing.T) {
	_, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	})
	// Per-request timeout well below the handler's delay.
	httpClient := srv.Client()
	httpClient.Timeout = 20 * time.Millisecond
	client := NewRealtyClient(config.APIConfig{
		Host: strings.TrimPrefix(srv.URL, "https://"),
		Key:  "test-key",
	}, httpClient)

	_, err := client.FetchPage(context.Background(), PageQuery{PostalCode: "90004", Limit: 20})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError for a timed-out request, got %v", err)
	}
	if apiErr.Kind != FailureTransient || !apiErr.Retryable() {
		t.Fatalf("expected retryable transient failure, got %s", apiErr.Kind)
	}
}

func TestFetchPage_CallerCancellationPassesThrough(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.FetchPage(ctx, PageQuery{PostalCode: "90004", Limit: 20})
	if err == nil {
		t.Fatalf("expected error for canceled context")
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		t.Fatalf("caller cancellation must not be classified as an API failure: %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestFetchPage_GarbledBodyIsTransient(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data": not-json`))
	})

	_, err := client.FetchPage(context.Background(), PageQuery{PostalCode: "90004", Limit: 20})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.Kind != FailureTransient {
		t.Fatalf("expected transient failure, got %s", apiErr.Kind)
	}
}

func TestFetchPage_MalformedRequestIsFatal(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad shape", http.StatusUnprocessableEntity)
	})

	_, err := client.FetchPage(context.Background(), PageQuery{PostalCode: "90004", Limit: 20})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.Kind != FailureMalformed || !apiErr.Fatal() {
		t.Fatalf("expected fatal malformed-request failure, got %s", apiErr.Kind)
	}
}

func TestBackoffDelay(t *testing.T) {
	base := time.Second
	ceil := 30 * time.Second

	// Without jitter the ladder is exact doubling.
	for attempt, want := range []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
	} {
		if got := backoffDelay(attempt, base, ceil, nil); got != want {
			t.Fatalf("attempt %d: got %s, want %s", attempt, got, want)
		}
	}

	if got := backoffDelay(10, base, ceil, nil); got != ceil {
		t.Fatalf("expected ceiling %s, got %s", ceil, got)
	}

	// Jitter stays within 25% of the undecorated delay and never
	// exceeds the ceiling.
	rng := rand.New(rand.NewSource(1))
	for attempt := 0; attempt < 12; attempt++ {
		got := backoffDelay(attempt, base, ceil, rng)
		bare := backoffDelay(attempt, base, ceil, nil)
		if got < bare || got > bare+bare/4 || got > ceil {
			t.Fatalf("attempt %d: jittered delay %s outside [%s, %s] cap %s", attempt, got, bare, bare+bare/4, ceil)
		}
	}

	// Same seed, same ladder.
	a := rand.New(rand.NewSource(42))
	b := rand.New(rand.NewSource(42))
	for attempt := 0; attempt < 5; attempt++ {
		if x, y := backoffDelay(attempt, base, ceil, a), backoffDelay(attempt, base, ceil, b); x != y {
			t.Fatalf("attempt %d: same seed diverged: %s vs %s", attempt, x, y)
		}
	}
}

func TestParseRetryAfter(t *testing.T) {
	if got := parseRetryAfter("15"); got != 15*time.Second {
		t.Fatalf("expected 15s, got %s", got)
	}
	if got := parseRetryAfter(""); got != 0 {
		t.Fatalf("expected 0 for empty header, got %s", got)
	}
	if got := parseRetryAfter("garbage"); got != 0 {
		t.Fatalf("expected 0 for unparseable header, got %s", got)
	}
	future := time.Now().Add(time.Minute).UTC().Format(http.TimeFormat)
	if got := parseRetryAfter(future); got <= 50*time.Second || got > time.Minute {
		t.Fatalf("expected roughly one minute for HTTP date, got %s", got)
	}
}

func TestSearchPageHasMore(t *testing.T) {
	full := make([]json.RawMessage, 20)
	cases := []struct {
		name       string
		page       SearchPage
		nextOffset int
		pageSize   int
		want       bool
	}{
		{"full page below total", SearchPage{Results: full, Total: 100}, 20, 20, true},
		{"short page", SearchPage{Results: full[:5], Total: 100}, 20, 20, false},
		{"empty page", SearchPage{Total: 100}, 20, 20, false},
		{"offset reaches total", SearchPage{Results: full, Total: 40}, 40, 20, false},
		{"total unknown", SearchPage{Results: full}, 20, 20, true},
	}
	for _, c := range cases {
		if got := c.page.HasMore(c.nextOffset, c.pageSize); got != c.want {
			t.Fatalf("%s: HasMore = %v, want %v", c.name, got, c.want)
		}
	}
}
