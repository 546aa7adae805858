package geocoding

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/wonpark/navlink/geo"
)

// newTestClient removes the public-instance pacing so tests run fast.
func newTestClient(baseURL string, maxRetries int) *Client {
	c := NewClient(Options{
		BaseURL:    baseURL,
		UserAgent:  "navlink-test/1.0",
		MaxRetries: maxRetries,
		CacheSize:  10,
		CacheTTL:   time.Minute,
	})
	c.limiter = rate.NewLimiter(rate.Inf, 1)
	c.retryBase = time.Millisecond
	return c
}

func TestSearch(t *testing.T) {
	var gotUA, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotUA = r.Header.Get("User-Agent")
		gotQuery = r.URL.Query().Get("q")
		w.Write([]byte(`[{"display_name":"Busan Station, Busan, South Korea","lat":"35.1151","lon":"129.0403"}]`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 0)
	place, err := c.Search(context.Background(), "Busan Station")
	if err != nil {
		t.Fatalf("search: %v", err)
	}

	if gotUA != "navlink-test/1.0" {
		t.Errorf("User-Agent not sent, got %q", gotUA)
	}
	if gotQuery != "Busan Station" {
		t.Errorf("query not forwarded, got %q", gotQuery)
	}
	if place.DisplayName != "Busan Station, Busan, South Korea" {
		t.Errorf("unexpected display name %q", place.DisplayName)
	}
	if place.Coordinate.Lat != 35.1151 || place.Coordinate.Lon != 129.0403 {
		t.Errorf("unexpected coordinate %v", place.Coordinate)
	}
}

func TestSearchCachesResults(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Write([]byte(`[{"display_name":"Somewhere","lat":"1.0","lon":"2.0"}]`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 0)
	for i := 0; i < 3; i++ {
		if _, err := c.Search(context.Background(), "Somewhere"); err != nil {
			t.Fatalf("search %d: %v", i, err)
		}
	}

	if requests != 1 {
		t.Errorf("expected 1 upstream request, got %d", requests)
	}
}

func TestSearchNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 0)
	_, err := c.Search(context.Background(), "nowhere at all")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	c := newTestClient("http://unused.invalid", 0)
	if _, err := c.Search(context.Background(), ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for empty query, got %v", err)
	}
}

func TestSearchRetriesServerErrors(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if requests <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`[{"display_name":"Recovered","lat":"1.0","lon":"2.0"}]`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 3)
	place, err := c.Search(context.Background(), "flaky")
	if err != nil {
		t.Fatalf("search should recover: %v", err)
	}
	if place.DisplayName != "Recovered" {
		t.Errorf("unexpected place %q", place.DisplayName)
	}
	if requests != 3 {
		t.Errorf("expected 3 requests, got %d", requests)
	}
}

func TestSearchGivesUpAfterRetries(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 2)
	_, err := c.Search(context.Background(), "hopeless")
	if err == nil {
		t.Fatal("expected error after retries exhausted")
	}
	if requests != 3 {
		t.Errorf("expected 3 requests (1 + 2 retries), got %d", requests)
	}
}

func TestSearchDoesNotRetryClientErrors(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 3)
	if _, err := c.Search(context.Background(), "bad"); err == nil {
		t.Fatal("expected error for 400 response")
	}
	if requests != 1 {
		t.Errorf("400 should not be retried, got %d requests", requests)
	}
}

func TestSearchRetriesRateLimit(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if requests == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`[{"display_name":"Eventually","lat":"1.0","lon":"2.0"}]`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 2)
	if _, err := c.Search(context.Background(), "throttled"); err != nil {
		t.Fatalf("search should recover from 429: %v", err)
	}
	if requests != 2 {
		t.Errorf("expected 2 requests, got %d", requests)
	}
}

func TestReverse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/reverse" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("lat") == "" || r.URL.Query().Get("lon") == "" {
			t.Error("lat/lon params missing")
		}
		w.Write([]byte(`{"display_name":"Gwangan Bridge, Busan","lat":"35.1470","lon":"129.1306"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 0)
	place, err := c.Reverse(context.Background(), geo.Coordinate{Lat: 35.1470, Lon: 129.1306})
	if err != nil {
		t.Fatalf("reverse: %v", err)
	}
	if place.DisplayName != "Gwangan Bridge, Busan" {
		t.Errorf("unexpected display name %q", place.DisplayName)
	}
}

func TestReverseNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":"Unable to geocode"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 0)
	_, err := c.Reverse(context.Background(), geo.Coordinate{Lat: 0.5, Lon: 0.5})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReverseCachesByRoundedCoordinate(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Write([]byte(`{"display_name":"Same Block","lat":"35.0","lon":"129.0"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 0)
	// Within a meter of each other, so the second lookup hits the cache.
	if _, err := c.Reverse(context.Background(), geo.Coordinate{Lat: 35.000001, Lon: 129.000001}); err != nil {
		t.Fatalf("reverse: %v", err)
	}
	if _, err := c.Reverse(context.Background(), geo.Coordinate{Lat: 35.000002, Lon: 129.000002}); err != nil {
		t.Fatalf("reverse: %v", err)
	}

	if requests != 1 {
		t.Errorf("expected 1 upstream request, got %d", requests)
	}
}
