package geocoding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"github.com/wonpark/navlink/geo"
)

// ErrNotFound is returned when Nominatim has no result for a query.
var ErrNotFound = errors.New("geocoding: no results")

const defaultRetryBase = 500 * time.Millisecond

// Place is a resolved location.
type Place struct {
	Coordinate  geo.Coordinate
	DisplayName string
}

// Options configures a Client. Zero values fall back to conservative
// defaults suitable for the public Nominatim instance.
type Options struct {
	BaseURL    string
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int
	CacheSize  int
	CacheTTL   time.Duration
}

// Client resolves addresses against a Nominatim instance. Requests are
// limited to one per second and results are cached, per the public usage
// policy.
type Client struct {
	baseURL    string
	userAgent  string
	maxRetries int
	retryBase  time.Duration

	httpClient *http.Client
	limiter    *rate.Limiter
	cache      *expirable.LRU[string, Place]
}

// NewClient builds a geocoding client.
func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://nominatim.openstreetmap.org"
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "navlink/1.0"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 100
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}

	return &Client{
		baseURL:    opts.BaseURL,
		userAgent:  opts.UserAgent,
		maxRetries: opts.MaxRetries,
		retryBase:  defaultRetryBase,
		httpClient: &http.Client{Timeout: opts.Timeout},
		limiter:    rate.NewLimiter(rate.Every(time.Second), 1),
		cache:      expirable.NewLRU[string, Place](opts.CacheSize, nil, opts.CacheTTL),
	}
}

type nominatimResult struct {
	DisplayName string `json:"display_name"`
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	Error       string `json:"error"`
}

// Search resolves a free-form address to a place. Results are cached by
// query string.
func (c *Client) Search(ctx context.Context, query string) (Place, error) {
	if query == "" {
		return Place{}, ErrNotFound
	}

	key := "s:" + query
	if place, ok := c.cache.Get(key); ok {
		return place, nil
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("limit", "1")

	var results []nominatimResult
	if err := c.fetch(ctx, c.baseURL+"/search?"+params.Encode(), &results); err != nil {
		return Place{}, err
	}
	if len(results) == 0 {
		return Place{}, fmt.Errorf("%w for %q", ErrNotFound, query)
	}

	place, err := results[0].toPlace()
	if err != nil {
		return Place{}, err
	}
	c.cache.Add(key, place)
	return place, nil
}

// Reverse resolves a coordinate to the nearest address. Results are cached
// with coordinates rounded to five decimals, roughly one meter.
func (c *Client) Reverse(ctx context.Context, coord geo.Coordinate) (Place, error) {
	key := fmt.Sprintf("r:%.5f,%.5f", coord.Lat, coord.Lon)
	if place, ok := c.cache.Get(key); ok {
		return place, nil
	}

	params := url.Values{}
	params.Set("lat", strconv.FormatFloat(coord.Lat, 'f', -1, 64))
	params.Set("lon", strconv.FormatFloat(coord.Lon, 'f', -1, 64))
	params.Set("format", "json")

	var result nominatimResult
	if err := c.fetch(ctx, c.baseURL+"/reverse?"+params.Encode(), &result); err != nil {
		return Place{}, err
	}
	if result.Error != "" || result.DisplayName == "" {
		return Place{}, fmt.Errorf("%w near %s", ErrNotFound, coord)
	}

	place, err := result.toPlace()
	if err != nil {
		return Place{}, err
	}
	c.cache.Add(key, place)
	return place, nil
}

func (r nominatimResult) toPlace() (Place, error) {
	lat, err := strconv.ParseFloat(r.Lat, 64)
	if err != nil {
		return Place{}, fmt.Errorf("geocoding: bad latitude %q: %w", r.Lat, err)
	}
	lon, err := strconv.ParseFloat(r.Lon, 64)
	if err != nil {
		return Place{}, fmt.Errorf("geocoding: bad longitude %q: %w", r.Lon, err)
	}
	return Place{
		Coordinate:  geo.Coordinate{Lat: lat, Lon: lon},
		DisplayName: r.DisplayName,
	}, nil
}

// fetch runs one rate-limited GET with retries. Server errors and 429s are
// retried with a doubling delay; a Retry-After header on a 429 overrides
// the next delay. Other client errors fail immediately.
func (c *Client) fetch(ctx context.Context, requestURL string, out any) error {
	var lastErr error
	delay := c.retryBase

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
		if err != nil {
			return fmt.Errorf("geocoding: build request: %w", err)
		}
		req.Header.Set("User-Agent", c.userAgent)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("geocoding request: %w", err)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			err := json.NewDecoder(resp.Body).Decode(out)
			resp.Body.Close()
			if err != nil {
				return fmt.Errorf("geocoding: decode response: %w", err)
			}
			return nil
		case resp.StatusCode == http.StatusTooManyRequests:
			if ra := resp.Header.Get("Retry-After"); ra != "" {
				if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
					delay = time.Duration(secs) * time.Second
				}
			}
			resp.Body.Close()
			lastErr = fmt.Errorf("geocoding: rate limited (status %d)", resp.StatusCode)
		case resp.StatusCode >= 500:
			resp.Body.Close()
			lastErr = fmt.Errorf("geocoding: server error (status %d)", resp.StatusCode)
		default:
			resp.Body.Close()
			return fmt.Errorf("geocoding: request failed with status %d", resp.StatusCode)
		}
	}
	return lastErr
}
