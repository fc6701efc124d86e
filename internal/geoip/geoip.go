// Package geoip enriches host addresses with location data from an
// ipinfo-style HTTP lookup service, with an in-process cache in front.
package geoip

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/alicorn-scan/alicorn/internal/errors"
	"github.com/alicorn-scan/alicorn/internal/metrics"
)

// Location is the subset of lookup fields the dashboard displays.
type Location struct {
	IP       string `json:"ip"`
	Hostname string `json:"hostname,omitempty"`
	City     string `json:"city,omitempty"`
	Region   string `json:"region,omitempty"`
	Country  string `json:"country,omitempty"`
	Org      string `json:"org,omitempty"`
	Loc      string `json:"loc,omitempty"`
}

// Provider resolves an address to a location.
type Provider interface {
	Lookup(ctx context.Context, addr string) (*Location, error)
}

// HTTPProvider queries an ipinfo.io compatible endpoint.
type HTTPProvider struct {
	endpoint string
	token    string
	client   *http.Client
}

// NewHTTPProvider creates a provider for the given base endpoint. The
// token is optional; when set it is passed as a query parameter.
func NewHTTPProvider(endpoint, token string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		endpoint: endpoint,
		token:    token,
		client:   &http.Client{Timeout: timeout},
	}
}

// Lookup fetches location data for one address.
func (p *HTTPProvider) Lookup(ctx context.Context, addr string) (*Location, error) {
	lookupURL := fmt.Sprintf("%s/%s/json", p.endpoint, url.PathEscape(addr))
	if p.token != "" {
		lookupURL += "?token=" + url.QueryEscape(p.token)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, lookupURL, http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(errors.CodeServiceUnavailable, "geoip lookup failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, errors.ErrNotFoundWithID("geoip location", addr)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errors.New(errors.CodeServiceUnavailable,
			fmt.Sprintf("geoip lookup returned status %d: %s", resp.StatusCode, string(body)))
	}

	var loc Location
	if err := json.NewDecoder(resp.Body).Decode(&loc); err != nil {
		return nil, errors.Wrap(errors.CodeServiceUnavailable, "geoip response unreadable", err)
	}
	if loc.IP == "" {
		loc.IP = addr
	}
	return &loc, nil
}

// Cache defaults. Locations are small; the cost model just counts
// entries.
const (
	cacheNumCounters = 100_000
	cacheMaxEntries  = 10_000
	cacheTTL         = 6 * time.Hour
)

// CachedProvider wraps a Provider with a ristretto cache so repeated
// comparisons do not hammer the lookup service.
type CachedProvider struct {
	inner   Provider
	cache   *ristretto.Cache
	metrics *metrics.Metrics
}

// NewCachedProvider wraps the given provider. metrics may be nil.
func NewCachedProvider(inner Provider, m *metrics.Metrics) (*CachedProvider, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cacheNumCounters,
		MaxCost:     cacheMaxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &CachedProvider{inner: inner, cache: cache, metrics: m}, nil
}

// Lookup returns the cached location when available, otherwise consults
// the inner provider. Lookup failures are not cached.
func (p *CachedProvider) Lookup(ctx context.Context, addr string) (*Location, error) {
	if cached, ok := p.cache.Get(addr); ok {
		p.record("hit")
		return cached.(*Location), nil
	}

	loc, err := p.inner.Lookup(ctx, addr)
	if err != nil {
		p.record("error")
		return nil, err
	}
	p.cache.SetWithTTL(addr, loc, 1, cacheTTL)
	p.record("miss")
	return loc, nil
}

// Close releases the cache resources.
func (p *CachedProvider) Close() {
	p.cache.Close()
}

func (p *CachedProvider) record(result string) {
	if p.metrics != nil {
		p.metrics.RecordLookup("geoip", result)
	}
}
