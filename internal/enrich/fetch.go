// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package enrich

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	fetchTimeout = 15 * time.Second
	maxBodySize  = 2 << 20

	// One request per second per host with a small burst keeps enrichment
	// polite when a poll floods the queue with items from one site.
	perHostRate     = rate.Limit(1)
	perHostBurst    = 3
	cleanupInterval = 5 * time.Minute
)

// Fetcher retrieves bookmark pages for metadata extraction: browser UA, 15s
// budget, 2MB body cap, per-host rate limiting.
type Fetcher struct {
	http *http.Client
	ua   string

	mu          sync.Mutex
	perHost     map[string]*rate.Limiter
	lastCleanup time.Time
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithHTTPClient replaces the transport, mainly for tests.
func WithHTTPClient(h *http.Client) FetcherOption {
	return func(f *Fetcher) { f.http = h }
}

func NewFetcher(userAgent string, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		http:        &http.Client{Timeout: fetchTimeout},
		ua:          userAgent,
		perHost:     make(map[string]*rate.Limiter),
		lastCleanup: time.Now(),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// FetchMetadata downloads a page and extracts its article metadata.
func (f *Fetcher) FetchMetadata(ctx context.Context, rawURL string) (Metadata, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return Metadata{}, fmt.Errorf("unusable url %q", rawURL)
	}
	if err := f.hostLimiter(u.Host).Wait(ctx); err != nil {
		return Metadata{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Metadata{}, fmt.Errorf("build request: %w", err)
	}
	if f.ua != "" {
		req.Header.Set("User-Agent", f.ua)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,*/*;q=0.8")

	res, err := f.http.Do(req)
	if err != nil {
		return Metadata{}, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return Metadata{}, fmt.Errorf("fetch %s: status %d", rawURL, res.StatusCode)
	}
	return Extract(io.LimitReader(res.Body, maxBodySize))
}

func (f *Fetcher) hostLimiter(host string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()

	if time.Since(f.lastCleanup) > cleanupInterval {
		f.perHost = make(map[string]*rate.Limiter)
		f.lastCleanup = time.Now()
	}

	lim, ok := f.perHost[host]
	if !ok {
		lim = rate.NewLimiter(perHostRate, perHostBurst)
		f.perHost[host] = lim
	}
	return lim
}
