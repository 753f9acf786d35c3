// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package feeds polls the configured bookmark sources and hands new items to
// the metadata queue. Every source speaks the same contract: fetch with the
// stored HTTP validators, return normalized bookmark items, and report a 304
// so the poller leaves the cache untouched.
package feeds

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ManuGH/papercast/internal/model"
)

const (
	fetchTimeout = 30 * time.Second

	// pageLimit and maxPages bound paginated sources. Twenty pages of fifty
	// covers any realistic backlog between polls; a cold start walks the
	// whole feed anyway because no guid has been seen yet.
	pageLimit = 50
	maxPages  = 20
)

// Validators are the stored HTTP cache validators for one source.
type Validators struct {
	ETag         string `json:"etag,omitempty"`
	LastModified string `json:"lastModified,omitempty"`
}

// SeenFunc reports whether a guid has already been accepted for the source
// being polled. Paginated sources use it to stop fetching once a page
// reaches known ground.
type SeenFunc func(ctx context.Context, guid string) (bool, error)

// Result is one completed fetch. NotModified means the server answered 304:
// Items is empty and Validators carries the unchanged cache entry.
type Result struct {
	Items       []model.BookmarkItem
	Validators  Validators
	NotModified bool
}

// Source is one configured bookmark feed.
type Source interface {
	Name() model.Source
	Fetch(ctx context.Context, cached Validators, seen SeenFunc) (Result, error)
}

// SourceOptions configure the HTTP behavior shared by all sources.
type SourceOptions struct {
	// UserAgent is sent on every feed request.
	UserAgent string
	// Client overrides the default client, mainly for tests.
	Client *http.Client
}

func (o SourceOptions) client() *http.Client {
	if o.Client != nil {
		return o.Client
	}
	return &http.Client{Timeout: fetchTimeout}
}

// newGet builds a GET request with the stored validators applied as
// If-None-Match / If-Modified-Since headers.
func newGet(ctx context.Context, url, userAgent string, v Validators) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build feed request: %w", err)
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	if v.ETag != "" {
		req.Header.Set("If-None-Match", v.ETag)
	}
	if v.LastModified != "" {
		req.Header.Set("If-Modified-Since", v.LastModified)
	}
	return req, nil
}

// responseValidators lifts the cache validators off a 200 response. Servers
// that send neither header clear the entry, so the next poll runs
// unconditionally.
func responseValidators(res *http.Response) Validators {
	return Validators{
		ETag:         res.Header.Get("ETag"),
		LastModified: res.Header.Get("Last-Modified"),
	}
}
