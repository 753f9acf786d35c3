// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package netutil provides the outbound HTTP plumbing shared by the
// download-side workers: clients with explicit transport timeouts,
// bearer auth for protected stash asset URLs, and download filename
// negotiation.
package netutil

import (
	"mime"
	"net"
	"net/http"
	"net/url"
	"time"
)

const (
	defaultClientTimeout         = 30 * time.Second
	defaultDialTimeout           = 10 * time.Second
	defaultIdleConnTimeout       = 90 * time.Second
	defaultExpectContinueTimeout = 1 * time.Second
	defaultMaxIdleConns          = 16
	defaultMaxIdleConnsPerHost   = 4
)

// NewClient returns a client for bounded request/response exchanges. The
// transport's dial and TLS timeouts are capped independently of the overall
// timeout so a slow handshake cannot eat the whole budget.
func NewClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultClientTimeout
	}

	dialTimeout := timeout
	if dialTimeout > defaultDialTimeout {
		dialTimeout = defaultDialTimeout
	}

	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          defaultMaxIdleConns,
			MaxIdleConnsPerHost:   defaultMaxIdleConnsPerHost,
			IdleConnTimeout:       defaultIdleConnTimeout,
			TLSHandshakeTimeout:   dialTimeout,
			ExpectContinueTimeout: defaultExpectContinueTimeout,
		},
	}
}

// NewStreamingClient returns a client for long transfers and slow services.
// There is deliberately no overall timeout: callers bound the request with
// a context. dialTimeout caps connection setup; headerTimeout caps how long
// the server may take before it starts responding (the transcription
// service legitimately needs hours, so http.DefaultClient is unusable
// there).
func NewStreamingClient(dialTimeout, headerTimeout time.Duration) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          defaultMaxIdleConns,
			MaxIdleConnsPerHost:   defaultMaxIdleConnsPerHost,
			IdleConnTimeout:       defaultIdleConnTimeout,
			TLSHandshakeTimeout:   dialTimeout,
			ResponseHeaderTimeout: headerTimeout,
			ExpectContinueTimeout: defaultExpectContinueTimeout,
		},
	}
}

// AssetAuth attaches the stash API token to requests that download that
// host's protected assets. The zero value never attaches anything.
type AssetAuth struct {
	host  string
	token string
}

// AssetAuthFromFeedURL derives auth from the configured stash feed URL,
// which carries its API token as a query parameter.
func AssetAuthFromFeedURL(rawURL string) AssetAuth {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return AssetAuth{}
	}
	return AssetAuth{host: u.Host, token: u.Query().Get("token")}
}

// Matches reports whether rawURL targets the asset host.
func (a AssetAuth) Matches(rawURL string) bool {
	if a.token == "" {
		return false
	}
	u, err := url.Parse(rawURL)
	return err == nil && u.Host == a.host
}

// Apply sets the Authorization header when the request targets the asset
// host and reports whether it did.
func (a AssetAuth) Apply(req *http.Request) bool {
	if a.token == "" || req.URL == nil || req.URL.Host != a.host {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+a.token)
	return true
}

// DispositionFilename extracts the filename parameter from a
// Content-Disposition header value, or "" when absent or unparseable.
func DispositionFilename(header string) string {
	if header == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	return params["filename"]
}
