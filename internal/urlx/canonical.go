// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package urlx canonicalizes bookmark URLs so every component keys dedup
// state and artifacts off the same string. Canonical is pure and idempotent:
// feeding its output back returns the identical string.
package urlx

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// utmParam matches the utm_* campaign parameter family.
var utmParam = regexp.MustCompile(`(?i)^utm_\w+`)

// trackingParams are deleted verbatim, on top of the utm_* family.
var trackingParams = map[string]bool{
	"ref":     true,
	"source":  true,
	"fbclid":  true,
	"gclid":   true,
	"msclkid": true,
}

// Canonical normalizes a bookmark URL:
// - lowercases the host and strips a leading "www."
// - drops default ports (:80 on http, :443 on https)
// - strips the fragment, including #:~:text= text fragments
// - deletes tracking query parameters and sorts the rest
// - trims trailing slashes, so the bare-root path disappears entirely
//
// Relative or unparseable input is an error; Canonical never panics.
func Canonical(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("not an absolute url: %q", raw)
	}

	host := strings.ToLower(u.Host)
	host = strings.TrimPrefix(host, "www.")
	switch {
	case u.Scheme == "http" && strings.HasSuffix(host, ":80"):
		host = strings.TrimSuffix(host, ":80")
	case u.Scheme == "https" && strings.HasSuffix(host, ":443"):
		host = strings.TrimSuffix(host, ":443")
	}
	u.Host = host

	u.Fragment = ""
	u.RawFragment = ""

	q := u.Query()
	for key := range q {
		if utmParam.MatchString(key) || trackingParams[key] {
			q.Del(key)
		}
	}
	u.RawQuery = q.Encode() // Encode sorts keys

	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""

	return u.String(), nil
}

// Fingerprint returns a short stable key for a URL, derived from its
// canonical form (or the raw string when canonicalization fails).
func Fingerprint(raw string) string {
	canon, err := Canonical(raw)
	if err != nil {
		canon = raw
	}
	sum := sha256.Sum256([]byte(canon))
	return hex.EncodeToString(sum[:])[:16]
}

var idUnsafe = regexp.MustCompile(`[^a-zA-Z0-9]+`)

// JobID derives a deterministic queue job id from a URL. Runs of
// non-alphanumeric characters collapse to single dashes so the id stays
// readable in queue inspection tools. Distinct URLs keep distinct ids.
func JobID(raw string) string {
	return strings.Trim(idUnsafe.ReplaceAllString(raw, "-"), "-")
}
