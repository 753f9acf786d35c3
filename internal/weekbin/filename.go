// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package weekbin

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"regexp"
	"strings"

	"github.com/ManuGH/papercast/internal/urlx"
)

// nonDescriptivePaths are URL paths that say nothing about the content; a
// provided title takes over the basename for these.
var nonDescriptivePaths = map[string]bool{
	"item":     true,
	"comments": true,
	"post":     true,
	"p":        true,
	"a":        true,
	"article":  true,
	"story":    true,
	"s":        true,
}

// socialHosts get their "status" path segment rewritten so the filename says
// what was actually captured (the linked article vs the post itself).
var socialHosts = map[string]bool{
	"x.com":       true,
	"twitter.com": true,
}

var (
	slugStrip   = regexp.MustCompile(`[^a-z0-9]+`)
	unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
)

const (
	maxSlugLen     = 50
	maxFileNameLen = 100
)

// PDFFileName derives the weekly-bin filename for a captured page.
func PDFFileName(rawURL string, opts SaveOptions) string {
	return sanitizeFileName(pdfBaseName(rawURL, opts)) + ".pdf"
}

func pdfBaseName(rawURL string, opts SaveOptions) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return rawURL
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	path := strings.Trim(u.Path, "/")
	if strings.HasSuffix(strings.ToLower(path), ".pdf") {
		path = path[:len(path)-len(".pdf")]
	}

	if path == "" || nonDescriptivePaths[strings.ToLower(path)] {
		if opts.Title != "" {
			if slug := Slug(opts.Title); slug != "" {
				return host + "-" + slug
			}
		}
		// Without a title the path carries no identity, so distinct
		// bookmarks like item?id=1 and item?id=2 would land in the same
		// file. A tag over the canonical query keeps them apart.
		if tag := queryTag(rawURL); tag != "" {
			if path == "" {
				return host + "-" + tag
			}
			return host + "-" + path + "-" + tag
		}
	}
	if path == "" {
		return host
	}

	segs := strings.Split(path, "/")
	if socialHosts[host] {
		for i, seg := range segs {
			if seg != "status" {
				continue
			}
			if opts.DirectArticle {
				segs[i] = "article"
			} else {
				segs[i] = "post"
			}
		}
	}
	return host + "-" + strings.Join(segs, "-")
}

// queryTag fingerprints the canonical query string. Tracking parameters and
// parameter order never influence the tag, matching how dedup keys bookmarks.
func queryTag(rawURL string) string {
	canon, err := urlx.Canonical(rawURL)
	if err != nil {
		canon = rawURL
	}
	u, err := url.Parse(canon)
	if err != nil || u.RawQuery == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(u.RawQuery))
	return hex.EncodeToString(sum[:])[:8]
}

// Slug turns a title into a filename fragment: lowercase, drop apostrophes,
// collapse everything non-alphanumeric into single dashes.
func Slug(title string) string {
	s := strings.ToLower(title)
	s = strings.ReplaceAll(s, "'", "")
	s = strings.ReplaceAll(s, "’", "")
	s = slugStrip.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > maxSlugLen {
		s = strings.TrimRight(s[:maxSlugLen], "-")
	}
	return s
}

// MediaFileName derives a download filename from the item title, falling back
// to the source hostname. ext must include the leading dot.
func MediaFileName(title, rawURL, ext string) string {
	base := strings.TrimSpace(title)
	if base == "" {
		if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
			base = strings.TrimPrefix(u.Hostname(), "www.")
		} else {
			base = "download"
		}
	}
	return sanitizeFileName(base) + ext
}

// sanitizeFileName strips path-unsafe characters and bounds the length. The
// result never starts with a dot, so no hidden files land in a bin.
func sanitizeFileName(name string) string {
	s := unsafeChars.ReplaceAllString(name, "-")
	s = strings.Trim(s, "-.")
	if len(s) > maxFileNameLen {
		s = strings.TrimRight(s[:maxFileNameLen], "-.")
	}
	if s == "" {
		return "file"
	}
	return s
}
