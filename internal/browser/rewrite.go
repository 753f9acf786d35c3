// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package browser

import (
	"net/url"
	"strings"
)

// substackParams are tracking parameters the platform appends to shared
// links; stripping them avoids "you came from email" interstitials.
var substackParams = map[string]bool{
	"r":              true,
	"isFreemail":     true,
	"post_id":        true,
	"publication_id": true,
	"triedRedirect":  true,
}

var socialHosts = map[string]bool{
	"twitter.com":        true,
	"www.twitter.com":    true,
	"mobile.twitter.com": true,
	"x.com":              true,
	"www.x.com":          true,
}

// Rewrite is the navigation form of a submitted URL.
type Rewrite struct {
	URL      string
	Changed  bool
	Mirrored bool // social-domain rewrite, subject to the article-stub retry
}

// rewriteURL applies the pre-navigation rewrites in order: strip Substack
// tracking parameters, unwrap Datawrapper chart pages to their CDN image,
// and send social-media links to the configured mirror. Unparseable URLs
// pass through untouched.
func rewriteURL(rawURL, mirrorHost string) Rewrite {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return Rewrite{URL: rawURL}
	}
	host := strings.ToLower(u.Hostname())

	if strings.HasSuffix(host, ".substack.com") && u.RawQuery != "" {
		q := u.Query()
		changed := false
		for key := range q {
			if substackParams[key] || strings.HasPrefix(key, "utm_") {
				q.Del(key)
				changed = true
			}
		}
		if changed {
			u.RawQuery = q.Encode()
			return Rewrite{URL: u.String(), Changed: true}
		}
		return Rewrite{URL: rawURL}
	}

	if host == "datawrapper.de" || host == "www.datawrapper.de" {
		if id, ok := datawrapperID(u.Path); ok {
			return Rewrite{URL: "https://datawrapper.dwcdn.net/" + id + "/full.png", Changed: true}
		}
		return Rewrite{URL: rawURL}
	}

	if socialHosts[host] && mirrorHost != "" {
		u.Host = mirrorHost
		return Rewrite{URL: u.String(), Changed: true, Mirrored: true}
	}

	return Rewrite{URL: rawURL}
}

// datawrapperID extracts the chart id from an embed path of the form
// /_/{id} or /_/{id}/.
func datawrapperID(path string) (string, bool) {
	rest, ok := strings.CutPrefix(path, "/_/")
	if !ok {
		return "", false
	}
	rest = strings.TrimSuffix(rest, "/")
	if rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	for _, r := range rest {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return "", false
		}
	}
	return rest, true
}
