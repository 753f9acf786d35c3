// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package enrich

import (
	"net/url"
	"strings"
)

// videoOnlyHosts never render as readable articles. Without an enclosure
// there is nothing to archive from them.
var videoOnlyHosts = map[string]bool{
	"youtube.com":   true,
	"youtu.be":      true,
	"m.youtube.com": true,
	"vimeo.com":     true,
}

// IsVideoOnlyHost reports whether the URL points at a pure video platform.
func IsVideoOnlyHost(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	return videoOnlyHosts[host]
}

// IsPodcastURL reports whether the URL belongs to the podcast platform. The
// transcription worker validates the episode shape; routing only needs the
// host.
func IsPodcastURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	return host == "podcasts.apple.com"
}
