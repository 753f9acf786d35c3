// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package podcast

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// EpisodeRef is the identity parsed out of an Apple Podcasts episode link:
// https://podcasts.apple.com/{country}/podcast/{slug}/id{podcastId}?i={episodeId}
type EpisodeRef struct {
	Country   string
	Slug      string
	PodcastID string
	EpisodeID string
}

var podcastIDSegment = regexp.MustCompile(`^id(\d+)$`)

// ParseEpisodeURL extracts the episode reference. The i query parameter is
// required: a bare show link does not name an episode to transcribe.
func ParseEpisodeURL(rawURL string) (EpisodeRef, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return EpisodeRef{}, fmt.Errorf("parse podcast url: %w", err)
	}

	ref := EpisodeRef{Country: "us"}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, seg := range segments {
		m := podcastIDSegment.FindStringSubmatch(seg)
		if m == nil {
			continue
		}
		ref.PodcastID = m[1]
		if i > 0 && segments[i-1] != "podcast" {
			ref.Slug = segments[i-1]
		}
		break
	}
	if ref.PodcastID == "" {
		return EpisodeRef{}, fmt.Errorf("no podcast id in %s", rawURL)
	}
	if len(segments) > 0 && len(segments[0]) == 2 {
		ref.Country = strings.ToLower(segments[0])
	}

	ref.EpisodeID = u.Query().Get("i")
	if ref.EpisodeID == "" {
		return EpisodeRef{}, fmt.Errorf("no episode parameter in %s", rawURL)
	}
	return ref, nil
}

// IsEpisodeURL reports whether rawURL is an Apple Podcasts episode link the
// worker can handle. The submit API uses it to route podcast bookmarks away
// from the browser pipeline.
func IsEpisodeURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if host != "podcasts.apple.com" {
		return false
	}
	_, err = ParseEpisodeURL(rawURL)
	return err == nil
}
