// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package podcast

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/papercast/internal/failure"
	"github.com/ManuGH/papercast/internal/log"
	"github.com/ManuGH/papercast/internal/model"
	"github.com/ManuGH/papercast/internal/netutil"
)

const (
	lookupBase    = "https://itunes.apple.com"
	lookupTimeout = 15 * time.Second
	lookupLimit   = 200
)

// Lookup resolves episode references against the iTunes lookup API.
type Lookup struct {
	base   string
	http   *http.Client
	logger zerolog.Logger
}

// LookupOption configures a Lookup.
type LookupOption func(*Lookup)

// WithLookupBase points the client at a different API host, mainly for tests.
func WithLookupBase(base string) LookupOption {
	return func(l *Lookup) { l.base = base }
}

// WithLookupHTTPClient replaces the transport, mainly for tests.
func WithLookupHTTPClient(h *http.Client) LookupOption {
	return func(l *Lookup) { l.http = h }
}

func NewLookup(opts ...LookupOption) *Lookup {
	l := &Lookup{
		base:   lookupBase,
		http:   netutil.NewClient(lookupTimeout),
		logger: log.WithComponent("podcast"),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// lookupRecord is the union of the podcast and episode shapes one lookup
// response mixes together.
type lookupRecord struct {
	WrapperType          string `json:"wrapperType"`
	Kind                 string `json:"kind"`
	TrackID              int64  `json:"trackId"`
	TrackName            string `json:"trackName"`
	CollectionName       string `json:"collectionName"`
	ArtistName           string `json:"artistName"`
	FeedURL              string `json:"feedUrl"`
	PrimaryGenreName     string `json:"primaryGenreName"`
	ArtworkURL600        string `json:"artworkUrl600"`
	EpisodeURL           string `json:"episodeUrl"`
	EpisodeGUID          string `json:"episodeGuid"`
	EpisodeFileExtension string `json:"episodeFileExtension"`
	TrackTimeMillis      int64  `json:"trackTimeMillis"`
	ReleaseDate          string `json:"releaseDate"`
	Description          string `json:"description"`
	ShortDescription     string `json:"shortDescription"`
}

// Resolve fetches podcast and episode metadata in one lookup call. An
// episode absent from the batch resolves to the newest playable episode; a
// batch with nothing playable is a file_missing classification.
func (l *Lookup) Resolve(ctx context.Context, ref EpisodeRef) (*model.PodcastMetadata, error) {
	q := url.Values{}
	q.Set("id", ref.PodcastID)
	q.Set("country", ref.Country)
	q.Set("media", "podcast")
	q.Set("entity", "podcastEpisode")
	q.Set("limit", strconv.Itoa(lookupLimit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.base+"/lookup?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	res, err := l.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("itunes lookup: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("itunes lookup returned %d", res.StatusCode)
	}

	var payload struct {
		ResultCount int            `json:"resultCount"`
		Results     []lookupRecord `json:"results"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode itunes lookup: %w", err)
	}

	meta := &model.PodcastMetadata{
		PodcastID: ref.PodcastID,
		EpisodeID: ref.EpisodeID,
		Country:   ref.Country,
	}
	var episodes []lookupRecord
	for _, rec := range payload.Results {
		switch rec.WrapperType {
		case "track":
			meta.PodcastName = rec.CollectionName
			if meta.PodcastName == "" {
				meta.PodcastName = rec.TrackName
			}
			meta.ArtistName = rec.ArtistName
			meta.FeedURL = rec.FeedURL
			meta.Genre = rec.PrimaryGenreName
			meta.ArtworkURL = rec.ArtworkURL600
		case "podcastEpisode":
			episodes = append(episodes, rec)
		}
	}

	chosen, ok := l.pickEpisode(episodes, ref)
	if !ok {
		return nil, failure.New(failure.KindFileMissing,
			"episode %s not in the first %d results for podcast %s", ref.EpisodeID, lookupLimit, ref.PodcastID)
	}
	meta.Episode = episodeFromRecord(chosen)
	if meta.PodcastName == "" {
		meta.PodcastName = chosen.CollectionName
	}
	return meta, nil
}

// pickEpisode matches by track id. Episode ids age out of the newest-first
// batch, so a stale bookmark falls back to the newest playable episode.
func (l *Lookup) pickEpisode(episodes []lookupRecord, ref EpisodeRef) (lookupRecord, bool) {
	want, _ := strconv.ParseInt(ref.EpisodeID, 10, 64)
	for _, ep := range episodes {
		if want != 0 && ep.TrackID == want && ep.EpisodeURL != "" {
			return ep, true
		}
	}
	for _, ep := range episodes {
		if ep.EpisodeURL != "" {
			l.logger.Warn().
				Str("episode_id", ref.EpisodeID).
				Int64("track_id", ep.TrackID).
				Msg("episode not in lookup batch, falling back to newest")
			return ep, true
		}
	}
	return lookupRecord{}, false
}

func episodeFromRecord(rec lookupRecord) model.PodcastEpisode {
	ep := model.PodcastEpisode{
		TrackID:     rec.TrackID,
		Title:       rec.TrackName,
		GUID:        rec.EpisodeGUID,
		AudioURL:    rec.EpisodeURL,
		FileExt:     rec.EpisodeFileExtension,
		DurationMs:  rec.TrackTimeMillis,
		Description: rec.Description,
	}
	if ep.Description == "" {
		ep.Description = rec.ShortDescription
	}
	if t, err := time.Parse(time.RFC3339, rec.ReleaseDate); err == nil {
		ep.ReleasedAt = t
	}
	return ep
}
