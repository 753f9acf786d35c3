// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package enrich consumes the metadata queue: scrape page metadata, merge it
// over the feed-provided fields, and route the item to the worker queue that
// produces its artifact.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ManuGH/papercast/internal/log"
	"github.com/ManuGH/papercast/internal/model"
	"github.com/ManuGH/papercast/internal/queue"
	"github.com/ManuGH/papercast/internal/urlx"
)

// Enricher is the metadata queue handler.
type Enricher struct {
	fetcher     *Fetcher
	conversions *queue.Queue
	media       *queue.Queue
	podcasts    *queue.Queue
	logger      zerolog.Logger
}

func New(fetcher *Fetcher, conversions, media, podcasts *queue.Queue) *Enricher {
	return &Enricher{
		fetcher:     fetcher,
		conversions: conversions,
		media:       media,
		podcasts:    podcasts,
		logger:      log.WithComponent("enrich"),
	}
}

// RouteResult is stored as the metadata job's return value.
type RouteResult struct {
	Route string `json:"route"`
	JobID string `json:"jobId,omitempty"`
	Title string `json:"title,omitempty"`
}

// Handle enriches one bookmark item and routes it onward.
func (e *Enricher) Handle(ctx context.Context, job *queue.Job) (any, error) {
	var item model.BookmarkItem
	if err := json.Unmarshal(job.Data, &item); err != nil {
		return nil, fmt.Errorf("decode bookmark item: %w", err)
	}
	logger := log.WithComponentFromContext(ctx, "enrich")

	item = e.enrich(ctx, logger, item)
	return e.route(ctx, logger, item)
}

func (e *Enricher) enrich(ctx context.Context, logger zerolog.Logger, item model.BookmarkItem) model.BookmarkItem {
	if skipFetch(item) {
		logger.Debug().Str(log.FieldURL, item.URL).Msg("asset or direct pdf, enrichment skipped")
	} else {
		meta, err := e.fetcher.FetchMetadata(ctx, item.URL)
		if err != nil {
			// Feed fields survive a broken scrape; the hostname only plugs
			// an empty title.
			logger.Warn().Err(err).Str(log.FieldURL, item.URL).Msg("metadata fetch failed, keeping feed fields")
			meta = Metadata{}
			if item.Title == "" {
				meta.Title = hostnameOf(item.URL)
			}
		}
		item = mergeMetadata(item, meta)
	}

	if item.Title == "" {
		item.Title = "Untitled"
	}
	if item.BookmarkedAt == nil {
		now := time.Now().UTC()
		item.BookmarkedAt = &now
	}
	return item
}

// mergeMetadata lets web-extracted fields take precedence; feed data fills
// the gaps.
func mergeMetadata(item model.BookmarkItem, meta Metadata) model.BookmarkItem {
	if meta.Title != "" {
		item.Title = meta.Title
	}
	if meta.Description != "" {
		item.Description = meta.Description
	}
	if meta.Author != "" {
		item.Author = meta.Author
	}
	if meta.Publisher != "" {
		item.Publisher = meta.Publisher
	}
	if meta.Image != "" {
		item.ImageURL = meta.Image
	}
	if meta.PublishedAt != nil {
		item.PublishedAt = meta.PublishedAt
	}
	return item
}

func skipFetch(item model.BookmarkItem) bool {
	if item.IsAsset() || strings.Contains(item.URL, "/api/assets/") {
		return true
	}
	if item.MediaType == model.MediaPDF {
		return true
	}
	u, err := url.Parse(item.URL)
	return err == nil && strings.HasSuffix(strings.ToLower(u.Path), ".pdf")
}

func hostnameOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return rawURL
	}
	return u.Hostname()
}

// route hands the item to its worker queue. Ordering matters: enclosures are
// collected first (with pre-rendered PDFs stopping there), podcast episodes
// go to transcription, video-only pages without a download are dropped, and
// everything else becomes a conversion.
func (e *Enricher) route(ctx context.Context, logger zerolog.Logger, item model.BookmarkItem) (RouteResult, error) {
	mediaID := ""
	if item.Enclosure != nil {
		mediaID = urlx.JobID(item.CanonicalURL)
		req := model.MediaRequest{
			URL:          item.URL,
			EnclosureURL: item.Enclosure.URL,
			MediaType:    item.MediaType,
			Title:        item.Title,
			Source:       item.Source,
			AssetID:      item.AssetID,
			BookmarkedAt: item.BookmarkedAt,
		}
		if _, err := e.media.Add(ctx, model.JobCollectMedia, req, &queue.JobOptions{JobID: mediaID}); err != nil {
			return RouteResult{}, fmt.Errorf("enqueue media job: %w", err)
		}
		logger.Info().
			Str(log.FieldEvent, "enrich.media_queued").
			Str(log.FieldJobID, mediaID).
			Str(log.FieldURL, item.Enclosure.URL).
			Msg("media collection queued")

		if item.MediaType == model.MediaPDF {
			// Pre-rendered PDFs are saved by media collection alone.
			return RouteResult{Route: "media", JobID: mediaID, Title: item.Title}, nil
		}
	}

	switch {
	case IsPodcastURL(item.URL):
		id := uuid.NewString()
		req := model.PodcastRequest{URL: item.URL, Title: item.Title, BookmarkedAt: item.BookmarkedAt}
		if _, err := e.podcasts.Add(ctx, model.JobTranscribePodcast, req, &queue.JobOptions{JobID: id}); err != nil {
			return RouteResult{}, fmt.Errorf("enqueue podcast job: %w", err)
		}
		logger.Info().
			Str(log.FieldEvent, "enrich.podcast_queued").
			Str(log.FieldJobID, id).
			Str(log.FieldURL, item.URL).
			Msg("podcast transcription queued")
		return RouteResult{Route: "podcast", JobID: id, Title: item.Title}, nil

	case IsVideoOnlyHost(item.URL):
		if mediaID != "" {
			return RouteResult{Route: "media", JobID: mediaID, Title: item.Title}, nil
		}
		logger.Info().
			Str(log.FieldEvent, "enrich.video_skipped").
			Str(log.FieldURL, item.URL).
			Msg("video-only host without enclosure, nothing to archive")
		return RouteResult{Route: "skipped", Title: item.Title}, nil
	}

	id := uuid.NewString()
	req := model.ConversionRequest{
		URL:          item.URL,
		OriginalURL:  item.URL,
		Title:        item.Title,
		Source:       item.Source,
		BookmarkedAt: item.BookmarkedAt,
	}
	if _, err := e.conversions.Add(ctx, model.JobConvert, req, &queue.JobOptions{JobID: id}); err != nil {
		return RouteResult{}, fmt.Errorf("enqueue conversion job: %w", err)
	}
	logger.Info().
		Str(log.FieldEvent, "enrich.conversion_queued").
		Str(log.FieldJobID, id).
		Str(log.FieldURL, item.URL).
		Msg("conversion queued")
	return RouteResult{Route: "conversion", JobID: id, Title: item.Title}, nil
}
