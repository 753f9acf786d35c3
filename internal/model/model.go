// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package model holds the domain types shared across the ingest and worker
// pipelines. Queue payloads are JSON with camelCase tags; times are RFC3339.
package model

import (
	"fmt"
	"time"
)

// Source identifies a configured bookmark feed.
type Source string

const (
	// SourceReader is the RSS read-later feed (may carry PDF enclosures).
	SourceReader Source = "reader"
	// SourceStash is the bookmark-manager JSON API.
	SourceStash Source = "stash"
	// SourceManual marks direct submissions that did not arrive via a feed.
	SourceManual Source = "manual"
)

// Queue and job names shared between producers and workers.
const (
	QueueMetadata   = "metadata"
	QueueConversion = "conversion"
	QueueMedia      = "media"
	QueuePodcast    = "podcast"
	QueueFeeds      = "feeds"

	JobExtractMetadata   = "extract-metadata"
	JobConvert           = "convert-url"
	JobCollectMedia      = "collect-media"
	JobTranscribePodcast = "transcribe-podcast"
	JobPollFeeds         = "poll-feeds"
	JobMaintenance       = "maintenance"
)

// MediaType classifies an artifact and selects its weekly-bin subdirectory.
type MediaType string

const (
	MediaVideo      MediaType = "video"
	MediaTranscript MediaType = "transcript"
	MediaPodcast    MediaType = "podcast"
	MediaPDF        MediaType = "pdf"
)

// Dir returns the plural bin subdirectory for the media type.
func (m MediaType) Dir() string {
	switch m {
	case MediaVideo:
		return "videos"
	case MediaTranscript:
		return "transcripts"
	case MediaPodcast:
		return "podcasts"
	case MediaPDF:
		return "pdfs"
	}
	return "pdfs"
}

// ParseMediaType validates a stored media type string.
func ParseMediaType(s string) (MediaType, error) {
	switch MediaType(s) {
	case MediaVideo, MediaTranscript, MediaPodcast, MediaPDF:
		return MediaType(s), nil
	}
	return "", fmt.Errorf("unknown media type: %q", s)
}

// MediaTypeForDir maps a bin subdirectory name back to its media type.
func MediaTypeForDir(dir string) (MediaType, bool) {
	switch dir {
	case "videos":
		return MediaVideo, true
	case "transcripts":
		return MediaTranscript, true
	case "podcasts":
		return MediaPodcast, true
	case "pdfs":
		return MediaPDF, true
	}
	return "", false
}

// Enclosure is an attached downloadable resource on a feed item.
type Enclosure struct {
	URL    string `json:"url"`
	Length int64  `json:"length,omitempty"`
	Type   string `json:"type,omitempty"`
}

// BookmarkItem is a normalized feed item flowing through dedup, enrichment
// and routing. CanonicalURL is the dedup identity; URL is what gets fetched.
type BookmarkItem struct {
	Source       Source     `json:"source"`
	URL          string     `json:"url"`
	CanonicalURL string     `json:"canonicalUrl"`
	GUID         string     `json:"guid,omitempty"`
	Title        string     `json:"title,omitempty"`
	Description  string     `json:"description,omitempty"`
	Author       string     `json:"author,omitempty"`
	Publisher    string     `json:"publisher,omitempty"`
	ImageURL     string     `json:"imageUrl,omitempty"`
	PublishedAt  *time.Time `json:"publishedAt,omitempty"`
	BookmarkedAt *time.Time `json:"bookmarkedAt,omitempty"`
	MediaType    MediaType  `json:"mediaType,omitempty"`
	Enclosure    *Enclosure `json:"enclosure,omitempty"`
	Tags         []string   `json:"tags,omitempty"`

	// AssetID is set for stash items whose content is stored as an asset;
	// such URLs point at the stash asset endpoint and skip enrichment.
	AssetID string `json:"assetId,omitempty"`
}

// IsAsset reports whether the item's URL is a stash asset download.
func (b BookmarkItem) IsAsset() bool { return b.AssetID != "" }

// ConversionRequest is the conversion-queue payload.
type ConversionRequest struct {
	URL          string     `json:"url"`
	OriginalURL  string     `json:"originalUrl,omitempty"`
	Title        string     `json:"title,omitempty"`
	UserID       string     `json:"userId,omitempty"`
	Source       Source     `json:"source,omitempty"`
	BookmarkedAt *time.Time `json:"bookmarkedAt,omitempty"`

	// OldFilePath names a previous artifact for this URL; after a successful
	// save the old file is removed when its path differs from the new one.
	OldFilePath string `json:"oldFilePath,omitempty"`
}

// ConversionResult is stored as the conversion job's return value.
type ConversionResult struct {
	PDFPath          string `json:"pdfPath"`
	PDFSize          int64  `json:"pdfSize"`
	Week             string `json:"week"`
	QualityScore     int    `json:"qualityScore"`
	QualityReasoning string `json:"qualityReasoning,omitempty"`
	DurationMs       int64  `json:"durationMs"`
}

// MediaRequest is the media-queue payload.
type MediaRequest struct {
	URL          string     `json:"url"`
	EnclosureURL string     `json:"enclosureUrl"`
	MediaType    MediaType  `json:"mediaType"`
	Title        string     `json:"title,omitempty"`
	Source       Source     `json:"source,omitempty"`
	AssetID      string     `json:"assetId,omitempty"`
	BookmarkedAt *time.Time `json:"bookmarkedAt,omitempty"`
}

// MediaResult is stored as the media job's return value.
type MediaResult struct {
	Path    string `json:"path"`
	Size    int64  `json:"size"`
	Week    string `json:"week"`
	Skipped bool   `json:"skipped,omitempty"`
}

// PodcastRequest is the podcast-queue payload. URL must be an Apple Podcasts
// episode URL carrying the episode query parameter.
type PodcastRequest struct {
	URL          string     `json:"url"`
	Title        string     `json:"title,omitempty"`
	BookmarkedAt *time.Time `json:"bookmarkedAt,omitempty"`
	OldFilePath  string     `json:"oldFilePath,omitempty"`
}

// PodcastResult is stored as the podcast job's return value.
type PodcastResult struct {
	PDFPath    string `json:"pdfPath"`
	AudioPath  string `json:"audioPath,omitempty"`
	Week       string `json:"week"`
	DurationMs int64  `json:"durationMs"`
}

// PodcastEpisode is the episode record resolved via the iTunes lookup API.
type PodcastEpisode struct {
	TrackID     int64     `json:"trackId"`
	Title       string    `json:"title"`
	GUID        string    `json:"guid,omitempty"`
	AudioURL    string    `json:"audioUrl"`
	FileExt     string    `json:"fileExt,omitempty"`
	DurationMs  int64     `json:"durationMs,omitempty"`
	ReleasedAt  time.Time `json:"releasedAt,omitempty"`
	Description string    `json:"description,omitempty"`
}

// PodcastMetadata bundles the podcast record and the resolved episode.
type PodcastMetadata struct {
	PodcastID   string         `json:"podcastId"`
	EpisodeID   string         `json:"episodeId"`
	Country     string         `json:"country"`
	PodcastName string         `json:"podcastName"`
	ArtistName  string         `json:"artistName,omitempty"`
	FeedURL     string         `json:"feedUrl,omitempty"`
	Genre       string         `json:"genre,omitempty"`
	ArtworkURL  string         `json:"artworkUrl,omitempty"`
	Episode     PodcastEpisode `json:"episode"`
}

// Link is a hyperlink extracted from show notes. Source names where the link
// was found when the notes aggregate several blocks.
type Link struct {
	Text   string `json:"text"`
	URL    string `json:"url"`
	Source string `json:"source,omitempty"`
}

// ShowNotes is the cleaned episode description used for the transcript PDF.
type ShowNotes struct {
	Summary string `json:"summary,omitempty"`
	Links   []Link `json:"links,omitempty"`
	Footer  string `json:"footer,omitempty"`
}
