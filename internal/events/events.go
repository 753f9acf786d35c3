// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package events is the in-process notification bus. Workers publish value
// records at lifecycle points; collaborators attach handlers at startup.
// Delivery is best-effort: a slow subscriber drops events, a panicking
// subscriber is isolated, and the publisher never blocks.
package events

import (
	"time"

	"github.com/ManuGH/papercast/internal/model"
)

// Topics published by the pipeline workers.
const (
	TopicConversionStarted   = "conversion.started"
	TopicConversionProgress  = "conversion.progress"
	TopicConversionCompleted = "conversion.completed"
	TopicConversionFailed    = "conversion.failed"
	TopicMediaSaved          = "media.saved"
	TopicMediaSkipped        = "media.skipped"
	TopicMediaFailed         = "media.failed"
	TopicPodcastStarted      = "podcast.started"
	TopicPodcastCompleted    = "podcast.completed"
	TopicPodcastFailed       = "podcast.failed"
	TopicFeedPolled          = "feed.polled"
	TopicItemQueued          = "item.queued"
	TopicMaintenanceTick     = "maintenance.tick"
)

// Event is implemented by every record published on the bus.
type Event interface {
	Topic() string
}

type ConversionStarted struct {
	JobID string
	URL   string
}

func (ConversionStarted) Topic() string { return TopicConversionStarted }

type ConversionProgress struct {
	JobID    string
	URL      string
	Progress int
}

func (ConversionProgress) Topic() string { return TopicConversionProgress }

type ConversionCompleted struct {
	JobID            string
	URL              string
	PDFPath          string
	PDFSize          int64
	QualityScore     int
	QualityReasoning string
	DurationMs       int64
}

func (ConversionCompleted) Topic() string { return TopicConversionCompleted }

// ConversionFailed is emitted once, when the final retry is exhausted.
type ConversionFailed struct {
	JobID         string
	URL           string
	FailureReason string
	AttemptsMade  int
	MaxAttempts   int
}

func (ConversionFailed) Topic() string { return TopicConversionFailed }

type MediaSaved struct {
	JobID     string
	URL       string
	Path      string
	MediaType model.MediaType
	Size      int64
}

func (MediaSaved) Topic() string { return TopicMediaSaved }

// MediaSkipped reports an idempotent no-op: the destination already held a
// non-empty file.
type MediaSkipped struct {
	JobID string
	URL   string
	Path  string
}

func (MediaSkipped) Topic() string { return TopicMediaSkipped }

type MediaFailed struct {
	JobID         string
	URL           string
	FailureReason string
	AttemptsMade  int
	MaxAttempts   int
}

func (MediaFailed) Topic() string { return TopicMediaFailed }

type PodcastStarted struct {
	JobID string
	URL   string
}

func (PodcastStarted) Topic() string { return TopicPodcastStarted }

type PodcastCompleted struct {
	JobID      string
	URL        string
	PDFPath    string
	AudioPath  string
	DurationMs int64
}

func (PodcastCompleted) Topic() string { return TopicPodcastCompleted }

type PodcastFailed struct {
	JobID         string
	URL           string
	FailureReason string
	AttemptsMade  int
	MaxAttempts   int
}

func (PodcastFailed) Topic() string { return TopicPodcastFailed }

type FeedPolled struct {
	Source      string
	NewItems    int
	NotModified bool
}

func (FeedPolled) Topic() string { return TopicFeedPolled }

// ItemQueued is emitted for every item admitted into a processing queue,
// whether by a feed poll or a direct submission.
type ItemQueued struct {
	JobID  string
	URL    string
	Source string
	Queue  string
}

func (ItemQueued) Topic() string { return TopicItemQueued }

// MaintenanceTick marks one pass of the periodic housekeeping job. Rescan
// reports whether this pass also rebuilt the artifact catalog.
type MaintenanceTick struct {
	At     time.Time
	Rescan bool
}

func (MaintenanceTick) Topic() string { return TopicMaintenanceTick }
