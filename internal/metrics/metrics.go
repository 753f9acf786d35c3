// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package metrics provides Prometheus metrics for the papercast pipeline.
// The daemon registers everything on the default registry; exposition is left
// to the embedding binary. Label cardinality is bounded: queue names, media
// types and failure kinds only, never job IDs or URLs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Counters

	// JobsProcessedTotal counts finished queue jobs by queue and result.
	JobsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papercast_jobs_processed_total",
		Help: "Total number of processed jobs, by queue and result (completed/failed/retried).",
	}, []string{"queue", "result"})

	// ConversionFailuresTotal counts terminal conversion failures by kind.
	ConversionFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papercast_conversion_failures_total",
		Help: "Total number of terminal conversion failures, by failure kind.",
	}, []string{"kind"})

	// FeedItemsTotal counts feed items seen by source and outcome.
	FeedItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papercast_feed_items_total",
		Help: "Total number of feed items, by source and outcome (queued/duplicate/skipped/invalid).",
	}, []string{"source", "outcome"})

	// FeedPollsTotal counts poll attempts by source and result.
	FeedPollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papercast_feed_polls_total",
		Help: "Total number of feed polls, by source and result (ok/not_modified/error).",
	}, []string{"source", "result"})

	// FilesSavedTotal counts artifacts written into weekly bins by media type.
	FilesSavedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papercast_files_saved_total",
		Help: "Total number of artifacts saved into weekly bins, by media type.",
	}, []string{"media_type"})

	// QualityVerdictsTotal counts verifier outcomes by stage and verdict.
	QualityVerdictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papercast_quality_verdicts_total",
		Help: "Total number of quality verifier verdicts, by stage (blank/visual/content) and verdict (pass/fail/skipped).",
	}, []string{"stage", "verdict"})

	// BrowserRelaunchesTotal counts headless browser relaunches after crashes.
	BrowserRelaunchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "papercast_browser_relaunches_total",
		Help: "Total number of headless browser relaunches after a crashed instance was detected.",
	})

	// EventsDroppedTotal counts bus events dropped because a subscriber was slow.
	EventsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papercast_events_dropped_total",
		Help: "Total number of bus events dropped due to full subscriber buffers, by topic.",
	}, []string{"topic"})

	// SchedulerTicksTotal counts scheduler tick jobs enqueued by scheduler ID.
	SchedulerTicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papercast_scheduler_ticks_total",
		Help: "Total number of scheduler tick jobs enqueued, by scheduler.",
	}, []string{"scheduler"})

	// Gauges

	// QueueDepth tracks per-queue, per-state job counts.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "papercast_queue_depth",
		Help: "Current number of jobs per queue and state (waiting/active/delayed/completed/failed).",
	}, []string{"queue", "state"})

	// WorkersBusy tracks workers currently running a handler, by queue.
	WorkersBusy = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "papercast_workers_busy",
		Help: "Number of workers currently executing a job handler, by queue.",
	}, []string{"queue"})

	// Histograms

	// CaptureDuration observes browser capture latency.
	CaptureDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "papercast_capture_duration_seconds",
		Help:    "Duration of headless browser captures in seconds.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})

	// JobDuration observes handler runtime by queue.
	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "papercast_job_duration_seconds",
		Help:    "Duration of job handlers in seconds, by queue.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
	}, []string{"queue"})

	// TranscriptionDuration observes ASR latency for podcast episodes.
	TranscriptionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "papercast_transcription_duration_seconds",
		Help:    "Duration of ASR transcription calls in seconds.",
		Buckets: prometheus.ExponentialBuckets(10, 2, 11),
	})
)
