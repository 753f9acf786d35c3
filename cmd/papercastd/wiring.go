// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ManuGH/papercast/internal/browser"
	"github.com/ManuGH/papercast/internal/config"
	"github.com/ManuGH/papercast/internal/convert"
	"github.com/ManuGH/papercast/internal/cookies"
	"github.com/ManuGH/papercast/internal/daemon"
	"github.com/ManuGH/papercast/internal/dedup"
	"github.com/ManuGH/papercast/internal/enrich"
	"github.com/ManuGH/papercast/internal/events"
	"github.com/ManuGH/papercast/internal/feeds"
	"github.com/ManuGH/papercast/internal/library"
	"github.com/ManuGH/papercast/internal/llm"
	"github.com/ManuGH/papercast/internal/log"
	"github.com/ManuGH/papercast/internal/media"
	"github.com/ManuGH/papercast/internal/model"
	"github.com/ManuGH/papercast/internal/netutil"
	"github.com/ManuGH/papercast/internal/podcast"
	"github.com/ManuGH/papercast/internal/quality"
	"github.com/ManuGH/papercast/internal/queue"
	"github.com/ManuGH/papercast/internal/scheduler"
	"github.com/ManuGH/papercast/internal/service"
	"github.com/ManuGH/papercast/internal/weekbin"
)

const shutdownTimeout = 60 * time.Second

// Per-queue defaults. Retention keeps completed jobs for a day and failed
// jobs for a month so the failure browser stays useful across restarts.
var (
	retainCompleted = queue.Retention{Count: 200, Age: 24 * time.Hour}
	retainFailed    = queue.Retention{Count: 1000, Age: 30 * 24 * time.Hour}

	queueSpecs = []struct {
		name        string
		concurrency int
		opts        queue.Options
	}{
		{model.QueueFeeds, 1, queue.Options{
			Attempts:         1,
			RemoveOnComplete: queue.Retention{Count: 20, Age: time.Hour},
			RemoveOnFail:     queue.Retention{Count: 100, Age: 24 * time.Hour},
		}},
		{model.QueueMetadata, 3, queue.Options{
			Attempts:         3,
			Backoff:          queue.Backoff{Type: "exponential", Delay: 10 * time.Second},
			RemoveOnComplete: retainCompleted,
			RemoveOnFail:     retainFailed,
		}},
		{model.QueueConversion, 1, queue.Options{
			Attempts:         3,
			Backoff:          queue.Backoff{Type: "exponential", Delay: 30 * time.Second},
			RemoveOnComplete: retainCompleted,
			RemoveOnFail:     retainFailed,
		}},
		{model.QueueMedia, 2, queue.Options{
			Attempts:         5,
			Backoff:          queue.Backoff{Type: "exponential", Delay: time.Minute},
			RemoveOnComplete: retainCompleted,
			RemoveOnFail:     retainFailed,
		}},
		{model.QueuePodcast, 1, queue.Options{
			Attempts:         2,
			Backoff:          queue.Backoff{Type: "exponential", Delay: time.Minute},
			RemoveOnComplete: retainCompleted,
			RemoveOnFail:     retainFailed,
		}},
	}
)

// run wires every component and blocks until ctx is canceled or a
// component fails. Shutdown order (reverse registration): workers drain,
// browser closes after the last capture, pattern watcher and bus stop,
// library index and stores close, Redis client last.
func run(ctx context.Context, cfg config.Config) error {
	logger := log.WithComponent("daemon")

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	mgr := daemon.NewManager(shutdownTimeout)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	mgr.RegisterShutdownHook("redis", func(context.Context) error { return rdb.Close() })

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		// Workers reconnect on their own; a late Redis only delays work.
		logger.Warn().Err(err).Str("event", "redis.unreachable").Msg("redis not reachable yet")
	}
	cancel()

	dedupStore, err := dedup.Open(cfg.StoreBackend, rdb, cfg.StoreDir)
	if err != nil {
		_ = mgr.Shutdown(context.WithoutCancel(ctx))
		return fmt.Errorf("open dedup store: %w", err)
	}
	mgr.RegisterShutdownHook("dedup-store", func(context.Context) error { return dedupStore.Close() })

	index, err := library.Open(cfg.LibraryDB)
	if err != nil {
		_ = mgr.Shutdown(context.WithoutCancel(ctx))
		return fmt.Errorf("open library index: %w", err)
	}
	mgr.RegisterShutdownHook("library-index", func(context.Context) error { return index.Close() })

	store := weekbin.NewStore(cfg.DataDir, weekbin.WithIndex(index))
	jar := cookies.NewFile(cfg.CookiesFile)
	bus := events.NewBus()
	mgr.RegisterShutdownHook("event-bus", func(context.Context) error {
		bus.Close()
		return nil
	})
	logEvents(bus)

	queues := make(map[string]*queue.Queue, len(queueSpecs))
	for _, spec := range queueSpecs {
		queues[spec.name] = queue.New(spec.name, rdb, spec.opts)
	}

	// Jobs stranded in active lists by a previous crash go back to waiting.
	for name, q := range queues {
		if n, err := q.RecoverActive(ctx); err != nil {
			logger.Warn().Err(err).Str("queue", name).Msg("active-job recovery failed")
		} else if n > 0 {
			logger.Info().Int64("jobs", n).Str("queue", name).Str("event", "queue.recovered").Msg("requeued stranded jobs")
		}
	}

	patterns := quality.NewPatternsHolder(cfg.QualityPatternsFile)
	if cfg.QualityPatternsFile != "" {
		if err := patterns.Reload(); err != nil {
			logger.Warn().Err(err).Msg("pattern table load failed, using compiled defaults")
		}
		if err := patterns.Watch(); err != nil {
			logger.Warn().Err(err).Msg("pattern table watch failed")
		}
		mgr.RegisterShutdownHook("pattern-watcher", func(context.Context) error {
			patterns.Stop()
			return nil
		})
	}

	var llmClient *llm.Client
	if cfg.LLMHost != "" {
		llmClient = llm.New(cfg.LLMHost)
	}
	var visionClient *llm.Client
	if cfg.VisualVerify {
		visionClient = llmClient
	}
	verifier := quality.NewVerifier(visionClient, cfg.VisionModel, cfg.QualityThreshold, patterns)

	pool := browser.NewPool(browser.Options{
		UserAgent:     cfg.UserAgent,
		MirrorHost:    cfg.MirrorHost,
		PrivacyFilter: cfg.PrivacyFilter,
		Cookies:       jar,
		NavTimeout:    cfg.CaptureTimeout,
		SkipInstall:   cfg.SkipInstall,
	})
	if err := pool.Init(); err != nil {
		_ = mgr.Shutdown(context.WithoutCancel(ctx))
		return fmt.Errorf("init browser pool: %w", err)
	}
	mgr.RegisterShutdownHook("browser", func(context.Context) error { return pool.Close() })

	assetAuth := netutil.AssetAuthFromFeedURL(cfg.FeedStashURL)

	// Feed side: sources → poller → metadata queue.
	srcOpts := feeds.SourceOptions{UserAgent: cfg.UserAgent}
	var sources []feeds.Source
	if cfg.FeedReaderURL != "" {
		sources = append(sources, feeds.NewReader(cfg.FeedReaderURL, srcOpts))
	}
	if cfg.FeedStashURL != "" {
		stash, err := feeds.NewStash(cfg.FeedStashURL, srcOpts)
		if err != nil {
			_ = mgr.Shutdown(context.WithoutCancel(ctx))
			return fmt.Errorf("configure stash feed: %w", err)
		}
		sources = append(sources, stash)
	}
	poller := feeds.NewPoller(dedupStore, feeds.NewCache(rdb), queues[model.QueueMetadata], bus, sources...)

	enricher := enrich.New(
		enrich.NewFetcher(cfg.UserAgent),
		queues[model.QueueConversion],
		queues[model.QueueMedia],
		queues[model.QueuePodcast],
	)

	converter := convert.New(pool, verifier, store, queues[model.QueueConversion], bus,
		convert.WithUserAgent(cfg.UserAgent),
		convert.WithAssetAuth(assetAuth),
	)

	collector := media.New(store, bus,
		media.WithUserAgent(cfg.UserAgent),
		media.WithAssetAuth(assetAuth),
	)

	sched := scheduler.New(queues[model.QueueFeeds], poller, bus,
		scheduler.Config{
			PollInterval:    cfg.FeedPollInterval,
			MaintenanceTick: cfg.MaintenanceTick,
		},
		scheduler.WithCatalog(index, cfg.DataDir),
		scheduler.WithDepthGauges(
			queues[model.QueueMetadata],
			queues[model.QueueConversion],
			queues[model.QueueMedia],
			queues[model.QueuePodcast],
		),
	)
	if len(sources) > 0 || cfg.MaintenanceOn {
		if err := sched.Register(ctx); err != nil {
			_ = mgr.Shutdown(context.WithoutCancel(ctx))
			return fmt.Errorf("register schedulers: %w", err)
		}
		mgr.Go("feeds-scheduler", func(ctx context.Context) error {
			queues[model.QueueFeeds].RunSchedulers(ctx)
			return nil
		})
	}

	workers := []*queue.Worker{
		queue.NewWorker(queues[model.QueueFeeds], sched.Handle, 1),
		queue.NewWorker(queues[model.QueueMetadata], enricher.Handle, 3),
		queue.NewWorker(queues[model.QueueConversion], converter.Handle, 1),
		queue.NewWorker(queues[model.QueueMedia], collector.Handle, 2),
	}

	if cfg.ASRHost != "" {
		pod := podcast.New(store, queues[model.QueuePodcast], bus,
			podcast.NewLookup(),
			podcast.NewASR(cfg.ASRHost),
			podcast.NewReformatter(llmClient, cfg.TextModel),
			podcast.WithUserAgent(cfg.UserAgent),
		)
		workers = append(workers, queue.NewWorker(queues[model.QueuePodcast], pod.Handle, 1))
	} else {
		logger.Warn().Str("event", "podcast.disabled").Msg("no ASR host configured; podcast jobs stay queued")
	}

	for _, w := range workers {
		w.Start(ctx)
	}
	mgr.RegisterShutdownHook("workers", func(sctx context.Context) error {
		var firstErr error
		for _, w := range workers {
			if err := w.Stop(sctx); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	})

	// The facade is what embedding collaborators (UI, notifier) drive; the
	// daemon itself only uses it for the startup inventory log.
	svc := service.New(store,
		queues[model.QueueConversion],
		queues[model.QueuePodcast],
		queues[model.QueueMedia],
		bus, jar)
	if weeks, err := svc.ListWeeks(); err == nil {
		logger.Info().
			Int("weeks", len(weeks)).
			Str("event", "daemon.ready").
			Msg("weekly bins discovered")
	}

	return mgr.Run(ctx)
}

// logEvents installs the daemon's own bus subscriber: terminal pipeline
// outcomes become structured log lines. External notifiers subscribe the
// same way through the service facade.
func logEvents(bus *events.Bus) {
	logger := log.WithComponent("pipeline")

	bus.Subscribe(events.TopicConversionCompleted, func(ev events.Event) {
		if e, ok := ev.(events.ConversionCompleted); ok {
			logger.Info().
				Str("event", "conversion.completed").
				Str("job_id", e.JobID).
				Str("url", e.URL).
				Str("pdf", e.PDFPath).
				Int("score", e.QualityScore).
				Msg("conversion completed")
		}
	})
	bus.Subscribe(events.TopicConversionFailed, func(ev events.Event) {
		if e, ok := ev.(events.ConversionFailed); ok {
			logger.Warn().
				Str("event", "conversion.failed").
				Str("job_id", e.JobID).
				Str("url", e.URL).
				Str("reason", e.FailureReason).
				Int("attempts", e.AttemptsMade).
				Msg("conversion failed terminally")
		}
	})
	bus.Subscribe(events.TopicMediaSaved, func(ev events.Event) {
		if e, ok := ev.(events.MediaSaved); ok {
			logger.Info().
				Str("event", "media.saved").
				Str("url", e.URL).
				Str("path", e.Path).
				Msg("media saved")
		}
	})
	bus.Subscribe(events.TopicPodcastCompleted, func(ev events.Event) {
		if e, ok := ev.(events.PodcastCompleted); ok {
			logger.Info().
				Str("event", "podcast.completed").
				Str("job_id", e.JobID).
				Str("pdf", e.PDFPath).
				Msg("podcast transcribed")
		}
	})
	bus.Subscribe(events.TopicPodcastFailed, func(ev events.Event) {
		if e, ok := ev.(events.PodcastFailed); ok {
			logger.Warn().
				Str("event", "podcast.failed").
				Str("job_id", e.JobID).
				Str("url", e.URL).
				Str("reason", e.FailureReason).
				Msg("podcast transcription failed terminally")
		}
	})
	bus.Subscribe(events.TopicFeedPolled, func(ev events.Event) {
		if e, ok := ev.(events.FeedPolled); ok {
			logger.Debug().
				Str("event", "feed.polled").
				Str("source", e.Source).
				Int("new_items", e.NewItems).
				Bool("not_modified", e.NotModified).
				Msg("feed polled")
		}
	})
}
