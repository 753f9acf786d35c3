// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package feeds

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/papercast/internal/dedup"
	"github.com/ManuGH/papercast/internal/events"
	"github.com/ManuGH/papercast/internal/log"
	"github.com/ManuGH/papercast/internal/metrics"
	"github.com/ManuGH/papercast/internal/model"
	"github.com/ManuGH/papercast/internal/queue"
	"github.com/ManuGH/papercast/internal/urlx"
)

// Poller drives the configured sources on the feed tick and owns the
// admission pipeline: guid dedup, URL dedup, metadata enqueue, validator
// cache persistence.
type Poller struct {
	sources  []Source
	store    dedup.Store
	cache    *Cache
	metadata *queue.Queue
	bus      *events.Bus
	logger   zerolog.Logger
}

func NewPoller(store dedup.Store, cache *Cache, metadata *queue.Queue, bus *events.Bus, sources ...Source) *Poller {
	return &Poller{
		sources:  sources,
		store:    store,
		cache:    cache,
		metadata: metadata,
		bus:      bus,
		logger:   log.WithComponent("feeds"),
	}
}

// PollAll polls every source concurrently. Sources fail independently: one
// broken feed never stops the others. The first error is returned after all
// polls have finished.
func (p *Poller) PollAll(ctx context.Context) error {
	var g errgroup.Group
	for _, src := range p.sources {
		src := src
		g.Go(func() error { return p.Poll(ctx, src) })
	}
	return g.Wait()
}

// Poll runs one source end to end.
func (p *Poller) Poll(ctx context.Context, src Source) error {
	name := string(src.Name())
	logger := p.logger.With().Str(log.FieldSource, name).Logger()

	cached, err := p.cache.Get(ctx, src.Name())
	if err != nil {
		logger.Warn().Err(err).Msg("validator cache unavailable, polling unconditionally")
		cached = Validators{}
	}

	seen := func(ctx context.Context, guid string) (bool, error) {
		return p.store.IsGUIDSeen(ctx, name, guid)
	}
	res, err := src.Fetch(ctx, cached, seen)
	if err != nil {
		metrics.FeedPollsTotal.WithLabelValues(name, "error").Inc()
		logger.Error().Err(err).Msg("feed poll failed")
		return fmt.Errorf("poll %s: %w", name, err)
	}
	if res.NotModified {
		metrics.FeedPollsTotal.WithLabelValues(name, "not_modified").Inc()
		p.bus.Publish(events.FeedPolled{Source: name, NotModified: true})
		logger.Debug().Msg("feed not modified")
		return nil
	}

	var batch []queue.BulkJob
	var admitted []events.ItemQueued
	queued, duplicate := 0, 0
	for _, item := range res.Items {
		ok, err := p.accept(ctx, item)
		if err != nil {
			logger.Warn().Err(err).Str(log.FieldURL, item.CanonicalURL).Msg("dedup check failed, item skipped")
			metrics.FeedItemsTotal.WithLabelValues(name, "skipped").Inc()
			continue
		}
		if !ok {
			duplicate++
			metrics.FeedItemsTotal.WithLabelValues(name, "duplicate").Inc()
			continue
		}
		queued++
		metrics.FeedItemsTotal.WithLabelValues(name, "queued").Inc()
		jobID := "meta-" + urlx.Fingerprint(item.CanonicalURL)
		batch = append(batch, queue.BulkJob{
			Name: model.JobExtractMetadata,
			Data: item,
			Opts: &queue.JobOptions{JobID: jobID},
		})
		admitted = append(admitted, events.ItemQueued{
			JobID:  jobID,
			URL:    item.CanonicalURL,
			Source: name,
			Queue:  p.metadata.Name(),
		})
	}

	if len(batch) > 0 {
		if _, err := p.metadata.AddBulk(ctx, batch); err != nil {
			metrics.FeedPollsTotal.WithLabelValues(name, "error").Inc()
			logger.Error().Err(err).Msg("enqueueing feed batch failed")
			return fmt.Errorf("enqueue %s batch: %w", name, err)
		}
		for _, ev := range admitted {
			p.bus.Publish(ev)
		}
	}

	if err := p.cache.Put(ctx, src.Name(), res.Validators); err != nil {
		logger.Warn().Err(err).Msg("persisting validator cache failed")
	}

	metrics.FeedPollsTotal.WithLabelValues(name, "ok").Inc()
	p.bus.Publish(events.FeedPolled{Source: name, NewItems: queued})
	logger.Info().
		Int("queued", queued).
		Int("duplicate", duplicate).
		Int("total", len(res.Items)).
		Msg("feed poll finished")
	return nil
}

// accept runs the at-most-once admission: guid first, then canonical URL.
// Each mark happens as soon as its check passes, so a crash between mark and
// enqueue drops the item instead of replaying it.
func (p *Poller) accept(ctx context.Context, item model.BookmarkItem) (bool, error) {
	source := string(item.Source)

	seen, err := p.store.IsGUIDSeen(ctx, source, item.GUID)
	if err != nil || seen {
		return false, err
	}
	if err := p.store.MarkGUIDSeen(ctx, source, item.GUID); err != nil {
		return false, err
	}

	seen, err = p.store.IsURLSeen(ctx, item.CanonicalURL)
	if err != nil || seen {
		return false, err
	}
	if err := p.store.MarkURLSeen(ctx, item.CanonicalURL, source); err != nil {
		return false, err
	}
	return true, nil
}
