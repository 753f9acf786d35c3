// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package scheduler owns the recurring jobs on the feeds queue: the periodic
// feed poll and the maintenance tick that refreshes the queue-depth gauges
// and rebuilds the artifact catalog. Both run as ordinary queue jobs with
// deterministic per-tick ids, so restarts and concurrent daemons never double
// up a tick.
package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/papercast/internal/events"
	"github.com/ManuGH/papercast/internal/library"
	"github.com/ManuGH/papercast/internal/log"
	"github.com/ManuGH/papercast/internal/metrics"
	"github.com/ManuGH/papercast/internal/model"
	"github.com/ManuGH/papercast/internal/queue"
)

// Scheduler ids registered on the feeds queue.
const (
	SchedulerFeedPoll    = "feed-poll"
	SchedulerMaintenance = "maintenance"
)

const (
	defaultPollInterval    = 15 * time.Minute
	defaultMaintenanceTick = 5 * time.Minute
	defaultRescanEvery     = 12
)

// Config sets the recurrence cadences. Zero values fall back to defaults.
type Config struct {
	PollInterval    time.Duration
	MaintenanceTick time.Duration
	// RescanEvery rebuilds the artifact catalog on every n-th maintenance
	// tick. At the default cadences that is one rebuild per hour.
	RescanEvery int
}

// Poller runs one full poll of all configured sources.
type Poller interface {
	PollAll(ctx context.Context) error
}

// Rescanner rebuilds the artifact catalog from the weekly bins.
type Rescanner interface {
	Rescan(ctx context.Context, dataDir string) (*library.RescanResult, error)
}

// Scheduler registers the recurrence specs and handles the jobs they emit.
type Scheduler struct {
	queue     *queue.Queue
	poller    Poller
	bus       *events.Bus
	rescanner Rescanner
	dataDir   string
	gauges    []*queue.Queue
	cfg       Config
	logger    zerolog.Logger
	now       func() time.Time
}

type Option func(*Scheduler)

// WithCatalog enables the periodic catalog rescan over dataDir.
func WithCatalog(r Rescanner, dataDir string) Option {
	return func(s *Scheduler) {
		s.rescanner = r
		s.dataDir = dataDir
	}
}

// WithDepthGauges names the queues whose depth gauges the maintenance tick
// refreshes.
func WithDepthGauges(qs ...*queue.Queue) Option {
	return func(s *Scheduler) { s.gauges = append(s.gauges, qs...) }
}

func New(q *queue.Queue, poller Poller, bus *events.Bus, cfg Config, opts ...Option) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.MaintenanceTick <= 0 {
		cfg.MaintenanceTick = defaultMaintenanceTick
	}
	if cfg.RescanEvery <= 0 {
		cfg.RescanEvery = defaultRescanEvery
	}
	s := &Scheduler{
		queue:  q,
		poller: poller,
		bus:    bus,
		cfg:    cfg,
		logger: log.WithComponent("scheduler"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register upserts both recurrence specs. The feed poll is epoch-aligned;
// maintenance starts half a tick later so the two never fire together.
// Attempts is 1 for both: a failed tick is superseded by the next one, not
// retried.
func (s *Scheduler) Register(ctx context.Context) error {
	poll := queue.Template{Name: model.JobPollFeeds, Opts: queue.JobOptions{Attempts: 1}}
	if err := s.queue.UpsertScheduler(ctx, SchedulerFeedPoll, queue.Schedule{Every: s.cfg.PollInterval}, poll); err != nil {
		return fmt.Errorf("register %s: %w", SchedulerFeedPoll, err)
	}

	maint := queue.Template{Name: model.JobMaintenance, Opts: queue.JobOptions{Attempts: 1}}
	sched := queue.Schedule{
		Every:     s.cfg.MaintenanceTick,
		StartDate: maintenanceStart(s.cfg.MaintenanceTick),
	}
	if err := s.queue.UpsertScheduler(ctx, SchedulerMaintenance, sched, maint); err != nil {
		return fmt.Errorf("register %s: %w", SchedulerMaintenance, err)
	}
	return nil
}

// Handle is the worker handler for the feeds queue.
func (s *Scheduler) Handle(ctx context.Context, job *queue.Job) (any, error) {
	switch job.Name {
	case model.JobPollFeeds:
		return nil, s.poller.PollAll(ctx)
	case model.JobMaintenance:
		return nil, s.maintain(ctx, job)
	default:
		return nil, queue.Unrecoverable(fmt.Errorf("unknown scheduled job %q", job.Name))
	}
}

func (s *Scheduler) maintain(ctx context.Context, job *queue.Job) error {
	s.refreshDepthGauges(ctx)

	tick := s.tickTime(job.ID)
	rescanned := false
	if s.rescanner != nil && s.rescanDue(tick) {
		if _, err := s.rescanner.Rescan(ctx, s.dataDir); err != nil {
			s.logger.Warn().Err(err).Msg("catalog rescan failed")
		} else {
			rescanned = true
		}
	}

	s.bus.Publish(events.MaintenanceTick{At: tick, Rescan: rescanned})
	s.logger.Debug().Int("queues", len(s.gauges)).Bool("rescan", rescanned).Msg("maintenance tick")
	return nil
}

func (s *Scheduler) refreshDepthGauges(ctx context.Context) {
	for _, q := range s.gauges {
		counts, err := q.Counts(ctx)
		if err != nil {
			s.logger.Warn().Err(err).Str(log.FieldQueue, q.Name()).Msg("queue counts unavailable")
			continue
		}
		metrics.QueueDepth.WithLabelValues(q.Name(), "waiting").Set(float64(counts.Queued))
		metrics.QueueDepth.WithLabelValues(q.Name(), "active").Set(float64(counts.Processing))
		metrics.QueueDepth.WithLabelValues(q.Name(), "delayed").Set(float64(counts.Delayed))
		metrics.QueueDepth.WithLabelValues(q.Name(), "completed").Set(float64(counts.Completed))
		metrics.QueueDepth.WithLabelValues(q.Name(), "failed").Set(float64(counts.Failed))
	}
}

// tickTime recovers the tick boundary from the deterministic job id
// ("sched:{id}:{unix-ms}"). A foreign id falls back to the current time.
func (s *Scheduler) tickTime(jobID string) time.Time {
	if i := strings.LastIndexByte(jobID, ':'); i >= 0 {
		if ms, err := strconv.ParseInt(jobID[i+1:], 10, 64); err == nil {
			return time.UnixMilli(ms)
		}
	}
	return s.now()
}

// rescanDue counts ticks since the schedule start. Tick boundaries are exact
// multiples of the cadence, so the division never truncates.
func (s *Scheduler) rescanDue(tick time.Time) bool {
	k := tick.Sub(maintenanceStart(s.cfg.MaintenanceTick)) / s.cfg.MaintenanceTick
	return k%time.Duration(s.cfg.RescanEvery) == 0
}

// maintenanceStart offsets the maintenance schedule half a tick from epoch so
// its Redis round trips never land on the same boundary as the feed poll.
func maintenanceStart(tick time.Duration) time.Time {
	return time.UnixMilli(0).Add(tick / 2)
}
