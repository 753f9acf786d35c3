// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ManuGH/papercast/internal/metrics"
)

// Schedule is a recurrence spec: a job fires at every boundary of the form
// StartDate + k*Every. A zero StartDate anchors boundaries to the Unix
// epoch, which keeps ticks aligned across restarts.
type Schedule struct {
	Every     time.Duration
	StartDate time.Time
}

// Template is the job produced at each tick.
type Template struct {
	Name string
	Data json.RawMessage
	Opts JobOptions // Priority and Attempts are honored; JobID is derived
}

type schedulerRecord struct {
	EveryMs   int64           `json:"every"`
	StartDate time.Time       `json:"startDate,omitzero"`
	Name      string          `json:"name"`
	Data      json.RawMessage `json:"data,omitempty"`
	Priority  int             `json:"priority,omitempty"`
	Attempts  int             `json:"attempts,omitempty"`
}

const schedulerScanInterval = 15 * time.Second

// UpsertScheduler stores or replaces a recurrence spec. The next scan picks
// it up; no restart is needed.
func (q *Queue) UpsertScheduler(ctx context.Context, id string, sched Schedule, tmpl Template) error {
	if sched.Every <= 0 {
		return fmt.Errorf("scheduler %q: every must be positive", id)
	}
	rec := schedulerRecord{
		EveryMs:   sched.Every.Milliseconds(),
		StartDate: sched.StartDate,
		Name:      tmpl.Name,
		Data:      tmpl.Data,
		Priority:  tmpl.Opts.Priority,
		Attempts:  tmpl.Opts.Attempts,
	}
	buf, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal scheduler %q: %w", id, err)
	}
	return q.client.HSet(ctx, q.keySchedulers(), id, string(buf)).Err()
}

// RemoveScheduler deletes a recurrence spec. Already-scheduled ticks still
// fire.
func (q *Queue) RemoveScheduler(ctx context.Context, id string) error {
	return q.client.HDel(ctx, q.keySchedulers(), id).Err()
}

// RunSchedulers scans the stored specs and plants each upcoming tick as a
// delayed job with the deterministic id sched:{id}:{tickUnixMs}. The add is
// idempotent, so overlapping scans and process restarts cannot double-fire
// a boundary. Blocks until ctx is canceled.
func (q *Queue) RunSchedulers(ctx context.Context) {
	ticker := time.NewTicker(schedulerScanInterval)
	defer ticker.Stop()

	for {
		if err := q.scheduleDue(ctx); err != nil && ctx.Err() == nil {
			q.logger.Warn().Err(err).Msg("scheduler scan failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (q *Queue) scheduleDue(ctx context.Context) error {
	entries, err := q.client.HGetAll(ctx, q.keySchedulers()).Result()
	if err != nil {
		return err
	}

	now := time.Now()
	for id, raw := range entries {
		var rec schedulerRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			q.logger.Error().Str("scheduler", id).Err(err).Msg("corrupt scheduler record, skipping")
			continue
		}
		every := time.Duration(rec.EveryMs) * time.Millisecond
		if every <= 0 {
			continue
		}
		tick := nextTick(now, every, rec.StartDate)

		_, inserted, err := q.addJob(ctx, rec.Name, rec.Data, &JobOptions{
			JobID:    fmt.Sprintf("sched:%s:%d", id, tick.UnixMilli()),
			Delay:    tick.Sub(now),
			Priority: rec.Priority,
			Attempts: rec.Attempts,
		})
		if err != nil {
			q.logger.Warn().Str("scheduler", id).Err(err).Msg("scheduling tick failed")
			continue
		}
		if inserted {
			metrics.SchedulerTicksTotal.WithLabelValues(id).Inc()
		}
	}
	return nil
}

// nextTick returns the first boundary at or after now.
func nextTick(now time.Time, every time.Duration, start time.Time) time.Time {
	if start.IsZero() {
		start = time.Unix(0, 0)
	}
	if !now.After(start) {
		return start
	}
	elapsed := now.Sub(start)
	k := elapsed / every
	if elapsed%every == 0 {
		return start.Add(k * every)
	}
	return start.Add((k + 1) * every)
}
