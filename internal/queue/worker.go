// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/papercast/internal/log"
	"github.com/ManuGH/papercast/internal/metrics"
)

// Handler processes one job. The returned value is stored as the job's
// result; a returned error triggers the retry policy. Wrap the error with
// Unrecoverable to fail the job immediately instead.
type Handler func(ctx context.Context, job *Job) (any, error)

// UnrecoverableError marks a failure that retrying cannot fix. The worker
// moves the job straight to failed regardless of remaining attempts.
type UnrecoverableError struct{ Err error }

// Unrecoverable wraps err so the retry policy skips it.
func Unrecoverable(err error) error {
	if err == nil {
		return nil
	}
	return &UnrecoverableError{Err: err}
}

func (e *UnrecoverableError) Error() string { return e.Err.Error() }
func (e *UnrecoverableError) Unwrap() error { return e.Err }

// IsUnrecoverable reports whether err carries the no-retry mark.
func IsUnrecoverable(err error) bool {
	var ue *UnrecoverableError
	return errors.As(err, &ue)
}

const (
	defaultPollInterval = 500 * time.Millisecond
	maxFetchBackoff     = 30 * time.Second
	finalizeTimeout     = 10 * time.Second
)

// Worker runs up to concurrency handlers against one queue. Each slot
// executes a job to completion before claiming the next. Redis outages are
// retried forever with capped backoff; the worker never gives up.
type Worker struct {
	queue       *Queue
	handler     Handler
	concurrency int
	poll        time.Duration
	logger      zerolog.Logger

	wg       sync.WaitGroup
	quit     chan struct{}
	stopOnce sync.Once
}

func NewWorker(q *Queue, handler Handler, concurrency int) *Worker {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Worker{
		queue:       q,
		handler:     handler,
		concurrency: concurrency,
		poll:        defaultPollInterval,
		logger:      log.WithComponent("worker").With().Str(log.FieldQueue, q.Name()).Logger(),
		quit:        make(chan struct{}),
	}
}

// Start launches the worker slots. ctx is the base context handlers run
// under; cancel it only for hard abort. Use Stop for a graceful drain.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.runSlot(ctx)
	}
	w.logger.Info().Int("concurrency", w.concurrency).Msg("worker started")
}

// Stop ends fetching and waits for in-flight handlers to finish, bounded by
// ctx. Safe to call more than once.
func (w *Worker) Stop(ctx context.Context) error {
	w.stopOnce.Do(func() { close(w.quit) })

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("worker %s drain: %w", w.queue.Name(), ctx.Err())
	}
}

func (w *Worker) runSlot(ctx context.Context) {
	defer w.wg.Done()

	retry := time.Second
	for {
		select {
		case <-w.quit:
			return
		case <-ctx.Done():
			return
		default:
		}

		job, err := w.queue.fetchNext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Warn().Err(err).Dur("retry_in", retry).Msg("queue fetch failed")
			w.sleep(ctx, retry)
			if retry *= 2; retry > maxFetchBackoff {
				retry = maxFetchBackoff
			}
			continue
		}
		retry = time.Second

		if job == nil {
			w.sleep(ctx, w.poll)
			continue
		}
		w.process(ctx, job)
	}
}

func (w *Worker) process(ctx context.Context, job *Job) {
	start := time.Now()
	jctx := log.ContextWithQueue(log.ContextWithJobID(ctx, job.ID), w.queue.Name())
	logger := w.logger.With().Str(log.FieldJobID, job.ID).Logger()

	metrics.WorkersBusy.WithLabelValues(w.queue.Name()).Inc()
	defer metrics.WorkersBusy.WithLabelValues(w.queue.Name()).Dec()

	var ret any
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("handler panic: %v", r)
				logger.Error().Interface("panic", r).Msg("handler panicked")
			}
		}()
		ret, err = w.handler(jctx, job)
	}()

	// The job finished either way; its state transition must land in Redis
	// even while the daemon is draining or the base context is gone.
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	if err != nil {
		terminal, ferr := w.queue.moveToFailed(fctx, job.ID, err.Error(), IsUnrecoverable(err))
		if ferr != nil {
			logger.Error().Err(ferr).Msg("recording job failure failed")
			return
		}
		result := "retried"
		if terminal {
			result = "failed"
		}
		metrics.JobsProcessedTotal.WithLabelValues(w.queue.Name(), result).Inc()
		logger.Warn().Err(err).
			Bool("terminal", terminal).
			Int(log.FieldAttempt, job.AttemptsMade+1).
			Msg("job failed")
	} else {
		if cerr := w.queue.moveToCompleted(fctx, job.ID, ret); cerr != nil {
			logger.Error().Err(cerr).Msg("recording job completion failed")
			return
		}
		metrics.JobsProcessedTotal.WithLabelValues(w.queue.Name(), "completed").Inc()
		logger.Info().Dur("duration", time.Since(start)).Msg("job completed")
	}
	metrics.JobDuration.WithLabelValues(w.queue.Name()).Observe(time.Since(start).Seconds())
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-w.quit:
	case <-ctx.Done():
	case <-t.C:
	}
}
