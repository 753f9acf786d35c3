// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package queue is a durable, named job queue on Redis. Jobs survive process
// restarts, retry with backoff, keep terminal records queryable under a
// retention policy, and can be produced by stored recurrence schedulers.
//
// Key layout per queue, stable across releases:
//
//	q:{name}:job:{id}     HASH   job record
//	q:{name}:wait         LIST   standard FIFO backlog
//	q:{name}:prioritized  ZSET   priority backlog (score: priority, then seq)
//	q:{name}:delayed      ZSET   scheduled jobs (score: promote-at ms)
//	q:{name}:active       LIST   in-flight ids
//	q:{name}:completed    ZSET   terminal successes (score: finishedOn ms)
//	q:{name}:failed       ZSET   terminal failures (score: finishedOn ms)
//	q:{name}:schedulers   HASH   recurrence specs
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ManuGH/papercast/internal/log"
)

// ErrJobNotFound is returned for lookups of unknown or pruned job ids.
var ErrJobNotFound = errors.New("job not found")

// Queue is a handle on one named queue. Handles are cheap; all state lives
// in Redis.
type Queue struct {
	name   string
	client *redis.Client
	opts   Options
	logger zerolog.Logger
}

func New(name string, client *redis.Client, opts Options) *Queue {
	return &Queue{
		name:   name,
		client: client,
		opts:   opts.withDefaults(),
		logger: log.WithComponent("queue").With().Str(log.FieldQueue, name).Logger(),
	}
}

func (q *Queue) Name() string { return q.name }

func (q *Queue) prefix() string        { return "q:" + q.name + ":" }
func (q *Queue) jobPrefix() string     { return q.prefix() + "job:" }
func (q *Queue) keyJob(id string) string { return q.jobPrefix() + id }
func (q *Queue) keyWait() string       { return q.prefix() + "wait" }
func (q *Queue) keyPrioritized() string { return q.prefix() + "prioritized" }
func (q *Queue) keyDelayed() string    { return q.prefix() + "delayed" }
func (q *Queue) keyActive() string     { return q.prefix() + "active" }
func (q *Queue) keyCompleted() string  { return q.prefix() + "completed" }
func (q *Queue) keyFailed() string     { return q.prefix() + "failed" }
func (q *Queue) keySeq() string        { return q.prefix() + "seq" }
func (q *Queue) keyID() string         { return q.prefix() + "id" }
func (q *Queue) keySchedulers() string { return q.prefix() + "schedulers" }

// Add enqueues a job. With a custom JobID the call is idempotent: an id
// that already exists in a non-terminal state is left untouched and the
// stored record is returned. Terminal records are replaced.
func (q *Queue) Add(ctx context.Context, name string, data any, opts *JobOptions) (*Job, error) {
	job, _, err := q.addJob(ctx, name, data, opts)
	return job, err
}

// BulkJob is one entry of an AddBulk batch.
type BulkJob struct {
	Name string
	Data any
	Opts *JobOptions
}

// AddBulk enqueues a batch of jobs in order. The batch is not atomic: on the
// first failure the jobs added so far stay enqueued. The count reports how
// many jobs were actually inserted; idempotent re-adds of live ids are not
// counted.
func (q *Queue) AddBulk(ctx context.Context, jobs []BulkJob) (int, error) {
	added := 0
	for _, bj := range jobs {
		_, inserted, err := q.addJob(ctx, bj.Name, bj.Data, bj.Opts)
		if err != nil {
			return added, err
		}
		if inserted {
			added++
		}
	}
	return added, nil
}

func (q *Queue) addJob(ctx context.Context, name string, data any, opts *JobOptions) (*Job, bool, error) {
	var jo JobOptions
	if opts != nil {
		jo = *opts
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return nil, false, fmt.Errorf("marshal job data: %w", err)
	}

	id := jo.JobID
	if id == "" {
		n, err := q.client.Incr(ctx, q.keyID()).Result()
		if err != nil {
			return nil, false, fmt.Errorf("allocate job id: %w", err)
		}
		id = strconv.FormatInt(n, 10)
	}

	attempts := q.opts.Attempts
	if jo.Attempts > 0 {
		attempts = jo.Attempts
	}

	now := time.Now()
	inserted, err := scriptAdd.Run(ctx, q.client,
		[]string{q.keyJob(id), q.keyWait(), q.keyPrioritized(), q.keyDelayed(),
			q.keyCompleted(), q.keyFailed(), q.keySeq()},
		id, name, string(payload), now.UnixMilli(), attempts, jo.Priority,
		jo.Delay.Milliseconds(),
	).Int()
	if err != nil {
		return nil, false, fmt.Errorf("add job %s: %w", id, err)
	}
	if inserted == 0 {
		q.logger.Debug().Str(log.FieldJobID, id).Msg("job id exists, add skipped")
		job, err := q.GetJob(ctx, id)
		return job, false, err
	}

	return &Job{
		ID:          id,
		Name:        name,
		Queue:       q.name,
		Data:        payload,
		State:       StateQueued,
		MaxAttempts: attempts,
		Priority:    jo.Priority,
		Timestamp:   now.UTC(),
	}, true, nil
}

// GetJob loads a full job record.
func (q *Queue) GetJob(ctx context.Context, id string) (*Job, error) {
	fields, err := q.client.HGetAll(ctx, q.keyJob(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, ErrJobNotFound
	}
	return jobFromHash(q.name, fields), nil
}

// GetState returns just the lifecycle state of a job.
func (q *Queue) GetState(ctx context.Context, id string) (State, error) {
	s, err := q.client.HGet(ctx, q.keyJob(id), "state").Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrJobNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get state %s: %w", id, err)
	}
	return State(s), nil
}

// GetCompleted lists completed jobs, newest first, bounded by retention.
func (q *Queue) GetCompleted(ctx context.Context) ([]*Job, error) {
	return q.listTerminal(ctx, q.keyCompleted())
}

// GetFailed lists terminally failed jobs, newest first, bounded by retention.
func (q *Queue) GetFailed(ctx context.Context) ([]*Job, error) {
	return q.listTerminal(ctx, q.keyFailed())
}

func (q *Queue) listTerminal(ctx context.Context, setKey string) ([]*Job, error) {
	ids, err := q.client.ZRevRange(ctx, setKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	jobs := make([]*Job, 0, len(ids))
	for _, id := range ids {
		job, err := q.GetJob(ctx, id)
		if errors.Is(err, ErrJobNotFound) {
			continue // pruned between ZRANGE and HGETALL
		}
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Remove deletes a job record from every set it may be in.
func (q *Queue) Remove(ctx context.Context, id string) error {
	return scriptRemove.Run(ctx, q.client,
		[]string{q.keyWait(), q.keyPrioritized(), q.keyDelayed(), q.keyActive(),
			q.keyCompleted(), q.keyFailed(), q.keyJob(id)},
		id,
	).Err()
}

// UpdateProgress records a 0..100 progress value on an in-flight job.
func (q *Queue) UpdateProgress(ctx context.Context, id string, progress int) error {
	if progress < 0 {
		progress = 0
	} else if progress > 100 {
		progress = 100
	}
	return q.client.HSet(ctx, q.keyJob(id), "progress", progress).Err()
}

// RecoverActive requeues jobs a previous process left in the active list.
// Called once at startup, before workers begin fetching.
func (q *Queue) RecoverActive(ctx context.Context) (int64, error) {
	n, err := scriptRecoverActive.Run(ctx, q.client,
		[]string{q.keyActive(), q.keyWait()}, q.jobPrefix()).Int64()
	if err != nil {
		return 0, fmt.Errorf("recover active: %w", err)
	}
	if n > 0 {
		q.logger.Warn().Int64("jobs", n).Msg("requeued jobs from interrupted run")
	}
	return n, nil
}

// Counts reports the population of every job set, for metrics and ops.
type Counts struct {
	Queued     int64
	Delayed    int64
	Processing int64
	Completed  int64
	Failed     int64
}

func (q *Queue) Counts(ctx context.Context) (Counts, error) {
	pipe := q.client.Pipeline()
	wait := pipe.LLen(ctx, q.keyWait())
	prio := pipe.ZCard(ctx, q.keyPrioritized())
	delayed := pipe.ZCard(ctx, q.keyDelayed())
	active := pipe.LLen(ctx, q.keyActive())
	completed := pipe.ZCard(ctx, q.keyCompleted())
	failed := pipe.ZCard(ctx, q.keyFailed())
	if _, err := pipe.Exec(ctx); err != nil {
		return Counts{}, err
	}
	return Counts{
		Queued:     wait.Val() + prio.Val(),
		Delayed:    delayed.Val(),
		Processing: active.Val(),
		Completed:  completed.Val(),
		Failed:     failed.Val(),
	}, nil
}

// fetchNext promotes due delayed jobs and claims the next runnable one.
// Returns (nil, nil) when the queue is empty.
func (q *Queue) fetchNext(ctx context.Context) (*Job, error) {
	if err := scriptPromoteDelayed.Run(ctx, q.client,
		[]string{q.keyDelayed(), q.keyWait(), q.keyPrioritized(), q.keySeq()},
		time.Now().UnixMilli(), q.jobPrefix()).Err(); err != nil {
		return nil, fmt.Errorf("promote delayed: %w", err)
	}

	res, err := scriptMoveToActive.Run(ctx, q.client,
		[]string{q.keyWait(), q.keyPrioritized(), q.keyActive()},
		q.jobPrefix(), time.Now().UnixMilli()).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("move to active: %w", err)
	}
	id, ok := res.(string)
	if !ok {
		return nil, fmt.Errorf("move to active: unexpected reply %T", res)
	}
	return q.GetJob(ctx, id)
}

// moveToCompleted records a successful handler result.
func (q *Queue) moveToCompleted(ctx context.Context, id string, returnValue any) error {
	ret, err := json.Marshal(returnValue)
	if err != nil {
		ret = []byte("null")
	}
	return scriptMoveToCompleted.Run(ctx, q.client,
		[]string{q.keyActive(), q.keyCompleted(), q.keyJob(id)},
		id, string(ret), time.Now().UnixMilli(),
		q.opts.RemoveOnComplete.Count, q.opts.RemoveOnComplete.Age.Milliseconds(),
		q.jobPrefix(),
	).Err()
}

// moveToFailed applies the retry policy. The returned flag is true when the
// failure is terminal. force skips the retry branch even when attempts
// remain.
func (q *Queue) moveToFailed(ctx context.Context, id, reason string, force bool) (bool, error) {
	forceArg := 0
	if force {
		forceArg = 1
	}
	terminal, err := scriptMoveToFailed.Run(ctx, q.client,
		[]string{q.keyActive(), q.keyDelayed(), q.keyFailed(), q.keyJob(id)},
		id, reason, time.Now().UnixMilli(),
		q.opts.Backoff.Delay.Milliseconds(), q.opts.Backoff.Type,
		q.opts.RemoveOnFail.Count, q.opts.RemoveOnFail.Age.Milliseconds(),
		q.jobPrefix(), forceArg,
	).Int()
	if err != nil {
		return false, err
	}
	return terminal == 1, nil
}
