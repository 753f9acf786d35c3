// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package queue

import (
	"encoding/json"
	"strconv"
	"time"
)

// State is the public lifecycle of a job record. Delay-scheduled and
// retry-waiting jobs report StateQueued; the delayed set is an internal
// detail.
type State string

const (
	StateQueued     State = "queued"
	StateProcessing State = "processing"
	StateComplete   State = "complete"
	StateFailed     State = "failed"
)

// Terminal reports whether a state will never transition again on its own.
func (s State) Terminal() bool { return s == StateComplete || s == StateFailed }

// Backoff controls the delay between retry attempts.
type Backoff struct {
	// Type is "exponential" (delay doubles per attempt) or "fixed".
	Type  string
	Delay time.Duration
}

// Retention bounds how long terminal job records stay queryable.
// Zero values mean unlimited.
type Retention struct {
	Count int
	Age   time.Duration
}

// Options are the per-queue defaults applied to every added job.
type Options struct {
	// Attempts is the total number of tries a job gets (1..5).
	Attempts         int
	Backoff          Backoff
	RemoveOnComplete Retention
	RemoveOnFail     Retention
}

func (o Options) withDefaults() Options {
	if o.Attempts <= 0 {
		o.Attempts = 1
	}
	if o.Backoff.Type == "" {
		o.Backoff.Type = "exponential"
	}
	if o.Backoff.Delay <= 0 {
		o.Backoff.Delay = 30 * time.Second
	}
	return o
}

// JobOptions override queue defaults for a single Add call.
type JobOptions struct {
	// JobID makes the add idempotent: adding an id that already exists in a
	// non-terminal state is a no-op.
	JobID string
	// Priority > 0 yields to standard jobs; among prioritized jobs a lower
	// number runs first.
	Priority int
	// Delay schedules the first run into the future.
	Delay time.Duration
	// Attempts overrides the queue default when > 0.
	Attempts int
}

// Job is a queue record as read back from Redis.
type Job struct {
	ID           string
	Name         string
	Queue        string
	Data         json.RawMessage
	State        State
	Progress     int
	AttemptsMade int
	MaxAttempts  int
	Priority     int
	FailedReason string
	ReturnValue  json.RawMessage
	Timestamp    time.Time
	FinishedOn   time.Time
}

// jobFromHash rebuilds a Job from its Redis hash representation.
func jobFromHash(queueName string, fields map[string]string) *Job {
	j := &Job{
		ID:           fields["id"],
		Name:         fields["name"],
		Queue:        queueName,
		State:        State(fields["state"]),
		FailedReason: fields["failedReason"],
	}
	if v := fields["data"]; v != "" {
		j.Data = json.RawMessage(v)
	}
	if v := fields["returnvalue"]; v != "" {
		j.ReturnValue = json.RawMessage(v)
	}
	j.Progress, _ = strconv.Atoi(fields["progress"])
	j.AttemptsMade, _ = strconv.Atoi(fields["attemptsMade"])
	j.MaxAttempts, _ = strconv.Atoi(fields["maxAttempts"])
	j.Priority, _ = strconv.Atoi(fields["priority"])
	if ms, err := strconv.ParseInt(fields["timestamp"], 10, 64); err == nil {
		j.Timestamp = time.UnixMilli(ms).UTC()
	}
	if ms, err := strconv.ParseInt(fields["finishedOn"], 10, 64); err == nil && ms > 0 {
		j.FinishedOn = time.UnixMilli(ms).UTC()
	}
	return j
}

// IsFinalAttempt reports whether a failure raised now would be terminal.
// Handlers use this to emit failed events exactly once.
func (j *Job) IsFinalAttempt() bool {
	return j.AttemptsMade+1 >= j.MaxAttempts
}
