// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/ManuGH/papercast/internal/failure"
	"github.com/ManuGH/papercast/internal/fsutil"
	"github.com/ManuGH/papercast/internal/model"
	"github.com/ManuGH/papercast/internal/queue"
	"github.com/ManuGH/papercast/internal/weekbin"
)

// ListWeeks enumerates the weekly bins, newest first.
func (s *Service) ListWeeks() ([]weekbin.WeekInfo, error) {
	return s.store.ListWeeks()
}

// ListFiles enumerates the artifacts of one week.
func (s *Service) ListFiles(weekID string) ([]weekbin.FileInfo, error) {
	w, err := weekbin.ParseWeek(weekID)
	if err != nil {
		return nil, err
	}
	return s.store.ListFiles(w)
}

// Failure is one terminally failed job, as reported by ListFailures.
type Failure struct {
	JobID         string    `json:"jobId"`
	Queue         string    `json:"queue"`
	URL           string    `json:"url"`
	OriginalURL   string    `json:"originalUrl,omitempty"`
	Title         string    `json:"title,omitempty"`
	FailureReason string    `json:"failureReason"`
	FailedAt      time.Time `json:"failedAt"`
	IsBotDetected bool      `json:"isBotDetected"`
	AttemptsMade  int       `json:"attemptsMade"`
	MaxAttempts   int       `json:"maxAttempts"`
	OldFilePath   string    `json:"oldFilePath,omitempty"`
}

// ListFailures reports the conversion and podcast jobs that failed terminally
// in the given ISO week, newest first.
func (s *Service) ListFailures(ctx context.Context, weekID string) ([]Failure, error) {
	w, err := weekbin.ParseWeek(weekID)
	if err != nil {
		return nil, err
	}

	var out []Failure
	for _, q := range []*queue.Queue{s.conversions, s.podcasts} {
		jobs, err := q.GetFailed(ctx)
		if err != nil {
			return nil, err
		}
		for _, job := range jobs {
			if job.FinishedOn.IsZero() || weekbin.WeekOf(job.FinishedOn) != w {
				continue
			}
			out = append(out, failureOf(job))
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].FailedAt.After(out[j].FailedAt) })
	return out, nil
}

func failureOf(job *queue.Job) Failure {
	f := Failure{
		JobID:         job.ID,
		Queue:         job.Queue,
		FailureReason: job.FailedReason,
		FailedAt:      job.FinishedOn,
		IsBotDetected: failure.IsBotDetected(job.FailedReason),
		AttemptsMade:  job.AttemptsMade,
		MaxAttempts:   job.MaxAttempts,
	}
	switch job.Name {
	case model.JobConvert:
		var req model.ConversionRequest
		if json.Unmarshal(job.Data, &req) == nil {
			f.URL = req.URL
			f.OriginalURL = req.OriginalURL
			f.Title = req.Title
			f.OldFilePath = req.OldFilePath
		}
	case model.JobTranscribePodcast:
		var req model.PodcastRequest
		if json.Unmarshal(job.Data, &req) == nil {
			f.URL = req.URL
			f.Title = req.Title
			f.OldFilePath = req.OldFilePath
		}
	}
	return f
}

// DeleteFiles removes artifacts by their data-dir-relative paths. Every path
// is confined before anything is touched: one traversal attempt rejects the
// whole request. Missing files count as already deleted. The catalog is not
// updated here; stale rows drop out at the next rescan.
func (s *Service) DeleteFiles(relPaths []string) (int, error) {
	resolved := make([]string, 0, len(relPaths))
	for _, rel := range relPaths {
		abs, err := fsutil.ConfineRelPath(s.store.DataDir(), rel)
		if err != nil {
			return 0, fmt.Errorf("delete %s: %w", rel, err)
		}
		resolved = append(resolved, abs)
	}

	removed := 0
	for _, abs := range resolved {
		if err := os.Remove(abs); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// DeleteFailures drops failed job records by id from the conversion and
// podcast queues. Unknown ids are skipped.
func (s *Service) DeleteFailures(ctx context.Context, ids []string) (int, error) {
	removed := 0
	for _, id := range ids {
		for _, q := range []*queue.Queue{s.conversions, s.podcasts} {
			_, err := q.GetJob(ctx, id)
			if errors.Is(err, queue.ErrJobNotFound) {
				continue
			}
			if err != nil {
				return removed, err
			}
			if err := q.Remove(ctx, id); err != nil {
				return removed, err
			}
			removed++
			break
		}
	}
	return removed, nil
}
