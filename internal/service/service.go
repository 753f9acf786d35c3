// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package service is the operations facade the daemon hands to embedders:
// submitting and inspecting jobs, browsing the weekly bins, rerunning and
// deleting artifacts, and installing the cookie jar. It owns no state of its
// own; every operation composes the queues, the bin store, and the bus.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ManuGH/papercast/internal/cookies"
	"github.com/ManuGH/papercast/internal/enrich"
	"github.com/ManuGH/papercast/internal/events"
	"github.com/ManuGH/papercast/internal/log"
	"github.com/ManuGH/papercast/internal/model"
	"github.com/ManuGH/papercast/internal/podcast"
	"github.com/ManuGH/papercast/internal/queue"
	"github.com/ManuGH/papercast/internal/weekbin"
)

// ErrUnsupportedHost rejects submissions for hosts that never render as
// readable articles.
var ErrUnsupportedHost = errors.New("video-only host has no article to render")

type Service struct {
	store       *weekbin.Store
	conversions *queue.Queue
	podcasts    *queue.Queue
	media       *queue.Queue
	bus         *events.Bus
	jar         *cookies.File
	logger      zerolog.Logger
}

func New(store *weekbin.Store, conversions, podcasts, media *queue.Queue, bus *events.Bus, jar *cookies.File) *Service {
	return &Service{
		store:       store,
		conversions: conversions,
		podcasts:    podcasts,
		media:       media,
		bus:         bus,
		jar:         jar,
		logger:      log.WithComponent("service"),
	}
}

// SubmitConversion validates and enqueues one URL. Apple Podcasts episode
// links route to the transcription queue; everything else becomes a
// conversion job. Returns the job id.
func (s *Service) SubmitConversion(ctx context.Context, req model.ConversionRequest, priority int) (string, error) {
	if strings.TrimSpace(req.URL) == "" {
		return "", errors.New("submit: url required")
	}
	if enrich.IsVideoOnlyHost(req.URL) {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedHost, req.URL)
	}

	id := uuid.NewString()
	opts := &queue.JobOptions{JobID: id, Priority: priority}

	if podcast.IsEpisodeURL(req.URL) {
		preq := model.PodcastRequest{URL: req.URL, Title: req.Title, BookmarkedAt: req.BookmarkedAt, OldFilePath: req.OldFilePath}
		if _, err := s.podcasts.Add(ctx, model.JobTranscribePodcast, preq, opts); err != nil {
			return "", fmt.Errorf("enqueue podcast job: %w", err)
		}
		s.announce(id, req.URL, model.QueuePodcast)
		s.logger.Info().
			Str(log.FieldEvent, "service.podcast_queued").
			Str(log.FieldJobID, id).
			Str(log.FieldURL, req.URL).
			Msg("podcast transcription queued")
		return id, nil
	}

	if req.OriginalURL == "" {
		req.OriginalURL = req.URL
	}
	if req.Source == "" {
		req.Source = model.SourceManual
	}
	if _, err := s.conversions.Add(ctx, model.JobConvert, req, opts); err != nil {
		return "", fmt.Errorf("enqueue conversion job: %w", err)
	}
	s.announce(id, req.URL, model.QueueConversion)
	s.logger.Info().
		Str(log.FieldEvent, "service.conversion_queued").
		Str(log.FieldJobID, id).
		Str(log.FieldURL, req.URL).
		Msg("conversion queued")
	return id, nil
}

func (s *Service) announce(jobID, url, queueName string) {
	s.bus.Publish(events.ItemQueued{
		JobID:  jobID,
		URL:    url,
		Source: string(model.SourceManual),
		Queue:  queueName,
	})
}

// JobStatus is the cross-queue view of one job.
type JobStatus struct {
	JobID        string          `json:"jobId"`
	Queue        string          `json:"queue"`
	State        queue.State     `json:"state"`
	Progress     int             `json:"progress"`
	Result       json.RawMessage `json:"result,omitempty"`
	FailedReason string          `json:"failedReason,omitempty"`
	AttemptsMade int             `json:"attemptsMade"`
	MaxAttempts  int             `json:"maxAttempts"`
}

// Status resolves a job id across the conversion, podcast, and media queues,
// in that order.
func (s *Service) Status(ctx context.Context, jobID string) (*JobStatus, error) {
	for _, q := range []*queue.Queue{s.conversions, s.podcasts, s.media} {
		job, err := q.GetJob(ctx, jobID)
		if errors.Is(err, queue.ErrJobNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return &JobStatus{
			JobID:        job.ID,
			Queue:        job.Queue,
			State:        job.State,
			Progress:     job.Progress,
			Result:       job.ReturnValue,
			FailedReason: job.FailedReason,
			AttemptsMade: job.AttemptsMade,
			MaxAttempts:  job.MaxAttempts,
		}, nil
	}
	return nil, fmt.Errorf("job %s: %w", jobID, queue.ErrJobNotFound)
}

// Subscribe attaches fn to a bus topic, so embedders can consume lifecycle
// events without reaching into the daemon.
func (s *Service) Subscribe(topic string, fn func(events.Event)) {
	s.bus.Subscribe(topic, fn)
}

// UploadCookies validates and atomically installs a Netscape cookie jar. A
// broken upload never replaces a working one.
func (s *Service) UploadCookies(content []byte) error {
	if err := cookies.Validate(content); err != nil {
		return err
	}
	if err := s.jar.Replace(content); err != nil {
		return err
	}
	s.logger.Info().Str(log.FieldPath, s.jar.Path()).Msg("cookie jar installed")
	return nil
}
