// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package convert runs the conversion queue: render a bookmarked URL to
// PDF in the headless browser, verify the capture, and file it into the
// weekly bin. Direct PDF links bypass the browser and the verifier.
package convert

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/papercast/internal/browser"
	"github.com/ManuGH/papercast/internal/events"
	"github.com/ManuGH/papercast/internal/failure"
	"github.com/ManuGH/papercast/internal/log"
	"github.com/ManuGH/papercast/internal/metrics"
	"github.com/ManuGH/papercast/internal/model"
	"github.com/ManuGH/papercast/internal/netutil"
	"github.com/ManuGH/papercast/internal/quality"
	"github.com/ManuGH/papercast/internal/queue"
	"github.com/ManuGH/papercast/internal/weekbin"
)

// Capturer renders one URL to a PDF. *browser.Pool is the production
// implementation.
type Capturer interface {
	Capture(ctx context.Context, url string) (*browser.CaptureResult, error)
}

// Verifier judges a capture. *quality.Verifier is the production
// implementation.
type Verifier interface {
	Verify(ctx context.Context, pdfData, screenshot []byte) (quality.Report, error)
}

// Converter is the conversion queue handler.
type Converter struct {
	capturer  Capturer
	verifier  Verifier
	store     *weekbin.Store
	queue     *queue.Queue
	bus       *events.Bus
	http      *http.Client
	ua        string
	assetAuth netutil.AssetAuth
	logger    zerolog.Logger
}

// Option configures a Converter.
type Option func(*Converter)

// WithHTTPClient replaces the direct-download client, mainly for tests.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Converter) { c.http = h }
}

// WithUserAgent sets the UA for direct PDF downloads.
func WithUserAgent(ua string) Option {
	return func(c *Converter) { c.ua = ua }
}

// WithAssetAuth attaches stash credentials to direct downloads of
// protected asset URLs.
func WithAssetAuth(auth netutil.AssetAuth) Option {
	return func(c *Converter) { c.assetAuth = auth }
}

func New(capturer Capturer, verifier Verifier, store *weekbin.Store, q *queue.Queue, bus *events.Bus, opts ...Option) *Converter {
	c := &Converter{
		capturer: capturer,
		verifier: verifier,
		store:    store,
		queue:    q,
		bus:      bus,
		http:     netutil.NewClient(downloadTimeout),
		logger:   log.WithComponent("convert"),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Handle converts one URL. The returned result is stored on the job; a
// returned error carries its failure classification in the message so the
// stored failedReason stays parseable.
func (c *Converter) Handle(ctx context.Context, job *queue.Job) (any, error) {
	var req model.ConversionRequest
	if err := json.Unmarshal(job.Data, &req); err != nil {
		return nil, fmt.Errorf("decode conversion request: %w", err)
	}
	logger := log.WithComponentFromContext(ctx, "convert")
	start := time.Now()

	c.bus.Publish(events.ConversionStarted{JobID: job.ID, URL: req.URL})
	c.progress(ctx, job.ID, req.URL, 10)

	result, err := c.convert(ctx, logger, job, req, start)
	if err != nil {
		cls := failure.Classify(err)
		logger.Warn().
			Str(log.FieldURL, req.URL).
			Str(log.FieldKind, string(cls.Kind)).
			Err(err).
			Msg("conversion failed")
		if job.IsFinalAttempt() {
			metrics.ConversionFailuresTotal.WithLabelValues(string(cls.Kind)).Inc()
			c.bus.Publish(events.ConversionFailed{
				JobID:         job.ID,
				URL:           req.URL,
				FailureReason: cls.Format(),
				AttemptsMade:  job.AttemptsMade + 1,
				MaxAttempts:   job.MaxAttempts,
			})
		}
		return nil, cls
	}

	c.progress(ctx, job.ID, req.URL, 100)
	c.bus.Publish(events.ConversionCompleted{
		JobID:            job.ID,
		URL:              req.URL,
		PDFPath:          result.PDFPath,
		PDFSize:          result.PDFSize,
		QualityScore:     result.QualityScore,
		QualityReasoning: result.QualityReasoning,
		DurationMs:       result.DurationMs,
	})
	logger.Info().
		Str(log.FieldURL, req.URL).
		Str(log.FieldPath, result.PDFPath).
		Int("score", result.QualityScore).
		Dur("duration", time.Since(start)).
		Msg("conversion completed")
	return result, nil
}

func (c *Converter) convert(ctx context.Context, logger zerolog.Logger, job *queue.Job, req model.ConversionRequest, start time.Time) (*model.ConversionResult, error) {
	if isDirectPDF(req.URL) {
		return c.downloadDirect(ctx, logger, job, req, start)
	}

	capture, err := c.capturer.Capture(ctx, req.URL)
	if err != nil {
		return nil, err
	}
	c.progress(ctx, job.ID, req.URL, 50)

	report, err := c.verifier.Verify(ctx, capture.PDF, capture.Screenshot)
	if err != nil {
		c.saveDebug(logger, job.ID, capture.PDF)
		return nil, err
	}

	title := req.Title
	if title == "" {
		title = capture.Title
	}
	return c.save(ctx, job, req, capture.PDF, saveParams{
		title:         title,
		directArticle: capture.DirectArticle,
		score:         report.Score,
		reasoning:     report.Reasoning,
		start:         start,
	})
}

type saveParams struct {
	title         string
	directArticle bool
	score         int
	reasoning     string
	start         time.Time
}

// save files the PDF, retires the superseded artifact of a rerun, and
// builds the job result.
func (c *Converter) save(ctx context.Context, job *queue.Job, req model.ConversionRequest, data []byte, p saveParams) (*model.ConversionResult, error) {
	original := req.OriginalURL
	if original == "" {
		original = req.URL
	}

	path, err := c.store.SavePDF(data, original, weekbin.SaveOptions{
		Title:         p.title,
		BookmarkedAt:  req.BookmarkedAt,
		DirectArticle: p.directArticle,
	})
	if err != nil {
		return nil, fmt.Errorf("save pdf: %w", err)
	}
	c.store.DeleteIfDifferent(req.OldFilePath, path)
	c.progress(ctx, job.ID, req.URL, 90)

	size := int64(len(data))
	if info, err := os.Stat(path); err == nil {
		size = info.Size()
	}
	at := time.Now()
	if req.BookmarkedAt != nil {
		at = *req.BookmarkedAt
	}
	return &model.ConversionResult{
		PDFPath:          path,
		PDFSize:          size,
		Week:             weekbin.WeekOf(at).String(),
		QualityScore:     p.score,
		QualityReasoning: p.reasoning,
		DurationMs:       time.Since(p.start).Milliseconds(),
	}, nil
}

// saveDebug keeps the rejected capture around for inspection. Best-effort:
// a failed debug write never masks the real failure.
func (c *Converter) saveDebug(logger zerolog.Logger, jobID string, pdf []byte) {
	if len(pdf) == 0 {
		return
	}
	path, err := c.store.SaveDebug(jobID, pdf)
	if err != nil {
		logger.Warn().Err(err).Str(log.FieldJobID, jobID).Msg("debug artifact not saved")
		return
	}
	logger.Info().Str(log.FieldPath, path).Msg("debug artifact saved")
}

func (c *Converter) progress(ctx context.Context, jobID, url string, pct int) {
	if err := c.queue.UpdateProgress(ctx, jobID, pct); err != nil {
		c.logger.Debug().Err(err).Str(log.FieldJobID, jobID).Msg("progress update failed")
	}
	c.bus.Publish(events.ConversionProgress{JobID: jobID, URL: url, Progress: pct})
}
