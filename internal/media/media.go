// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package media runs the media queue: download feed enclosures and stash
// assets into the weekly bin. Downloads stream through a temp file and
// land with an atomic rename, so a crashed worker never leaves a partial
// artifact under its final name.
package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/papercast/internal/events"
	"github.com/ManuGH/papercast/internal/failure"
	"github.com/ManuGH/papercast/internal/log"
	"github.com/ManuGH/papercast/internal/metrics"
	"github.com/ManuGH/papercast/internal/model"
	"github.com/ManuGH/papercast/internal/netutil"
	"github.com/ManuGH/papercast/internal/queue"
	"github.com/ManuGH/papercast/internal/weekbin"
)

const (
	downloadBudget = 5 * time.Minute
	copyBufferSize = 64 * 1024

	dialTimeout   = 30 * time.Second
	headerTimeout = time.Minute
)

// Collector is the media queue handler.
type Collector struct {
	store     *weekbin.Store
	bus       *events.Bus
	http      *http.Client
	ua        string
	assetAuth netutil.AssetAuth
}

// Option configures a Collector.
type Option func(*Collector)

// WithHTTPClient replaces the download client, mainly for tests.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Collector) { c.http = h }
}

// WithUserAgent sets the UA for downloads.
func WithUserAgent(ua string) Option {
	return func(c *Collector) { c.ua = ua }
}

// WithAssetAuth attaches stash credentials to downloads of protected
// asset URLs.
func WithAssetAuth(auth netutil.AssetAuth) Option {
	return func(c *Collector) { c.assetAuth = auth }
}

func New(store *weekbin.Store, bus *events.Bus, opts ...Option) *Collector {
	c := &Collector{
		store: store,
		bus:   bus,
		// No overall client timeout: large videos legitimately take longer
		// than any fixed budget. The per-job context bounds the transfer.
		http: netutil.NewStreamingClient(dialTimeout, headerTimeout),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Handle downloads one enclosure. Permanent HTTP errors carry the
// unrecoverable mark so the queue does not burn retries on a file that is
// gone for good; a missing transcript stays retryable because the upstream
// service generates them asynchronously.
func (c *Collector) Handle(ctx context.Context, job *queue.Job) (any, error) {
	var req model.MediaRequest
	if err := json.Unmarshal(job.Data, &req); err != nil {
		return nil, fmt.Errorf("decode media request: %w", err)
	}
	logger := log.WithComponentFromContext(ctx, "media")

	mt := req.MediaType
	if _, err := model.ParseMediaType(string(mt)); err != nil {
		mt = model.MediaVideo
	}

	result, err := c.collect(ctx, logger, req, mt)
	if err != nil {
		cls := failure.Classify(err)
		unrecoverable := queue.IsUnrecoverable(err)
		logger.Warn().
			Str(log.FieldURL, req.URL).
			Str(log.FieldKind, string(cls.Kind)).
			Err(err).
			Msg("media collection failed")
		if job.IsFinalAttempt() || unrecoverable {
			c.bus.Publish(events.MediaFailed{
				JobID:         job.ID,
				URL:           req.URL,
				FailureReason: cls.Format(),
				AttemptsMade:  job.AttemptsMade + 1,
				MaxAttempts:   job.MaxAttempts,
			})
		}
		if unrecoverable {
			return nil, queue.Unrecoverable(cls)
		}
		return nil, cls
	}

	if result.Skipped {
		c.bus.Publish(events.MediaSkipped{JobID: job.ID, URL: req.URL, Path: result.Path})
		logger.Info().
			Str(log.FieldURL, req.URL).
			Str(log.FieldPath, result.Path).
			Msg("media already saved")
		return result, nil
	}
	c.bus.Publish(events.MediaSaved{
		JobID:     job.ID,
		URL:       req.URL,
		Path:      result.Path,
		MediaType: mt,
		Size:      result.Size,
	})
	logger.Info().
		Str(log.FieldURL, req.URL).
		Str(log.FieldPath, result.Path).
		Str(log.FieldMediaType, string(mt)).
		Int64(log.FieldSize, result.Size).
		Msg("media saved")
	return result, nil
}

func (c *Collector) collect(ctx context.Context, logger zerolog.Logger, req model.MediaRequest, mt model.MediaType) (*model.MediaResult, error) {
	src := req.EnclosureURL
	if src == "" {
		src = req.URL
	}
	if src == "" {
		return nil, queue.Unrecoverable(failure.New(failure.KindDownloadFailed, "media job carries no download url"))
	}

	dctx, cancel := context.WithTimeout(ctx, downloadBudget)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(dctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, queue.Unrecoverable(failure.New(failure.KindDownloadFailed, "build request for %s: %v", src, err))
	}
	if c.ua != "" {
		httpReq.Header.Set("User-Agent", c.ua)
	}
	c.assetAuth.Apply(httpReq)

	res, err := c.http.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, failure.New(failure.KindTimeout, "download %s: %v", src, err)
		}
		return nil, failure.New(failure.KindDownloadFailed, "download %s: %v", src, err)
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusNotFound && mt == model.MediaTranscript:
		// Transcripts are generated upstream after the episode appears;
		// retry until the file shows up.
		return nil, failure.New(failure.KindFileMissing, "transcript not available yet: status 404 for %s", src)
	case res.StatusCode == http.StatusNotFound || res.StatusCode == http.StatusGone:
		return nil, queue.Unrecoverable(failure.New(failure.KindDownloadFailed, "download %s: status %d", src, res.StatusCode))
	case res.StatusCode < 200 || res.StatusCode >= 300:
		return nil, failure.New(failure.KindDownloadFailed, "download %s: status %d", src, res.StatusCode)
	}

	at := time.Now()
	if req.BookmarkedAt != nil {
		at = *req.BookmarkedAt
	}
	dir, err := c.store.EnsureBin(at, mt)
	if err != nil {
		return nil, err
	}
	dest, err := filepath.Abs(filepath.Join(dir, c.fileName(req, res, src, mt)))
	if err != nil {
		return nil, err
	}

	if info, serr := os.Stat(dest); serr == nil {
		if info.Size() > 0 {
			return &model.MediaResult{
				Path:    dest,
				Size:    info.Size(),
				Week:    weekbin.WeekOf(at).String(),
				Skipped: true,
			}, nil
		}
		// An empty artifact is a crashed earlier attempt; replace it.
		if rerr := os.Remove(dest); rerr != nil && !os.IsNotExist(rerr) {
			return nil, fmt.Errorf("remove empty artifact %s: %w", dest, rerr)
		}
	}

	size, err := c.download(dest, dir, res.Body)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, failure.New(failure.KindTimeout, "download %s: %v", src, err)
		}
		return nil, failure.New(failure.KindDownloadFailed, "download %s: %v", src, err)
	}
	if cl := res.ContentLength; cl > 0 && size != cl {
		// Some servers report a wrong length; the bytes on disk win.
		logger.Warn().
			Str(log.FieldURL, src).
			Int64("expected", cl).
			Int64("received", size).
			Msg("download size differs from content-length")
	}

	metrics.FilesSavedTotal.WithLabelValues(string(mt)).Inc()
	logger.Debug().
		Str(log.FieldWeek, weekbin.WeekOf(at).String()).
		Str(log.FieldPath, dest).
		Msg("media stored")
	return &model.MediaResult{
		Path: dest,
		Size: size,
		Week: weekbin.WeekOf(at).String(),
	}, nil
}

// download streams body into a temp file next to dest and renames it into
// place once the transfer is complete.
func (c *Collector) download(dest, dir string, body io.Reader) (int64, error) {
	tmp, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	// The Writer wrapper keeps io.CopyBuffer from delegating to
	// File.ReadFrom, which would ignore the buffer.
	size, err := io.CopyBuffer(struct{ io.Writer }{tmp}, body, make([]byte, copyBufferSize))
	if err != nil {
		tmp.Close()
		return 0, err
	}
	if size == 0 {
		tmp.Close()
		return 0, errors.New("empty response body")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return 0, fmt.Errorf("move into bin: %w", err)
	}
	return size, nil
}

// fileName derives the artifact filename. Stash assets keep their original
// upload name from Content-Disposition; everything else goes by the item
// title or source hostname.
func (c *Collector) fileName(req model.MediaRequest, res *http.Response, src string, mt model.MediaType) string {
	ext := extFor(res.Header.Get("Content-Type"), src, mt)
	if req.AssetID != "" {
		if disp := netutil.DispositionFilename(res.Header.Get("Content-Disposition")); disp != "" {
			return weekbin.MediaFileName(strings.TrimSuffix(disp, path.Ext(disp)), src, ext)
		}
	}
	return weekbin.MediaFileName(req.Title, src, ext)
}

// extFor infers the extension from the response MIME type, falling back to
// a recognized URL extension, then to the media type's default.
func extFor(contentType, rawURL string, mt model.MediaType) string {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "video/mp4"):
		return ".mp4"
	case strings.Contains(ct, "video/webm"):
		return ".webm"
	case strings.Contains(ct, "application/pdf"):
		return ".pdf"
	}
	if u, err := url.Parse(rawURL); err == nil {
		switch ext := strings.ToLower(path.Ext(u.Path)); ext {
		case ".mp4", ".webm", ".pdf", ".mp3", ".m4a":
			return ext
		}
	}
	if mt == model.MediaVideo {
		return ".mp4"
	}
	return ".pdf"
}
