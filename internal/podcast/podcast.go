// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package podcast runs the podcast queue: resolve an Apple Podcasts episode
// through the iTunes lookup API, download and transcribe its audio, clean
// the transcript up, and archive a transcript PDF next to the audio in the
// weekly bin.
package podcast

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
	audioTimeout     = 10 * time.Minute
	dialTimeout      = 30 * time.Second
	headerTimeout    = time.Minute
	maxSpellingHints = 12
)

// Worker is the podcast queue handler. Every stage is idempotent against
// the weekly bin, so a retry replays all stages safely.
type Worker struct {
	store    *weekbin.Store
	queue    *queue.Queue
	bus      *events.Bus
	lookup   *Lookup
	asr      *ASR
	reformat *Reformatter
	http     *http.Client
	ua       string
	logger   zerolog.Logger
	now      func() time.Time
}

// Option configures a Worker.
type Option func(*Worker)

// WithHTTPClient replaces the feed/audio download client, mainly for tests.
func WithHTTPClient(h *http.Client) Option {
	return func(w *Worker) { w.http = h }
}

// WithUserAgent sets the UA for feed and audio downloads.
func WithUserAgent(ua string) Option {
	return func(w *Worker) { w.ua = ua }
}

func New(store *weekbin.Store, q *queue.Queue, bus *events.Bus, lookup *Lookup, asr *ASR, reformat *Reformatter, opts ...Option) *Worker {
	w := &Worker{
		store:    store,
		queue:    q,
		bus:      bus,
		lookup:   lookup,
		asr:      asr,
		reformat: reformat,
		http:     netutil.NewStreamingClient(dialTimeout, headerTimeout),
		logger:   log.WithComponent("podcast"),
		now:      time.Now,
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Handle transcribes one episode end to end. The returned result is stored
// on the job; a returned error carries its failure classification in the
// message so the stored failedReason stays parseable.
func (w *Worker) Handle(ctx context.Context, job *queue.Job) (any, error) {
	var req model.PodcastRequest
	if err := json.Unmarshal(job.Data, &req); err != nil {
		return nil, fmt.Errorf("decode podcast request: %w", err)
	}
	logger := log.WithComponentFromContext(ctx, "podcast")
	start := time.Now()

	w.bus.Publish(events.PodcastStarted{JobID: job.ID, URL: req.URL})

	result, err := w.run(ctx, logger, job, req, start)
	if err != nil {
		cls := failure.Classify(err)
		unrecoverable := queue.IsUnrecoverable(err)
		logger.Warn().
			Str(log.FieldURL, req.URL).
			Str(log.FieldKind, string(cls.Kind)).
			Err(err).
			Msg("podcast transcription failed")
		if job.IsFinalAttempt() || unrecoverable {
			w.bus.Publish(events.PodcastFailed{
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

	w.progress(ctx, job.ID, 100)
	w.bus.Publish(events.PodcastCompleted{
		JobID:      job.ID,
		URL:        req.URL,
		PDFPath:    result.PDFPath,
		AudioPath:  result.AudioPath,
		DurationMs: result.DurationMs,
	})
	logger.Info().
		Str(log.FieldURL, req.URL).
		Str(log.FieldPath, result.PDFPath).
		Dur("duration", time.Since(start)).
		Msg("podcast transcribed")
	return result, nil
}

func (w *Worker) run(ctx context.Context, logger zerolog.Logger, job *queue.Job, req model.PodcastRequest, start time.Time) (*model.PodcastResult, error) {
	ref, err := ParseEpisodeURL(req.URL)
	if err != nil {
		return nil, queue.Unrecoverable(failure.New(failure.KindNavigationError, "not an apple podcasts episode link: %v", err))
	}
	w.progress(ctx, job.ID, 5)

	meta, err := w.lookup.Resolve(ctx, ref)
	if err != nil {
		var cls failure.Classification
		if errors.As(err, &cls) && cls.Kind == failure.KindFileMissing {
			return nil, queue.Unrecoverable(err)
		}
		return nil, err
	}
	logger = logger.With().Str("episode", meta.Episode.Title).Logger()
	logger.Debug().Str("podcast", meta.PodcastName).Msg("episode resolved")
	w.progress(ctx, job.ID, 15)

	notes := w.showNotes(ctx, logger, meta)
	w.progress(ctx, job.ID, 25)

	at := w.now()
	if req.BookmarkedAt != nil {
		at = *req.BookmarkedAt
	}
	bin, err := w.store.EnsureBin(at, model.MediaPodcast)
	if err != nil {
		return nil, err
	}
	audioTmp, err := w.downloadAudio(ctx, logger, meta.Episode.AudioURL, bin)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := os.Remove(audioTmp); err != nil && !os.IsNotExist(err) {
			logger.Debug().Err(err).Msg("audio temp not removed")
		}
	}()
	w.progress(ctx, job.ID, 40)

	w.progress(ctx, job.ID, 45)
	transcript, err := w.asr.Transcribe(ctx, audioTmp)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, failure.New(failure.KindTimeout, "transcription timed out for %s", meta.Episode.Title)
		}
		return nil, err
	}
	w.progress(ctx, job.ID, 75)
	if strings.TrimSpace(transcript) == "" {
		return nil, queue.Unrecoverable(failure.New(failure.KindUnknown, "transcription returned no text for %s", meta.Episode.Title))
	}

	if isSRT(transcript) {
		logger.Debug().Msg("subtitle output detected, stripping timestamps")
		transcript = srtToText(transcript)
	}
	w.progress(ctx, job.ID, 80)

	transcript = w.reformat.Reformat(ctx, transcript, spellingHints(meta, notes))
	w.progress(ctx, job.ID, 85)

	pdfData, err := renderPDF(transcriptDoc{
		Meta:       meta,
		Notes:      notes,
		Transcript: transcript,
		SourceURL:  req.URL,
	})
	if err != nil {
		return nil, err
	}
	w.progress(ctx, job.ID, 95)

	base := archiveBase(meta)
	pdfPath, err := w.store.SaveBytes(pdfData, at, model.MediaPodcast, base+".pdf")
	if err != nil {
		return nil, err
	}
	audioPath, err := w.archiveAudio(audioTmp, bin, base+"."+audioExt(meta.Episode))
	if err != nil {
		return nil, err
	}
	w.store.DeleteIfDifferent(req.OldFilePath, pdfPath)

	return &model.PodcastResult{
		PDFPath:    pdfPath,
		AudioPath:  audioPath,
		Week:       weekbin.WeekOf(at).String(),
		DurationMs: time.Since(start).Milliseconds(),
	}, nil
}

// downloadAudio streams the enclosure into a dot-temp inside the bin so the
// later rename never crosses filesystems.
func (w *Worker) downloadAudio(ctx context.Context, logger zerolog.Logger, audioURL, bin string) (string, error) {
	if audioURL == "" {
		return "", queue.Unrecoverable(failure.New(failure.KindFileMissing, "episode has no audio url"))
	}
	ctx, cancel := context.WithTimeout(ctx, audioTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, audioURL, nil)
	if err != nil {
		return "", failure.New(failure.KindDownloadFailed, "build audio request: %v", err)
	}
	if w.ua != "" {
		req.Header.Set("User-Agent", w.ua)
	}
	res, err := w.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", failure.New(failure.KindTimeout, "audio download timed out after %s", audioTimeout)
		}
		return "", failure.New(failure.KindDownloadFailed, "audio download: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return "", failure.New(failure.KindDownloadFailed, "audio download: status %d", res.StatusCode)
	}

	tmp, err := os.CreateTemp(bin, ".audio-*")
	if err != nil {
		return "", err
	}
	size, err := io.Copy(tmp, res.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		if errors.Is(err, context.DeadlineExceeded) {
			return "", failure.New(failure.KindTimeout, "audio download timed out after %s", audioTimeout)
		}
		return "", failure.New(failure.KindDownloadFailed, "audio download: %v", err)
	}
	if size == 0 {
		os.Remove(tmp.Name())
		return "", failure.New(failure.KindDownloadFailed, "audio download: empty response body")
	}
	logger.Debug().Int64(log.FieldSize, size).Msg("audio downloaded")
	return tmp.Name(), nil
}

// archiveAudio moves the temp into its bin slot. A non-empty file already
// there wins: reruns keep the first good copy.
func (w *Worker) archiveAudio(tmpPath, bin, name string) (string, error) {
	dest, err := filepath.Abs(filepath.Join(bin, filepath.Base(name)))
	if err != nil {
		return "", err
	}
	if st, err := os.Stat(dest); err == nil && st.Size() > 0 {
		return dest, nil
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return "", fmt.Errorf("archive audio: %w", err)
	}
	metrics.FilesSavedTotal.WithLabelValues(string(model.MediaPodcast)).Inc()
	return dest, nil
}

func (w *Worker) progress(ctx context.Context, jobID string, pct int) {
	if err := w.queue.UpdateProgress(ctx, jobID, pct); err != nil {
		w.logger.Debug().Err(err).Str(log.FieldJobID, jobID).Msg("progress update failed")
	}
}

// archiveBase is the shared basename for the transcript/audio pair.
func archiveBase(meta *model.PodcastMetadata) string {
	podcast := weekbin.Slug(meta.PodcastName)
	episode := weekbin.Slug(meta.Episode.Title)
	switch {
	case podcast == "" && episode == "":
		return "episode-" + meta.EpisodeID
	case podcast == "":
		return episode
	case episode == "":
		return podcast
	}
	return podcast + "-" + episode
}

// audioExt picks the archive extension: catalog hint, then URL, then mp3.
func audioExt(ep model.PodcastEpisode) string {
	if ext := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(ep.FileExt)), "."); validExt(ext) {
		return ext
	}
	if u, err := url.Parse(ep.AudioURL); err == nil {
		if ext := strings.TrimPrefix(strings.ToLower(path.Ext(u.Path)), "."); validExt(ext) {
			return ext
		}
	}
	return "mp3"
}

func validExt(ext string) bool {
	if ext == "" || len(ext) > 4 {
		return false
	}
	for _, r := range ext {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

// spellingHints collects proper nouns for the reformatter: podcast name,
// host, episode title, and the brands linked from the show notes.
func spellingHints(meta *model.PodcastMetadata, notes model.ShowNotes) []string {
	seen := map[string]bool{}
	var hints []string
	add := func(s string) {
		s = strings.TrimSpace(s)
		key := strings.ToLower(s)
		if s == "" || len(s) > 80 || seen[key] || len(hints) >= maxSpellingHints {
			return
		}
		seen[key] = true
		hints = append(hints, s)
	}
	add(meta.PodcastName)
	add(meta.ArtistName)
	add(meta.Episode.Title)
	for _, link := range notes.Links {
		add(link.Text)
	}
	return hints
}
