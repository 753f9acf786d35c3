// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-pdf/fpdf"
	"github.com/redis/go-redis/v9"

	"github.com/ManuGH/papercast/internal/cookies"
	"github.com/ManuGH/papercast/internal/events"
	"github.com/ManuGH/papercast/internal/fsutil"
	"github.com/ManuGH/papercast/internal/model"
	"github.com/ManuGH/papercast/internal/queue"
	"github.com/ManuGH/papercast/internal/weekbin"
)

const episodeURL = "https://podcasts.apple.com/us/podcast/the-daily/id1200361736?i=1000634219599"

type eventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *eventRecorder) record(ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) all() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

type serviceFixture struct {
	svc         *Service
	store       *weekbin.Store
	conversions *queue.Queue
	podcasts    *queue.Queue
	media       *queue.Queue
	bus         *events.Bus
	recorder    *eventRecorder
	jar         *cookies.File
	dataDir     string
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		if err := client.Close(); err != nil {
			t.Errorf("close redis client: %v", err)
		}
	})

	fx := &serviceFixture{
		dataDir:  t.TempDir(),
		bus:      events.NewBus(),
		recorder: &eventRecorder{},
	}
	t.Cleanup(fx.bus.Close)
	fx.bus.Subscribe(events.TopicItemQueued, fx.recorder.record)

	fx.store = weekbin.NewStore(fx.dataDir)
	fx.conversions = queue.New(model.QueueConversion, client, queue.Options{})
	fx.podcasts = queue.New(model.QueuePodcast, client, queue.Options{})
	fx.media = queue.New(model.QueueMedia, client, queue.Options{})
	fx.jar = cookies.NewFile(filepath.Join(fx.dataDir, "cookies.txt"))
	fx.svc = New(fx.store, fx.conversions, fx.podcasts, fx.media, fx.bus, fx.jar)
	return fx
}

// renderedPDF builds a small real document. A non-empty subject is embedded
// the way the transcript renderer embeds the episode URL.
func renderedPDF(t *testing.T, subject string) []byte {
	t.Helper()
	doc := fpdf.New("P", "mm", "A4", "")
	doc.AddPage()
	doc.SetFont("Helvetica", "", 12)
	doc.Cell(40, 10, "fixture page")
	if subject != "" {
		doc.SetSubject(subject, true)
	}
	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		t.Fatalf("render pdf: %v", err)
	}
	return buf.Bytes()
}

// failJob enqueues a job and runs a worker that fails it with reason. The
// fixture queues keep the default single attempt, so one handler error is
// terminal.
func failJob(t *testing.T, q *queue.Queue, name string, data any, reason string) string {
	t.Helper()
	ctx := context.Background()
	job, err := q.Add(ctx, name, data, nil)
	if err != nil {
		t.Fatalf("add job: %v", err)
	}

	w := queue.NewWorker(q, func(context.Context, *queue.Job) (any, error) {
		return nil, errors.New(reason)
	}, 1)
	w.Start(ctx)
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := w.Stop(stopCtx); err != nil {
			t.Errorf("stop worker: %v", err)
		}
	}()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, err := q.GetJob(ctx, job.ID)
		if err != nil {
			t.Fatalf("get job: %v", err)
		}
		if got.State == queue.StateFailed {
			return job.ID
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s not failed before deadline", job.ID)
	return ""
}

func TestSubmitConversionQueues(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	id, err := fx.svc.SubmitConversion(ctx, model.ConversionRequest{
		URL:   "https://example.com/deep-dive",
		Title: "Deep Dive",
	}, 3)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	job, err := fx.conversions.GetJob(ctx, id)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Name != model.JobConvert {
		t.Errorf("job name = %q, want %q", job.Name, model.JobConvert)
	}
	if job.Priority != 3 {
		t.Errorf("priority = %d, want 3", job.Priority)
	}
	var req model.ConversionRequest
	if err := json.Unmarshal(job.Data, &req); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if req.OriginalURL != "https://example.com/deep-dive" {
		t.Errorf("original url not defaulted: %q", req.OriginalURL)
	}
	if req.Source != model.SourceManual {
		t.Errorf("source = %q, want %q", req.Source, model.SourceManual)
	}

	fx.bus.Close()
	evs := fx.recorder.all()
	if len(evs) != 1 {
		t.Fatalf("got %d events, want 1", len(evs))
	}
	got, ok := evs[0].(events.ItemQueued)
	if !ok {
		t.Fatalf("event = %T, want ItemQueued", evs[0])
	}
	want := events.ItemQueued{
		JobID:  id,
		URL:    "https://example.com/deep-dive",
		Source: string(model.SourceManual),
		Queue:  model.QueueConversion,
	}
	if got != want {
		t.Errorf("event = %+v, want %+v", got, want)
	}
}

func TestSubmitRoutesPodcastEpisodes(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	bookmarked := time.Date(2025, 2, 3, 8, 0, 0, 0, time.UTC)
	id, err := fx.svc.SubmitConversion(ctx, model.ConversionRequest{URL: episodeURL, Title: "The Daily", BookmarkedAt: &bookmarked}, 0)
	if err != nil {
		t.Fatalf("submit episode: %v", err)
	}
	job, err := fx.podcasts.GetJob(ctx, id)
	if err != nil {
		t.Fatalf("episode not on podcast queue: %v", err)
	}
	if job.Name != model.JobTranscribePodcast {
		t.Errorf("job name = %q, want %q", job.Name, model.JobTranscribePodcast)
	}
	var req model.PodcastRequest
	if err := json.Unmarshal(job.Data, &req); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if req.URL != episodeURL || req.Title != "The Daily" {
		t.Errorf("request = %+v", req)
	}
	if req.BookmarkedAt == nil || !req.BookmarkedAt.Equal(bookmarked) {
		t.Errorf("request bookmarkedAt = %v, want %v", req.BookmarkedAt, bookmarked)
	}
	counts, err := fx.conversions.Counts(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts.Queued != 0 {
		t.Errorf("episode leaked onto conversion queue: %+v", counts)
	}

	// A show page without an episode marker is an ordinary article capture.
	showURL := "https://podcasts.apple.com/us/podcast/the-daily/id1200361736"
	id, err = fx.svc.SubmitConversion(ctx, model.ConversionRequest{URL: showURL}, 0)
	if err != nil {
		t.Fatalf("submit show page: %v", err)
	}
	if _, err := fx.conversions.GetJob(ctx, id); err != nil {
		t.Errorf("show page not on conversion queue: %v", err)
	}
}

func TestSubmitRejectsVideoHosts(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	for _, url := range []string{
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		"https://youtu.be/dQw4w9WgXcQ",
		"https://vimeo.com/123456",
	} {
		if _, err := fx.svc.SubmitConversion(ctx, model.ConversionRequest{URL: url}, 0); !errors.Is(err, ErrUnsupportedHost) {
			t.Errorf("submit %s: err = %v, want ErrUnsupportedHost", url, err)
		}
	}

	counts, err := fx.conversions.Counts(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts.Queued != 0 {
		t.Errorf("rejected submissions queued jobs: %+v", counts)
	}
	fx.bus.Close()
	if evs := fx.recorder.all(); len(evs) != 0 {
		t.Errorf("rejected submissions published %d events", len(evs))
	}
}

func TestSubmitRequiresURL(t *testing.T) {
	fx := newServiceFixture(t)

	_, err := fx.svc.SubmitConversion(context.Background(), model.ConversionRequest{URL: "   "}, 0)
	if err == nil {
		t.Fatal("blank url accepted")
	}
	if errors.Is(err, ErrUnsupportedHost) {
		t.Errorf("blank url misreported as unsupported host: %v", err)
	}
}

func TestStatusAcrossQueues(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	convID, err := fx.svc.SubmitConversion(ctx, model.ConversionRequest{URL: "https://example.com/a"}, 0)
	if err != nil {
		t.Fatalf("submit conversion: %v", err)
	}
	podID, err := fx.svc.SubmitConversion(ctx, model.ConversionRequest{URL: episodeURL}, 0)
	if err != nil {
		t.Fatalf("submit episode: %v", err)
	}
	mediaJob, err := fx.media.Add(ctx, model.JobCollectMedia, model.MediaRequest{URL: "https://example.com/clip.mp4"}, nil)
	if err != nil {
		t.Fatalf("add media job: %v", err)
	}

	for _, tc := range []struct {
		id    string
		queue string
	}{
		{convID, model.QueueConversion},
		{podID, model.QueuePodcast},
		{mediaJob.ID, model.QueueMedia},
	} {
		st, err := fx.svc.Status(ctx, tc.id)
		if err != nil {
			t.Fatalf("status %s: %v", tc.id, err)
		}
		if st.Queue != tc.queue {
			t.Errorf("job %s queue = %q, want %q", tc.id, st.Queue, tc.queue)
		}
		if st.State != queue.StateQueued {
			t.Errorf("job %s state = %q, want %q", tc.id, st.State, queue.StateQueued)
		}
	}

	if err := fx.conversions.UpdateProgress(ctx, convID, 55); err != nil {
		t.Fatalf("update progress: %v", err)
	}
	st, err := fx.svc.Status(ctx, convID)
	if err != nil {
		t.Fatalf("status after progress: %v", err)
	}
	if st.Progress != 55 {
		t.Errorf("progress = %d, want 55", st.Progress)
	}

	if _, err := fx.svc.Status(ctx, "no-such-job"); !errors.Is(err, queue.ErrJobNotFound) {
		t.Errorf("unknown id: err = %v, want ErrJobNotFound", err)
	}
}

func TestListFailuresFiltersByWeek(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	convID := failJob(t, fx.conversions, model.JobConvert, model.ConversionRequest{
		URL:         "https://example.com/blocked",
		OriginalURL: "https://reader.example/item/9",
		Title:       "Blocked",
	}, "bot_detected: cloudflare challenge page")
	podID := failJob(t, fx.podcasts, model.JobTranscribePodcast, model.PodcastRequest{
		URL:   episodeURL,
		Title: "The Daily",
	}, "timeout: transcript poll gave up")

	week := weekbin.WeekOf(time.Now()).String()
	fails, err := fx.svc.ListFailures(ctx, week)
	if err != nil {
		t.Fatalf("list failures: %v", err)
	}
	if len(fails) != 2 {
		t.Fatalf("got %d failures, want 2: %+v", len(fails), fails)
	}

	byID := make(map[string]Failure, len(fails))
	for _, f := range fails {
		byID[f.JobID] = f
	}
	conv, ok := byID[convID]
	if !ok {
		t.Fatalf("conversion failure missing: %+v", byID)
	}
	if conv.Queue != model.QueueConversion || conv.URL != "https://example.com/blocked" ||
		conv.OriginalURL != "https://reader.example/item/9" || conv.Title != "Blocked" {
		t.Errorf("conversion failure = %+v", conv)
	}
	if !conv.IsBotDetected {
		t.Error("bot detection flag not set")
	}
	if conv.FailedAt.IsZero() {
		t.Error("failed-at timestamp missing")
	}
	pod, ok := byID[podID]
	if !ok {
		t.Fatalf("podcast failure missing: %+v", byID)
	}
	if pod.Queue != model.QueuePodcast || pod.URL != episodeURL || pod.IsBotDetected {
		t.Errorf("podcast failure = %+v", pod)
	}

	other, err := fx.svc.ListFailures(ctx, "2020-W01")
	if err != nil {
		t.Fatalf("list other week: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("failures leaked into other week: %+v", other)
	}

	if _, err := fx.svc.ListFailures(ctx, "not-a-week"); err == nil {
		t.Error("malformed week id accepted")
	}
}

func TestRerunWeekResubmitsFromSubject(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()
	bookmarked := time.Date(2025, 6, 9, 12, 0, 0, 0, time.UTC)
	articleURL := "https://example.com/deep-dive"

	articlePath, err := fx.store.SavePDF(renderedPDF(t, ""), articleURL, weekbin.SaveOptions{
		Title:        "Deep Dive",
		BookmarkedAt: &bookmarked,
	})
	if err != nil {
		t.Fatalf("save article pdf: %v", err)
	}
	transcriptPath, err := fx.store.SaveBytes(renderedPDF(t, episodeURL), bookmarked, model.MediaPodcast, "the-daily-ep.pdf")
	if err != nil {
		t.Fatalf("save transcript pdf: %v", err)
	}
	// Neither the episode audio nor a PDF without provenance is rerunnable.
	if _, err := fx.store.SaveBytes([]byte("audio"), bookmarked, model.MediaPodcast, "the-daily-ep.mp3"); err != nil {
		t.Fatalf("save audio: %v", err)
	}
	if _, err := fx.store.SaveBytes(renderedPDF(t, ""), bookmarked, model.MediaPDF, "no-provenance.pdf"); err != nil {
		t.Fatalf("save plain pdf: %v", err)
	}

	res, err := fx.svc.RerunWeek(ctx, "2025-W24")
	if err != nil {
		t.Fatalf("rerun week: %v", err)
	}
	if res.Submitted != 2 || len(res.Jobs) != 2 {
		t.Fatalf("result = %+v, want 2 submissions", res)
	}

	var convID, podID string
	for _, id := range res.Jobs {
		st, err := fx.svc.Status(ctx, id)
		if err != nil {
			t.Fatalf("status %s: %v", id, err)
		}
		switch st.Queue {
		case model.QueueConversion:
			convID = id
		case model.QueuePodcast:
			podID = id
		}
	}
	if convID == "" || podID == "" {
		t.Fatalf("rerun did not hit both queues: %+v", res.Jobs)
	}

	convJob, err := fx.conversions.GetJob(ctx, convID)
	if err != nil {
		t.Fatalf("get conversion job: %v", err)
	}
	var creq model.ConversionRequest
	if err := json.Unmarshal(convJob.Data, &creq); err != nil {
		t.Fatalf("decode conversion request: %v", err)
	}
	if creq.URL != articleURL || creq.OldFilePath != articlePath {
		t.Errorf("conversion request = %+v, want url %s old path %s", creq, articleURL, articlePath)
	}

	podJob, err := fx.podcasts.GetJob(ctx, podID)
	if err != nil {
		t.Fatalf("get podcast job: %v", err)
	}
	var preq model.PodcastRequest
	if err := json.Unmarshal(podJob.Data, &preq); err != nil {
		t.Fatalf("decode podcast request: %v", err)
	}
	if preq.URL != episodeURL || preq.OldFilePath != transcriptPath {
		t.Errorf("podcast request = %+v, want url %s old path %s", preq, episodeURL, transcriptPath)
	}
}

func TestRerunSelectedFilesAndURLs(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()
	bookmarked := time.Date(2025, 6, 9, 12, 0, 0, 0, time.UTC)

	saved, err := fx.store.SavePDF(renderedPDF(t, ""), "https://example.com/keeper", weekbin.SaveOptions{
		Title:        "Keeper",
		BookmarkedAt: &bookmarked,
	})
	if err != nil {
		t.Fatalf("save pdf: %v", err)
	}
	rel, err := filepath.Rel(fx.dataDir, saved)
	if err != nil {
		t.Fatalf("rel path: %v", err)
	}
	plain, err := fx.store.SaveBytes(renderedPDF(t, ""), bookmarked, model.MediaPDF, "no-provenance.pdf")
	if err != nil {
		t.Fatalf("save plain pdf: %v", err)
	}
	relPlain, err := filepath.Rel(fx.dataDir, plain)
	if err != nil {
		t.Fatalf("rel path: %v", err)
	}

	res, err := fx.svc.RerunSelected(ctx, []string{rel, relPlain}, []string{"https://example.com/manual"})
	if err != nil {
		t.Fatalf("rerun selected: %v", err)
	}
	if res.Submitted != 2 {
		t.Fatalf("result = %+v, want 2 submissions (provenance-less file skipped)", res)
	}

	wantOldPath, err := fsutil.ConfineRelPath(fx.dataDir, rel)
	if err != nil {
		t.Fatalf("confine rel path: %v", err)
	}
	byURL := make(map[string]model.ConversionRequest)
	for _, id := range res.Jobs {
		job, err := fx.conversions.GetJob(ctx, id)
		if err != nil {
			t.Fatalf("get job %s: %v", id, err)
		}
		var req model.ConversionRequest
		if err := json.Unmarshal(job.Data, &req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		byURL[req.URL] = req
	}
	if got := byURL["https://example.com/keeper"]; got.OldFilePath != wantOldPath {
		t.Errorf("file rerun old path = %q, want %q", got.OldFilePath, wantOldPath)
	}
	if got, ok := byURL["https://example.com/manual"]; !ok || got.OldFilePath != "" {
		t.Errorf("url rerun = %+v", got)
	}

	// A traversal attempt rejects the whole request before anything queues.
	if _, err := fx.svc.RerunSelected(ctx, []string{"../outside.pdf"}, []string{"https://example.com/extra"}); err == nil {
		t.Fatal("traversal accepted")
	}
	counts, err := fx.conversions.Counts(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts.Queued != 2 {
		t.Errorf("rejected rerun queued jobs: %+v", counts)
	}
}

func TestDeleteFilesConfined(t *testing.T) {
	fx := newServiceFixture(t)
	at := time.Date(2025, 6, 9, 12, 0, 0, 0, time.UTC)

	pathA, err := fx.store.SaveBytes([]byte("a"), at, model.MediaVideo, "a.mp4")
	if err != nil {
		t.Fatalf("save a: %v", err)
	}
	pathB, err := fx.store.SaveBytes([]byte("b"), at, model.MediaVideo, "b.mp4")
	if err != nil {
		t.Fatalf("save b: %v", err)
	}
	relA, err := filepath.Rel(fx.dataDir, pathA)
	if err != nil {
		t.Fatalf("rel path: %v", err)
	}
	relB, err := filepath.Rel(fx.dataDir, pathB)
	if err != nil {
		t.Fatalf("rel path: %v", err)
	}

	relMissing := filepath.Join(filepath.Dir(relA), "missing.mp4")
	removed, err := fx.svc.DeleteFiles([]string{relA, relMissing})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, err := os.Stat(pathA); !os.IsNotExist(err) {
		t.Errorf("a.mp4 still present: %v", err)
	}
	if _, err := os.Stat(pathB); err != nil {
		t.Errorf("b.mp4 gone: %v", err)
	}

	// One traversal attempt rejects the whole batch, valid entries included.
	removed, err = fx.svc.DeleteFiles([]string{relB, "../escape"})
	if err == nil {
		t.Fatal("traversal accepted")
	}
	if removed != 0 {
		t.Errorf("removed = %d, want 0", removed)
	}
	if _, err := os.Stat(pathB); err != nil {
		t.Errorf("b.mp4 deleted despite rejected request: %v", err)
	}
}

func TestDeleteFailures(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	id := failJob(t, fx.conversions, model.JobConvert, model.ConversionRequest{
		URL: "https://example.com/gone",
	}, "timeout: page load")

	removed, err := fx.svc.DeleteFailures(ctx, []string{id, "unknown-id"})
	if err != nil {
		t.Fatalf("delete failures: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, err := fx.svc.Status(ctx, id); !errors.Is(err, queue.ErrJobNotFound) {
		t.Errorf("deleted job still resolvable: %v", err)
	}
	failed, err := fx.conversions.GetFailed(ctx)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if len(failed) != 0 {
		t.Errorf("failed set not empty: %+v", failed)
	}
}

func TestListWeeksReflectsSaves(t *testing.T) {
	fx := newServiceFixture(t)
	older := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	newer := time.Date(2025, 6, 9, 12, 0, 0, 0, time.UTC)

	if _, err := fx.store.SavePDF(renderedPDF(t, ""), "https://example.com/old", weekbin.SaveOptions{Title: "Old", BookmarkedAt: &older}); err != nil {
		t.Fatalf("save old: %v", err)
	}
	if _, err := fx.store.SavePDF(renderedPDF(t, ""), "https://example.com/new", weekbin.SaveOptions{Title: "New", BookmarkedAt: &newer}); err != nil {
		t.Fatalf("save new: %v", err)
	}

	weeks, err := fx.svc.ListWeeks()
	if err != nil {
		t.Fatalf("list weeks: %v", err)
	}
	if len(weeks) != 2 || weeks[0].Week != 24 || weeks[1].Week != 23 {
		t.Fatalf("weeks = %+v, want W24 before W23", weeks)
	}

	files, err := fx.svc.ListFiles("2025-W24")
	if err != nil {
		t.Fatalf("list files: %v", err)
	}
	if len(files) != 1 || files[0].SourceURL != "https://example.com/new" {
		t.Errorf("files = %+v", files)
	}

	if _, err := fx.svc.ListFiles("W24"); err == nil {
		t.Error("malformed week id accepted")
	}
}

func TestUploadCookies(t *testing.T) {
	fx := newServiceFixture(t)

	valid := []byte("# Netscape HTTP Cookie File\nexample.com\tTRUE\t/\tFALSE\t1999999999\tsession\tabc123\n")
	if err := fx.svc.UploadCookies(valid); err != nil {
		t.Fatalf("upload: %v", err)
	}
	got, err := fx.jar.Load()
	if err != nil {
		t.Fatalf("load jar: %v", err)
	}
	if len(got) != 1 || got[0].Name != "session" || got[0].Value != "abc123" {
		t.Errorf("jar = %+v", got)
	}

	// A broken upload never replaces the working jar.
	if err := fx.svc.UploadCookies([]byte("# comments only\n")); err == nil {
		t.Fatal("empty upload accepted")
	}
	got, err = fx.jar.Load()
	if err != nil {
		t.Fatalf("reload jar: %v", err)
	}
	if len(got) != 1 || got[0].Name != "session" {
		t.Errorf("jar clobbered by rejected upload: %+v", got)
	}
}
