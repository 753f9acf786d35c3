// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package convert

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-pdf/fpdf"
	"github.com/redis/go-redis/v9"

	"github.com/ManuGH/papercast/internal/browser"
	"github.com/ManuGH/papercast/internal/events"
	"github.com/ManuGH/papercast/internal/failure"
	"github.com/ManuGH/papercast/internal/model"
	"github.com/ManuGH/papercast/internal/quality"
	"github.com/ManuGH/papercast/internal/queue"
	"github.com/ManuGH/papercast/internal/weekbin"
)

type stubCapturer struct {
	result *browser.CaptureResult
	err    error
	calls  int
}

func (s *stubCapturer) Capture(ctx context.Context, url string) (*browser.CaptureResult, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

type stubVerifier struct {
	report quality.Report
	err    error
	calls  int
	pdf    []byte
}

func (s *stubVerifier) Verify(ctx context.Context, pdfData, screenshot []byte) (quality.Report, error) {
	s.calls++
	s.pdf = pdfData
	return s.report, s.err
}

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

type convertFixture struct {
	converter *Converter
	queue     *queue.Queue
	store     *weekbin.Store
	bus       *events.Bus
	capturer  *stubCapturer
	verifier  *stubVerifier
	recorder  *eventRecorder
}

func newConvertFixture(t *testing.T, opts ...Option) *convertFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	f := &convertFixture{
		queue:    queue.New("conversion", client, queue.Options{Attempts: 3}),
		store:    weekbin.NewStore(t.TempDir()),
		bus:      events.NewBus(),
		capturer: &stubCapturer{},
		verifier: &stubVerifier{},
		recorder: &eventRecorder{},
	}
	t.Cleanup(f.bus.Close)
	for _, topic := range []string{
		events.TopicConversionStarted,
		events.TopicConversionProgress,
		events.TopicConversionCompleted,
		events.TopicConversionFailed,
	} {
		f.bus.Subscribe(topic, f.recorder.record)
	}
	f.converter = New(f.capturer, f.verifier, f.store, f.queue, f.bus, opts...)
	return f
}

// run adds a real job record, hands it to the converter, and drains the bus
// so event assertions see everything.
func (f *convertFixture) run(t *testing.T, req model.ConversionRequest, opts *queue.JobOptions) (*model.ConversionResult, *queue.Job, error) {
	t.Helper()
	job, err := f.queue.Add(context.Background(), model.JobConvert, req, opts)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	ret, handleErr := f.converter.Handle(context.Background(), job)
	f.bus.Close()

	after, err := f.queue.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if handleErr != nil {
		return nil, after, handleErr
	}
	result, ok := ret.(*model.ConversionResult)
	if !ok {
		t.Fatalf("Handle returned %T, want *model.ConversionResult", ret)
	}
	return result, after, nil
}

func capturedPDF(t *testing.T) []byte {
	t.Helper()
	doc := fpdf.New("P", "mm", "A4", "")
	doc.AddPage()
	doc.SetFont("Helvetica", "", 12)
	doc.Cell(40, 10, "captured page")
	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestHandleCaptureVerifySave(t *testing.T) {
	f := newConvertFixture(t)
	pdf := capturedPDF(t)
	f.capturer.result = &browser.CaptureResult{
		PDF:        pdf,
		Screenshot: bytes.Repeat([]byte{0x89}, 20000),
		Title:      "Go Rocks",
	}
	f.verifier.report = quality.Report{Score: 85, Reasoning: "clean render"}

	at := time.Date(2025, 6, 11, 10, 0, 0, 0, time.UTC) // 2025-W24
	result, job, err := f.run(t, model.ConversionRequest{
		URL:          "https://example.com/posts/go-rocks",
		OriginalURL:  "https://example.com/posts/go-rocks",
		BookmarkedAt: &at,
	}, nil)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if !strings.HasSuffix(result.PDFPath, filepath.Join("2025-W24", "pdfs", "example.com-posts-go-rocks.pdf")) {
		t.Errorf("pdf path = %q", result.PDFPath)
	}
	if _, err := os.Stat(result.PDFPath); err != nil {
		t.Fatalf("saved pdf missing: %v", err)
	}
	if result.Week != "2025-W24" {
		t.Errorf("week = %q", result.Week)
	}
	if result.QualityScore != 85 || result.QualityReasoning != "clean render" {
		t.Errorf("quality = %d %q", result.QualityScore, result.QualityReasoning)
	}
	if result.PDFSize < int64(len(pdf)) {
		t.Errorf("pdf size = %d, want at least the capture size %d", result.PDFSize, len(pdf))
	}
	if job.Progress != 100 {
		t.Errorf("progress = %d, want 100", job.Progress)
	}
	if f.verifier.calls != 1 || !bytes.Equal(f.verifier.pdf, pdf) {
		t.Errorf("verifier calls = %d", f.verifier.calls)
	}

	var sawStarted, sawCompleted bool
	var milestones []int
	for _, ev := range f.recorder.all() {
		switch e := ev.(type) {
		case events.ConversionStarted:
			sawStarted = true
		case events.ConversionProgress:
			milestones = append(milestones, e.Progress)
		case events.ConversionCompleted:
			sawCompleted = true
			if e.PDFPath != result.PDFPath || e.QualityScore != 85 {
				t.Errorf("completed event = %+v", e)
			}
		case events.ConversionFailed:
			t.Errorf("unexpected failed event: %+v", e)
		}
	}
	if !sawStarted || !sawCompleted {
		t.Errorf("events: started=%v completed=%v", sawStarted, sawCompleted)
	}
	want := []int{10, 50, 90, 100}
	if len(milestones) != len(want) {
		t.Fatalf("milestones = %v, want %v", milestones, want)
	}
	for i := range want {
		if milestones[i] != want[i] {
			t.Errorf("milestones = %v, want %v", milestones, want)
			break
		}
	}
}

func TestHandleJobTitleWinsOverCaptureTitle(t *testing.T) {
	f := newConvertFixture(t)
	f.capturer.result = &browser.CaptureResult{PDF: capturedPDF(t), Title: "Scraped Title"}

	at := time.Date(2025, 6, 11, 0, 0, 0, 0, time.UTC)
	result, _, err := f.run(t, model.ConversionRequest{
		URL:          "https://example.com/a",
		Title:        "Chosen Title",
		BookmarkedAt: &at,
	}, nil)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if filepath.Base(result.PDFPath) != "example.com-chosen-title.pdf" {
		t.Errorf("filename = %q", filepath.Base(result.PDFPath))
	}
}

func TestHandleQualityFailureSavesDebug(t *testing.T) {
	f := newConvertFixture(t)
	pdf := capturedPDF(t)
	f.capturer.result = &browser.CaptureResult{PDF: pdf, Screenshot: bytes.Repeat([]byte{1}, 20000)}
	f.verifier.err = failure.New(failure.KindPaywall, "subscribe to continue reading")

	_, job, err := f.run(t, model.ConversionRequest{URL: "https://example.com/walled"}, nil)
	if err == nil {
		t.Fatal("expected failure")
	}
	cls := failure.Parse(err.Error())
	if cls.Kind != failure.KindPaywall {
		t.Errorf("kind = %s, want paywall", cls.Kind)
	}

	debugPath := filepath.Join(f.store.DataDir(), "debug", job.ID+".pdf")
	data, rerr := os.ReadFile(debugPath)
	if rerr != nil {
		t.Fatalf("debug artifact missing: %v", rerr)
	}
	if !bytes.Equal(data, pdf) {
		t.Error("debug artifact differs from capture")
	}
	if job.Progress != 50 {
		t.Errorf("progress = %d, want 50", job.Progress)
	}

	// Attempt 1 of 3: the failure is retryable, so no terminal event yet.
	for _, ev := range f.recorder.all() {
		if fe, ok := ev.(events.ConversionFailed); ok {
			t.Errorf("failed event on retryable attempt: %+v", fe)
		}
	}
}

func TestHandleTerminalFailureEmitsEvent(t *testing.T) {
	f := newConvertFixture(t)
	f.capturer.err = failure.New(failure.KindBotDetected, "403 from edge")

	_, _, err := f.run(t, model.ConversionRequest{URL: "https://example.com/blocked"},
		&queue.JobOptions{Attempts: 1})
	if err == nil {
		t.Fatal("expected failure")
	}

	var failed []events.ConversionFailed
	for _, ev := range f.recorder.all() {
		if fe, ok := ev.(events.ConversionFailed); ok {
			failed = append(failed, fe)
		}
	}
	if len(failed) != 1 {
		t.Fatalf("failed events = %d, want 1", len(failed))
	}
	if failed[0].FailureReason != "bot_detected: 403 from edge" {
		t.Errorf("failureReason = %q", failed[0].FailureReason)
	}
	if failed[0].AttemptsMade != 1 || failed[0].MaxAttempts != 1 {
		t.Errorf("attempts = %d/%d", failed[0].AttemptsMade, failed[0].MaxAttempts)
	}
	if f.verifier.calls != 0 {
		t.Errorf("verifier ran despite capture failure")
	}
}

func TestHandleRerunDeletesOldArtifact(t *testing.T) {
	f := newConvertFixture(t)
	f.capturer.result = &browser.CaptureResult{PDF: capturedPDF(t), Title: "Fresh"}

	oldPath := filepath.Join(f.store.DataDir(), "media", "2025-W23", "pdfs", "example.com-stale.pdf")
	if err := os.MkdirAll(filepath.Dir(oldPath), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(oldPath, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	at := time.Date(2025, 6, 11, 0, 0, 0, 0, time.UTC)
	result, _, err := f.run(t, model.ConversionRequest{
		URL:          "https://example.com/posts/fresh",
		BookmarkedAt: &at,
		OldFilePath:  oldPath,
	}, nil)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if _, err := os.Stat(oldPath); !os.IsNotExist(err) {
		t.Errorf("old artifact still present (err=%v)", err)
	}
	if _, err := os.Stat(result.PDFPath); err != nil {
		t.Errorf("new artifact missing: %v", err)
	}
}

func TestHandleFailureKeepsOldArtifact(t *testing.T) {
	f := newConvertFixture(t)
	f.capturer.err = failure.New(failure.KindTimeout, "navigation deadline")

	oldPath := filepath.Join(f.store.DataDir(), "media", "2025-W23", "pdfs", "example.com-stale.pdf")
	if err := os.MkdirAll(filepath.Dir(oldPath), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(oldPath, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, _, err := f.run(t, model.ConversionRequest{
		URL:         "https://example.com/posts/fresh",
		OldFilePath: oldPath,
	}, nil)
	if err == nil {
		t.Fatal("expected failure")
	}
	if _, err := os.Stat(oldPath); err != nil {
		t.Errorf("old artifact was touched on failure: %v", err)
	}
}

func TestHandleBadPayload(t *testing.T) {
	f := newConvertFixture(t)
	_, err := f.converter.Handle(context.Background(), &queue.Job{ID: "c-x", Data: []byte(`{`)})
	if err == nil {
		t.Fatal("expected error for malformed payload")
	}
}
