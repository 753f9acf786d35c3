// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package podcast

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/ManuGH/papercast/internal/metrics"
	"github.com/ManuGH/papercast/internal/netutil"
)

// Transcribing a long episode legitimately runs for hours. Default HTTP
// client timeouts would kill every real transcription, so the ASR client
// gets its own transport budget and a generous request deadline.
const (
	asrDialTimeout   = 5 * time.Minute
	asrHeaderTimeout = 4 * time.Hour
	asrRequestBudget = 4*time.Hour + 30*time.Minute
)

// ASR calls the speech-recognition service.
type ASR struct {
	base string
	http *http.Client
}

// ASROption configures an ASR client.
type ASROption func(*ASR)

// WithASRHTTPClient replaces the transport, mainly for tests.
func WithASRHTTPClient(h *http.Client) ASROption {
	return func(a *ASR) { a.http = h }
}

func NewASR(base string, opts ...ASROption) *ASR {
	a := &ASR{
		base: strings.TrimRight(base, "/"),
		http: netutil.NewStreamingClient(asrDialTimeout, asrHeaderTimeout),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Transcribe uploads the audio file and returns the transcript text. The
// audio streams through the request body; episodes are too large to buffer.
func (a *ASR) Transcribe(ctx context.Context, audioPath string) (string, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return "", fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(ctx, asrRequestBudget)
	defer cancel()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("audio_file", filepath.Base(audioPath))
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, f); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.base+"/asr?output=txt", pr)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	start := time.Now()
	res, err := a.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("asr request: %w", err)
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return "", fmt.Errorf("read asr response: %w", err)
	}
	if res.StatusCode != http.StatusOK {
		snippet := body
		if len(snippet) > 512 {
			snippet = snippet[:512]
		}
		return "", fmt.Errorf("asr returned %d: %s", res.StatusCode, snippet)
	}
	metrics.TranscriptionDuration.Observe(time.Since(start).Seconds())

	// Some deployments answer JSON even when asked for plain text.
	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Text != "" {
		return parsed.Text, nil
	}
	return string(body), nil
}

var (
	srtTimestamp = regexp.MustCompile(`\d{2}:\d{2}:\d{2}[,.:]\d{3}\s*-->\s*\d{2}:\d{2}:\d{2}[,.:]\d{3}`)
	srtSequence  = regexp.MustCompile(`^\d+$`)
)

const srtSentencesPerParagraph = 5

// isSRT reports whether the service ignored output=txt and produced
// subtitles.
func isSRT(text string) bool {
	return srtTimestamp.MatchString(text)
}

// srtToText strips cue numbers and timestamp lines and regroups the cue
// text into paragraphs of a few sentences each.
func srtToText(text string) string {
	var cues []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || srtSequence.MatchString(line) || srtTimestamp.MatchString(line) {
			continue
		}
		cues = append(cues, line)
	}
	joined := strings.Join(cues, " ")

	var b strings.Builder
	b.Grow(len(joined))
	sentences := 0
	for i := 0; i < len(joined); i++ {
		c := joined[i]
		b.WriteByte(c)
		if c == '.' || c == '!' || c == '?' {
			sentences++
			if sentences >= srtSentencesPerParagraph && i+1 < len(joined) && joined[i+1] == ' ' {
				b.WriteString("\n\n")
				i++
				sentences = 0
			}
		}
	}
	return b.String()
}
