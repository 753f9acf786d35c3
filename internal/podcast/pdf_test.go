// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package podcast

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ManuGH/papercast/internal/model"
	"github.com/ManuGH/papercast/internal/pdfmeta"
)

func TestSanitizeText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain ascii", "hello world", "hello world"},
		{"smart quotes", "‘tis “fine”", `'tis "fine"`},
		{"dashes", "pre–war — said", "pre-war - said"},
		{"ellipsis", "wait…", "wait..."},
		{"nbsp", "a\u00A0b", "a b"},
		{"zero width stripped", "a\u200Bb\uFEFFc\u00ADd", "abcd"},
		{"latin1 accents kept", "café naïve", "café naïve"},
		{"beyond latin1 decomposed", "Dvořák", "Dvorák"},
		{"cjk dropped", "go日本lang", "golang"},
		{"newline and tab kept", "a\nb\tc", "a\nb\tc"},
		{"carriage return dropped", "a\r\nb", "a\nb"},
		{"ligature expanded", "eﬃcient", "efficient"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizeText(tt.in); got != tt.want {
				t.Errorf("sanitizeText(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		ms   int64
		want string
	}{
		{0, ""},
		{-5, ""},
		{30000, "30s"},
		{2520000, "42m"},
		{5520000, "1h 32m"},
		{3600000, "1h 0m"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.ms); got != tt.want {
			t.Errorf("formatDuration(%d) = %q, want %q", tt.ms, got, tt.want)
		}
	}
}

func TestMetadataLines(t *testing.T) {
	meta := &model.PodcastMetadata{
		ArtistName: "The New York Times",
		Genre:      "Daily News",
		Episode: model.PodcastEpisode{
			DurationMs: 2520000,
			ReleasedAt: time.Date(2023, 11, 12, 10, 45, 0, 0, time.UTC),
		},
	}
	lines := metadataLines(meta)
	want := []string{
		"Hosted by The New York Times",
		"Daily News",
		"Duration: 42m",
		"Released: November 12, 2023",
	}
	if len(lines) != len(want) {
		t.Fatalf("lines = %+v", lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}

	if got := metadataLines(&model.PodcastMetadata{}); len(got) != 0 {
		t.Errorf("empty meta lines = %+v", got)
	}
}

func TestRenderPDF(t *testing.T) {
	doc := transcriptDoc{
		Meta: &model.PodcastMetadata{
			PodcastName: "The Daily",
			ArtistName:  "The New York Times",
			Genre:       "Daily News",
			Episode: model.PodcastEpisode{
				Title:      "The Sunday Read",
				DurationMs: 2520000,
				ReleasedAt: time.Date(2023, 11, 12, 10, 45, 0, 0, time.UTC),
			},
		},
		Notes: model.ShowNotes{
			Summary: "A story, read aloud — with “quotes”.",
			Links: []model.Link{
				{Text: "Sponsor Inc", URL: "https://sponsor.example.com"},
			},
		},
		Transcript: "First paragraph of the episode.\n\nSecond paragraph with café talk.",
		SourceURL:  "https://podcasts.apple.com/us/podcast/the-daily/id1200361736?i=1000634219599",
	}

	data, err := renderPDF(doc)
	if err != nil {
		t.Fatalf("renderPDF: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		t.Fatalf("output does not look like a pdf: %q", data[:16])
	}

	// The subject carries the source URL so rerun tooling can recover it.
	path := filepath.Join(t.TempDir(), "episode.pdf")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	subject, err := pdfmeta.ExtractSubject(path)
	if err != nil {
		t.Fatalf("ExtractSubject: %v", err)
	}
	if subject != doc.SourceURL {
		t.Errorf("subject = %q, want %q", subject, doc.SourceURL)
	}
}

func TestRenderPDFMinimalMetadata(t *testing.T) {
	doc := transcriptDoc{
		Meta: &model.PodcastMetadata{
			PodcastName: "Show",
			Episode:     model.PodcastEpisode{Title: "Ep"},
		},
		Transcript: "Only a body.",
		SourceURL:  "https://podcasts.apple.com/us/podcast/show/id1?i=2",
	}
	data, err := renderPDF(doc)
	if err != nil {
		t.Fatalf("renderPDF: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("empty pdf")
	}
}
