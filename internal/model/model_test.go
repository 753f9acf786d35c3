// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package model

import "testing"

func TestMediaTypeDirs(t *testing.T) {
	tests := []struct {
		mt  MediaType
		dir string
	}{
		{MediaVideo, "videos"},
		{MediaTranscript, "transcripts"},
		{MediaPodcast, "podcasts"},
		{MediaPDF, "pdfs"},
	}
	for _, tt := range tests {
		if got := tt.mt.Dir(); got != tt.dir {
			t.Errorf("%s.Dir() = %q, want %q", tt.mt, got, tt.dir)
		}
		back, ok := MediaTypeForDir(tt.dir)
		if !ok || back != tt.mt {
			t.Errorf("MediaTypeForDir(%q) = %q/%v, want %q", tt.dir, back, ok, tt.mt)
		}
	}
}

func TestParseMediaType(t *testing.T) {
	if _, err := ParseMediaType("video"); err != nil {
		t.Errorf("video should parse: %v", err)
	}
	if _, err := ParseMediaType("gif"); err == nil {
		t.Error("gif should not parse")
	}
	if _, ok := MediaTypeForDir("images"); ok {
		t.Error("unknown dir should not map")
	}
}
