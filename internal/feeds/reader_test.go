// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package feeds

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ManuGH/papercast/internal/model"
)

const readerFixture = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:dc="http://purl.org/dc/elements/1.1/">
<channel>
  <title>Read Later</title>
  <link>https://reader.example.com</link>
  <item>
    <title>A Plain Article</title>
    <link>https://www.example.com/posts/go-schedulers/?utm_source=reader</link>
    <guid isPermaLink="false">reader-item-1</guid>
    <description>Why schedulers are hard.</description>
    <dc:creator>Jane Doe</dc:creator>
    <pubDate>Mon, 18 Aug 2025 10:00:00 GMT</pubDate>
    <category>golang</category>
    <category>systems</category>
  </item>
  <item>
    <title>Talk: Distributed Logs</title>
    <link>https://example.com/watch/logs-talk</link>
    <guid isPermaLink="false">reader-item-2</guid>
    <enclosure url="https://reader.example.com/files/logs-talk.pdf" length="52428" type="application/pdf"/>
    <pubDate>Tue, 19 Aug 2025 09:30:00 GMT</pubDate>
  </item>
  <item>
    <title>Raw Clip</title>
    <link>https://example.com/clips/raw</link>
    <enclosure url="https://reader.example.com/files/raw.mp4" length="1048576" type="video/mp4"/>
  </item>
  <item>
    <title>No Link Here</title>
    <guid isPermaLink="false">reader-item-4</guid>
  </item>
</channel>
</rss>`

func TestReaderFetchMapsItems(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("ETag", `"feed-v1"`)
		w.Header().Set("Last-Modified", "Tue, 19 Aug 2025 09:30:00 GMT")
		w.Header().Set("Content-Type", "application/rss+xml")
		if _, err := w.Write([]byte(readerFixture)); err != nil {
			t.Error(err)
		}
	}))
	defer srv.Close()

	r := NewReader(srv.URL, SourceOptions{UserAgent: "papercast-test", Client: srv.Client()})
	res, err := r.Fetch(context.Background(), Validators{}, nil)
	if err != nil {
		t.Fatal(err)
	}

	if gotUA != "papercast-test" {
		t.Errorf("user agent = %q", gotUA)
	}
	want := Validators{ETag: `"feed-v1"`, LastModified: "Tue, 19 Aug 2025 09:30:00 GMT"}
	if res.Validators != want {
		t.Errorf("validators = %+v, want %+v", res.Validators, want)
	}
	if res.NotModified {
		t.Error("200 response flagged not modified")
	}

	// The linkless item is dropped.
	if len(res.Items) != 3 {
		t.Fatalf("items = %d, want 3", len(res.Items))
	}

	plain := res.Items[0]
	if plain.Source != model.SourceReader {
		t.Errorf("source = %s", plain.Source)
	}
	if plain.URL != "https://www.example.com/posts/go-schedulers/?utm_source=reader" {
		t.Errorf("url = %s", plain.URL)
	}
	if plain.CanonicalURL != "https://example.com/posts/go-schedulers" {
		t.Errorf("canonical = %s", plain.CanonicalURL)
	}
	if plain.GUID != "reader-item-1" {
		t.Errorf("guid = %s", plain.GUID)
	}
	if plain.Title != "A Plain Article" {
		t.Errorf("title = %s", plain.Title)
	}
	if plain.Author != "Jane Doe" {
		t.Errorf("author = %s", plain.Author)
	}
	if diff := cmp.Diff([]string{"golang", "systems"}, plain.Tags); diff != "" {
		t.Errorf("tags mismatch (-want +got):\n%s", diff)
	}
	saved := time.Date(2025, 8, 18, 10, 0, 0, 0, time.UTC)
	if plain.PublishedAt == nil || !plain.PublishedAt.Equal(saved) {
		t.Errorf("publishedAt = %v", plain.PublishedAt)
	}
	if plain.BookmarkedAt == nil || !plain.BookmarkedAt.Equal(saved) {
		t.Errorf("bookmarkedAt = %v", plain.BookmarkedAt)
	}
	if plain.MediaType != "" || plain.Enclosure != nil {
		t.Errorf("plain article carries media: type=%s enclosure=%+v", plain.MediaType, plain.Enclosure)
	}

	transcript := res.Items[1]
	if transcript.MediaType != model.MediaTranscript {
		t.Errorf("pdf enclosure mediaType = %s, want transcript", transcript.MediaType)
	}
	wantEnc := &model.Enclosure{
		URL:    "https://reader.example.com/files/logs-talk.pdf",
		Length: 52428,
		Type:   "application/pdf",
	}
	if diff := cmp.Diff(wantEnc, transcript.Enclosure); diff != "" {
		t.Errorf("enclosure mismatch (-want +got):\n%s", diff)
	}

	video := res.Items[2]
	if video.MediaType != model.MediaVideo {
		t.Errorf("video enclosure mediaType = %s, want video", video.MediaType)
	}
	// Fallback guid for items without one.
	if video.GUID != "https://example.com/clips/raw" {
		t.Errorf("fallback guid = %s", video.GUID)
	}
}

func TestReaderConditionalGet(t *testing.T) {
	const etag = `"feed-v2"`
	const modified = "Wed, 20 Aug 2025 08:00:00 GMT"
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.Header.Get("If-None-Match") == etag && r.Header.Get("If-Modified-Since") == modified {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", etag)
		w.Header().Set("Last-Modified", modified)
		if _, err := w.Write([]byte(readerFixture)); err != nil {
			t.Error(err)
		}
	}))
	defer srv.Close()

	r := NewReader(srv.URL, SourceOptions{Client: srv.Client()})
	ctx := context.Background()

	first, err := r.Fetch(ctx, Validators{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if first.NotModified || len(first.Items) == 0 {
		t.Fatalf("first fetch: notModified=%v items=%d", first.NotModified, len(first.Items))
	}

	second, err := r.Fetch(ctx, first.Validators, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !second.NotModified {
		t.Error("second fetch with validators not flagged 304")
	}
	if len(second.Items) != 0 {
		t.Errorf("304 returned %d items", len(second.Items))
	}
	if second.Validators != first.Validators {
		t.Errorf("304 changed validators: %+v", second.Validators)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestReaderFetchErrors(t *testing.T) {
	t.Run("http error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}))
		defer srv.Close()

		r := NewReader(srv.URL, SourceOptions{Client: srv.Client()})
		if _, err := r.Fetch(context.Background(), Validators{}, nil); err == nil {
			t.Error("500 response did not error")
		}
	})

	t.Run("unparseable body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, err := w.Write([]byte("this is not a feed")); err != nil {
				t.Error(err)
			}
		}))
		defer srv.Close()

		r := NewReader(srv.URL, SourceOptions{Client: srv.Client()})
		if _, err := r.Fetch(context.Background(), Validators{}, nil); err == nil {
			t.Error("garbage body did not error")
		}
	})

	t.Run("unreachable", func(t *testing.T) {
		r := NewReader("http://127.0.0.1:1", SourceOptions{})
		if _, err := r.Fetch(context.Background(), Validators{}, nil); err == nil {
			t.Error("unreachable host did not error")
		}
	})
}
