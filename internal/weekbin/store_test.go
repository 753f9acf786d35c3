// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package weekbin

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/ManuGH/papercast/internal/model"
	"github.com/ManuGH/papercast/internal/pdfmeta"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore(t.TempDir())
	s.now = func() time.Time {
		return time.Date(2025, 6, 11, 10, 0, 0, 0, time.UTC) // 2025-W24
	}
	return s
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

func TestSavePDFPlacesFileInWeekBin(t *testing.T) {
	s := testStore(t)

	path, err := s.SavePDF(capturedPDF(t), "https://example.com/a", SaveOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if !filepath.IsAbs(path) {
		t.Errorf("path %q is not absolute", path)
	}
	wantSuffix := filepath.Join("media", "2025-W24", "pdfs", "example.com-a.pdf")
	if !strings.HasSuffix(path, wantSuffix) {
		t.Errorf("path = %q, want suffix %q", path, wantSuffix)
	}

	st, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if st.Size() == 0 {
		t.Error("saved pdf is empty")
	}
}

func TestSavePDFSubjectRoundTrip(t *testing.T) {
	s := testStore(t)

	url := "https://news.ycombinator.com/item?id=1"
	path, err := s.SavePDF(capturedPDF(t), url, SaveOptions{Title: "Hello World"})
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(path) != "news.ycombinator.com-hello-world.pdf" {
		t.Errorf("filename = %q", filepath.Base(path))
	}

	got, err := pdfmeta.ExtractSubject(path)
	if err != nil {
		t.Fatal(err)
	}
	if got != url {
		t.Errorf("recovered subject = %q, want %q", got, url)
	}
}

func TestSavePDFHonorsBookmarkedAt(t *testing.T) {
	s := testStore(t)

	at := time.Date(2021, 1, 1, 8, 0, 0, 0, time.UTC) // ISO 2020-W53
	path, err := s.SavePDF(capturedPDF(t), "https://example.com/a", SaveOptions{BookmarkedAt: &at})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(path, filepath.Join("media", "2020-W53", "pdfs")) {
		t.Errorf("path = %q, want 2020-W53 bin", path)
	}
}

func TestSavePDFIdempotentPath(t *testing.T) {
	s := testStore(t)

	at := time.Date(2025, 6, 9, 0, 0, 0, 0, time.UTC)
	opts := SaveOptions{Title: "Hello World", BookmarkedAt: &at}
	first, err := s.SavePDF(capturedPDF(t), "https://news.ycombinator.com/item?id=1", opts)
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.SavePDF(capturedPDF(t), "https://news.ycombinator.com/item?id=1", opts)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("paths differ: %q vs %q", first, second)
	}
}

func TestSaveBytesPlacesFileInWeekBin(t *testing.T) {
	s := testStore(t)

	at := time.Date(2025, 6, 9, 0, 0, 0, 0, time.UTC)
	path, err := s.SaveBytes([]byte("episode audio"), at, model.MediaPodcast, "show-episode.mp3")
	if err != nil {
		t.Fatal(err)
	}
	wantSuffix := filepath.Join("media", "2025-W24", "podcasts", "show-episode.mp3")
	if !strings.HasSuffix(path, wantSuffix) {
		t.Errorf("path = %q, want suffix %q", path, wantSuffix)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "episode audio" {
		t.Errorf("content = %q", data)
	}
}

func TestSaveBytesOverwrites(t *testing.T) {
	s := testStore(t)

	at := time.Date(2025, 6, 9, 0, 0, 0, 0, time.UTC)
	if _, err := s.SaveBytes([]byte("first"), at, model.MediaPodcast, "show.pdf"); err != nil {
		t.Fatal(err)
	}
	path, err := s.SaveBytes([]byte("second"), at, model.MediaPodcast, "show.pdf")
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "second" {
		t.Errorf("content = %q, want overwrite", data)
	}
}

func TestSaveBytesStripsDirectoryComponents(t *testing.T) {
	s := testStore(t)

	at := time.Date(2025, 6, 9, 0, 0, 0, 0, time.UTC)
	path, err := s.SaveBytes([]byte("x"), at, model.MediaPodcast, "../../escape.pdf")
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(path) != "escape.pdf" {
		t.Errorf("name = %q", filepath.Base(path))
	}
	if !strings.Contains(path, filepath.Join("2025-W24", "podcasts")) {
		t.Errorf("path %q escaped the bin", path)
	}
}

func TestSaveDebug(t *testing.T) {
	s := testStore(t)

	path, err := s.SaveDebug("https-example-com-a", []byte("%PDF-1.4 broken"))
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(path) != "https-example-com-a.pdf" {
		t.Errorf("debug name = %q", filepath.Base(path))
	}
	if filepath.Base(filepath.Dir(path)) != "debug" {
		t.Errorf("debug dir = %q", filepath.Dir(path))
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatal(err)
	}
}

func TestDeleteIfDifferent(t *testing.T) {
	s := testStore(t)

	writeFile := func(rel string) string {
		path := filepath.Join(s.DataDir(), rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
		return path
	}

	t.Run("same path is a no-op", func(t *testing.T) {
		p := writeFile("media/2025-W24/pdfs/keep.pdf")
		s.DeleteIfDifferent(p, p)
		if _, err := os.Stat(p); err != nil {
			t.Errorf("file was removed: %v", err)
		}
	})

	t.Run("different path removes the old artifact", func(t *testing.T) {
		oldPath := writeFile("media/2025-W23/pdfs/old.pdf")
		newPath := writeFile("media/2025-W24/pdfs/new.pdf")
		s.DeleteIfDifferent(oldPath, newPath)
		if _, err := os.Stat(oldPath); !os.IsNotExist(err) {
			t.Errorf("old artifact still exists (err=%v)", err)
		}
		if _, err := os.Stat(newPath); err != nil {
			t.Errorf("new artifact gone: %v", err)
		}
	})

	t.Run("missing old path is fine", func(t *testing.T) {
		s.DeleteIfDifferent(filepath.Join(s.DataDir(), "media/nope.pdf"), "new.pdf")
	})

	t.Run("path outside the data dir is never removed", func(t *testing.T) {
		outside := filepath.Join(t.TempDir(), "precious.pdf")
		if err := os.WriteFile(outside, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
		s.DeleteIfDifferent(outside, filepath.Join(s.DataDir(), "new.pdf"))
		if _, err := os.Stat(outside); err != nil {
			t.Errorf("file outside data dir was removed: %v", err)
		}
	})
}

func TestListWeeksNewestFirst(t *testing.T) {
	s := testStore(t)

	mk := func(rel string, n int) {
		dir := filepath.Join(s.DataDir(), rel)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		for i := 0; i < n; i++ {
			name := filepath.Join(dir, "f"+string(rune('a'+i))+".pdf")
			if err := os.WriteFile(name, []byte("x"), 0o644); err != nil {
				t.Fatal(err)
			}
		}
	}
	mk("media/2020-W53/pdfs", 1)
	mk("media/2025-W24/pdfs", 2)
	mk("media/2025-W24/podcasts", 1)
	mk("media/2021-W01/videos", 1)
	mk("media/not-a-week", 1) // ignored

	weeks, err := s.ListWeeks()
	if err != nil {
		t.Fatal(err)
	}
	if len(weeks) != 3 {
		t.Fatalf("weeks = %d, want 3", len(weeks))
	}

	wantOrder := []string{"2025-W24", "2021-W01", "2020-W53"}
	for i, want := range wantOrder {
		got := Week{Year: weeks[i].Year, Week: weeks[i].Week}.String()
		if got != want {
			t.Errorf("weeks[%d] = %s, want %s", i, got, want)
		}
	}
	if weeks[0].FileCount != 3 {
		t.Errorf("2025-W24 fileCount = %d, want 3", weeks[0].FileCount)
	}
}

func TestListWeeksEmptyDataDir(t *testing.T) {
	s := testStore(t)
	weeks, err := s.ListWeeks()
	if err != nil {
		t.Fatal(err)
	}
	if len(weeks) != 0 {
		t.Errorf("weeks = %v, want none", weeks)
	}
}

func TestListFiles(t *testing.T) {
	s := testStore(t)

	// A real captured PDF so the source URL can be recovered.
	if _, err := s.SavePDF(capturedPDF(t), "https://example.com/a", SaveOptions{}); err != nil {
		t.Fatal(err)
	}
	// A transcript/audio pair sharing a basename.
	podDir := filepath.Join(s.DataDir(), "media", "2025-W24", "podcasts")
	if err := os.MkdirAll(podDir, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"show-episode.pdf", "show-episode.mp3"} {
		if err := os.WriteFile(filepath.Join(podDir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	files, err := s.ListFiles(Week{2025, 24})
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 3 {
		t.Fatalf("files = %d, want 3", len(files))
	}

	byName := make(map[string]FileInfo, len(files))
	for _, f := range files {
		byName[f.Name] = f
		if f.RelPath == "" || filepath.IsAbs(f.RelPath) {
			t.Errorf("%s: relPath = %q", f.Name, f.RelPath)
		}
	}

	article := byName["example.com-a.pdf"]
	if article.Type != model.MediaPDF {
		t.Errorf("article type = %s", article.Type)
	}
	if article.SourceURL != "https://example.com/a" {
		t.Errorf("article sourceUrl = %q", article.SourceURL)
	}

	pdf := byName["show-episode.pdf"]
	audio := byName["show-episode.mp3"]
	if pdf.Type != model.MediaPodcast || audio.Type != model.MediaPodcast {
		t.Errorf("podcast types = %s / %s", pdf.Type, audio.Type)
	}
	if len(pdf.RelatedFiles) != 1 || pdf.RelatedFiles[0] != audio.Path {
		t.Errorf("pdf related = %v, want [%s]", pdf.RelatedFiles, audio.Path)
	}
	if len(audio.RelatedFiles) != 1 || audio.RelatedFiles[0] != pdf.Path {
		t.Errorf("audio related = %v, want [%s]", audio.RelatedFiles, pdf.Path)
	}
}

func TestListFilesUnknownWeek(t *testing.T) {
	s := testStore(t)
	files, err := s.ListFiles(Week{1999, 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 0 {
		t.Errorf("files = %v, want none", files)
	}
}

func TestBinPathPureFunctionOfWeek(t *testing.T) {
	s := testStore(t)

	// Two dates in the same ISO week map to the same bin.
	mon := time.Date(2024, 12, 30, 1, 0, 0, 0, time.UTC)
	fri := time.Date(2025, 1, 3, 23, 0, 0, 0, time.UTC)
	if a, b := s.BinPath(mon, model.MediaVideo), s.BinPath(fri, model.MediaVideo); a != b {
		t.Errorf("same week, different bins: %q vs %q", a, b)
	}
	if !strings.Contains(s.BinPath(mon, model.MediaVideo), filepath.Join("2025-W01", "videos")) {
		t.Errorf("bin path = %q", s.BinPath(mon, model.MediaVideo))
	}
}

type fakeIndex struct {
	urls    map[string]string // name → cached url served by SourceURL
	records map[string]string // name → last url recorded
	lookups int
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{urls: map[string]string{}, records: map[string]string{}}
}

func (f *fakeIndex) Record(week string, mt model.MediaType, name string, size int64, modTime time.Time, sourceURL string) {
	f.records[name] = sourceURL
}

func (f *fakeIndex) SourceURL(week string, mt model.MediaType, name string, size int64, modTime time.Time) (string, bool) {
	f.lookups++
	u, ok := f.urls[name]
	return u, ok && u != ""
}

func TestSavePDFRecordsIndex(t *testing.T) {
	ix := newFakeIndex()
	s := NewStore(t.TempDir(), WithIndex(ix))
	s.now = func() time.Time { return time.Date(2025, 6, 11, 10, 0, 0, 0, time.UTC) }

	if _, err := s.SavePDF(capturedPDF(t), "https://example.com/a", SaveOptions{}); err != nil {
		t.Fatal(err)
	}
	if got, ok := ix.records["example.com-a.pdf"]; !ok || got != "https://example.com/a" {
		t.Errorf("recorded = %q, %v", got, ok)
	}
}

func TestSaveBytesRecordsIndexWithoutURL(t *testing.T) {
	ix := newFakeIndex()
	s := NewStore(t.TempDir(), WithIndex(ix))

	at := time.Date(2025, 6, 9, 8, 0, 0, 0, time.UTC)
	if _, err := s.SaveBytes([]byte("audio"), at, model.MediaPodcast, "show.mp3"); err != nil {
		t.Fatal(err)
	}
	if got, ok := ix.records["show.mp3"]; !ok || got != "" {
		t.Errorf("recorded = %q, %v; want an empty url for later backfill", got, ok)
	}
}

func TestListFilesPrefersIndexOverParse(t *testing.T) {
	ix := newFakeIndex()
	s := NewStore(t.TempDir(), WithIndex(ix))

	// Not parseable as a PDF: the url can only come from the index.
	dir := filepath.Join(s.DataDir(), "media", "2025-W24", "pdfs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "cached.pdf"), []byte("not a real pdf"), 0o644); err != nil {
		t.Fatal(err)
	}
	ix.urls["cached.pdf"] = "https://example.com/cached"

	files, err := s.ListFiles(Week{2025, 24})
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 || files[0].SourceURL != "https://example.com/cached" {
		t.Errorf("files = %+v", files)
	}
	if ix.lookups == 0 {
		t.Error("index never consulted")
	}
}

func TestListFilesBackfillsIndex(t *testing.T) {
	dataDir := t.TempDir()
	saver := NewStore(dataDir)
	saver.now = func() time.Time { return time.Date(2025, 6, 11, 10, 0, 0, 0, time.UTC) }
	if _, err := saver.SavePDF(capturedPDF(t), "https://example.com/a", SaveOptions{}); err != nil {
		t.Fatal(err)
	}

	// A lister with a cold index parses the pdf once and backfills.
	ix := newFakeIndex()
	lister := NewStore(dataDir, WithIndex(ix))
	files, err := lister.ListFiles(Week{2025, 24})
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 || files[0].SourceURL != "https://example.com/a" {
		t.Fatalf("files = %+v", files)
	}
	if got := ix.records["example.com-a.pdf"]; got != "https://example.com/a" {
		t.Errorf("backfilled = %q", got)
	}
}
