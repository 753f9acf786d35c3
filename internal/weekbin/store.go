// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package weekbin

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"github.com/ManuGH/papercast/internal/fsutil"
	"github.com/ManuGH/papercast/internal/log"
	"github.com/ManuGH/papercast/internal/metrics"
	"github.com/ManuGH/papercast/internal/model"
	"github.com/ManuGH/papercast/internal/pdfmeta"
)

// Store writes and enumerates artifacts under DATA_DIR. All returned paths
// are absolute; RelPath fields are relative to the data directory and are the
// handles accepted by delete operations.
type Store struct {
	dataDir string
	index   Index
	logger  zerolog.Logger
	now     func() time.Time
}

// Index is an optional catalog over the bins, consulted by ListFiles before
// parsing PDFs and kept current on every save. The filesystem stays the
// source of truth: a missing or stale index only costs the fallback parse.
type Index interface {
	Record(week string, mt model.MediaType, name string, size int64, modTime time.Time, sourceURL string)
	SourceURL(week string, mt model.MediaType, name string, size int64, modTime time.Time) (string, bool)
}

// Option configures a Store.
type Option func(*Store)

// WithIndex attaches the artifact catalog.
func WithIndex(ix Index) Option {
	return func(s *Store) { s.index = ix }
}

// SaveOptions controls placement and naming of a saved PDF.
type SaveOptions struct {
	Title        string
	BookmarkedAt *time.Time

	// DirectArticle marks a social-media capture that followed the linked
	// article instead of rendering the post.
	DirectArticle bool
}

// WeekInfo is one weekly bin as reported by ListWeeks.
type WeekInfo struct {
	Year      int    `json:"year"`
	Week      int    `json:"week"`
	Path      string `json:"path"`
	FileCount int    `json:"fileCount"`
}

// FileInfo is one artifact as reported by ListFiles.
type FileInfo struct {
	Name         string          `json:"name"`
	Path         string          `json:"path"`
	RelPath      string          `json:"relPath"`
	Size         int64           `json:"size"`
	Modified     time.Time       `json:"modified"`
	Type         model.MediaType `json:"type"`
	SourceURL    string          `json:"sourceUrl,omitempty"`
	RelatedFiles []string        `json:"relatedFiles,omitempty"`
}

func NewStore(dataDir string, opts ...Option) *Store {
	s := &Store{
		dataDir: dataDir,
		logger:  log.WithComponent("weekbin"),
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// recordSave indexes a freshly written artifact by its on-disk stat, so
// later listings can match the row by exact size and mtime.
func (s *Store) recordSave(path string, at time.Time, mt model.MediaType, sourceURL string) {
	if s.index == nil {
		return
	}
	st, err := os.Stat(path)
	if err != nil {
		return
	}
	s.index.Record(WeekOf(at).String(), mt, filepath.Base(path), st.Size(), st.ModTime(), sourceURL)
}

// DataDir returns the root the store confines itself to.
func (s *Store) DataDir() string { return s.dataDir }

func (s *Store) mediaDir() string { return filepath.Join(s.dataDir, "media") }

// BinPath is a pure function of the ISO week of t and the media type.
func (s *Store) BinPath(t time.Time, mt model.MediaType) string {
	return filepath.Join(s.mediaDir(), WeekOf(t).String(), mt.Dir())
}

// EnsureBin creates the weekly bin for t and returns its path.
func (s *Store) EnsureBin(t time.Time, mt model.MediaType) (string, error) {
	dir := s.BinPath(t, mt)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create bin %s: %w", dir, err)
	}
	return dir, nil
}

// SavePDF embeds provenance metadata and writes the document into the weekly
// bin for opts.BookmarkedAt (or now). The write is atomic; saving the same
// URL, title and timestamp again resolves to the same path and overwrites.
func (s *Store) SavePDF(data []byte, originalURL string, opts SaveOptions) (string, error) {
	stamped, err := pdfmeta.Embed(data, pdfmeta.Info{
		Subject:  originalURL,
		Producer: pdfmeta.Producer(s.now()),
		Title:    opts.Title,
	})
	if err != nil {
		return "", fmt.Errorf("embed metadata: %w", err)
	}

	at := s.now()
	if opts.BookmarkedAt != nil {
		at = *opts.BookmarkedAt
	}
	dir, err := s.EnsureBin(at, model.MediaPDF)
	if err != nil {
		return "", err
	}
	path, err := filepath.Abs(filepath.Join(dir, PDFFileName(originalURL, opts)))
	if err != nil {
		return "", err
	}

	pending, err := renameio.NewPendingFile(path)
	if err != nil {
		return "", fmt.Errorf("create pending file: %w", err)
	}
	defer func() {
		if err := pending.Cleanup(); err != nil {
			s.logger.Debug().Err(err).Msg("cleanup pending pdf")
		}
	}()
	if _, err := pending.Write(stamped); err != nil {
		return "", fmt.Errorf("write pdf: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return "", fmt.Errorf("atomically replace pdf: %w", err)
	}

	metrics.FilesSavedTotal.WithLabelValues(string(model.MediaPDF)).Inc()
	s.recordSave(path, at, model.MediaPDF, originalURL)
	s.logger.Info().
		Str(log.FieldURL, originalURL).
		Str(log.FieldPath, path).
		Int(log.FieldSize, len(stamped)).
		Str(log.FieldWeek, WeekOf(at).String()).
		Msg("pdf saved")
	return path, nil
}

// SaveBytes writes an already-assembled artifact into the weekly bin for at.
// The caller supplies the final file name; the write is atomic and saving the
// same name again overwrites.
func (s *Store) SaveBytes(data []byte, at time.Time, mt model.MediaType, name string) (string, error) {
	dir, err := s.EnsureBin(at, mt)
	if err != nil {
		return "", err
	}
	path, err := filepath.Abs(filepath.Join(dir, filepath.Base(name)))
	if err != nil {
		return "", err
	}

	pending, err := renameio.NewPendingFile(path)
	if err != nil {
		return "", fmt.Errorf("create pending file: %w", err)
	}
	defer func() {
		if err := pending.Cleanup(); err != nil {
			s.logger.Debug().Err(err).Msg("cleanup pending file")
		}
	}()
	if _, err := pending.Write(data); err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return "", fmt.Errorf("atomically replace %s: %w", name, err)
	}

	metrics.FilesSavedTotal.WithLabelValues(string(mt)).Inc()
	s.recordSave(path, at, mt, "")
	s.logger.Info().
		Str(log.FieldPath, path).
		Int(log.FieldSize, len(data)).
		Str(log.FieldWeek, WeekOf(at).String()).
		Msg("artifact saved")
	return path, nil
}

// SaveDebug writes the artifact of a failed conversion to debug/{jobId}.pdf
// so the capture can be inspected after the job record is gone.
func (s *Store) SaveDebug(jobID string, data []byte) (string, error) {
	dir := filepath.Join(s.dataDir, "debug")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create debug dir: %w", err)
	}
	path := filepath.Join(dir, sanitizeFileName(jobID)+".pdf")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write debug pdf: %w", err)
	}
	return path, nil
}

// DeleteIfDifferent removes a superseded artifact after a rerun, unless the
// rerun resolved to the very same path. Removal problems are logged, never
// raised: the new artifact already exists and that is what matters.
func (s *Store) DeleteIfDifferent(oldPath, newPath string) {
	if oldPath == "" {
		return
	}
	oldAbs, err := filepath.Abs(oldPath)
	if err != nil {
		return
	}
	newAbs, err := filepath.Abs(newPath)
	if err != nil {
		return
	}
	if oldAbs == newAbs {
		return
	}
	confined, err := fsutil.ConfineAbsPath(s.dataDir, oldAbs)
	if err != nil {
		s.logger.Warn().Str(log.FieldPath, oldPath).Err(err).Msg("stale artifact outside data dir, not removed")
		return
	}
	if err := os.Remove(confined); err != nil && !os.IsNotExist(err) {
		s.logger.Warn().Str(log.FieldPath, confined).Err(err).Msg("stale artifact not removed")
	}
}

// ListWeeks enumerates weekly bins, newest first.
func (s *Store) ListWeeks() ([]WeekInfo, error) {
	entries, err := os.ReadDir(s.mediaDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var weeks []WeekInfo
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		w, err := ParseWeek(e.Name())
		if err != nil {
			continue
		}
		dir := filepath.Join(s.mediaDir(), e.Name())
		count := 0
		walkErr := filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.Type().IsRegular() && !strings.HasPrefix(d.Name(), ".") {
				count++
			}
			return nil
		})
		if walkErr != nil {
			s.logger.Warn().Str(log.FieldWeek, e.Name()).Err(walkErr).Msg("week not fully counted")
		}
		weeks = append(weeks, WeekInfo{Year: w.Year, Week: w.Week, Path: dir, FileCount: count})
	}

	sort.Slice(weeks, func(i, j int) bool {
		a, b := weeks[i], weeks[j]
		if a.Year != b.Year {
			return a.Year > b.Year
		}
		return a.Week > b.Week
	})
	return weeks, nil
}

// ListFiles enumerates the artifacts of one week, newest first. For PDFs the
// original URL is recovered from the Subject metadata when present; artifacts
// sharing a basename in the same bin (a transcript PDF and its audio) are
// cross-linked via RelatedFiles.
func (s *Store) ListFiles(w Week) ([]FileInfo, error) {
	weekDir := filepath.Join(s.mediaDir(), w.String())
	entries, err := os.ReadDir(weekDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var files []FileInfo
	related := make(map[string][]int)
	for _, sub := range entries {
		if !sub.IsDir() {
			continue
		}
		mt, ok := model.MediaTypeForDir(sub.Name())
		if !ok {
			continue
		}
		dir := filepath.Join(weekDir, sub.Name())
		items, err := os.ReadDir(dir)
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			// Dot-prefixed files are in-flight download temps.
			if !item.Type().IsRegular() || strings.HasPrefix(item.Name(), ".") {
				continue
			}
			info, err := item.Info()
			if err != nil {
				continue
			}
			path, err := filepath.Abs(filepath.Join(dir, item.Name()))
			if err != nil {
				continue
			}
			rel, err := filepath.Rel(s.dataDir, filepath.Join(dir, item.Name()))
			if err != nil {
				rel = ""
			}
			fi := FileInfo{
				Name:     item.Name(),
				Path:     path,
				RelPath:  rel,
				Size:     info.Size(),
				Modified: info.ModTime(),
				Type:     mt,
			}
			if strings.EqualFold(filepath.Ext(item.Name()), ".pdf") {
				if s.index != nil {
					if src, ok := s.index.SourceURL(w.String(), mt, item.Name(), info.Size(), info.ModTime()); ok {
						fi.SourceURL = src
					}
				}
				if fi.SourceURL == "" {
					if src, err := pdfmeta.ExtractSubject(path); err == nil {
						fi.SourceURL = src
						if s.index != nil && src != "" {
							s.index.Record(w.String(), mt, item.Name(), info.Size(), info.ModTime(), src)
						}
					}
				}
			}
			stem := sub.Name() + "/" + strings.TrimSuffix(item.Name(), filepath.Ext(item.Name()))
			related[stem] = append(related[stem], len(files))
			files = append(files, fi)
		}
	}

	for _, idxs := range related {
		if len(idxs) < 2 {
			continue
		}
		for _, i := range idxs {
			for _, j := range idxs {
				if i != j {
					files[i].RelatedFiles = append(files[i].RelatedFiles, files[j].Path)
				}
			}
		}
	}

	sort.Slice(files, func(i, j int) bool {
		if !files[i].Modified.Equal(files[j].Modified) {
			return files[i].Modified.After(files[j].Modified)
		}
		return files[i].Name < files[j].Name
	})
	return files, nil
}
