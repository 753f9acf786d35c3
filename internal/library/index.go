// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package library keeps a SQLite catalog over the weekly bins. The
// filesystem stays the source of truth: rows are a read cache for listings,
// and dropped or stale rows self-heal on the next save, list, or rescan.
package library

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // SQLite driver (pure Go, no CGO)

	"github.com/ManuGH/papercast/internal/log"
	"github.com/ManuGH/papercast/internal/model"
)

// Artifact is one indexed file of a weekly bin.
type Artifact struct {
	Week      string
	MediaType model.MediaType
	Name      string
	Size      int64
	ModTime   time.Time
	SourceURL string
	IndexedAt time.Time
}

// Index is the SQLite-backed artifact catalog.
type Index struct {
	db     *sql.DB
	logger zerolog.Logger
	now    func() time.Time
}

// Open initializes the catalog database and runs migrations.
// busy_timeout avoids "database locked" errors under concurrent workers.
func Open(dbPath string) (*Index, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	ix := &Index{
		db:     db,
		logger: log.WithComponent("library"),
		now:    time.Now,
	}
	if err := ix.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return ix, nil
}

// Close closes the database connection.
func (ix *Index) Close() error {
	return ix.db.Close()
}

func (ix *Index) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS artifacts (
		week TEXT NOT NULL,
		media_type TEXT NOT NULL,
		name TEXT NOT NULL,
		size_bytes INTEGER NOT NULL,
		mod_time TEXT NOT NULL,
		source_url TEXT NOT NULL DEFAULT '',
		indexed_at TEXT NOT NULL,
		PRIMARY KEY (week, media_type, name)
	);

	CREATE INDEX IF NOT EXISTS idx_artifacts_week ON artifacts(week);
	`

	_, err := ix.db.Exec(schema)
	return err
}

const upsertQuery = `
	INSERT INTO artifacts (week, media_type, name, size_bytes, mod_time, source_url, indexed_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(week, media_type, name) DO UPDATE SET
		size_bytes = excluded.size_bytes,
		mod_time = excluded.mod_time,
		source_url = CASE WHEN excluded.source_url = '' THEN artifacts.source_url ELSE excluded.source_url END,
		indexed_at = excluded.indexed_at
	`

// Upsert inserts or refreshes one artifact row. An upsert without a source
// URL keeps the URL already learned for that slot.
func (ix *Index) Upsert(ctx context.Context, a Artifact) error {
	// mod_time keeps nanoseconds: the listing path matches rows by exact
	// size+mtime before trusting the cached URL.
	_, err := ix.db.ExecContext(ctx, upsertQuery,
		a.Week,
		string(a.MediaType),
		a.Name,
		a.Size,
		a.ModTime.Format(time.RFC3339Nano),
		a.SourceURL,
		ix.now().UTC().Format(time.RFC3339),
	)
	return err
}

// Lookup retrieves a single artifact row. Absent rows return nil.
func (ix *Index) Lookup(ctx context.Context, week string, mt model.MediaType, name string) (*Artifact, error) {
	query := `
	SELECT week, media_type, name, size_bytes, mod_time, source_url, indexed_at
	FROM artifacts
	WHERE week = ? AND media_type = ? AND name = ?
	`

	var (
		a          Artifact
		mediaType  string
		modTimeStr string
		indexedStr string
	)
	err := ix.db.QueryRowContext(ctx, query, week, string(mt), name).Scan(
		&a.Week, &mediaType, &a.Name, &a.Size, &modTimeStr, &a.SourceURL, &indexedStr,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	a.MediaType = model.MediaType(mediaType)
	a.ModTime, _ = time.Parse(time.RFC3339Nano, modTimeStr)
	a.IndexedAt, _ = time.Parse(time.RFC3339, indexedStr)
	return &a, nil
}

// Record is the save-side hook the weekly bin store calls. Problems are
// logged, never raised: a missed row just means the next listing reads the
// artifact itself.
func (ix *Index) Record(week string, mt model.MediaType, name string, size int64, modTime time.Time, sourceURL string) {
	err := ix.Upsert(context.Background(), Artifact{
		Week:      week,
		MediaType: mt,
		Name:      name,
		Size:      size,
		ModTime:   modTime,
		SourceURL: sourceURL,
	})
	if err != nil {
		ix.logger.Warn().Err(err).
			Str(log.FieldWeek, week).
			Str("name", name).
			Msg("artifact not indexed")
	}
}

// SourceURL reports the cached original URL for a file, but only while size
// and mtime still match what was indexed.
func (ix *Index) SourceURL(week string, mt model.MediaType, name string, size int64, modTime time.Time) (string, bool) {
	a, err := ix.Lookup(context.Background(), week, mt, name)
	if err != nil {
		ix.logger.Warn().Err(err).
			Str(log.FieldWeek, week).
			Str("name", name).
			Msg("index lookup failed")
		return "", false
	}
	if a == nil || a.SourceURL == "" || a.Size != size || !a.ModTime.Equal(modTime) {
		return "", false
	}
	return a.SourceURL, true
}
