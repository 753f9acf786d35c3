// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package library

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ManuGH/papercast/internal/model"
	"github.com/ManuGH/papercast/internal/weekbin"
)

// RescanResult summarizes one catalog rebuild.
type RescanResult struct {
	Started   time.Time
	Finished  time.Time
	Indexed   int // files on disk, now in the catalog
	Preserved int // source URLs carried over from unchanged rows
	Removed   int // rows whose file is gone
	Errors    int // unreadable entries, skipped
}

// Rescan rebuilds the catalog from the bins under dataDir in a single
// transaction. Source URLs survive for files whose size and mtime are
// unchanged; anything else starts over empty and is backfilled by the next
// listing.
func (ix *Index) Rescan(ctx context.Context, dataDir string) (*RescanResult, error) {
	result := &RescanResult{Started: ix.now()}
	walked := ix.walkBins(dataDir, result)

	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	existing, err := loadRows(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM artifacts`); err != nil {
		return nil, fmt.Errorf("clear catalog: %w", err)
	}

	indexedAt := ix.now().UTC().Format(time.RFC3339)
	seen := 0
	for _, a := range walked {
		key := rowKey(a.Week, a.MediaType, a.Name)
		if old, ok := existing[key]; ok {
			seen++
			if old.SourceURL != "" && old.Size == a.Size && old.ModTime.Equal(a.ModTime) {
				a.SourceURL = old.SourceURL
				result.Preserved++
			}
		}
		if _, err := tx.ExecContext(ctx, upsertQuery,
			a.Week, string(a.MediaType), a.Name, a.Size,
			a.ModTime.Format(time.RFC3339Nano), a.SourceURL, indexedAt,
		); err != nil {
			return nil, fmt.Errorf("index %s/%s: %w", a.Week, a.Name, err)
		}
		result.Indexed++
	}
	result.Removed = len(existing) - seen

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	result.Finished = ix.now()
	ix.logger.Info().
		Int("indexed", result.Indexed).
		Int("preserved", result.Preserved).
		Int("removed", result.Removed).
		Int("errors", result.Errors).
		Dur("duration", result.Finished.Sub(result.Started)).
		Msg("catalog rebuilt")
	return result, nil
}

// walkBins enumerates every artifact under dataDir/media. Unknown
// directories, temp files, and unreadable entries are skipped; failures
// count into result.Errors but never abort the rescan.
func (ix *Index) walkBins(dataDir string, result *RescanResult) []Artifact {
	mediaDir := filepath.Join(dataDir, "media")
	weeks, err := os.ReadDir(mediaDir)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors++
			ix.logger.Warn().Err(err).Msg("media dir unreadable")
		}
		return nil
	}

	var artifacts []Artifact
	for _, weekEntry := range weeks {
		if !weekEntry.IsDir() {
			continue
		}
		week, err := weekbin.ParseWeek(weekEntry.Name())
		if err != nil {
			continue
		}
		weekDir := filepath.Join(mediaDir, weekEntry.Name())
		subs, err := os.ReadDir(weekDir)
		if err != nil {
			result.Errors++
			ix.logger.Warn().Err(err).Str("week", week.String()).Msg("week dir unreadable")
			continue
		}
		for _, sub := range subs {
			if !sub.IsDir() {
				continue
			}
			mt, ok := model.MediaTypeForDir(sub.Name())
			if !ok {
				continue
			}
			items, err := os.ReadDir(filepath.Join(weekDir, sub.Name()))
			if err != nil {
				result.Errors++
				continue
			}
			for _, item := range items {
				// Dot-prefixed files are in-flight download temps.
				if !item.Type().IsRegular() || strings.HasPrefix(item.Name(), ".") {
					continue
				}
				info, err := item.Info()
				if err != nil {
					result.Errors++
					continue
				}
				artifacts = append(artifacts, Artifact{
					Week:      week.String(),
					MediaType: mt,
					Name:      item.Name(),
					Size:      info.Size(),
					ModTime:   info.ModTime(),
				})
			}
		}
	}
	return artifacts
}

func loadRows(ctx context.Context, tx *sql.Tx) (map[string]Artifact, error) {
	rows, err := tx.QueryContext(ctx, `SELECT week, media_type, name, size_bytes, mod_time, source_url FROM artifacts`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	existing := make(map[string]Artifact)
	for rows.Next() {
		var (
			a          Artifact
			mediaType  string
			modTimeStr string
		)
		if err := rows.Scan(&a.Week, &mediaType, &a.Name, &a.Size, &modTimeStr, &a.SourceURL); err != nil {
			return nil, err
		}
		a.MediaType = model.MediaType(mediaType)
		a.ModTime, _ = time.Parse(time.RFC3339Nano, modTimeStr)
		existing[rowKey(a.Week, a.MediaType, a.Name)] = a
	}
	return existing, rows.Err()
}

func rowKey(week string, mt model.MediaType, name string) string {
	return week + "\x00" + string(mt) + "\x00" + name
}
