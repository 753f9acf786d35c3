// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ManuGH/papercast/internal/fsutil"
	"github.com/ManuGH/papercast/internal/log"
	"github.com/ManuGH/papercast/internal/model"
	"github.com/ManuGH/papercast/internal/pdfmeta"
	"github.com/ManuGH/papercast/internal/weekbin"
)

// RerunResult reports what a rerun submitted.
type RerunResult struct {
	Submitted int      `json:"submitted"`
	Jobs      []string `json:"jobs"`
}

// RerunWeek resubmits every PDF of the week whose source URL can be
// recovered from its Subject metadata. Podcast transcripts route back
// through the transcription queue by their episode URL; files without a
// recoverable URL are skipped with a warning. The old file path rides along
// so a successful rerun retires the stale artifact.
func (s *Service) RerunWeek(ctx context.Context, weekID string) (*RerunResult, error) {
	w, err := weekbin.ParseWeek(weekID)
	if err != nil {
		return nil, err
	}
	files, err := s.store.ListFiles(w)
	if err != nil {
		return nil, err
	}

	res := &RerunResult{}
	for _, f := range files {
		if !strings.EqualFold(filepath.Ext(f.Name), ".pdf") {
			continue
		}
		if f.SourceURL == "" {
			s.logger.Warn().Str(log.FieldPath, f.Path).Msg("no source url recoverable, rerun skipped")
			continue
		}
		if err := s.rerunOne(ctx, res, f.SourceURL, f.Path); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// RerunSelected resubmits the named artifacts (paths relative to the data
// dir) and raw URLs. Path confinement is checked before any work: a
// traversal attempt rejects the whole request.
func (s *Service) RerunSelected(ctx context.Context, relPaths, urls []string) (*RerunResult, error) {
	resolved := make([]string, 0, len(relPaths))
	for _, rel := range relPaths {
		abs, err := fsutil.ConfineRelPath(s.store.DataDir(), rel)
		if err != nil {
			return nil, fmt.Errorf("rerun %s: %w", rel, err)
		}
		resolved = append(resolved, abs)
	}

	res := &RerunResult{}
	for _, abs := range resolved {
		src, err := pdfmeta.ExtractSubject(abs)
		if err != nil || src == "" {
			s.logger.Warn().Str(log.FieldPath, abs).Err(err).Msg("no source url recoverable, rerun skipped")
			continue
		}
		if err := s.rerunOne(ctx, res, src, abs); err != nil {
			return nil, err
		}
	}
	for _, raw := range urls {
		if err := s.rerunOne(ctx, res, raw, ""); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// rerunOne submits a single recovered URL. Per-item rejections (a Subject
// that points at a video host) are logged and skipped; queue errors abort
// the rerun.
func (s *Service) rerunOne(ctx context.Context, res *RerunResult, url, oldPath string) error {
	id, err := s.SubmitConversion(ctx, model.ConversionRequest{
		URL:         url,
		OldFilePath: oldPath,
	}, 0)
	if errors.Is(err, ErrUnsupportedHost) {
		s.logger.Warn().Str(log.FieldURL, url).Msg("recovered url not convertible, rerun skipped")
		return nil
	}
	if err != nil {
		return err
	}
	res.Submitted++
	res.Jobs = append(res.Jobs, id)
	return nil
}
