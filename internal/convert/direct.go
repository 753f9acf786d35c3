// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package convert

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/papercast/internal/failure"
	"github.com/ManuGH/papercast/internal/log"
	"github.com/ManuGH/papercast/internal/model"
	"github.com/ManuGH/papercast/internal/netutil"
	"github.com/ManuGH/papercast/internal/queue"
)

const downloadTimeout = 60 * time.Second

// directPDFPatterns match host+path combinations that serve a PDF without
// a .pdf extension.
var directPDFPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^arxiv\.org/pdf/`),
	regexp.MustCompile(`^openreview\.net/pdf`),
}

// isDirectPDF reports whether a URL points straight at a PDF document, so
// rendering it in the browser would be pointless.
func isDirectPDF(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false
	}
	if strings.HasSuffix(strings.ToLower(u.Path), ".pdf") {
		return true
	}
	hostPath := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.") + u.Path
	for _, re := range directPDFPatterns {
		if re.MatchString(hostPath) {
			return true
		}
	}
	return false
}

// downloadDirect fetches a PDF document as-is. Quality verification is
// skipped: the document was not rendered, so there is nothing to judge.
func (c *Converter) downloadDirect(ctx context.Context, logger zerolog.Logger, job *queue.Job, req model.ConversionRequest, start time.Time) (*model.ConversionResult, error) {
	dctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(dctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, failure.New(failure.KindDownloadFailed, "build request for %s: %v", req.URL, err)
	}
	if c.ua != "" {
		httpReq.Header.Set("User-Agent", c.ua)
	}
	c.assetAuth.Apply(httpReq)

	res, err := c.http.Do(httpReq)
	if err != nil {
		return nil, failure.New(failure.KindDownloadFailed, "fetch %s: %v", req.URL, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, failure.New(failure.KindDownloadFailed, "fetch %s: status %d", req.URL, res.StatusCode)
	}
	if !isPDFResponse(res, req.URL) {
		return nil, failure.New(failure.KindNotPDF, "%s served %q instead of a pdf", req.URL, res.Header.Get("Content-Type"))
	}

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, failure.New(failure.KindDownloadFailed, "read %s: %v", req.URL, err)
	}
	c.progress(ctx, job.ID, req.URL, 50)
	logger.Debug().
		Str(log.FieldURL, req.URL).
		Int(log.FieldSize, len(data)).
		Msg("direct pdf downloaded")

	title := req.Title
	if title == "" {
		name := netutil.DispositionFilename(res.Header.Get("Content-Disposition"))
		title = strings.TrimSuffix(name, ".pdf")
	}
	return c.save(ctx, job, req, data, saveParams{title: title, score: -1, start: start})
}

// isPDFResponse accepts an application/pdf content type, or a .pdf URL
// path when the server reports something generic.
func isPDFResponse(res *http.Response, rawURL string) bool {
	if strings.Contains(res.Header.Get("Content-Type"), "application/pdf") {
		return true
	}
	u, err := url.Parse(rawURL)
	return err == nil && strings.HasSuffix(strings.ToLower(u.Path), ".pdf")
}
