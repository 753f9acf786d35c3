// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/rs/zerolog"

	"github.com/ManuGH/papercast/internal/cookies"
	"github.com/ManuGH/papercast/internal/failure"
	"github.com/ManuGH/papercast/internal/log"
	"github.com/ManuGH/papercast/internal/metrics"
)

const (
	scrollMaxSteps  = 50
	scrollStepDelay = 50 * time.Millisecond
	scrollWallCap   = 10 * time.Second

	screenshotTimeout = 15 * time.Second
	bodyWaitTimeout   = 5 * time.Second

	// Mirror instances render the platform's long-form articles as bare
	// stub links to this path instead of the article body.
	articleStubMarker = "/i/article"
)

// CaptureResult is the raw outcome of one page capture. Quality judgment
// happens elsewhere; an "empty" screenshot here is legal.
type CaptureResult struct {
	PDF           []byte
	Screenshot    []byte
	Title         string
	FinalURL      string
	Rewritten     bool
	DirectArticle bool
}

// Capture renders one URL to PDF inside a fresh browsing context. Failures
// carry a failure classification; the context is always released.
func (p *Pool) Capture(ctx context.Context, rawURL string) (*CaptureResult, error) {
	browser, err := p.acquire()
	if err != nil {
		return nil, err
	}
	logger := log.WithComponentFromContext(ctx, "browser")
	start := time.Now()

	rw := rewriteURL(rawURL, p.opts.MirrorHost)
	if rw.Changed {
		logger.Debug().Str("from", rawURL).Str("to", rw.URL).Msg("url rewritten")
	}

	ctxOpts := playwright.BrowserNewContextOptions{
		Viewport:         &playwright.Size{Width: 1280, Height: 800},
		ExtraHttpHeaders: map[string]string{"Accept-Language": "en-US,en;q=0.9"},
	}
	if p.opts.UserAgent != "" {
		ctxOpts.UserAgent = playwright.String(p.opts.UserAgent)
	}
	browserCtx, err := browser.NewContext(ctxOpts)
	if err != nil {
		return nil, fmt.Errorf("new browser context: %w", err)
	}
	defer func() {
		if err := browserCtx.Close(); err != nil {
			logger.Warn().Err(err).Msg("close browser context")
		}
	}()

	p.injectCookies(browserCtx, logger)

	page, err := browserCtx.NewPage()
	if err != nil {
		return nil, fmt.Errorf("new page: %w", err)
	}

	if err := p.navigate(ctx, page, rw.URL); err != nil {
		return nil, err
	}
	if err := p.settle(ctx, page, logger); err != nil {
		return nil, err
	}

	result := &CaptureResult{Rewritten: rw.Changed}

	if rw.Mirrored && hasArticleStub(page) {
		logger.Info().Str(log.FieldURL, rawURL).Msg("mirror shows article stub, capturing origin directly")
		if err := p.navigate(ctx, page, rawURL); err != nil {
			return nil, err
		}
		if err := p.settle(ctx, page, logger); err != nil {
			return nil, err
		}
		result.DirectArticle = true
	}

	shot, err := page.Screenshot(playwright.PageScreenshotOptions{
		Timeout: playwright.Float(float64(screenshotTimeout.Milliseconds())),
		Type:    playwright.ScreenshotTypePng,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("viewport screenshot failed, continuing without")
		shot = nil
	}
	result.Screenshot = shot

	if err := page.EmulateMedia(playwright.PageEmulateMediaOptions{Media: playwright.MediaScreen}); err != nil {
		logger.Debug().Err(err).Msg("screen media emulation failed")
	}
	if _, err := page.AddStyleTag(playwright.PageAddStyleTagOptions{Content: playwright.String(printCSS)}); err != nil {
		logger.Warn().Err(err).Msg("print style injection failed, capturing as-is")
	}

	if title, err := page.Title(); err == nil {
		result.Title = trimTitleSuffix(title)
	}

	if err := ctx.Err(); err != nil {
		return nil, failure.Classify(err)
	}
	pdf, err := page.PDF(playwright.PagePdfOptions{
		Format:          playwright.String("A4"),
		PrintBackground: playwright.Bool(true),
		Scale:           playwright.Float(0.7),
		Margin: &playwright.Margin{
			Top:    playwright.String("20px"),
			Bottom: playwright.String("20px"),
			Left:   playwright.String("20px"),
			Right:  playwright.String("20px"),
		},
	})
	if err != nil {
		return nil, failure.Classify(fmt.Errorf("pdf generation: %w", err))
	}
	result.PDF = pdf
	result.FinalURL = page.URL()

	metrics.CaptureDuration.Observe(time.Since(start).Seconds())
	logger.Info().
		Str(log.FieldURL, rawURL).
		Int(log.FieldSize, len(pdf)).
		Str("title", result.Title).
		Dur("duration", time.Since(start)).
		Msg("page captured")
	return result, nil
}

// navigate implements the two-strategy load: network idle first, and on
// timeout a DOM-ready retry with a grace period, because ad-heavy pages
// may never go network idle.
func (p *Pool) navigate(ctx context.Context, page playwright.Page, target string) error {
	timeout := playwright.Float(float64(p.opts.NavTimeout.Milliseconds()))
	_, err := page.Goto(target, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateNetworkidle,
		Timeout:   timeout,
	})
	if err == nil {
		return nil
	}
	if !isTimeoutErr(err) {
		return classifyNav(target, err)
	}

	if _, err := page.Goto(target, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   timeout,
	}); err != nil {
		if isTimeoutErr(err) {
			return failure.New(failure.KindTimeout, "navigation to %s timed out", target)
		}
		return classifyNav(target, err)
	}
	return pauseClassified(ctx, 5*time.Second)
}

// settle runs the post-navigation sequence: short waits around the body
// selector, a bounded scroll to trigger lazy loading, back to top, then
// the privacy filter.
func (p *Pool) settle(ctx context.Context, page playwright.Page, logger zerolog.Logger) error {
	if err := pauseClassified(ctx, time.Second); err != nil {
		return err
	}
	if _, err := page.WaitForSelector("body", playwright.PageWaitForSelectorOptions{
		Timeout: playwright.Float(float64(bodyWaitTimeout.Milliseconds())),
	}); err != nil {
		logger.Debug().Err(err).Msg("body selector wait failed")
	}
	if err := pauseClassified(ctx, 2*time.Second); err != nil {
		return err
	}

	p.scrollThrough(ctx, page)
	if _, err := page.Evaluate(scrollTopJS); err != nil {
		logger.Debug().Err(err).Msg("scroll to top failed")
	}
	if err := pauseClassified(ctx, 500*time.Millisecond); err != nil {
		return err
	}

	p.applyPrivacyFilter(page, logger)
	return nil
}

func (p *Pool) scrollThrough(ctx context.Context, page playwright.Page) {
	deadline := time.Now().Add(scrollWallCap)
	for i := 0; i < scrollMaxSteps; i++ {
		if ctx.Err() != nil || time.Now().After(deadline) {
			return
		}
		atBottom, err := page.Evaluate(scrollStepJS)
		if err != nil {
			return
		}
		if done, ok := atBottom.(bool); ok && done {
			return
		}
		if pause(ctx, scrollStepDelay) != nil {
			return
		}
	}
}

func (p *Pool) applyPrivacyFilter(page playwright.Page, logger zerolog.Logger) {
	if len(p.opts.PrivacyFilter) == 0 {
		return
	}
	hidden, err := page.Evaluate(privacyFilterJS, p.opts.PrivacyFilter)
	if err != nil {
		logger.Warn().Err(err).Msg("privacy filter failed, capturing unfiltered")
		return
	}
	var n int
	switch v := hidden.(type) {
	case int:
		n = v
	case float64:
		n = int(v)
	}
	if n > 0 {
		logger.Debug().Int("hidden", n).Msg("privacy filter applied")
	}
}

func (p *Pool) injectCookies(browserCtx playwright.BrowserContext, logger zerolog.Logger) {
	if p.opts.Cookies == nil {
		return
	}
	jar, err := p.opts.Cookies.Load()
	if err != nil {
		logger.Warn().Err(err).Msg("cookie load failed, capturing without session")
		return
	}
	if len(jar) == 0 {
		return
	}
	if err := browserCtx.AddCookies(toPlaywrightCookies(jar)); err != nil {
		logger.Warn().Err(err).Msg("cookie injection failed, capturing without session")
		return
	}
	logger.Debug().Int("cookies", len(jar)).Msg("session cookies injected")
}

func toPlaywrightCookies(jar []cookies.Cookie) []playwright.OptionalCookie {
	out := make([]playwright.OptionalCookie, 0, len(jar))
	for _, c := range jar {
		oc := playwright.OptionalCookie{
			Name:   c.Name,
			Value:  c.Value,
			Domain: playwright.String(c.Domain),
			Path:   playwright.String(c.Path),
			Secure: playwright.Bool(c.Secure),
		}
		if c.Expires > 0 {
			oc.Expires = playwright.Float(float64(c.Expires))
		}
		out = append(out, oc)
	}
	return out
}

func hasArticleStub(page playwright.Page) bool {
	content, err := page.Content()
	if err != nil {
		return false
	}
	return strings.Contains(content, articleStubMarker)
}

func classifyNav(target string, err error) error {
	msg := err.Error()
	if strings.Contains(msg, "net::ERR_BLOCKED") || strings.Contains(msg, "403") {
		return failure.New(failure.KindBotDetected, "%s blocked the capture: %v", target, err)
	}
	return failure.New(failure.KindNavigationError, "navigation to %s failed: %v", target, err)
}

func isTimeoutErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "Timeout") && strings.Contains(msg, "exceeded")
}

func pause(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func pauseClassified(ctx context.Context, d time.Duration) error {
	if err := pause(ctx, d); err != nil {
		return failure.Classify(err)
	}
	return nil
}
