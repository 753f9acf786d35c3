// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package browser owns the headless Chromium instance behind every page
// capture. One Pool exists per process; each capture runs in its own
// browsing context so jobs never share cookies, storage, or crashes.
package browser

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/rs/zerolog"

	"github.com/ManuGH/papercast/internal/cookies"
	"github.com/ManuGH/papercast/internal/log"
	"github.com/ManuGH/papercast/internal/metrics"
)

var (
	ErrNotRunning = errors.New("browser pool not initialized")
	ErrClosed     = errors.New("browser pool closed")
)

var launchArgs = []string{
	"--disable-blink-features=AutomationControlled",
	"--no-sandbox",
	"--disable-dev-shm-usage",
}

const defaultNavTimeout = 60 * time.Second

type poolState int

const (
	statePending poolState = iota
	stateRunning
	stateClosed
)

// Options configures the pool. Zero values fall back to sane defaults;
// an empty MirrorHost disables the social-media rewrite.
type Options struct {
	UserAgent     string
	MirrorHost    string
	PrivacyFilter []string
	Cookies       *cookies.File
	NavTimeout    time.Duration

	// SkipInstall assumes the playwright driver and Chromium are already
	// present instead of downloading them during Init.
	SkipInstall bool
}

// Pool is the process-wide browser with lifecycle pending → running →
// closed. Init and Close are idempotent; Capture fails fast outside the
// running state.
type Pool struct {
	opts   Options
	logger zerolog.Logger

	mu      sync.Mutex
	state   poolState
	pw      *playwright.Playwright
	browser playwright.Browser
}

func NewPool(opts Options) *Pool {
	if opts.NavTimeout <= 0 {
		opts.NavTimeout = defaultNavTimeout
	}
	return &Pool{
		opts:   opts,
		logger: log.WithComponent("browser"),
	}
}

// Init launches the driver and browser. Calling it on a running pool is
// a no-op; a closed pool stays closed.
func (p *Pool) Init() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case stateRunning:
		return nil
	case stateClosed:
		return ErrClosed
	}

	if !p.opts.SkipInstall {
		if err := playwright.Install(&playwright.RunOptions{Browsers: []string{"chromium"}}); err != nil {
			return fmt.Errorf("install playwright: %w", err)
		}
	}
	pw, err := playwright.Run()
	if err != nil {
		return fmt.Errorf("start playwright: %w", err)
	}
	browser, err := launch(pw)
	if err != nil {
		_ = pw.Stop()
		return err
	}

	p.pw = pw
	p.browser = browser
	p.state = stateRunning
	p.logger.Info().Msg("browser launched")
	return nil
}

func launch(pw *playwright.Playwright) (playwright.Browser, error) {
	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
		Args:     launchArgs,
	})
	if err != nil {
		return nil, fmt.Errorf("launch chromium: %w", err)
	}
	return browser, nil
}

// acquire hands out the shared browser, relaunching it once if the
// process died since the last capture.
func (p *Pool) acquire() (playwright.Browser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case statePending:
		return nil, ErrNotRunning
	case stateClosed:
		return nil, ErrClosed
	}
	if p.browser.IsConnected() {
		return p.browser, nil
	}

	p.logger.Warn().Msg("browser connection lost, relaunching")
	metrics.BrowserRelaunchesTotal.Inc()
	browser, err := launch(p.pw)
	if err != nil {
		return nil, fmt.Errorf("relaunch after crash: %w", err)
	}
	p.browser = browser
	return browser, nil
}

// Close tears down the browser and driver. Safe to call repeatedly and
// on a pool that never started.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == stateClosed {
		return nil
	}
	wasRunning := p.state == stateRunning
	p.state = stateClosed

	if !wasRunning {
		return nil
	}
	var errs []error
	if p.browser != nil {
		if err := p.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close browser: %w", err))
		}
		p.browser = nil
	}
	if p.pw != nil {
		if err := p.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop playwright: %w", err))
		}
		p.pw = nil
	}
	p.logger.Info().Msg("browser closed")
	return errors.Join(errs...)
}
