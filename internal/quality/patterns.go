// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package quality

import (
	"fmt"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/ManuGH/papercast/internal/log"
)

// Detection phrases get stale as publishers reword their walls, so the
// defaults below can be overridden per deployment via a YAML file that is
// hot-reloaded on change.

var defaultErrorPagePatterns = []string{
	`page (can'?t|cannot) be found`,
	`\b404\b(\s+(error|not found))?`,
	`error 404`,
	`this page (doesn'?t|does not) exist`,
	`we couldn'?t find (that|the) page`,
	`page not found`,
	`the page you('re| are) looking for (was|is) (not found|unavailable|no longer here)`,
	`this content is no longer available`,
}

var defaultPaywallPatterns = []string{
	`get unlimited access`,
	`subscribe to continue reading`,
	`\$\d+(\.\d{2})? (a|per|your first) month`,
	`already a subscriber\?`,
	`subscribe now for full access`,
	`create a free account to continue`,
	`you('ve| have) reached your (free )?article limit`,
	`this article is for subscribers only`,
	`to continue reading, sign (in|up)`,
}

// Patterns is one immutable compiled suite. All expressions match
// case-insensitively against whitespace-collapsed page text.
type Patterns struct {
	ErrorPage []*regexp.Regexp
	Paywall   []*regexp.Regexp
}

func compilePatterns(errorPage, paywall []string) (Patterns, error) {
	compile := func(exprs []string) ([]*regexp.Regexp, error) {
		out := make([]*regexp.Regexp, 0, len(exprs))
		for _, e := range exprs {
			re, err := regexp.Compile("(?i)" + e)
			if err != nil {
				return nil, fmt.Errorf("pattern %q: %w", e, err)
			}
			out = append(out, re)
		}
		return out, nil
	}

	ep, err := compile(errorPage)
	if err != nil {
		return Patterns{}, err
	}
	pw, err := compile(paywall)
	if err != nil {
		return Patterns{}, err
	}
	return Patterns{ErrorPage: ep, Paywall: pw}, nil
}

// DefaultPatterns returns the built-in suite.
func DefaultPatterns() Patterns {
	p, err := compilePatterns(defaultErrorPagePatterns, defaultPaywallPatterns)
	if err != nil {
		panic(err) // defaults are compile-checked by tests
	}
	return p
}

type patternsFile struct {
	ErrorPage []string `yaml:"error_page"`
	Paywall   []string `yaml:"paywall"`
}

// PatternsHolder serves the current suite and swaps it atomically when the
// override file changes. An empty path means built-ins only, no watching.
type PatternsHolder struct {
	mu      sync.RWMutex
	current Patterns

	path    string
	watcher *fsnotify.Watcher
	logger  zerolog.Logger
}

func NewPatternsHolder(path string) *PatternsHolder {
	h := &PatternsHolder{
		current: DefaultPatterns(),
		path:    path,
		logger:  log.WithComponent("quality"),
	}
	if path != "" {
		if err := h.Reload(); err != nil && !os.IsNotExist(err) {
			h.logger.Warn().Str(log.FieldPath, path).Err(err).Msg("pattern override not loaded, using defaults")
		}
	}
	return h
}

// Current returns the active suite.
func (h *PatternsHolder) Current() Patterns {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Reload re-reads the override file. A list that is present and non-empty
// replaces its built-in counterpart; an absent list keeps the defaults. A
// broken file leaves the previous suite active.
func (h *PatternsHolder) Reload() error {
	raw, err := os.ReadFile(h.path)
	if err != nil {
		return err
	}
	var f patternsFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse %s: %w", h.path, err)
	}

	errorPage := defaultErrorPagePatterns
	if len(f.ErrorPage) > 0 {
		errorPage = f.ErrorPage
	}
	paywall := defaultPaywallPatterns
	if len(f.Paywall) > 0 {
		paywall = f.Paywall
	}
	compiled, err := compilePatterns(errorPage, paywall)
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.current = compiled
	h.mu.Unlock()
	h.logger.Info().
		Str(log.FieldPath, h.path).
		Int("error_page", len(compiled.ErrorPage)).
		Int("paywall", len(compiled.Paywall)).
		Msg("detection patterns loaded")
	return nil
}

// Watch starts reloading on file changes until the watcher is closed via
// Stop. No-op when no override path is configured.
func (h *PatternsHolder) Watch() error {
	if h.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(h.path); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", h.path, err)
	}
	h.watcher = watcher
	go h.watchLoop()
	return nil
}

func (h *PatternsHolder) watchLoop() {
	var debounce *time.Timer
	for {
		select {
		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, func() {
					if err := h.Reload(); err != nil {
						h.logger.Error().Err(err).Msg("pattern reload failed, keeping previous suite")
					}
				})
			}
		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.logger.Error().Err(err).Msg("pattern watcher error")
		}
	}
}

// Stop closes the watcher if one is running.
func (h *PatternsHolder) Stop() {
	if h.watcher != nil {
		_ = h.watcher.Close()
	}
}
