// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package daemon owns the papercastd process lifecycle: long-running
// components tracked in one run group, and named shutdown hooks executed in
// reverse registration order once the group winds down.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/papercast/internal/log"
)

// ShutdownHook releases one resource during shutdown. Hooks run in reverse
// registration order (LIFO), each bounded by the shutdown context.
type ShutdownHook func(ctx context.Context) error

const defaultShutdownTimeout = 30 * time.Second

type component struct {
	name string
	run  func(ctx context.Context) error
}

type namedHook struct {
	name string
	hook ShutdownHook
}

// Manager runs registered components until the context is canceled or one
// of them fails, then executes the shutdown hooks. Register everything
// before calling Run.
type Manager struct {
	timeout time.Duration
	logger  zerolog.Logger

	mu         sync.Mutex
	started    bool
	stopping   bool
	components []component
	hooks      []namedHook
}

func NewManager(shutdownTimeout time.Duration) *Manager {
	if shutdownTimeout <= 0 {
		shutdownTimeout = defaultShutdownTimeout
	}
	return &Manager{
		timeout: shutdownTimeout,
		logger:  log.WithComponent("daemon"),
	}
}

// Go registers a long-running component. run must block until ctx is
// canceled; returning a non-nil error tears the whole daemon down.
func (m *Manager) Go(name string, run func(ctx context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components = append(m.components, component{name: name, run: run})
}

// RegisterShutdownHook registers a cleanup function executed during
// shutdown. Hooks run in reverse registration order (LIFO).
func (m *Manager) RegisterShutdownHook(name string, hook ShutdownHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, namedHook{name: name, hook: hook})
	m.logger.Debug().Str("hook", name).Msg("registered shutdown hook")
}

// Run starts every component and blocks until ctx is canceled or a
// component fails, then shuts down with a bounded context detached from
// the caller's cancellation.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	m.started = true
	comps := append([]component(nil), m.components...)
	m.mu.Unlock()

	m.logger.Info().
		Int("components", len(comps)).
		Dur("shutdown_timeout", m.timeout).
		Msg("daemon starting")

	g, gctx := errgroup.WithContext(ctx)
	// Hold the group open until cancellation even with no components, so a
	// hook-only daemon still waits for its signal.
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	for _, c := range comps {
		c := c
		g.Go(func() error {
			m.logger.Debug().Str("component", c.name).Msg("component started")
			if err := c.run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				m.logger.Error().Err(err).Str("component", c.name).Msg("component failed")
				return fmt.Errorf("%s: %w", c.name, err)
			}
			m.logger.Debug().Str("component", c.name).Msg("component stopped")
			return nil
		})
	}

	runErr := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
	defer cancel()
	shutdownErr := m.Shutdown(shutdownCtx)

	switch {
	case runErr != nil && shutdownErr != nil:
		return errors.Join(runErr, shutdownErr)
	case runErr != nil:
		return runErr
	default:
		return shutdownErr
	}
}

// Shutdown executes the registered hooks in reverse order. The first call
// wins; later calls return nil immediately, so a failed bootstrap can
// release partially wired resources through the same path Run uses.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.stopping {
		m.mu.Unlock()
		return nil
	}
	m.stopping = true
	hooks := append([]namedHook(nil), m.hooks...)
	m.mu.Unlock()

	m.logger.Info().Int("hooks", len(hooks)).Msg("shutting down")

	var errs []error
	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		start := time.Now()
		if err := h.hook(ctx); err != nil {
			m.logger.Error().
				Err(err).
				Str("hook", h.name).
				Dur("duration", time.Since(start)).
				Msg("shutdown hook failed")
			errs = append(errs, fmt.Errorf("hook %s: %w", h.name, err))
			continue
		}
		m.logger.Debug().
			Str("hook", h.name).
			Dur("duration", time.Since(start)).
			Msg("shutdown hook completed")
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	m.logger.Info().Msg("daemon stopped cleanly")
	return nil
}
