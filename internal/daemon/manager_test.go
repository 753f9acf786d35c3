// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestManagerRunsComponentsUntilCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	m := NewManager(time.Second)

	started := make(chan struct{})
	var stopped bool
	m.Go("pump", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		stopped = true
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("component never started")
	}

	cancel()
	require.NoError(t, <-done)
	assert.True(t, stopped, "component should observe cancellation")
}

func TestManagerHooksRunInReverseOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	m := NewManager(time.Second)

	var mu sync.Mutex
	var order []string
	hook := func(name string) ShutdownHook {
		return func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			return nil
		}
	}
	m.RegisterShutdownHook("redis", hook("redis"))
	m.RegisterShutdownHook("browser", hook("browser"))
	m.RegisterShutdownHook("workers", hook("workers"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, m.Run(ctx))

	assert.Equal(t, []string{"workers", "browser", "redis"}, order)
}

func TestManagerComponentFailureTearsDown(t *testing.T) {
	defer goleak.VerifyNone(t)

	m := NewManager(time.Second)

	boom := errors.New("boom")
	m.Go("flaky", func(ctx context.Context) error { return boom })

	var siblingCanceled bool
	m.Go("sibling", func(ctx context.Context) error {
		<-ctx.Done()
		siblingCanceled = true
		return nil
	})

	err := m.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.True(t, siblingCanceled, "sibling should be torn down with the failed component")
}

func TestManagerRunTwiceFails(t *testing.T) {
	defer goleak.VerifyNone(t)

	m := NewManager(time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, m.Run(ctx))
	assert.ErrorIs(t, m.Run(ctx), ErrAlreadyRunning)
}

func TestManagerShutdownRunsOnce(t *testing.T) {
	defer goleak.VerifyNone(t)

	m := NewManager(time.Second)

	var calls int
	m.RegisterShutdownHook("count", func(context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, m.Shutdown(context.Background()))
	require.NoError(t, m.Shutdown(context.Background()))
	assert.Equal(t, 1, calls, "hooks must not run twice")
}

func TestManagerHookErrorsAreCollected(t *testing.T) {
	defer goleak.VerifyNone(t)

	m := NewManager(time.Second)

	failed := errors.New("close failed")
	var laterRan bool
	m.RegisterShutdownHook("earlier", func(context.Context) error {
		laterRan = true
		return nil
	})
	m.RegisterShutdownHook("broken", func(context.Context) error { return failed })

	err := m.Shutdown(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, failed)
	assert.True(t, laterRan, "a failed hook must not stop the remaining hooks")
}
