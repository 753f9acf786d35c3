// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package events

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/ManuGH/papercast/internal/log"
	"github.com/ManuGH/papercast/internal/metrics"
)

const subscriberBuffer = 64

// Bus fans events out to per-topic subscribers. Each subscriber gets its
// own buffered channel and pump goroutine, so one slow handler cannot stall
// the workers publishing into the bus.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]chan Event
	wg     sync.WaitGroup
	closed bool
	logger zerolog.Logger
}

func NewBus() *Bus {
	return &Bus{
		subs:   make(map[string][]chan Event),
		logger: log.WithComponent("events"),
	}
}

// Subscribe attaches fn to a topic. Intended for startup wiring; the
// subscription lives until Close.
func (b *Bus) Subscribe(topic string, fn func(Event)) {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.subs[topic] = append(b.subs[topic], ch)
	b.wg.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.wg.Done()
		for ev := range ch {
			b.deliver(fn, ev)
		}
	}()
}

func (b *Bus) deliver(fn func(Event), ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().
				Str("topic", ev.Topic()).
				Interface("panic", r).
				Msg("event subscriber panicked")
		}
	}()
	fn(ev)
}

// Publish fans ev out to every subscriber of its topic. It never blocks:
// when a subscriber's buffer is full the event is dropped and counted.
// Sends stay under the read lock so Close cannot race a channel close.
func (b *Bus) Publish(ev Event) {
	topic := ev.Topic()

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs[topic] {
		select {
		case ch <- ev:
		default:
			metrics.EventsDroppedTotal.WithLabelValues(topic).Inc()
		}
	}
}

// Close stops delivery and waits for in-flight handlers to drain.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, chs := range b.subs {
		for _, ch := range chs {
			close(ch)
		}
	}
	b.subs = nil
	b.mu.Unlock()

	b.wg.Wait()
}
