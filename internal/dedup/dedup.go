// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package dedup tracks which feed guids and canonical URLs the pipeline has
// already accepted. Marks are sticky: once a guid or URL is seen it stays
// seen, which keeps feed polls at-most-once ahead of the queue fan-out.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Provenance records which source first surfaced a canonical URL and when.
type Provenance struct {
	Source      string    `json:"source"`
	FirstSeenAt time.Time `json:"firstSeenAt"`
}

// Store is the dedup state surface shared by the feed poller and the
// service facade. Implementations must be safe for concurrent use.
type Store interface {
	IsGUIDSeen(ctx context.Context, source, guid string) (bool, error)
	MarkGUIDSeen(ctx context.Context, source, guid string) error
	IsURLSeen(ctx context.Context, canonicalURL string) (bool, error)
	// MarkURLSeen adds the URL to the global seen set and records
	// provenance. The first writer wins; later marks never overwrite the
	// original source or timestamp.
	MarkURLSeen(ctx context.Context, canonicalURL, source string) error
	Provenance(ctx context.Context, canonicalURL string) (Provenance, bool, error)
	Close() error
}

// Open creates a Store for the configured backend. The redis backend reuses
// the shared client and is the production default; badger keeps everything
// in a local directory for single-node setups without Redis.
func Open(backend string, client *redis.Client, dir string) (Store, error) {
	if backend == "" {
		backend = "redis"
	}
	switch backend {
	case "redis":
		if client == nil {
			return nil, fmt.Errorf("redis dedup backend requires a client")
		}
		return NewRedisStore(client), nil
	case "badger":
		return OpenBadgerStore(dir)
	default:
		return nil, fmt.Errorf("unknown dedup backend: %s", backend)
	}
}
