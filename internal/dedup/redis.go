// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package dedup

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ManuGH/papercast/internal/log"
)

// Key layout, stable across releases:
//
//	bookmarks:seen-urls          SET of canonical URLs
//	bookmark:{canonicalUrl}      HASH {source, firstSeenAt}
//	feed:guids:{source}          SET of guids per feed source
const (
	keySeenURLs   = "bookmarks:seen-urls"
	keyBookmark   = "bookmark:"
	keyFeedGuids  = "feed:guids:"
	maxGuidSetLen = 50_000
)

// RedisStore implements Store on a shared go-redis client. The client is
// owned by the daemon; Close here is a no-op.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) IsGUIDSeen(ctx context.Context, source, guid string) (bool, error) {
	return s.client.SIsMember(ctx, keyFeedGuids+source, guid).Result()
}

func (s *RedisStore) MarkGUIDSeen(ctx context.Context, source, guid string) error {
	key := keyFeedGuids + source
	if err := s.client.SAdd(ctx, key, guid).Err(); err != nil {
		return err
	}
	// Guid sets grow forever on busy feeds; evict random members above the
	// cap. The global URL set still blocks re-enqueue of evicted items.
	card, err := s.client.SCard(ctx, key).Result()
	if err != nil || card <= maxGuidSetLen {
		return nil
	}
	if err := s.client.SPopN(ctx, key, card-maxGuidSetLen).Err(); err != nil {
		l := log.WithComponent("dedup")
		l.Warn().Err(err).
			Str(log.FieldSource, source).
			Msg("guid set eviction failed")
	}
	return nil
}

func (s *RedisStore) IsURLSeen(ctx context.Context, canonicalURL string) (bool, error) {
	return s.client.SIsMember(ctx, keySeenURLs, canonicalURL).Result()
}

func (s *RedisStore) MarkURLSeen(ctx context.Context, canonicalURL, source string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, keySeenURLs, canonicalURL)
	// HSetNX keeps the first writer's provenance on concurrent marks.
	pipe.HSetNX(ctx, keyBookmark+canonicalURL, "source", source)
	pipe.HSetNX(ctx, keyBookmark+canonicalURL, "firstSeenAt", now)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Provenance(ctx context.Context, canonicalURL string) (Provenance, bool, error) {
	fields, err := s.client.HGetAll(ctx, keyBookmark+canonicalURL).Result()
	if err != nil {
		return Provenance{}, false, err
	}
	if len(fields) == 0 {
		return Provenance{}, false, nil
	}
	p := Provenance{Source: fields["source"]}
	if ts, err := time.Parse(time.RFC3339, fields["firstSeenAt"]); err == nil {
		p.FirstSeenAt = ts
	}
	return p, true, nil
}

// Close is a no-op: the underlying client is shared and closed by its owner.
func (s *RedisStore) Close() error { return nil }

var _ Store = (*RedisStore)(nil)
