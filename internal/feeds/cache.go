// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package feeds

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/ManuGH/papercast/internal/model"
)

const keyFeedCache = "feed:cache:"

// Cache persists per-source HTTP validators across polls and restarts in a
// Redis hash under feed:cache:{source}.
type Cache struct {
	client *redis.Client
}

func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) key(source model.Source) string {
	return keyFeedCache + string(source)
}

// Get loads the stored validators. A missing key is an empty pair, which
// makes the next fetch unconditional.
func (c *Cache) Get(ctx context.Context, source model.Source) (Validators, error) {
	fields, err := c.client.HGetAll(ctx, c.key(source)).Result()
	if err != nil {
		return Validators{}, fmt.Errorf("load feed cache %s: %w", source, err)
	}
	return Validators{
		ETag:         fields["etag"],
		LastModified: fields["lastModified"],
	}, nil
}

// Put replaces the stored validators. Both fields are always written, so a
// server that stops sending one of the headers cannot leave a stale value
// behind.
func (c *Cache) Put(ctx context.Context, source model.Source, v Validators) error {
	if v == (Validators{}) {
		if err := c.client.Del(ctx, c.key(source)).Err(); err != nil {
			return fmt.Errorf("clear feed cache %s: %w", source, err)
		}
		return nil
	}
	err := c.client.HSet(ctx, c.key(source), "etag", v.ETag, "lastModified", v.LastModified).Err()
	if err != nil {
		return fmt.Errorf("store feed cache %s: %w", source, err)
	}
	return nil
}
