package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"classification-pipeline/internal/stats"
)

const opTimeout = 5 * time.Second

// StatsCache is a best-effort read-through cache for client statistics in
// front of the storage service's read path. The storage consumer invalidates
// a client's entry after every successful store, so reads never serve stats
// older than the last mutation plus the TTL. A nil *StatsCache is a valid
// no-op cache.
type StatsCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func New(rdb *redis.Client, ttl time.Duration) *StatsCache {
	return &StatsCache{rdb: rdb, ttl: ttl}
}

func clientStatsKey(clientID string) string {
	return fmt.Sprintf("client:%s:stats", clientID)
}

func (c *StatsCache) GetClientStats(ctx context.Context, clientID string) (*stats.ClientStatistics, bool) {
	if c == nil {
		return nil, false
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	raw, err := c.rdb.Get(ctx, clientStatsKey(clientID)).Result()
	if err != nil {
		return nil, false
	}

	var cs stats.ClientStatistics
	if err := json.Unmarshal([]byte(raw), &cs); err != nil {
		return nil, false
	}
	return &cs, true
}

func (c *StatsCache) SetClientStats(ctx context.Context, cs stats.ClientStatistics) {
	if c == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	raw, err := json.Marshal(cs)
	if err != nil {
		return
	}
	c.rdb.Set(ctx, clientStatsKey(cs.ClientID), raw, c.ttl)
}

func (c *StatsCache) InvalidateClient(ctx context.Context, clientID string) {
	if c == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	c.rdb.Del(ctx, clientStatsKey(clientID))
}
