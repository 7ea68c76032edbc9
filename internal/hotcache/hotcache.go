// Package hotcache is a thin typed wrapper over Redis: per-user totals,
// per-user ranks, the published top-K snapshot, and per-user display
// names, each behind a named method so no caller constructs a key string
// by hand.
package hotcache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/clickrank/clickrank/internal/wire"
)

// Cache wraps a redis.Client scoped under a single key prefix, so multiple
// environments can share one Redis instance without colliding.
type Cache struct {
	rdb    *redis.Client
	prefix string
}

// New builds a Cache from already-constructed redis options.
func New(opts *redis.Options, prefix string) *Cache {
	return &Cache{rdb: redis.NewClient(opts), prefix: prefix}
}

// Ping verifies connectivity at startup.
func (c *Cache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Cache) key(parts ...string) string {
	k := c.prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

// SetTotal publishes a user's live authoritative total. Writer: the owning
// Aggregator shard.
func (c *Cache) SetTotal(ctx context.Context, userID uuid.UUID, total uint64) error {
	return c.rdb.Set(ctx, c.key("user", "total", userID.String()), total, 0).Err()
}

// Total reads a user's live total; 0 if absent.
func (c *Cache) Total(ctx context.Context, userID uuid.UUID) (uint64, error) {
	v, err := c.rdb.Get(ctx, c.key("user", "total", userID.String())).Uint64()
	if err == redis.Nil {
		return 0, nil
	}
	return v, err
}

// SetRank publishes a user's dense rank (0 = unranked). Writer: the Ranker.
func (c *Cache) SetRank(ctx context.Context, userID uuid.UUID, rank uint32) error {
	return c.rdb.Set(ctx, c.key("user", "rank", userID.String()), rank, 0).Err()
}

// Rank reads a user's published rank; 0 (unranked) if absent.
func (c *Cache) Rank(ctx context.Context, userID uuid.UUID) (uint32, error) {
	v, err := c.rdb.Get(ctx, c.key("user", "rank", userID.String())).Uint64()
	if err == redis.Nil {
		return 0, nil
	}
	return uint32(v), err
}

// SetMeta publishes a user's canonical display name. Writer: Aggregator on
// resolve/rename.
func (c *Cache) SetMeta(ctx context.Context, userID uuid.UUID, username string) error {
	return c.rdb.Set(ctx, c.key("user", "meta", userID.String()), username, 0).Err()
}

// Meta reads a user's cached display name.
func (c *Cache) Meta(ctx context.Context, userID uuid.UUID) (string, error) {
	v, err := c.rdb.Get(ctx, c.key("user", "meta", userID.String())).Result()
	if err == redis.Nil {
		return "", nil
	}
	return v, err
}

// topKKey is the single key the full snapshot is stored under.
func (c *Cache) topKKey() string { return c.key("leaderboard", "topK") }

// topKSnapshot is what's actually stored: entries plus a monotonic
// version so a Ranker instance never regresses a fresher write from
// another instance.
type topKSnapshot struct {
	Version uint64                  `msgpack:"version"`
	Entries []wire.LeaderboardEntry `msgpack:"entries"`
}

// PublishTopK overwrites the published top-K snapshot if version is newer
// than (or equal to) whatever is currently stored, discarding stale
// concurrent writes from another Ranker instance.
func (c *Cache) PublishTopK(ctx context.Context, version uint64, entries []wire.LeaderboardEntry) error {
	current, currentVersion, err := c.TopK(ctx)
	if err != nil {
		return err
	}
	_ = current
	if version < currentVersion {
		return nil
	}
	payload, err := wire.EncodeRPC(topKSnapshot{Version: version, Entries: entries})
	if err != nil {
		return fmt.Errorf("hotcache: encode topk: %w", err)
	}
	return c.rdb.Set(ctx, c.topKKey(), payload, 0).Err()
}

// TopK reads the currently published leaderboard snapshot and its version.
func (c *Cache) TopK(ctx context.Context) ([]wire.LeaderboardEntry, uint64, error) {
	raw, err := c.rdb.Get(ctx, c.topKKey()).Bytes()
	if err == redis.Nil {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("hotcache: read topk: %w", err)
	}
	var snap topKSnapshot
	if err := wire.DecodeRPC(raw, &snap); err != nil {
		return nil, 0, fmt.Errorf("hotcache: decode topk: %w", err)
	}
	return snap.Entries, snap.Version, nil
}

// ClearAll removes every key under this cache's prefix using a Lua
// scan-and-delete loop so it scales past Redis's single-call KEYS
// limitation.
func (c *Cache) ClearAll(ctx context.Context) (int64, error) {
	res, err := c.rdb.Eval(ctx, `
		local count, cursor = 0, "0"
		while true do
			local req = redis.call("SCAN", cursor, "MATCH", ARGV[1], "COUNT", ARGV[2])
			if #req[2] > 0 then redis.call("DEL", unpack(req[2])) end
			count, cursor = count + #req[2], req[1]
			if cursor == "0" then break end
		end
		return count`,
		[]string{},
		c.prefix+":*",
		64,
	).Result()
	if err != nil {
		return 0, fmt.Errorf("hotcache: clear all: %w", err)
	}
	n, _ := res.(int64)
	return n, nil
}

// Close releases the underlying redis connection.
func (c *Cache) Close() error { return c.rdb.Close() }

// StaleAfter is the bounded-staleness tolerance callers may apply when
// deciding whether a cached read is fresh enough: one refresh cycle.
func StaleAfter(refreshInterval time.Duration) time.Duration { return refreshInterval }
