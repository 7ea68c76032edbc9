package hotcache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/clickrank/clickrank/internal/wire"
)

// NewTestCache starts an in-process miniredis server and returns a Cache
// bound to it, so the tests in this package can exercise Hot Cache
// behavior without a live Redis instance.
func NewTestCache(t *testing.T) *Cache {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return New(&redis.Options{Addr: mr.Addr()}, "test")
}

func TestSetTotalAndTotal_RoundTrips(t *testing.T) {
	c := NewTestCache(t)
	ctx := context.Background()
	userID := uuid.New()

	total, err := c.Total(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, uint64(0), total)

	require.NoError(t, c.SetTotal(ctx, userID, 42))
	total, err = c.Total(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, uint64(42), total)
}

func TestSetRankAndRank_RoundTrips(t *testing.T) {
	c := NewTestCache(t)
	ctx := context.Background()
	userID := uuid.New()

	rank, err := c.Rank(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, uint32(0), rank)

	require.NoError(t, c.SetRank(ctx, userID, 3))
	rank, err = c.Rank(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, uint32(3), rank)
}

func TestPublishTopK_DiscardsStaleVersion(t *testing.T) {
	c := NewTestCache(t)
	ctx := context.Background()

	entries := []wire.LeaderboardEntry{{Rank: 1, Username: "a", TotalClicks: 10}}
	require.NoError(t, c.PublishTopK(ctx, 5, entries))

	stale := []wire.LeaderboardEntry{{Rank: 1, Username: "b", TotalClicks: 1}}
	require.NoError(t, c.PublishTopK(ctx, 4, stale))

	got, version, err := c.TopK(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(5), version)
	require.Equal(t, "a", got[0].Username)
}

func TestClearAll_RemovesEveryKeyUnderPrefix(t *testing.T) {
	c := NewTestCache(t)
	ctx := context.Background()
	userID := uuid.New()
	require.NoError(t, c.SetTotal(ctx, userID, 1))
	require.NoError(t, c.SetRank(ctx, userID, 1))

	n, err := c.ClearAll(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	total, err := c.Total(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, uint64(0), total)
}
