// Package ranker refreshes the materialized top-K view at a fixed cadence,
// computes dense ranks over the result, and publishes both a 20-row
// snapshot and per-user ranks to Hot Cache under a monotonic version.
package ranker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/stan.go"
	"github.com/rs/zerolog"

	"github.com/clickrank/clickrank/internal/hotcache"
	"github.com/clickrank/clickrank/internal/store"
	"github.com/clickrank/clickrank/internal/wire"
)

// PublishedWindow is the number of rows pushed to clients in a
// leaderboard_update frame.
const PublishedWindow = 20

// MaxWindow is K, the size of the materialized view itself.
const MaxWindow = 1000

// RankedEntry is one row after dense-rank assignment.
type RankedEntry struct {
	Rank        uint32
	UserID      uuid.UUID
	Username    string
	TotalClicks uint64
}

// RefreshChannel is the STAN channel other Ranker instances (or an
// operator tool) can publish to in order to trigger an out-of-cadence
// refresh.
const RefreshChannel = "clickrank.ranker.refresh"

// Ranker owns the refresh ticker and Hot Cache publication.
type Ranker struct {
	store *store.Store
	cache *hotcache.Cache
	sc    stan.Conn
	log   zerolog.Logger

	version uint64
}

// New builds a Ranker. sc may be nil if cross-instance refresh broadcast
// is not wired (e.g. in tests).
func New(st *store.Store, cache *hotcache.Cache, sc stan.Conn, log zerolog.Logger) *Ranker {
	return &Ranker{
		store: st,
		cache: cache,
		sc:    sc,
		log:   log.With().Str("component", "ranker").Logger(),
	}
}

// Refresh recomputes the leaderboard view, assigns dense ranks, and
// publishes the top PublishedWindow entries plus every ranked user's
// individual rank to Hot Cache.
func (r *Ranker) Refresh(ctx context.Context) error {
	if err := r.store.RefreshView(); err != nil {
		return err
	}

	rows, err := r.store.TopK(MaxWindow)
	if err != nil {
		return err
	}
	ranked := denseRank(rows)

	r.version++
	version := r.version

	entries := make([]wire.LeaderboardEntry, 0, PublishedWindow)
	for i, e := range ranked {
		if i >= PublishedWindow {
			break
		}
		entries = append(entries, wire.LeaderboardEntry{
			Rank:        e.Rank,
			Username:    e.Username,
			TotalClicks: e.TotalClicks,
		})
	}
	if err := r.cache.PublishTopK(ctx, version, entries); err != nil {
		return err
	}

	for _, e := range ranked {
		if err := r.cache.SetRank(ctx, e.UserID, e.Rank); err != nil {
			r.log.Warn().Err(err).Str("user_id", e.UserID.String()).Msg("failed to publish rank")
		}
	}

	r.log.Debug().Uint64("version", version).Int("ranked", len(ranked)).Msg("leaderboard refreshed")
	return nil
}

// Run ticks Refresh at interval until ctx is cancelled. A failed refresh
// is logged and retried on the next tick; it stalls rank freshness but
// never blocks click ingestion, which runs independently in the
// Aggregator.
func (r *Ranker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var sub stan.Subscription
	if r.sc != nil {
		refresh := make(chan struct{}, 1)
		sub, _ = r.sc.Subscribe(RefreshChannel, func(*stan.Msg) {
			select {
			case refresh <- struct{}{}:
			default:
			}
		})
		defer func() {
			if sub != nil {
				_ = sub.Unsubscribe()
			}
		}()
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-refresh:
					if err := r.Refresh(ctx); err != nil {
						r.log.Error().Err(err).Msg("on-demand refresh failed")
					}
				}
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Refresh(ctx); err != nil {
				r.log.Error().Err(err).Msg("scheduled refresh failed")
			}
		}
	}
}

// GetRank reports a user's rank and total, preferring Hot Cache and
// falling back to Store on miss (no cached total for the user).
func (r *Ranker) GetRank(ctx context.Context, userID uuid.UUID) (rank uint32, total uint64, err error) {
	rank, err = r.cache.Rank(ctx, userID)
	if err != nil {
		return 0, 0, err
	}
	total, err = r.cache.Total(ctx, userID)
	if err == nil && total != 0 {
		return rank, total, nil
	}

	row, found, err := r.store.Rank(userID)
	if err != nil {
		return 0, 0, err
	}
	if !found {
		return 0, 0, nil
	}
	return uint32(row.Rank), row.TotalClicks, nil
}

// GetTopK returns the leaderboard from Hot Cache, falling back to Store
// when the cache has never been populated.
func (r *Ranker) GetTopK(ctx context.Context, limit int) ([]wire.LeaderboardEntry, uint64, error) {
	entries, version, err := r.cache.TopK(ctx)
	if err != nil {
		return nil, 0, err
	}
	if len(entries) > 0 {
		if limit > 0 && limit < len(entries) {
			entries = entries[:limit]
		}
		return entries, version, nil
	}

	rows, err := r.store.TopK(limit)
	if err != nil {
		return nil, 0, err
	}
	ranked := denseRank(rows)
	out := make([]wire.LeaderboardEntry, len(ranked))
	for i, e := range ranked {
		out[i] = wire.LeaderboardEntry{Rank: e.Rank, Username: e.Username, TotalClicks: e.TotalClicks}
	}
	return out, 0, nil
}
