// Package edge terminates one WebSocket per client, authenticates the
// session from the first frame, routes click batches to the owning
// Aggregator shard, and pushes score/leaderboard updates on independent
// per-connection cadences.
package edge

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/clickrank/clickrank/internal/hotcache"
	"github.com/clickrank/clickrank/internal/rpc"
)

// DefaultPoolSize is the number of persistent RPC connections Edge
// maintains per Aggregator instance.
const DefaultPoolSize = 50

// Config carries Edge's own tunables. Session idle/reconnect timing lives
// on the Aggregator side instead, since the Aggregator owns the session
// record.
type Config struct {
	NShards         int
	ScorePush       time.Duration // default 500ms
	LeaderboardPush time.Duration // default 5000ms
	IdleMultiple    int           // close after IdleMultiple * ScorePush of silence; default 2
	RPCDeadline     time.Duration // default 2s
	MaxBatch        int           // default 100
}

// Hub accepts incoming WebSocket connections and wires each into a client.
// It owns a round-robin pool of rpc.Client connections to the Aggregator,
// selected lock-free via an atomic counter so no connection becomes a
// shared bottleneck under load.
type Hub struct {
	cfg   Config
	cache *hotcache.Cache
	log   zerolog.Logger

	pool []*rpc.Client
	next uint64

	limiter *RateLimiter

	upgrader websocket.Upgrader
}

// NewHub dials pool connections to natsAddr and returns a ready Hub.
func NewHub(cfg Config, natsAddr string, cache *hotcache.Cache, log zerolog.Logger, poolSize int) (*Hub, error) {
	if poolSize <= 0 {
		poolSize = DefaultPoolSize
	}
	pool := make([]*rpc.Client, 0, poolSize)
	for i := 0; i < poolSize; i++ {
		c, err := rpc.Dial(natsAddr, log)
		if err != nil {
			for _, existing := range pool {
				existing.Close()
			}
			return nil, fmt.Errorf("edge: dial rpc pool connection %d: %w", i, err)
		}
		pool = append(pool, c)
	}
	return &Hub{
		cfg:      cfg,
		cache:    cache,
		log:      log.With().Str("component", "edge_hub").Logger(),
		pool:     pool,
		limiter:  NewRateLimiter(cfg.ScorePush),
		upgrader: websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
	}, nil
}

// rpcConn returns the next pooled connection, round-robin, lock-free.
func (h *Hub) rpcConn() *rpc.Client {
	i := atomic.AddUint64(&h.next, 1)
	return h.pool[i%uint64(len(h.pool))]
}

// Close drains every pooled RPC connection.
func (h *Hub) Close() {
	for _, c := range h.pool {
		c.Close()
	}
}

// ServeHTTP upgrades the request to a WebSocket and runs a client for its
// lifetime.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := newClient(h, conn)
	client.run(r.Context())
}

// maxBatch is the largest click_count a single batch may report (default
// 100).
func (h *Hub) maxBatch() int {
	if h.cfg.MaxBatch <= 0 {
		return 100
	}
	return h.cfg.MaxBatch
}

func (h *Hub) rpcDeadline() time.Duration {
	if h.cfg.RPCDeadline <= 0 {
		return 2 * time.Second
	}
	return h.cfg.RPCDeadline
}

func (h *Hub) requestContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, h.rpcDeadline())
}
