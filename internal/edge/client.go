package edge

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/clickrank/clickrank/internal/rpc"
	"github.com/clickrank/clickrank/internal/shard"
	"github.com/clickrank/clickrank/internal/wire"
)

// client is one connected WebSocket's session-local state: the resolved
// identity, the optimistic local counter, and what was last pushed to the
// client so duplicate frames are suppressed. Three goroutines share it:
// the read loop, the score-push ticker, and the leaderboard-push ticker,
// each with its own independently-phased timer.
type client struct {
	hub  *Hub
	conn *websocket.Conn

	writeMu sync.Mutex

	userID    uuid.UUID
	sessionID uuid.UUID
	username  string

	optimistic uint64
	lastScore  uint64
	lastRank   uint32
	lastTopKV  uint64

	mu         sync.Mutex
	lastFrame  time.Time
	cleanClose bool
}

func newClient(h *Hub, conn *websocket.Conn) *client {
	return &client{hub: h, conn: conn}
}

// run drives one connection end to end: init handshake, then the read
// loop and push tickers concurrently until the socket closes.
func (c *client) run(ctx context.Context) {
	defer c.conn.Close()

	if err := c.handshake(ctx); err != nil {
		c.hub.log.Warn().Err(err).Msg("handshake failed")
		_ = c.writeJSON(wire.ErrorMessage{Type: wire.TypeError, Message: err.Error()})
		return
	}
	// Only a clean close (normal/going-away close frame) ends the session
	// immediately. Any other read-loop exit, a dropped connection, a
	// protocol error, or an idle timeout, leaves the session active so a
	// reconnect within the resume window is treated as a resume rather
	// than a fresh session. The sweeper reaps it if the window lapses.
	defer func() {
		c.mu.Lock()
		clean := c.cleanClose
		c.mu.Unlock()
		if clean {
			c.closeSession()
		}
	}()
	c.touch()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); c.readLoop(connCtx, cancel) }()
	go func() { defer wg.Done(); c.scorePushLoop(connCtx) }()
	go func() { defer wg.Done(); c.leaderboardPushLoop(connCtx) }()
	wg.Wait()
}

// readFrame reads one raw text frame and sniffs its type, returning the
// raw bytes so the caller can decode a second time into the concrete
// struct. This is the two-pass pattern wire.Envelope exists for.
func (c *client) readFrame() (wire.Envelope, []byte, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return wire.Envelope{}, nil, err
	}
	var env wire.Envelope
	if err := wire.JSON.Unmarshal(data, &env); err != nil {
		return wire.Envelope{}, nil, fmt.Errorf("edge: decode envelope: %w", err)
	}
	return env, data, nil
}

func (c *client) handshake(ctx context.Context) error {
	env, data, err := c.readFrame()
	if err != nil {
		return fmt.Errorf("edge: read init frame: %w", err)
	}
	if env.Type != wire.TypeInit {
		return fmt.Errorf("edge: first frame must be %q, got %q", wire.TypeInit, env.Type)
	}

	var init wire.InitMessage
	if err := wire.JSON.Unmarshal(data, &init); err != nil {
		return fmt.Errorf("edge: decode init frame: %w", err)
	}
	if len(init.ProposedName) == 0 || len(init.ProposedName) > 20 {
		return fmt.Errorf("edge: username must be 1-20 characters")
	}

	reqCtx, cancel := c.hub.requestContext(ctx)
	defer cancel()

	var resolved wire.ResolveUserResponse
	if err := rpc.Request(reqCtx, c.hub.rpcConn(), wire.SubjectResolveUser, wire.ResolveUserRequest{
		ExternalChatID: init.ExternalChatID,
		ProposedName:   init.ProposedName,
	}, &resolved); err != nil {
		return fmt.Errorf("edge: resolve user: %w", err)
	}
	c.userID = resolved.UserID
	c.username = resolved.CanonicalUsername

	shardID := shard.Of(c.userID, c.hub.cfg.NShards)

	var session wire.OpenSessionResponse
	if err := rpc.Request(reqCtx, c.hub.rpcConn(), fmt.Sprintf(wire.SubjectOpenSession, shardID), wire.OpenSessionRequest{
		UserID: c.userID,
		ChatID: init.ExternalChatID,
	}, &session); err != nil {
		return fmt.Errorf("edge: open session: %w", err)
	}
	c.sessionID = session.SessionID

	if err := c.writeJSON(wire.SessionInfoMessage{
		Type:           wire.TypeSessionInfo,
		SessionID:      session.SessionID,
		IsReconnection: session.IsReconnection,
		StartedAt:      session.StartedAt.Unix(),
	}); err != nil {
		return err
	}

	total, _ := c.hub.cache.Total(ctx, c.userID)
	rank, _ := c.hub.cache.Rank(ctx, c.userID)
	c.lastScore, c.lastRank = total, rank
	uid := c.userID
	uname := c.username
	return c.writeJSON(wire.ScoreUpdateMessage{
		Type:     wire.TypeScoreUpdate,
		Score:    total,
		Rank:     rank,
		UserID:   &uid,
		Username: &uname,
	})
}

// readLoop decodes incoming frames and dispatches them by type until the
// connection ends.
func (c *client) readLoop(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()
	for {
		env, data, err := c.readFrame()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.mu.Lock()
				c.cleanClose = true
				c.mu.Unlock()
			}
			return
		}
		c.touch()

		switch env.Type {
		case wire.TypeHeartbeat:
			c.heartbeat(ctx)
		case wire.TypeClick:
			c.handleClick(data)
		default:
			_ = c.writeJSON(wire.ErrorMessage{Type: wire.TypeError, Message: "unknown frame type"})
		}
	}
}

func (c *client) handleClick(data []byte) {
	var msg wire.ClickMessage
	if err := wire.JSON.Unmarshal(data, &msg); err != nil {
		_ = c.writeJSON(wire.ErrorMessage{Type: wire.TypeError, Message: "malformed click frame"})
		return
	}

	if msg.SessionID != c.sessionID || msg.UserID != c.userID {
		_ = c.writeJSON(wire.ErrorMessage{Type: wire.TypeError, Message: "session does not own this user"})
		return
	}
	if msg.ClickCount < 1 || msg.ClickCount > c.hub.maxBatch() {
		_ = c.writeJSON(wire.ErrorMessage{Type: wire.TypeError, Message: "click_count out of range"})
		return
	}

	if !c.hub.limiter.Allow(c.sessionID.String(), time.Now()) {
		_ = c.writeJSON(wire.RateLimitedMessage{Type: wire.TypeRateLimited, Message: "batch arrived before window elapsed"})
		return
	}

	shardID := shard.Of(c.userID, c.hub.cfg.NShards)
	conn := c.hub.rpcConn()
	if err := rpc.Publish(conn, fmt.Sprintf(wire.SubjectSubmitClickBatch, shardID), wire.SubmitClickBatchRequest{
		UserID:     c.userID,
		SessionID:  c.sessionID,
		ClickCount: msg.ClickCount,
	}); err != nil {
		c.hub.log.Warn().Err(err).Msg("failed to forward click batch")
		return
	}

	c.mu.Lock()
	c.optimistic += uint64(msg.ClickCount)
	c.mu.Unlock()
}

func (c *client) heartbeat(ctx context.Context) {
	reqCtx, cancel := c.hub.requestContext(ctx)
	defer cancel()
	var resp wire.HeartbeatSessionResponse
	shardID := shard.Of(c.userID, c.hub.cfg.NShards)
	if err := rpc.Request(reqCtx, c.hub.rpcConn(), fmt.Sprintf(wire.SubjectHeartbeatSession, shardID), wire.HeartbeatSessionRequest{
		SessionID: c.sessionID,
	}, &resp); err != nil {
		c.hub.log.Warn().Err(err).Msg("heartbeat failed")
	}
}

// scorePushLoop emits score_update at most every ScorePush, phase-jittered
// so many connections do not all wake in lockstep, suppressing duplicate
// pushes when neither score nor rank has changed.
func (c *client) scorePushLoop(ctx context.Context) {
	c.jitterSleep(ctx, c.hub.cfg.ScorePush)
	ticker := time.NewTicker(c.hub.cfg.ScorePush)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.idleTooLong() {
				_ = c.conn.Close()
				return
			}
			total, err := c.hub.cache.Total(ctx, c.userID)
			if err != nil {
				continue
			}
			rank, err := c.hub.cache.Rank(ctx, c.userID)
			if err != nil {
				continue
			}
			if total == c.lastScore && rank == c.lastRank {
				continue
			}
			c.lastScore, c.lastRank = total, rank
			_ = c.writeJSON(wire.ScoreUpdateMessage{Type: wire.TypeScoreUpdate, Score: total, Rank: rank})
		}
	}
}

// leaderboardPushLoop emits the full top-20 snapshot every LeaderboardPush.
// The payload is small enough that sending the whole window is simpler
// than diffing it client-side.
func (c *client) leaderboardPushLoop(ctx context.Context) {
	c.jitterSleep(ctx, c.hub.cfg.LeaderboardPush)
	ticker := time.NewTicker(c.hub.cfg.LeaderboardPush)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			entries, version, err := c.hub.cache.TopK(ctx)
			if err != nil {
				continue
			}
			c.lastTopKV = version
			_ = c.writeJSON(wire.LeaderboardUpdateMessage{Type: wire.TypeLeaderboardUpdate, Entries: entries})
		}
	}
}

func (c *client) jitterSleep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	offset := time.Duration(rand.Int63n(int64(interval)))
	select {
	case <-ctx.Done():
	case <-time.After(offset):
	}
}

func (c *client) touch() {
	c.mu.Lock()
	c.lastFrame = time.Now()
	c.mu.Unlock()
}

func (c *client) idleTooLong() bool {
	c.mu.Lock()
	last := c.lastFrame
	c.mu.Unlock()

	mult := c.hub.cfg.IdleMultiple
	if mult <= 0 {
		mult = 2
	}
	return time.Since(last) > time.Duration(mult)*c.hub.cfg.ScorePush
}

func (c *client) writeJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	data, err := wire.JSON.Marshal(v)
	if err != nil {
		return fmt.Errorf("edge: encode frame: %w", err)
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *client) closeSession() {
	if c.sessionID == uuid.Nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.hub.rpcDeadline())
	defer cancel()
	shardID := shard.Of(c.userID, c.hub.cfg.NShards)
	var resp wire.CloseSessionResponse
	if err := rpc.Request(ctx, c.hub.rpcConn(), fmt.Sprintf(wire.SubjectCloseSession, shardID), wire.CloseSessionRequest{
		SessionID: c.sessionID,
		Reason:    "client_close",
	}, &resp); err != nil {
		c.hub.log.Warn().Err(err).Msg("failed to close session on disconnect")
	}
	c.hub.limiter.Forget(c.sessionID.String())
}
