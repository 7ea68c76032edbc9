package edge

import (
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/clickrank/clickrank/internal/hotcache"
	"github.com/clickrank/clickrank/internal/rpc"
	"github.com/clickrank/clickrank/internal/wire"
)

func TestRateLimiter_RejectsSecondBatchWithinWindow(t *testing.T) {
	rl := NewRateLimiter(500 * time.Millisecond)
	now := time.Now()
	require.True(t, rl.Allow("sess-1", now))
	require.False(t, rl.Allow("sess-1", now.Add(100*time.Millisecond)))
	require.True(t, rl.Allow("sess-1", now.Add(600*time.Millisecond)))
}

func TestRateLimiter_ForgetResetsState(t *testing.T) {
	rl := NewRateLimiter(500 * time.Millisecond)
	now := time.Now()
	require.True(t, rl.Allow("sess-1", now))
	rl.Forget("sess-1")
	require.True(t, rl.Allow("sess-1", now.Add(time.Millisecond)))
}

// stubAggregator answers just enough Aggregator RPC subjects for a single
// Edge connection to complete its handshake and forward one click batch.
type stubAggregator struct {
	userID    uuid.UUID
	sessionID uuid.UUID
	received  chan wire.SubmitClickBatchRequest
}

func startStubAggregator(t *testing.T, addr string, shardID int) *stubAggregator {
	t.Helper()
	conn, err := rpc.Dial(addr, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	s := &stubAggregator{
		userID:    uuid.New(),
		sessionID: uuid.New(),
		received:  make(chan wire.SubmitClickBatchRequest, 8),
	}

	srv := rpc.NewServer(conn.Conn(), zerolog.Nop())
	require.NoError(t, srv.Handle(wire.SubjectResolveUser, func(data []byte) (interface{}, error) {
		var req wire.ResolveUserRequest
		require.NoError(t, wire.DecodeRPC(data, &req))
		return wire.ResolveUserResponse{UserID: s.userID, CanonicalUsername: req.ProposedName, Total: 0}, nil
	}))
	require.NoError(t, srv.Handle(fmt.Sprintf(wire.SubjectOpenSession, shardID), func(data []byte) (interface{}, error) {
		return wire.OpenSessionResponse{SessionID: s.sessionID, IsReconnection: false, StartedAt: time.Now().UTC()}, nil
	}))
	require.NoError(t, srv.Handle(fmt.Sprintf(wire.SubjectCloseSession, shardID), func(data []byte) (interface{}, error) {
		return wire.CloseSessionResponse{OK: true}, nil
	}))
	require.NoError(t, srv.Handle(fmt.Sprintf(wire.SubjectHeartbeatSession, shardID), func(data []byte) (interface{}, error) {
		return wire.HeartbeatSessionResponse{OK: true}, nil
	}))
	require.NoError(t, srv.Handle(fmt.Sprintf(wire.SubjectSubmitClickBatch, shardID), func(data []byte) (interface{}, error) {
		var req wire.SubmitClickBatchRequest
		require.NoError(t, wire.DecodeRPC(data, &req))
		s.received <- req
		return nil, nil
	}))

	return s
}

func startTestNATS(t *testing.T) string {
	t.Helper()
	opts := &natsserver.Options{Host: "127.0.0.1", Port: -1}
	nsrv, err := natsserver.NewServer(opts)
	require.NoError(t, err)
	go nsrv.Start()
	require.True(t, nsrv.ReadyForConnections(2*time.Second))
	t.Cleanup(nsrv.Shutdown)
	return fmt.Sprintf("nats://%s", nsrv.Addr().String())
}

func TestClientHandshakeAndClickForwarding_EndToEnd(t *testing.T) {
	natsAddr := startTestNATS(t)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	cache := hotcache.New(&redis.Options{Addr: mr.Addr()}, "test")

	stub := startStubAggregator(t, natsAddr, 0)

	hub, err := NewHub(Config{
		NShards:         1,
		ScorePush:       50 * time.Millisecond,
		LeaderboardPush: 200 * time.Millisecond,
		IdleMultiple:    100,
		RPCDeadline:     2 * time.Second,
		MaxBatch:        100,
	}, natsAddr, cache, zerolog.Nop(), 4)
	require.NoError(t, err)
	t.Cleanup(hub.Close)

	server := httptest.NewServer(hub)
	t.Cleanup(server.Close)
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(wire.InitMessage{
		Type:           wire.TypeInit,
		ExternalChatID: 1,
		ProposedName:   "alice",
	}))

	var sessionInfo wire.SessionInfoMessage
	require.NoError(t, conn.ReadJSON(&sessionInfo))
	require.Equal(t, stub.sessionID, sessionInfo.SessionID)
	require.False(t, sessionInfo.IsReconnection)

	var score wire.ScoreUpdateMessage
	require.NoError(t, conn.ReadJSON(&score))
	require.Equal(t, uint64(0), score.Score)

	require.NoError(t, conn.WriteJSON(wire.ClickMessage{
		Type:       wire.TypeClick,
		UserID:     stub.userID,
		SessionID:  stub.sessionID,
		ClickCount: 5,
	}))

	select {
	case req := <-stub.received:
		require.Equal(t, 5, req.ClickCount)
		require.Equal(t, stub.userID, req.UserID)
	case <-time.After(2 * time.Second):
		t.Fatal("click batch was never forwarded to the aggregator")
	}
}
