package aggregator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/clickrank/clickrank/internal/hotcache"
	"github.com/clickrank/clickrank/internal/rpc"
	"github.com/clickrank/clickrank/internal/session"
	"github.com/clickrank/clickrank/internal/store"
	"github.com/clickrank/clickrank/internal/wire"
)

func startTestService(t *testing.T) (*rpc.Client, *store.Store) {
	t.Helper()

	st, err := store.OpenSQLite("file::memory:?cache=shared", zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, st.Migrate())

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	cache := hotcache.New(&redis.Options{Addr: mr.Addr()}, "test")

	sess := session.New(st, zerolog.Nop(), 60*time.Second, 90*time.Second)

	opts := &natsserver.Options{Host: "127.0.0.1", Port: -1}
	nsrv, err := natsserver.NewServer(opts)
	require.NoError(t, err)
	go nsrv.Start()
	require.True(t, nsrv.ReadyForConnections(2*time.Second))
	t.Cleanup(nsrv.Shutdown)
	addr := fmt.Sprintf("nats://%s", nsrv.Addr().String())

	serverConn, err := rpc.Dial(addr, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(serverConn.Close)

	svc := New(st, cache, sess, zerolog.Nop(), 1, []int{0}, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	svc.Run(ctx)

	srv := rpc.NewServer(serverConn.Conn(), zerolog.Nop())
	require.NoError(t, svc.RegisterGlobal(srv))
	require.NoError(t, svc.Register(srv, 0))

	clientConn, err := rpc.Dial(addr, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(clientConn.Close)

	return clientConn, st
}

func TestHandleResolveUser_CreatesThenReturnsSameUser(t *testing.T) {
	client, _ := startTestService(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var resp1 wire.ResolveUserResponse
	require.NoError(t, rpc.Request(ctx, client, wire.SubjectResolveUser,
		wire.ResolveUserRequest{ExternalChatID: 1, ProposedName: "alice"}, &resp1))

	var resp2 wire.ResolveUserResponse
	require.NoError(t, rpc.Request(ctx, client, wire.SubjectResolveUser,
		wire.ResolveUserRequest{ExternalChatID: 1, ProposedName: "someone-else"}, &resp2))

	require.Equal(t, resp1.UserID, resp2.UserID)
	require.Equal(t, "alice", resp2.CanonicalUsername)
}

func TestHandleOpenSessionAndSubmitClickBatch_UpdatesUserState(t *testing.T) {
	client, _ := startTestService(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var resolved wire.ResolveUserResponse
	require.NoError(t, rpc.Request(ctx, client, wire.SubjectResolveUser,
		wire.ResolveUserRequest{ExternalChatID: 2, ProposedName: "bob"}, &resolved))

	var session wire.OpenSessionResponse
	require.NoError(t, rpc.Request(ctx, client, fmt.Sprintf(wire.SubjectOpenSession, 0),
		wire.OpenSessionRequest{UserID: resolved.UserID, ChatID: 2}, &session))
	require.False(t, session.IsReconnection)

	require.NoError(t, rpc.Publish(client, fmt.Sprintf(wire.SubjectSubmitClickBatch, 0),
		wire.SubmitClickBatchRequest{UserID: resolved.UserID, SessionID: session.SessionID, ClickCount: 5}))

	require.Eventually(t, func() bool {
		var state wire.GetUserStateResponse
		err := rpc.Request(ctx, client, fmt.Sprintf(wire.SubjectGetUserState, 0),
			wire.GetUserStateRequest{UserID: resolved.UserID}, &state)
		return err == nil && state.Total == 5
	}, time.Second, 10*time.Millisecond)
}

func TestHandleChangeUsername_EnforcesLengthLimit(t *testing.T) {
	client, _ := startTestService(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var resolved wire.ResolveUserResponse
	require.NoError(t, rpc.Request(ctx, client, wire.SubjectResolveUser,
		wire.ResolveUserRequest{ExternalChatID: 3, ProposedName: "carl"}, &resolved))

	var resp wire.ChangeUsernameResponse
	err := rpc.Request(ctx, client, fmt.Sprintf(wire.SubjectChangeUsername, 0),
		wire.ChangeUsernameRequest{UserID: resolved.UserID, NewName: ""}, &resp)
	require.Error(t, err)

	err = rpc.Request(ctx, client, fmt.Sprintf(wire.SubjectChangeUsername, 0),
		wire.ChangeUsernameRequest{UserID: resolved.UserID, NewName: "newname"}, &resp)
	require.NoError(t, err)
	require.True(t, resp.OK)
}
