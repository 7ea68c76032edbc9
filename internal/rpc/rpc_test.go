package rpc

import (
	"context"
	"fmt"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/clickrank/clickrank/internal/wire"
)

func startTestServer(t *testing.T) string {
	t.Helper()
	opts := &natsserver.Options{Host: "127.0.0.1", Port: -1}
	srv, err := natsserver.NewServer(opts)
	require.NoError(t, err)
	go srv.Start()
	require.True(t, srv.ReadyForConnections(2*time.Second))
	t.Cleanup(srv.Shutdown)
	return fmt.Sprintf("nats://%s", srv.Addr().String())
}

type echoReq struct {
	Value int `msgpack:"value"`
}

type echoResp struct {
	Value int `msgpack:"value"`
}

func TestRequest_RoundTripsThroughServer(t *testing.T) {
	addr := startTestServer(t)

	serverConn, err := Dial(addr, zerolog.Nop())
	require.NoError(t, err)
	defer serverConn.Close()

	srv := NewServer(serverConn.Conn(), zerolog.Nop())
	require.NoError(t, srv.Handle("test.echo", func(data []byte) (interface{}, error) {
		var req echoReq
		require.NoError(t, wire.DecodeRPC(data, &req))
		return echoResp{Value: req.Value * 2}, nil
	}))

	clientConn, err := Dial(addr, zerolog.Nop())
	require.NoError(t, err)
	defer clientConn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var resp echoResp
	require.NoError(t, Request(ctx, clientConn, "test.echo", echoReq{Value: 21}, &resp))
	require.Equal(t, 42, resp.Value)
}

func TestRequest_PropagatesHandlerError(t *testing.T) {
	addr := startTestServer(t)

	serverConn, err := Dial(addr, zerolog.Nop())
	require.NoError(t, err)
	defer serverConn.Close()

	srv := NewServer(serverConn.Conn(), zerolog.Nop())
	require.NoError(t, srv.Handle("test.fail", func(data []byte) (interface{}, error) {
		return nil, fmt.Errorf("boom")
	}))

	clientConn, err := Dial(addr, zerolog.Nop())
	require.NoError(t, err)
	defer clientConn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var resp echoResp
	err = Request(ctx, clientConn, "test.fail", echoReq{Value: 1}, &resp)
	require.Error(t, err)
	require.Contains(t, err.Error(), "boom")
}

func TestPublish_FireAndForgetDoesNotBlock(t *testing.T) {
	addr := startTestServer(t)

	serverConn, err := Dial(addr, zerolog.Nop())
	require.NoError(t, err)
	defer serverConn.Close()

	received := make(chan int, 1)
	srv := NewServer(serverConn.Conn(), zerolog.Nop())
	require.NoError(t, srv.Handle("test.publish", func(data []byte) (interface{}, error) {
		var req echoReq
		require.NoError(t, wire.DecodeRPC(data, &req))
		received <- req.Value
		return nil, nil
	}))

	clientConn, err := Dial(addr, zerolog.Nop())
	require.NoError(t, err)
	defer clientConn.Close()

	require.NoError(t, Publish(clientConn, "test.publish", echoReq{Value: 7}))

	select {
	case v := <-received:
		require.Equal(t, 7, v)
	case <-time.After(2 * time.Second):
		t.Fatal("publish was never received")
	}
}
