// Package rpc implements the NATS-based transport between Edge, Aggregator,
// and Ranker: sharded request-reply to the Aggregator, unsharded
// request-reply to the Ranker, and fire-and-forget publish for click
// batches.
package rpc

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/clickrank/clickrank/internal/wire"
)

// Client wraps a single *nats.Conn with encode/decode helpers matching
// internal/wire's msgpack RPC envelopes. Edge and Aggregator each hold one
// or more; nats.go already multiplexes requests over one TCP connection,
// which is why Edge's connection pool exists only to spread load across
// several sockets, not to work around a lack of multiplexing.
type Client struct {
	conn *nats.Conn
	log  zerolog.Logger
}

// Dial connects to addr and names the connection for server-side
// visibility into which process opened it.
func Dial(addr string, log zerolog.Logger) (*Client, error) {
	conn, err := nats.Connect(addr, nats.Name("clickrank"))
	if err != nil {
		return nil, fmt.Errorf("rpc: dial: %w", err)
	}
	return &Client{conn: conn, log: log.With().Str("component", "rpc_client").Logger()}, nil
}

// Close drains and closes the underlying connection.
func (c *Client) Close() {
	_ = c.conn.Drain()
}

// Request performs a synchronous request-reply: req is msgpack-encoded,
// sent to subject, and resp is decoded from the reply payload. The
// caller's deadline is applied only as the NATS request timeout: req is
// sent as given and Request does not fill in its wire.RequestHeader, so
// the handler learns neither the deadline nor a request id.
func Request(ctx context.Context, c *Client, subject string, req interface{}, resp interface{}) error {
	payload, err := wire.EncodeRPC(req)
	if err != nil {
		return fmt.Errorf("rpc: encode request: %w", err)
	}

	msg, err := c.conn.RequestWithContext(ctx, subject, payload)
	if err != nil {
		return fmt.Errorf("rpc: request %s: %w", subject, err)
	}

	var rpcErr wire.RPCError
	if err := wire.DecodeRPC(msg.Data, &rpcErr); err == nil && rpcErr.Message != "" {
		return &rpcErr
	}

	if err := wire.DecodeRPC(msg.Data, resp); err != nil {
		return fmt.Errorf("rpc: decode response from %s: %w", subject, err)
	}
	return nil
}

// Publish fire-and-forgets req to subject with no reply expected, used for
// SubmitClickBatch: the shard applies the delta asynchronously and never
// replies, so the Edge connection handling the click never blocks on it.
func Publish(c *Client, subject string, req interface{}) error {
	payload, err := wire.EncodeRPC(req)
	if err != nil {
		return fmt.Errorf("rpc: encode publish: %w", err)
	}
	if err := c.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("rpc: publish %s: %w", subject, err)
	}
	return nil
}

// Conn exposes the underlying *nats.Conn for server-side subscription setup.
func (c *Client) Conn() *nats.Conn { return c.conn }
