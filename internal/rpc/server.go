package rpc

import (
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/clickrank/clickrank/internal/wire"
)

// Handler decodes req from raw msgpack bytes and returns a response value
// to be encoded back to the caller, or an error to be encoded as an
// wire.RPCError. Handlers never see *nats.Msg directly so they stay
// testable without a running NATS server.
type Handler func(data []byte) (interface{}, error)

// Server registers Handlers against subjects on a shared *nats.Conn, so a
// single process can expose many RPC subjects over one connection.
type Server struct {
	conn *nats.Conn
	log  zerolog.Logger
	subs []*nats.Subscription
}

// NewServer wraps conn for subject registration.
func NewServer(conn *nats.Conn, log zerolog.Logger) *Server {
	return &Server{conn: conn, log: log.With().Str("component", "rpc_server").Logger()}
}

// Handle registers a request-reply handler on subject.
func (s *Server) Handle(subject string, h Handler) error {
	sub, err := s.conn.Subscribe(subject, func(msg *nats.Msg) {
		resp, err := h(msg.Data)
		if msg.Reply == "" {
			// fire-and-forget call (e.g. SubmitClickBatch): log failures,
			// nothing to reply to.
			if err != nil {
				s.log.Error().Err(err).Str("subject", subject).Msg("handler failed")
			}
			return
		}

		if err != nil {
			payload, encErr := wire.EncodeRPC(&wire.RPCError{Message: err.Error()})
			if encErr != nil {
				s.log.Error().Err(encErr).Msg("failed to encode rpc error")
				return
			}
			if pubErr := msg.Respond(payload); pubErr != nil {
				s.log.Error().Err(pubErr).Str("subject", subject).Msg("failed to send rpc error reply")
			}
			return
		}

		payload, encErr := wire.EncodeRPC(resp)
		if encErr != nil {
			s.log.Error().Err(encErr).Str("subject", subject).Msg("failed to encode rpc response")
			return
		}
		if pubErr := msg.Respond(payload); pubErr != nil {
			s.log.Error().Err(pubErr).Str("subject", subject).Msg("failed to send rpc reply")
		}
	})
	if err != nil {
		return fmt.Errorf("rpc: subscribe %s: %w", subject, err)
	}
	s.subs = append(s.subs, sub)
	return nil
}

// Shutdown unsubscribes every registered handler.
func (s *Server) Shutdown() error {
	for _, sub := range s.subs {
		if err := sub.Unsubscribe(); err != nil {
			return fmt.Errorf("rpc: unsubscribe: %w", err)
		}
	}
	return nil
}
