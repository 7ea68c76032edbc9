// Package aggregator wires internal/shard, internal/session, and
// internal/store behind the RPC subjects internal/rpc dispatches to.
package aggregator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clickrank/clickrank/internal/hotcache"
	"github.com/clickrank/clickrank/internal/rpc"
	"github.com/clickrank/clickrank/internal/session"
	"github.com/clickrank/clickrank/internal/shard"
	"github.com/clickrank/clickrank/internal/store"
	"github.com/clickrank/clickrank/internal/wire"
)

// sweepPeriod is how often the session sweeper scans for idle sessions.
const sweepPeriod = 30 * time.Second

// Service owns one Shard per configured partition plus the session
// manager, and registers handlers for every Aggregator RPC subject. It is
// this instance's slice of the full shard space: in a multi-instance
// deployment, each instance is handed a disjoint subset of shard ids and
// only asserts ownership of those.
type Service struct {
	shards  map[int]*shard.Shard
	store   *store.Store
	cache   *hotcache.Cache
	session *session.Manager
	log     zerolog.Logger

	nShards int
}

// New builds a Service owning shardIDs out of a total of nShards, each
// backed by its own Shard flushing at flushInterval.
func New(st *store.Store, cache *hotcache.Cache, sess *session.Manager, log zerolog.Logger, nShards int, shardIDs []int, flushInterval time.Duration) *Service {
	shards := make(map[int]*shard.Shard, len(shardIDs))
	for _, id := range shardIDs {
		shards[id] = shard.New(id, st, cache, log, flushInterval)
	}
	return &Service{
		shards:  shards,
		store:   st,
		cache:   cache,
		session: sess,
		log:     log.With().Str("component", "aggregator").Logger(),
		nShards: nShards,
	}
}

// Run starts every owned shard's writer goroutine and the session
// sweeper, until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	for _, sh := range s.shards {
		go sh.Run(ctx)
	}
	go s.session.RunSweeper(ctx, sweepPeriod)
}

// ownerOf returns the local Shard for userID, or nil if this instance does
// not own it.
func (s *Service) ownerOf(userID uuid.UUID) *shard.Shard {
	id := shard.Of(userID, s.nShards)
	return s.shards[id]
}

// RegisterGlobal wires the non-sharded ResolveUser handler onto srv. It is
// called once per process regardless of how many shards that process
// owns, since ResolveUser has no shard to route on.
func (s *Service) RegisterGlobal(srv *rpc.Server) error {
	return srv.Handle(wire.SubjectResolveUser, s.handleResolveUser)
}

// Register wires every per-shard Aggregator RPC handler onto srv for the
// given local shard id, matching the subject templates in
// internal/wire/rpc.go.
func (s *Service) Register(srv *rpc.Server, shardID int) error {
	sh, ok := s.shards[shardID]
	if !ok {
		return fmt.Errorf("aggregator: shard %d not owned by this instance", shardID)
	}

	if err := srv.Handle(subject(wire.SubjectSubmitClickBatch, shardID), s.handlerForSubmitClickBatch(sh)); err != nil {
		return err
	}
	if err := srv.Handle(subject(wire.SubjectChangeUsername, shardID), s.handleChangeUsername); err != nil {
		return err
	}
	if err := srv.Handle(subject(wire.SubjectGetUserState, shardID), s.handlerForGetUserState(sh)); err != nil {
		return err
	}
	if err := srv.Handle(subject(wire.SubjectOpenSession, shardID), s.handleOpenSession); err != nil {
		return err
	}
	if err := srv.Handle(subject(wire.SubjectHeartbeatSession, shardID), s.handleHeartbeatSession); err != nil {
		return err
	}
	if err := srv.Handle(subject(wire.SubjectCloseSession, shardID), s.handleCloseSession); err != nil {
		return err
	}
	return nil
}

func subject(template string, shardID int) string {
	return fmt.Sprintf(template, shardID)
}

func (s *Service) handleResolveUser(data []byte) (interface{}, error) {
	var req wire.ResolveUserRequest
	if err := wire.DecodeRPC(data, &req); err != nil {
		return nil, fmt.Errorf("decode resolve_user: %w", err)
	}
	u, err := s.store.ResolveUser(req.ExternalChatID, req.ProposedName)
	if err != nil {
		return nil, err
	}
	ctx := context.Background()
	if err := s.cache.SetMeta(ctx, u.ID, u.Username); err != nil {
		s.log.Warn().Err(err).Msg("failed to cache resolved user meta")
	}
	return wire.ResolveUserResponse{
		UserID:            u.ID,
		CanonicalUsername: u.Username,
		Total:             u.TotalClicks,
	}, nil
}

func (s *Service) handlerForSubmitClickBatch(sh *shard.Shard) rpc.Handler {
	return func(data []byte) (interface{}, error) {
		var req wire.SubmitClickBatchRequest
		if err := wire.DecodeRPC(data, &req); err != nil {
			return nil, fmt.Errorf("decode submit_click_batch: %w", err)
		}
		if !sh.Submit(shard.ClickBatch{
			UserID:     req.UserID,
			SessionID:  req.SessionID,
			ClickCount: req.ClickCount,
		}) {
			return nil, fmt.Errorf("aggregator: shard degraded or saturated, batch dropped")
		}
		return nil, nil
	}
}

func (s *Service) handleChangeUsername(data []byte) (interface{}, error) {
	var req wire.ChangeUsernameRequest
	if err := wire.DecodeRPC(data, &req); err != nil {
		return nil, fmt.Errorf("decode change_username: %w", err)
	}
	if err := s.store.ChangeUsername(req.UserID, req.NewName); err != nil {
		return nil, err
	}
	ctx := context.Background()
	if err := s.cache.SetMeta(ctx, req.UserID, req.NewName); err != nil {
		s.log.Warn().Err(err).Msg("failed to cache renamed user meta")
	}
	return wire.ChangeUsernameResponse{OK: true}, nil
}

func (s *Service) handlerForGetUserState(sh *shard.Shard) rpc.Handler {
	return func(data []byte) (interface{}, error) {
		var req wire.GetUserStateRequest
		if err := wire.DecodeRPC(data, &req); err != nil {
			return nil, fmt.Errorf("decode get_user_state: %w", err)
		}
		u, err := s.store.GetUser(req.UserID)
		if err != nil {
			return nil, err
		}
		return wire.GetUserStateResponse{
			UserID:   u.ID,
			Username: u.Username,
			Total:    sh.AuthoritativeTotal(u.ID, u.TotalClicks),
		}, nil
	}
}

func (s *Service) handleOpenSession(data []byte) (interface{}, error) {
	var req wire.OpenSessionRequest
	if err := wire.DecodeRPC(data, &req); err != nil {
		return nil, fmt.Errorf("decode open_session: %w", err)
	}
	res, err := s.session.OpenOrResume(req.UserID, req.ChatID)
	if err != nil {
		return nil, err
	}
	return wire.OpenSessionResponse{
		SessionID:      res.SessionID,
		IsReconnection: res.IsReconnection,
		StartedAt:      res.StartedAt,
	}, nil
}

func (s *Service) handleHeartbeatSession(data []byte) (interface{}, error) {
	var req wire.HeartbeatSessionRequest
	if err := wire.DecodeRPC(data, &req); err != nil {
		return nil, fmt.Errorf("decode heartbeat_session: %w", err)
	}
	if err := s.session.Heartbeat(req.SessionID); err != nil {
		return nil, err
	}
	return wire.HeartbeatSessionResponse{OK: true}, nil
}

func (s *Service) handleCloseSession(data []byte) (interface{}, error) {
	var req wire.CloseSessionRequest
	if err := wire.DecodeRPC(data, &req); err != nil {
		return nil, fmt.Errorf("decode close_session: %w", err)
	}
	if err := s.session.Close(req.SessionID, req.Reason); err != nil {
		return nil, err
	}
	return wire.CloseSessionResponse{OK: true}, nil
}
