package wire

import (
	"time"

	"github.com/google/uuid"
)

// Aggregator RPC subjects, rooted per shard so Edge can route directly to
// the shard owning a user without the Aggregator re-dispatching internally.
const (
	SubjectSubmitClickBatch = "clickrank.aggregator.%d.submit_click_batch"
	SubjectChangeUsername   = "clickrank.aggregator.%d.change_username"
	SubjectGetUserState     = "clickrank.aggregator.%d.get_user_state"
	SubjectOpenSession      = "clickrank.aggregator.%d.open_session"
	SubjectHeartbeatSession = "clickrank.aggregator.%d.heartbeat_session"
	SubjectCloseSession     = "clickrank.aggregator.%d.close_session"
)

// SubjectResolveUser is not sharded: a user has no id (and hence no shard)
// until resolution assigns one. Any Aggregator instance may serve it,
// since ResolveUser is idempotent against the shared Store regardless of
// which instance's handler runs it.
const SubjectResolveUser = "clickrank.aggregator.resolve_user"

// Ranker RPC subjects; the ranker is not sharded.
const (
	SubjectGetRank = "clickrank.ranker.get_rank"
	SubjectGetTopK = "clickrank.ranker.get_topk"
)

// RequestHeader is embedded in every RPC request and has fields for a
// request id and a deadline. No caller in this module sets them, so they
// are sent as zero values.
type RequestHeader struct {
	RequestID uuid.UUID     `msgpack:"request_id"`
	Deadline  time.Duration `msgpack:"deadline"`
}

// ResolveUserRequest resolves or creates a user from chat-platform identity.
type ResolveUserRequest struct {
	RequestHeader
	ExternalChatID int64  `msgpack:"external_chat_id"`
	ProposedName   string `msgpack:"proposed_name"`
}

// ResolveUserResponse returns the canonical identity for a chat id.
type ResolveUserResponse struct {
	UserID            uuid.UUID `msgpack:"user_id"`
	CanonicalUsername string    `msgpack:"canonical_username"`
	Total             uint64    `msgpack:"total"`
}

// SubmitClickBatchRequest is fire-and-forget: the shard applies the delta
// and does not reply.
type SubmitClickBatchRequest struct {
	RequestHeader
	UserID     uuid.UUID `msgpack:"user_id"`
	SessionID  uuid.UUID `msgpack:"session_id"`
	ClickCount int       `msgpack:"click_count"`
}

// ChangeUsernameRequest renames a user; serialized on the owning shard.
type ChangeUsernameRequest struct {
	RequestHeader
	UserID  uuid.UUID `msgpack:"user_id"`
	NewName string    `msgpack:"new_name"`
}

// ChangeUsernameResponse acknowledges a rename.
type ChangeUsernameResponse struct {
	OK bool `msgpack:"ok"`
}

// GetUserStateRequest asks the owning shard for the authoritative total.
type GetUserStateRequest struct {
	RequestHeader
	UserID uuid.UUID `msgpack:"user_id"`
}

// GetUserStateResponse is the authoritative store_total + pending_delta.
type GetUserStateResponse struct {
	UserID   uuid.UUID `msgpack:"user_id"`
	Username string    `msgpack:"username"`
	Total    uint64    `msgpack:"total"`
}

// OpenSessionRequest opens or resumes a session for a user.
type OpenSessionRequest struct {
	RequestHeader
	UserID uuid.UUID `msgpack:"user_id"`
	ChatID int64     `msgpack:"chat_id"`
}

// OpenSessionResponse reports whether the session was resumed.
type OpenSessionResponse struct {
	SessionID      uuid.UUID `msgpack:"session_id"`
	IsReconnection bool      `msgpack:"is_reconnection"`
	StartedAt      time.Time `msgpack:"started_at"`
}

// HeartbeatSessionRequest refreshes a session's liveness.
type HeartbeatSessionRequest struct {
	RequestHeader
	SessionID uuid.UUID `msgpack:"session_id"`
}

// HeartbeatSessionResponse acknowledges a heartbeat.
type HeartbeatSessionResponse struct {
	OK bool `msgpack:"ok"`
}

// CloseSessionRequest ends a session.
type CloseSessionRequest struct {
	RequestHeader
	SessionID uuid.UUID `msgpack:"session_id"`
	Reason    string    `msgpack:"reason"`
}

// CloseSessionResponse acknowledges a close.
type CloseSessionResponse struct {
	OK bool `msgpack:"ok"`
}

// GetRankRequest asks the Ranker for a user's current rank and total.
type GetRankRequest struct {
	RequestHeader
	UserID uuid.UUID `msgpack:"user_id"`
}

// GetRankResponse reports rank (0 = unranked, beyond the published window).
type GetRankResponse struct {
	Rank  uint32 `msgpack:"rank"`
	Total uint64 `msgpack:"total"`
}

// GetTopKRequest asks for the top N ranked users, N<=1000.
type GetTopKRequest struct {
	RequestHeader
	Limit int `msgpack:"limit"`
}

// GetTopKResponse is an ordered list of leaderboard entries.
type GetTopKResponse struct {
	Entries []LeaderboardEntry `msgpack:"entries"`
	Version uint64             `msgpack:"version"`
}

// RPCError is a msgpack-encodable error returned in place of a response
// payload when a handler fails.
type RPCError struct {
	Message string `msgpack:"message"`
}

func (e *RPCError) Error() string { return e.Message }
