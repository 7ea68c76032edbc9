package wire

import "github.com/google/uuid"

// Client -> Edge message types, tagged by "type" on the JSON envelope.
const (
	TypeInit      = "init"
	TypeClick     = "click"
	TypeHeartbeat = "heartbeat"
)

// Edge -> client message types.
const (
	TypeSessionInfo       = "session_info"
	TypeScoreUpdate       = "score_update"
	TypeLeaderboardUpdate = "leaderboard_update"
	TypeError             = "error"
	TypeRateLimited       = "rate_limited"
)

// Envelope is used to sniff the Type of a websocket frame before the
// caller re-decodes the same bytes into the concrete message struct.
type Envelope struct {
	Type string `json:"type"`
}

// InitMessage is the required first client frame.
type InitMessage struct {
	Type           string `json:"type"`
	ExternalChatID int64  `json:"external_chat_id"`
	ProposedName   string `json:"username"`
}

// ClickMessage is a client-submitted click batch.
type ClickMessage struct {
	Type       string    `json:"type"`
	UserID     uuid.UUID `json:"user_id"`
	SessionID  uuid.UUID `json:"session_id"`
	ClickCount int       `json:"click_count"`
}

// SessionInfoMessage acknowledges session open/resume.
type SessionInfoMessage struct {
	Type           string    `json:"type"`
	SessionID      uuid.UUID `json:"session_id"`
	IsReconnection bool      `json:"is_reconnection"`
	StartedAt      int64     `json:"started_at"`
}

// ScoreUpdateMessage reports a user's live total and rank.
type ScoreUpdateMessage struct {
	Type     string     `json:"type"`
	Score    uint64     `json:"score"`
	Rank     uint32     `json:"rank"`
	UserID   *uuid.UUID `json:"user_id,omitempty"`
	Username *string    `json:"username,omitempty"`
}

// LeaderboardEntry is one row of a published leaderboard snapshot.
type LeaderboardEntry struct {
	Rank        uint32 `json:"rank"`
	Username    string `json:"username"`
	TotalClicks uint64 `json:"total_clicks"`
}

// LeaderboardUpdateMessage is the full top-K push (no diffing).
type LeaderboardUpdateMessage struct {
	Type    string             `json:"type"`
	Entries []LeaderboardEntry `json:"entries"`
}

// ErrorMessage reports a client protocol or backend error; the
// connection stays open.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// RateLimitedMessage reports a rejected frame due to rate policy.
type RateLimitedMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
