// Package session implements the per-user session lifecycle: it runs
// inside the Aggregator, since sessions are partitioned by user and hence
// by shard, and decides resume vs replace on reconnect.
package session

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clickrank/clickrank/internal/store"
)

// Manager implements OpenOrResume, Heartbeat, Close and a periodic idle
// sweeper (RunSweeper) against a Store, tracking liveness as a per-row last-heartbeat column
// rather than in-process state, so any Aggregator instance owning the
// shard can serve a session consistently.
type Manager struct {
	store           *store.Store
	log             zerolog.Logger
	reconnectWindow time.Duration
	idleThreshold   time.Duration
}

// New builds a session Manager. reconnectWindow bounds how long after a
// session's start a reconnect may still resume it; idleThreshold bounds
// how long a session may go without a heartbeat before it is considered
// expired.
func New(st *store.Store, log zerolog.Logger, reconnectWindow, idleThreshold time.Duration) *Manager {
	return &Manager{
		store:           st,
		log:             log.With().Str("component", "session_manager").Logger(),
		reconnectWindow: reconnectWindow,
		idleThreshold:   idleThreshold,
	}
}

// Result is what OpenOrResume reports back to the caller.
type Result struct {
	SessionID      uuid.UUID
	IsReconnection bool
	StartedAt      time.Time
}

// OpenOrResume resumes the user's active session if one exists that
// started within the reconnect window and is still heartbeat-fresh;
// otherwise it replaces it transactionally with a new one.
func (m *Manager) OpenOrResume(userID uuid.UUID, chatID int64) (Result, error) {
	now := time.Now().UTC()

	active, err := m.store.ActiveSession(userID)
	if err != nil {
		return Result{}, err
	}
	if active != nil &&
		now.Sub(active.StartedAt) <= m.reconnectWindow &&
		now.Sub(active.LastHeartbeat) <= m.idleThreshold {
		if err := m.store.Heartbeat(active.ID, now); err != nil {
			return Result{}, err
		}
		return Result{SessionID: active.ID, IsReconnection: true, StartedAt: active.StartedAt}, nil
	}

	sess, err := m.store.ReplaceSession(userID, chatID, now)
	if err != nil {
		return Result{}, err
	}
	return Result{SessionID: sess.ID, IsReconnection: false, StartedAt: sess.StartedAt}, nil
}

// Heartbeat refreshes a session's liveness.
func (m *Manager) Heartbeat(sessionID uuid.UUID) error {
	return m.store.Heartbeat(sessionID, time.Now().UTC())
}

// Close ends a session with a reason. The reason is logged only; the
// store schema records just ended_at and is_active.
func (m *Manager) Close(sessionID uuid.UUID, reason string) error {
	if err := m.store.CloseSession(sessionID, time.Now().UTC()); err != nil {
		return err
	}
	m.log.Debug().Str("session_id", sessionID.String()).Str("reason", reason).Msg("session closed")
	return nil
}

// RunSweeper periodically closes sessions whose last_heartbeat is older
// than the idle threshold, until ctx is cancelled.
func (m *Manager) RunSweeper(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-m.idleThreshold)
			n, err := m.store.SweepExpired(cutoff)
			if err != nil {
				m.log.Warn().Err(err).Msg("sweep expired sessions failed")
				continue
			}
			if n > 0 {
				m.log.Info().Int64("closed", n).Msg("swept expired sessions")
			}
		}
	}
}
