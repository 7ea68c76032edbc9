package session

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/clickrank/clickrank/internal/store"
)

func newTestManager(t *testing.T, reconnectWindow, idleThreshold time.Duration) (*Manager, *store.Store) {
	t.Helper()
	st, err := store.OpenSQLite("file::memory:?cache=shared", zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, st.Migrate())
	return New(st, zerolog.Nop(), reconnectWindow, idleThreshold), st
}

func TestOpenOrResume_FirstOpenIsNotAReconnection(t *testing.T) {
	m, st := newTestManager(t, 60*time.Second, 90*time.Second)
	u, err := st.ResolveUser(1, "alice")
	require.NoError(t, err)

	res, err := m.OpenOrResume(u.ID, 100)
	require.NoError(t, err)
	require.False(t, res.IsReconnection)
}

func TestOpenOrResume_ResumesWithinWindow(t *testing.T) {
	m, st := newTestManager(t, 60*time.Second, 90*time.Second)
	u, err := st.ResolveUser(2, "bob")
	require.NoError(t, err)

	first, err := m.OpenOrResume(u.ID, 100)
	require.NoError(t, err)

	second, err := m.OpenOrResume(u.ID, 100)
	require.NoError(t, err)

	require.True(t, second.IsReconnection)
	require.Equal(t, first.SessionID, second.SessionID)
	require.Equal(t, first.StartedAt, second.StartedAt)
}

func TestOpenOrResume_ReplacesBeyondWindow(t *testing.T) {
	m, st := newTestManager(t, time.Millisecond, 90*time.Second)
	u, err := st.ResolveUser(3, "carl")
	require.NoError(t, err)

	first, err := m.OpenOrResume(u.ID, 100)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	second, err := m.OpenOrResume(u.ID, 100)
	require.NoError(t, err)

	require.False(t, second.IsReconnection)
	require.NotEqual(t, first.SessionID, second.SessionID)
}

func TestHeartbeat_FailsForInactiveSession(t *testing.T) {
	m, st := newTestManager(t, 60*time.Second, 90*time.Second)
	u, err := st.ResolveUser(4, "dana")
	require.NoError(t, err)

	res, err := m.OpenOrResume(u.ID, 100)
	require.NoError(t, err)
	require.NoError(t, m.Close(res.SessionID, "client_close"))

	err = m.Heartbeat(res.SessionID)
	require.Error(t, err)
}
