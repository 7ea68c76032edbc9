package ranker

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/clickrank/clickrank/internal/store"
)

func TestDenseRank_TiesShareRankNextIncrementsByOne(t *testing.T) {
	rows := []store.LeaderboardRow{
		{UserID: uuid.New(), Username: "a", TotalClicks: 10},
		{UserID: uuid.New(), Username: "b", TotalClicks: 10},
		{UserID: uuid.New(), Username: "c", TotalClicks: 5},
	}

	ranked := denseRank(rows)

	require.Equal(t, uint32(1), ranked[0].Rank)
	require.Equal(t, uint32(1), ranked[1].Rank)
	require.Equal(t, uint32(2), ranked[2].Rank)
}

func TestDenseRank_StrictDescendingGetsSequentialRanks(t *testing.T) {
	rows := []store.LeaderboardRow{
		{UserID: uuid.New(), TotalClicks: 30},
		{UserID: uuid.New(), TotalClicks: 20},
		{UserID: uuid.New(), TotalClicks: 10},
	}

	ranked := denseRank(rows)

	require.Equal(t, uint32(1), ranked[0].Rank)
	require.Equal(t, uint32(2), ranked[1].Rank)
	require.Equal(t, uint32(3), ranked[2].Rank)
}

func TestDenseRank_EmptyInput(t *testing.T) {
	require.Empty(t, denseRank(nil))
}
