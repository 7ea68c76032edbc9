package ranker

import "github.com/clickrank/clickrank/internal/store"

// denseRank assigns dense ranks over rows already ordered by total_clicks
// descending: equal totals share a rank, and the next rank increments by
// 1, not by group size. It is computed here rather than in SQL so the
// rule is unit-testable independent of any database.
func denseRank(rows []store.LeaderboardRow) []RankedEntry {
	entries := make([]RankedEntry, len(rows))
	var rank uint32
	var lastTotal uint64
	first := true
	for i, r := range rows {
		if first || r.TotalClicks != lastTotal {
			rank++
		}
		entries[i] = RankedEntry{
			Rank:        rank,
			UserID:      r.UserID,
			Username:    r.Username,
			TotalClicks: r.TotalClicks,
		}
		lastTotal = r.TotalClicks
		first = false
	}
	return entries
}
