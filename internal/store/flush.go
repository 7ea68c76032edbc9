package store

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UserDelta is one user's accumulated pending click count since the last
// flush, applied in the same transaction as every other pending delta.
type UserDelta struct {
	UserID uuid.UUID
	Delta  uint64
}

// SessionDelta accumulates a session's click count since the last flush.
type SessionDelta struct {
	SessionID uuid.UUID
	Delta     uint32
}

// Flush applies every pending user and session delta in a single
// transaction. On Postgres the user deltas go out as one bulk UPDATE; on
// sqlite, and for session deltas on either dialect, each row gets its own
// UPDATE statement inside that transaction.
func (s *Store) Flush(users []UserDelta, sessions []SessionDelta) error {
	if len(users) == 0 && len(sessions) == 0 {
		return nil
	}
	return s.DB.Transaction(func(tx *gorm.DB) error {
		if err := bulkAddUsers(tx, s.dialect, users); err != nil {
			return err
		}
		return bulkAddSessions(tx, s.dialect, sessions)
	})
}

func bulkAddUsers(tx *gorm.DB, dialect string, deltas []UserDelta) error {
	if len(deltas) == 0 {
		return nil
	}
	values := make([]string, 0, len(deltas))
	args := make([]interface{}, 0, len(deltas)*2)
	for _, d := range deltas {
		values = append(values, "(?, ?)")
		args = append(args, d.UserID.String(), d.Delta)
	}
	query := fmt.Sprintf(
		`UPDATE users SET total_clicks = users.total_clicks + v.delta, updated_at = %s
		 FROM (VALUES %s) AS v(user_id, delta)
		 WHERE users.id = %s`,
		nowExpr(dialect), strings.Join(values, ", "), castUserID(dialect),
	)
	if dialect == "sqlite" {
		// sqlite lacks UPDATE ... FROM (VALUES ...); apply per-row instead,
		// still inside the same transaction so the batch stays atomic.
		for _, d := range deltas {
			if err := tx.Exec(
				`UPDATE users SET total_clicks = total_clicks + ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
				d.Delta, d.UserID.String(),
			).Error; err != nil {
				return fmt.Errorf("store: bulk add users: %w", err)
			}
		}
		return nil
	}
	if err := tx.Exec(query, args...).Error; err != nil {
		return fmt.Errorf("store: bulk add users: %w", err)
	}
	return nil
}

func bulkAddSessions(tx *gorm.DB, dialect string, deltas []SessionDelta) error {
	if len(deltas) == 0 {
		return nil
	}
	for _, d := range deltas {
		if err := tx.Exec(
			`UPDATE sessions SET total_clicks = total_clicks + ? WHERE id = ?`,
			d.Delta, d.SessionID.String(),
		).Error; err != nil {
			return fmt.Errorf("store: bulk add sessions: %w", err)
		}
	}
	return nil
}

func nowExpr(dialect string) string {
	if dialect == "postgres" {
		return "now()"
	}
	return "CURRENT_TIMESTAMP"
}

func castUserID(dialect string) string {
	if dialect == "postgres" {
		return "v.user_id::uuid"
	}
	return "v.user_id"
}
