// Package store owns the durable relational state: users, sessions, and
// the materialized top-K leaderboard view.
package store

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Store wraps *gorm.DB with the operations the Aggregator and Ranker need.
type Store struct {
	DB      *gorm.DB
	dialect string
	log     zerolog.Logger
}

// Open connects to a Postgres DSN, the production dialect.
func Open(dsn string, log zerolog.Logger) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}
	return &Store{DB: db, dialect: "postgres", log: log}, nil
}

// OpenSQLite opens an in-memory (or file-backed) sqlite database. Used by
// tests and by any deployment too small to run Postgres; the materialized
// view is emulated with a plain table refreshed wholesale by the Ranker
// since sqlite has no REFRESH MATERIALIZED VIEW CONCURRENTLY.
func OpenSQLite(dsn string, log zerolog.Logger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	return &Store{DB: db, dialect: "sqlite", log: log}, nil
}

// Dialect reports which backend this Store is bound to.
func (s *Store) Dialect() string { return s.dialect }

// Migrate creates the users/sessions tables, their indexes, and the
// leaderboard view.
func (s *Store) Migrate() error {
	if err := s.DB.AutoMigrate(&User{}, &Session{}); err != nil {
		return fmt.Errorf("store: automigrate: %w", err)
	}

	switch s.dialect {
	case "postgres":
		if err := s.migratePostgresView(); err != nil {
			return err
		}
	case "sqlite":
		if err := s.migrateSQLiteView(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) migratePostgresView() error {
	stmts := []string{
		`CREATE INDEX IF NOT EXISTS idx_users_total_clicks ON users (total_clicks DESC) WHERE total_clicks > 0`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user_started ON sessions (user_id, started_at DESC) WHERE is_active`,
		`CREATE MATERIALIZED VIEW IF NOT EXISTS leaderboard_top_1000 AS
			SELECT
				dense_rank() OVER (ORDER BY total_clicks DESC) AS rank,
				id AS user_id,
				username,
				total_clicks,
				now() AS updated_at
			FROM users
			WHERE total_clicks > 0
			ORDER BY total_clicks DESC
			LIMIT 1000`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_leaderboard_top_1000_user ON leaderboard_top_1000 (user_id)`,
	}
	for _, stmt := range stmts {
		if err := s.DB.Exec(stmt).Error; err != nil {
			return fmt.Errorf("store: migrate view: %w", err)
		}
	}
	return nil
}

// RefreshView recomputes the materialized view non-blockingly: readers
// keep seeing the old snapshot until the swap completes.
func (s *Store) RefreshView() error {
	switch s.dialect {
	case "postgres":
		if err := s.DB.Exec(`REFRESH MATERIALIZED VIEW CONCURRENTLY leaderboard_top_1000`).Error; err != nil {
			return fmt.Errorf("store: refresh view: %w", err)
		}
		return nil
	case "sqlite":
		return s.refreshSQLiteView()
	default:
		return fmt.Errorf("store: unsupported dialect %q", s.dialect)
	}
}

func (s *Store) migrateSQLiteView() error {
	return s.DB.Exec(`CREATE TABLE IF NOT EXISTS leaderboard_top_1000 (
		rank INTEGER,
		user_id TEXT PRIMARY KEY,
		username TEXT,
		total_clicks INTEGER,
		updated_at DATETIME
	)`).Error
}

// refreshSQLiteView rebuilds the emulated view inside a transaction; it
// stands in for the Postgres CONCURRENTLY refresh whenever the sqlite
// dialect is in use.
func (s *Store) refreshSQLiteView() error {
	return s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(`DELETE FROM leaderboard_top_1000`).Error; err != nil {
			return err
		}
		return tx.Exec(`INSERT INTO leaderboard_top_1000 (rank, user_id, username, total_clicks, updated_at)
			SELECT
				DENSE_RANK() OVER (ORDER BY total_clicks DESC) AS rank,
				id, username, total_clicks, CURRENT_TIMESTAMP
			FROM users
			WHERE total_clicks > 0
			ORDER BY total_clicks DESC
			LIMIT 1000`).Error
	})
}

// TopK reads the leaderboard view, capped at limit (<=1000).
func (s *Store) TopK(limit int) ([]LeaderboardRow, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	var rows []LeaderboardRow
	if err := s.DB.Order("rank ASC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: topk: %w", err)
	}
	return rows, nil
}

// Rank looks up a single user's published rank and total, returning
// found=false if the user is outside the top-K window.
func (s *Store) Rank(userID uuid.UUID) (row LeaderboardRow, found bool, err error) {
	tx := s.DB.Where("user_id = ?", userID.String()).First(&row)
	if tx.Error != nil {
		if tx.Error == gorm.ErrRecordNotFound {
			return LeaderboardRow{}, false, nil
		}
		return LeaderboardRow{}, false, fmt.Errorf("store: rank: %w", tx.Error)
	}
	return row, true, nil
}
