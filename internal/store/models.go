package store

import (
	"time"

	"github.com/google/uuid"
)

// User is the durable identity row.
type User struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	ExternalChatID int64     `gorm:"uniqueIndex;not null"`
	Username       string    `gorm:"size:20;not null"`
	TotalClicks    uint64    `gorm:"not null;default:0"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TableName pins the table name so raw SQL (the materialized view,
// index DDL) can reference it without relying on GORM's pluralization.
func (User) TableName() string { return "users" }

// Session is one connected interaction period for a user.
type Session struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID        uuid.UUID `gorm:"type:uuid;index;not null"`
	ChatID        int64     `gorm:"not null"`
	StartedAt     time.Time `gorm:"not null"`
	LastHeartbeat time.Time `gorm:"not null"`
	EndedAt       *time.Time
	IsActive      bool   `gorm:"not null;default:true"`
	TotalClicks   uint32 `gorm:"not null;default:0"`
}

func (Session) TableName() string { return "sessions" }

// LeaderboardRow mirrors one row of the leaderboard_top_1000 materialized
// view. It is read-only from Go's side; the view itself is maintained by
// raw SQL in store.go.
type LeaderboardRow struct {
	Rank        int       `gorm:"column:rank"`
	UserID      uuid.UUID `gorm:"column:user_id;type:uuid"`
	Username    string    `gorm:"column:username"`
	TotalClicks uint64    `gorm:"column:total_clicks"`
	UpdatedAt   time.Time `gorm:"column:updated_at"`
}

func (LeaderboardRow) TableName() string { return "leaderboard_top_1000" }
