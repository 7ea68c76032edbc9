package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ActiveSession returns the user's most recently started active session,
// or nil if there is none. It applies no age check; the session manager
// decides resume vs replace from the returned timestamps.
func (s *Store) ActiveSession(userID uuid.UUID) (*Session, error) {
	var sess Session
	tx := s.DB.Where("user_id = ? AND is_active = ?", userID, true).
		Order("started_at DESC").
		First(&sess)
	if tx.Error != nil {
		if tx.Error == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("store: active session: %w", tx.Error)
	}
	return &sess, nil
}

// ReplaceSession closes any prior active session for userID and inserts a
// new one in a single transaction, enforcing "at most one active session
// per user" even against concurrent reconnects.
func (s *Store) ReplaceSession(userID uuid.UUID, chatID int64, now time.Time) (*Session, error) {
	sess := &Session{
		ID:            uuid.New(),
		UserID:        userID,
		ChatID:        chatID,
		StartedAt:     now,
		LastHeartbeat: now,
		IsActive:      true,
	}
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Session{}).
			Where("user_id = ? AND is_active = ?", userID, true).
			Updates(map[string]interface{}{"is_active": false, "ended_at": now}).Error; err != nil {
			return fmt.Errorf("close prior session: %w", err)
		}
		if err := tx.Create(sess).Error; err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: replace session: %w", err)
	}
	return sess, nil
}

// Heartbeat refreshes a session's last-heartbeat timestamp. It returns an
// error if no active session has that id.
func (s *Store) Heartbeat(sessionID uuid.UUID, now time.Time) error {
	tx := s.DB.Model(&Session{}).
		Where("id = ? AND is_active = ?", sessionID, true).
		Update("last_heartbeat", now)
	if tx.Error != nil {
		return fmt.Errorf("store: heartbeat: %w", tx.Error)
	}
	if tx.RowsAffected == 0 {
		return fmt.Errorf("store: heartbeat: session %s is not active", sessionID)
	}
	return nil
}

// CloseSession ends a session, recording its end time.
func (s *Store) CloseSession(sessionID uuid.UUID, now time.Time) error {
	if err := s.DB.Model(&Session{}).
		Where("id = ?", sessionID).
		Updates(map[string]interface{}{"is_active": false, "ended_at": now}).Error; err != nil {
		return fmt.Errorf("store: close session: %w", err)
	}
	return nil
}

// SweepExpired closes every session whose last_heartbeat is older than
// olderThan. It returns the number of sessions closed.
func (s *Store) SweepExpired(olderThan time.Time) (int64, error) {
	tx := s.DB.Model(&Session{}).
		Where("is_active = ? AND last_heartbeat < ?", true, olderThan).
		Updates(map[string]interface{}{"is_active": false, "ended_at": olderThan})
	if tx.Error != nil {
		return 0, fmt.Errorf("store: sweep expired: %w", tx.Error)
	}
	return tx.RowsAffected, nil
}
