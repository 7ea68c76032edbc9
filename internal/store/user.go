package store

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ResolveUser creates a user for externalChatID if none exists, otherwise
// returns the existing record unchanged. A second resolve with a
// different proposed name never mutates the stored username; renaming
// requires an explicit ChangeUsername call.
//
// Unique-constraint collisions from a racing concurrent insert are
// resolved by re-selecting the row the winner inserted.
func (s *Store) ResolveUser(externalChatID int64, proposedName string) (*User, error) {
	var existing User
	tx := s.DB.Where("external_chat_id = ?", externalChatID).First(&existing)
	if tx.Error == nil {
		return &existing, nil
	}
	if tx.Error != gorm.ErrRecordNotFound {
		return nil, fmt.Errorf("store: resolve user: %w", tx.Error)
	}

	created := &User{
		ID:             uuid.New(),
		ExternalChatID: externalChatID,
		Username:       proposedName,
	}
	result := s.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_chat_id"}},
		DoNothing: true,
	}).Create(created)
	if result.Error != nil {
		return nil, fmt.Errorf("store: resolve user: insert: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		// DoNothing fired: a concurrent insert won the race. Re-select.
		var reread User
		if err := s.DB.Where("external_chat_id = ?", externalChatID).First(&reread).Error; err != nil {
			return nil, fmt.Errorf("store: resolve user: reread: %w", err)
		}
		return &reread, nil
	}
	return created, nil
}

// ChangeUsername renames a user, enforcing a 20-character hard limit.
func (s *Store) ChangeUsername(userID uuid.UUID, newName string) error {
	if len(newName) == 0 || len(newName) > 20 {
		return fmt.Errorf("store: change username: name must be 1-20 characters")
	}
	if err := s.DB.Model(&User{}).Where("id = ?", userID).Update("username", newName).Error; err != nil {
		return fmt.Errorf("store: change username: %w", err)
	}
	return nil
}

// GetUser fetches a user's durable row by id.
func (s *Store) GetUser(userID uuid.UUID) (*User, error) {
	var u User
	if err := s.DB.Where("id = ?", userID).First(&u).Error; err != nil {
		return nil, fmt.Errorf("store: get user: %w", err)
	}
	return &u, nil
}
