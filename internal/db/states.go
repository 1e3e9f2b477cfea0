package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/imMewtable/wakatime-bot/internal/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StateStore keeps the pending OAuth authorization nonces.
type StateStore struct {
	db *gorm.DB
}

// NewStateStore wraps an open database handle.
func NewStateStore(db *gorm.DB) *StateStore {
	return &StateStore{db: db}
}

// Save records state as the only pending nonce of (userID, serverID),
// replacing any earlier one.
func (s *StateStore) Save(ctx context.Context, userID string, serverID int64, state string, createdAt, expiresAt time.Time) error {
	row := models.AuthorizationState{
		UserID:    userID,
		ServerID:  serverID,
		State:     state,
		CreatedAt: createdAt,
		ExpiresAt: expiresAt,
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "server_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"state", "created_at", "expires_at"}),
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("save authorization state %s/%d: %w", userID, serverID, err)
	}
	return nil
}

// Consume looks up and deletes the row holding state. The row is removed even
// when expired so a nonce can be redeemed at most once.
func (s *StateStore) Consume(ctx context.Context, state string, now time.Time) (*models.AuthorizationState, error) {
	return s.consume(ctx, now, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("state = ?", state)
	})
}

// ConsumeLatestForUser redeems the most recent pending state of userID on any
// server. Direct messages carry no server, so this resolves which
// registration a pasted code belongs to.
func (s *StateStore) ConsumeLatestForUser(ctx context.Context, userID string, now time.Time) (*models.AuthorizationState, error) {
	return s.consume(ctx, now, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("user_id = ? AND expires_at > ?", userID, now).Order("created_at DESC")
	})
}

// ConsumeForIdentity redeems the pending state of (userID, serverID).
func (s *StateStore) ConsumeForIdentity(ctx context.Context, userID string, serverID int64, now time.Time) (*models.AuthorizationState, error) {
	return s.consume(ctx, now, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("user_id = ? AND server_id = ?", userID, serverID)
	})
}

func (s *StateStore) consume(ctx context.Context, now time.Time, scope func(*gorm.DB) *gorm.DB) (*models.AuthorizationState, error) {
	var row models.AuthorizationState
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := scope(tx).First(&row).Error; err != nil {
			return err
		}
		res := tx.Where("user_id = ? AND server_id = ? AND state = ?", row.UserID, row.ServerID, row.State).
			Delete(&models.AuthorizationState{})
		if res.Error != nil {
			return res.Error
		}
		// A concurrent redemption deleted it between our read and delete.
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("authorization state: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("consume authorization state: %w", err)
	}
	if row.IsExpired(now) {
		return nil, fmt.Errorf("authorization state for %s/%d: %w", row.UserID, row.ServerID, ErrStateExpired)
	}
	return &row, nil
}

// PurgeExpired deletes every state whose deadline has passed.
func (s *StateStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&models.AuthorizationState{})
	if res.Error != nil {
		return 0, fmt.Errorf("purge authorization states: %w", res.Error)
	}
	return res.RowsAffected, nil
}
