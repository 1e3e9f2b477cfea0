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

// CredentialStore owns the persisted UserCredential rows. Every read goes to
// the database; nothing is cached.
type CredentialStore struct {
	db *gorm.DB
}

// NewCredentialStore wraps an open database handle.
func NewCredentialStore(db *gorm.DB) *CredentialStore {
	return &CredentialStore{db: db}
}

// Get returns the credential row for (userID, serverID).
func (s *CredentialStore) Get(ctx context.Context, userID string, serverID int64) (*models.UserCredential, error) {
	var cred models.UserCredential
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND server_id = ?", userID, serverID).
		First(&cred).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("credential %s/%d: %w", userID, serverID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load credential %s/%d: %w", userID, serverID, err)
	}
	return &cred, nil
}

// GetRefreshToken returns the current refresh token. A row that has not been
// authorized yet is reported as ErrNotFound.
func (s *CredentialStore) GetRefreshToken(ctx context.Context, userID string, serverID int64) (string, error) {
	cred, err := s.Get(ctx, userID, serverID)
	if err != nil {
		return "", err
	}
	if !cred.Refreshable() {
		return "", fmt.Errorf("refresh token for %s/%d: %w", userID, serverID, ErrNotFound)
	}
	return *cred.RefreshToken, nil
}

// GetAccessToken returns the current access token, ErrNotFound when absent.
func (s *CredentialStore) GetAccessToken(ctx context.Context, userID string, serverID int64) (string, error) {
	cred, err := s.Get(ctx, userID, serverID)
	if err != nil {
		return "", err
	}
	if !cred.Authenticated() {
		return "", fmt.Errorf("access token for %s/%d: %w", userID, serverID, ErrNotFound)
	}
	return *cred.AccessToken, nil
}

// InitializeUser creates an empty credential row. An existing row for the
// same key is never overwritten and yields ErrConflict.
func (s *CredentialStore) InitializeUser(ctx context.Context, userID string, serverID int64) (*models.UserCredential, error) {
	cred := models.UserCredential{UserID: userID, ServerID: serverID}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&cred)
	if res.Error != nil {
		return nil, fmt.Errorf("initialize credential %s/%d: %w", userID, serverID, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("credential %s/%d: %w", userID, serverID, ErrConflict)
	}
	return &cred, nil
}

// SetInitialTokens stores the first token pair obtained from the code
// exchange. It only succeeds while both tokens are still null, so the
// null-to-value transition happens exactly once.
func (s *CredentialStore) SetInitialTokens(ctx context.Context, userID string, serverID int64, remoteUsername, accessToken, refreshToken string) error {
	updates := map[string]any{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"updated_at":    time.Now(),
	}
	if remoteUsername != "" {
		updates["remote_username"] = remoteUsername
	}

	res := s.db.WithContext(ctx).
		Model(&models.UserCredential{}).
		Where("user_id = ? AND server_id = ? AND access_token IS NULL", userID, serverID).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("store initial tokens %s/%d: %w", userID, serverID, res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}

	// Nothing matched: tell a missing row apart from an already-authorized one.
	if _, err := s.Get(ctx, userID, serverID); err != nil {
		return err
	}
	return fmt.Errorf("credential %s/%d already authorized: %w", userID, serverID, ErrConflict)
}

// RotateTokens replaces the token pair of a row, matching on the refresh token
// that was sent to the token endpoint. If another rotation already replaced
// that value the update matches nothing and ErrTokenRotated is returned, so a
// stale refresh can never overwrite a newer pair. A missing row is ErrNotFound.
func (s *CredentialStore) RotateTokens(ctx context.Context, userID string, serverID int64, oldRefreshToken, newAccessToken, newRefreshToken string) error {
	if oldRefreshToken == "" {
		return fmt.Errorf("rotate %s/%d: empty refresh token: %w", userID, serverID, ErrNotFound)
	}

	res := s.db.WithContext(ctx).
		Model(&models.UserCredential{}).
		Where("user_id = ? AND server_id = ? AND refresh_token = ?", userID, serverID, oldRefreshToken).
		Updates(map[string]any{
			"access_token":  newAccessToken,
			"refresh_token": newRefreshToken,
			"updated_at":    time.Now(),
		})
	if res.Error != nil {
		return fmt.Errorf("rotate tokens %s/%d: %w", userID, serverID, res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := s.Get(ctx, userID, serverID); err != nil {
			return err
		}
		return fmt.Errorf("rotate %s/%d: %w", userID, serverID, ErrTokenRotated)
	}
	return nil
}

// ListAuthenticatedUsers returns the rows of serverID whose access token is set,
// in insertion order.
func (s *CredentialStore) ListAuthenticatedUsers(ctx context.Context, serverID int64) ([]models.UserCredential, error) {
	var creds []models.UserCredential
	err := s.db.WithContext(ctx).
		Where("server_id = ? AND access_token IS NOT NULL", serverID).
		Order("created_at ASC, user_id ASC").
		Find(&creds).Error
	if err != nil {
		return nil, fmt.Errorf("list authenticated users of %d: %w", serverID, err)
	}
	return creds, nil
}

// ListServerUsers returns every row of serverID, authorized or not.
func (s *CredentialStore) ListServerUsers(ctx context.Context, serverID int64) ([]models.UserCredential, error) {
	var creds []models.UserCredential
	err := s.db.WithContext(ctx).
		Where("server_id = ?", serverID).
		Order("created_at ASC, user_id ASC").
		Find(&creds).Error
	if err != nil {
		return nil, fmt.Errorf("list users of %d: %w", serverID, err)
	}
	return creds, nil
}

// ListServers returns the servers that have at least one authorized user.
func (s *CredentialStore) ListServers(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := s.db.WithContext(ctx).
		Model(&models.UserCredential{}).
		Where("access_token IS NOT NULL").
		Distinct("server_id").
		Order("server_id").
		Pluck("server_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}
	return ids, nil
}
