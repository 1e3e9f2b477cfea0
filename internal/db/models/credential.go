package models

import "time"

// UserCredential stores the WakaTime OAuth tokens of one chat user on one server.
// The (UserID, ServerID) pair is unique. AccessToken and RefreshToken stay nil
// until the user completes authorization and are always written together.
type UserCredential struct {
	UserID         string    `gorm:"primaryKey;size:64" json:"user_id"`
	ServerID       int64     `gorm:"primaryKey;autoIncrement:false" json:"server_id"`
	RemoteUsername *string   `gorm:"size:100" json:"remote_username,omitempty"`
	AccessToken    *string   `gorm:"size:255" json:"-"`
	RefreshToken   *string   `gorm:"size:255;index" json:"-"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Authenticated reports whether the initial code exchange has completed.
func (c UserCredential) Authenticated() bool {
	return c.AccessToken != nil && *c.AccessToken != ""
}

// Refreshable reports whether the row holds a refresh token that can be rotated.
func (c UserCredential) Refreshable() bool {
	return c.RefreshToken != nil && *c.RefreshToken != ""
}

// AccessTokenValue returns the access token or "" when not yet authenticated.
func (c UserCredential) AccessTokenValue() string {
	if c.AccessToken == nil {
		return ""
	}
	return *c.AccessToken
}

// RefreshTokenValue returns the refresh token or "".
func (c UserCredential) RefreshTokenValue() string {
	if c.RefreshToken == nil {
		return ""
	}
	return *c.RefreshToken
}
