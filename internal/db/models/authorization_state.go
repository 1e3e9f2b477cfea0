package models

import "time"

// AuthorizationState correlates an in-flight OAuth redirect with the user who
// asked for the authorize link. Each identity has at most one pending state;
// requesting a new link replaces it.
type AuthorizationState struct {
	UserID    string    `gorm:"primaryKey;size:64"`
	ServerID  int64     `gorm:"primaryKey;autoIncrement:false"`
	State     string    `gorm:"uniqueIndex;size:64;not null"`
	CreatedAt time.Time `gorm:"index"`
	ExpiresAt time.Time
}

// IsExpired checks if the state can no longer be redeemed.
func (s *AuthorizationState) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
