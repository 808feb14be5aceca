package models

import (
	"time"
)

type Session struct {
	ID        string // opaque session id
	AccountID int64

	DeviceID   string
	DeviceType string
	DeviceName string
	OS         string
	Browser    string

	LastIP        string
	LastUserAgent string

	// SHA-256 hash of the current refresh token. Rotation replaces this
	// value conditionally on the previous hash, so a stale refresh token
	// can never win the rotation race.
	RefreshTokenHash string

	CreatedAt      time.Time
	LastActivityAt time.Time
	ExpiresAt      time.Time
	Active         bool
}

// IsValid reports whether the session can still authenticate requests.
func (s *Session) IsValid() bool {
	return s.Active && time.Now().Before(s.ExpiresAt)
}
