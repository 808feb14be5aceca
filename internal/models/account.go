package models

import (
	"time"
)

// Account lifecycle statuses. "locked" is deliberately not a status:
// it is computed from the failed-attempt counters so the counters stay
// the single source of truth.
const (
	StatusActive          = "active"
	StatusSuspended       = "suspended"
	StatusDeactivated     = "deactivated"
	StatusPendingDeletion = "pending_deletion"
)

type Account struct {
	ID          int64
	UUID        string
	Phone       string // E.164, unique
	CountryCode string

	PasswordHash      string // never serialized in responses
	PasswordChangedAt *time.Time

	FailedLoginAttempts int
	LastFailedLogin     *time.Time
	LoginCount          int64
	LastLoginAt         *time.Time
	LastIP              string
	RegistrationIP      string

	Status           string
	SuspensionReason string
	SuspensionUntil  *time.Time

	Verified          bool
	VerificationBlob  string // encrypted envelope, opaque to this layer

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsLocked reports whether the account is in the derived lockout state:
// the failed-attempt counter reached threshold and the last failure is
// still inside the lockout window.
func (a *Account) IsLocked(threshold int, window time.Duration) bool {
	if a.FailedLoginAttempts < threshold {
		return false
	}
	if a.LastFailedLogin == nil {
		return false
	}
	return time.Since(*a.LastFailedLogin) < window
}

// SuspensionActive reports whether a suspension is still in force.
// A nil SuspensionUntil means indefinite.
func (a *Account) SuspensionActive() bool {
	if a.Status != StatusSuspended {
		return false
	}
	if a.SuspensionUntil == nil {
		return true
	}
	return time.Now().Before(*a.SuspensionUntil)
}
