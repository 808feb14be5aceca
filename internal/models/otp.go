package models

import (
	"time"
)

// OTP purposes. A challenge is bound to exactly one purpose; the
// orchestrator checks the purpose matches the flow consuming it.
const (
	OTPPurposeRegistration  = "registration"
	OTPPurposeLogin         = "login"
	OTPPurposePasswordReset = "password_reset"
	OTPPurposePhoneChange   = "phone_number_change"
)

type OTPChallenge struct {
	VerificationID string // opaque, unguessable handle; distinct from the code
	Phone          string
	CountryCode    string
	CodeHash       string // HMAC of the code keyed by the verification id; the plaintext is never stored
	Purpose        string
	AccountID      *int64 // set only for phone-change challenges

	IssuedAt    time.Time
	ExpiresAt   time.Time
	Attempts    int
	MaxAttempts int
	Verified    bool
	VerifiedAt  *time.Time
	RequesterIP string
}

func (c *OTPChallenge) IsExpired() bool {
	return time.Now().After(c.ExpiresAt)
}

func (c *OTPChallenge) AttemptsExhausted() bool {
	return c.Attempts >= c.MaxAttempts
}
