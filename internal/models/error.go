package models

import (
	"errors"
	"fmt"
	"time"
)

// AuthError is a domain error with a stable machine-readable code.
// Two AuthErrors match under errors.Is when their codes are equal, so
// callers compare against the sentinel instances below even when a flow
// attaches extra context (remaining attempts, suspension window).
type AuthError struct {
	Code    string `json:"errorCode"`
	Message string `json:"message"`
}

func (e *AuthError) Error() string {
	return e.Message
}

func (e *AuthError) Is(target error) bool {
	var ae *AuthError
	if errors.As(target, &ae) {
		return e.Code == ae.Code
	}
	return false
}

// Sentinel errors for common failure conditions
var (
	ErrInvalidCredentials = &AuthError{Code: "INVALID_CREDENTIALS", Message: "invalid phone number or password"}
	ErrDuplicatePhone     = &AuthError{Code: "DUPLICATE_PHONE", Message: "phone number is already registered"}
	ErrValidation         = &AuthError{Code: "VALIDATION_ERROR", Message: "request validation failed"}
	ErrNotFound           = &AuthError{Code: "NOT_FOUND", Message: "resource not found"}
	ErrConflict           = &AuthError{Code: "CONFLICT", Message: "resource already exists"}
	ErrInternalServer     = &AuthError{Code: "INTERNAL_ERROR", Message: "internal server error"}

	// Account state errors
	ErrAccountLocked          = &AuthError{Code: "ACCOUNT_LOCKED", Message: "account is temporarily locked after too many failed attempts"}
	ErrAccountSuspended       = &AuthError{Code: "ACCOUNT_SUSPENDED", Message: "account is suspended"}
	ErrAccountDeactivated     = &AuthError{Code: "ACCOUNT_DEACTIVATED", Message: "account is deactivated"}
	ErrAccountPendingDeletion = &AuthError{Code: "ACCOUNT_PENDING_DELETION", Message: "account is pending deletion"}

	// Token errors
	ErrInvalidToken = &AuthError{Code: "INVALID_TOKEN", Message: "token is invalid"}
	ErrExpiredToken = &AuthError{Code: "EXPIRED_TOKEN", Message: "token has expired"}
	ErrMissingToken = &AuthError{Code: "MISSING_TOKEN", Message: "authorization token is required"}

	// OTP errors
	ErrInvalidOTP             = &AuthError{Code: "INVALID_OTP", Message: "verification code is invalid"}
	ErrExpiredOTP             = &AuthError{Code: "EXPIRED_OTP", Message: "verification code has expired"}
	ErrOTPMaxAttemptsExceeded = &AuthError{Code: "OTP_MAX_ATTEMPTS_EXCEEDED", Message: "too many incorrect verification attempts"}

	// Session errors
	ErrSessionNotFound = &AuthError{Code: "SESSION_NOT_FOUND", Message: "session not found"}
	ErrSessionExpired  = &AuthError{Code: "SESSION_EXPIRED", Message: "session has expired"}

	ErrInsufficientPermissions = &AuthError{Code: "INSUFFICIENT_PERMISSIONS", Message: "insufficient permissions"}
	ErrRateLimitExceeded       = &AuthError{Code: "RATE_LIMIT_EXCEEDED", Message: "too many requests, please try again later"}

	// Encryption errors
	ErrEncryptionFailed = &AuthError{Code: "ENCRYPTION_ERROR", Message: "failed to encrypt data"}
	ErrDecryptionFailed = &AuthError{Code: "DECRYPTION_ERROR", Message: "failed to decrypt data"}
)

// InvalidOTPWithRemaining reports a code mismatch along with the attempt
// budget left on the challenge. Matches ErrInvalidOTP under errors.Is.
func InvalidOTPWithRemaining(remaining int) *AuthError {
	return &AuthError{
		Code:    ErrInvalidOTP.Code,
		Message: fmt.Sprintf("verification code is invalid, %d attempts remaining", remaining),
	}
}

// SuspendedUntil reports a suspension with its end time, if bounded.
// Matches ErrAccountSuspended under errors.Is.
func SuspendedUntil(until *time.Time) *AuthError {
	if until == nil {
		return ErrAccountSuspended
	}
	return &AuthError{
		Code:    ErrAccountSuspended.Code,
		Message: fmt.Sprintf("account is suspended until %s", until.UTC().Format(time.RFC3339)),
	}
}

// ValidationError wraps a field-level validation failure.
// Matches ErrValidation under errors.Is.
func ValidationError(message string) *AuthError {
	return &AuthError{Code: ErrValidation.Code, Message: message}
}
