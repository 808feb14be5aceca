package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/calderray/aegis/internal/models"
)

// ErrorResponse represents a standard API error response
type ErrorResponse struct {
	Error   string `json:"errorCode"`         // Machine-readable error code
	Message string `json:"message"`           // Human-readable message
	Details string `json:"details,omitempty"` // Optional additional context
}

// WriteError writes a JSON error response with the given status code
func WriteError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	resp := ErrorResponse{
		Error:   errorCode,
		Message: message,
	}

	// Log encoding errors but don't expose them to client
	_ = json.NewEncoder(w).Encode(resp)
}

// statusByCode maps taxonomy codes to HTTP statuses. Codes not listed
// fall back to 500.
var statusByCode = map[string]int{
	models.ErrInvalidCredentials.Code:        http.StatusUnauthorized,
	models.ErrDuplicatePhone.Code:            http.StatusConflict,
	models.ErrValidation.Code:                http.StatusBadRequest,
	models.ErrNotFound.Code:                  http.StatusNotFound,
	models.ErrConflict.Code:                  http.StatusConflict,
	models.ErrAccountLocked.Code:             http.StatusForbidden,
	models.ErrAccountSuspended.Code:          http.StatusForbidden,
	models.ErrAccountDeactivated.Code:        http.StatusForbidden,
	models.ErrAccountPendingDeletion.Code:    http.StatusForbidden,
	models.ErrInvalidToken.Code:              http.StatusUnauthorized,
	models.ErrExpiredToken.Code:              http.StatusUnauthorized,
	models.ErrMissingToken.Code:              http.StatusUnauthorized,
	models.ErrInvalidOTP.Code:                http.StatusUnauthorized,
	models.ErrExpiredOTP.Code:                http.StatusUnauthorized,
	models.ErrOTPMaxAttemptsExceeded.Code:    http.StatusTooManyRequests,
	models.ErrSessionNotFound.Code:           http.StatusUnauthorized,
	models.ErrSessionExpired.Code:            http.StatusUnauthorized,
	models.ErrInsufficientPermissions.Code:   http.StatusForbidden,
	models.ErrRateLimitExceeded.Code:         http.StatusTooManyRequests,
}

// WriteAuthError maps a domain error onto the wire shape. Unknown
// errors collapse to a generic 500 so internals never leak.
func WriteAuthError(w http.ResponseWriter, err error) {
	var ae *models.AuthError
	if !errors.As(err, &ae) {
		WriteInternalError(w, "Internal server error")
		return
	}

	status, ok := statusByCode[ae.Code]
	if !ok {
		status = http.StatusInternalServerError
	}

	WriteError(w, status, ae.Code, ae.Message)
}

// Common error writers for consistency
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, models.ErrValidation.Code, message)
}

func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, models.ErrInvalidToken.Code, message)
}

func WriteForbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, models.ErrInsufficientPermissions.Code, message)
}

func WriteTooManyRequests(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusTooManyRequests, models.ErrRateLimitExceeded.Code, message)
}

func WriteInternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, models.ErrInternalServer.Code, message)
}
