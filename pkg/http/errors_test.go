package http

import (
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"testing"

	"github.com/calderray/aegis/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAuthError_KnownCodes(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{models.ErrInvalidCredentials, 401, "INVALID_CREDENTIALS"},
		{models.ErrAccountSuspended, 403, "ACCOUNT_SUSPENDED"},
		{models.ErrAccountLocked, 403, "ACCOUNT_LOCKED"},
		{models.ErrRateLimitExceeded, 429, "RATE_LIMIT_EXCEEDED"},
		{models.ErrOTPMaxAttemptsExceeded, 429, "OTP_MAX_ATTEMPTS_EXCEEDED"},
		{models.ErrDuplicatePhone, 409, "DUPLICATE_PHONE"},
		{models.InvalidOTPWithRemaining(2), 401, "INVALID_OTP"},
	}

	for _, tt := range tests {
		t.Run(tt.wantCode, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteAuthError(rec, tt.err)

			assert.Equal(t, tt.wantStatus, rec.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantCode, resp.Error)
			assert.NotEmpty(t, resp.Message)
		})
	}
}

func TestWriteAuthError_UnknownErrorCollapsesTo500(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteAuthError(rec, fmt.Errorf("pgx: connection refused"))

	assert.Equal(t, 500, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, models.ErrInternalServer.Code, resp.Error)
	assert.NotContains(t, resp.Message, "pgx")
}

func TestWriteAuthError_WrappedErrorStillMaps(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteAuthError(rec, fmt.Errorf("login: %w", models.ErrAccountSuspended))

	assert.Equal(t, 403, rec.Code)
}
