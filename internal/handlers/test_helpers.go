package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/calderray/aegis/internal/auth"
	"github.com/calderray/aegis/internal/models"
	"github.com/calderray/aegis/internal/services"
	pkghttp "github.com/calderray/aegis/pkg/http"
	"github.com/stretchr/testify/assert"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithAuthContext adds token claims to the request context for testing
// authenticated endpoints
func WithAuthContext(req *http.Request, accountID int64, sessionID string, roles ...string) *http.Request {
	claims := &models.TokenClaims{
		Type:      "access",
		AccountID: accountID,
		SessionID: sessionID,
		Roles:     roles,
	}
	ctx := context.WithValue(req.Context(), auth.ClaimsContextKey, claims)
	return req.WithContext(ctx)
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	contentType := w.Header().Get("Content-Type")
	assert.Equal(t, "application/json", contentType, "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedCode string) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedCode, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// MockAuthService implements AuthServiceInterface for testing
type MockAuthService struct {
	RegisterFunc           func(ctx context.Context, req services.RegisterRequest) (*services.AuthResponse, error)
	LoginFunc              func(ctx context.Context, req services.LoginRequest) (*services.AuthResponse, error)
	RefreshFunc            func(ctx context.Context, refreshToken, ip, userAgent string) (*services.AuthResponse, error)
	LogoutFunc             func(ctx context.Context, accountID int64, sessionID string) error
	ResetPasswordFunc      func(ctx context.Context, verificationID, rawPhone, countryCode, code, newPassword, ip string) error
	RequestPhoneChangeFunc func(ctx context.Context, accountID int64, newPhone, countryCode, ip string) (string, int, error)
	ConfirmPhoneChangeFunc func(ctx context.Context, accountID int64, verificationID, newPhone, countryCode, code, ip string) error
	SendLoginOTPFunc       func(ctx context.Context, rawPhone, countryCode, ip string) (string, int, error)
}

func (m *MockAuthService) Register(ctx context.Context, req services.RegisterRequest) (*services.AuthResponse, error) {
	if m.RegisterFunc != nil {
		return m.RegisterFunc(ctx, req)
	}
	return nil, models.ErrInternalServer
}

func (m *MockAuthService) Login(ctx context.Context, req services.LoginRequest) (*services.AuthResponse, error) {
	if m.LoginFunc != nil {
		return m.LoginFunc(ctx, req)
	}
	return nil, models.ErrInternalServer
}

func (m *MockAuthService) Refresh(ctx context.Context, refreshToken, ip, userAgent string) (*services.AuthResponse, error) {
	if m.RefreshFunc != nil {
		return m.RefreshFunc(ctx, refreshToken, ip, userAgent)
	}
	return nil, models.ErrInternalServer
}

func (m *MockAuthService) Logout(ctx context.Context, accountID int64, sessionID string) error {
	if m.LogoutFunc != nil {
		return m.LogoutFunc(ctx, accountID, sessionID)
	}
	return models.ErrInternalServer
}

func (m *MockAuthService) ResetPassword(ctx context.Context, verificationID, rawPhone, countryCode, code, newPassword, ip string) error {
	if m.ResetPasswordFunc != nil {
		return m.ResetPasswordFunc(ctx, verificationID, rawPhone, countryCode, code, newPassword, ip)
	}
	return models.ErrInternalServer
}

func (m *MockAuthService) RequestPhoneChange(ctx context.Context, accountID int64, newPhone, countryCode, ip string) (string, int, error) {
	if m.RequestPhoneChangeFunc != nil {
		return m.RequestPhoneChangeFunc(ctx, accountID, newPhone, countryCode, ip)
	}
	return "", 0, models.ErrInternalServer
}

func (m *MockAuthService) ConfirmPhoneChange(ctx context.Context, accountID int64, verificationID, newPhone, countryCode, code, ip string) error {
	if m.ConfirmPhoneChangeFunc != nil {
		return m.ConfirmPhoneChangeFunc(ctx, accountID, verificationID, newPhone, countryCode, code, ip)
	}
	return models.ErrInternalServer
}

func (m *MockAuthService) SendLoginOTP(ctx context.Context, rawPhone, countryCode, ip string) (string, int, error) {
	if m.SendLoginOTPFunc != nil {
		return m.SendLoginOTPFunc(ctx, rawPhone, countryCode, ip)
	}
	return "", 0, models.ErrInternalServer
}

// MockOTPSender implements OTPSenderInterface for testing
type MockOTPSender struct {
	SendRegistrationOTPFunc  func(ctx context.Context, rawPhone, countryCode, ip string) (string, int, error)
	SendLoginOTPFunc         func(ctx context.Context, rawPhone, countryCode, ip string) (string, int, error)
	SendPasswordResetOTPFunc func(ctx context.Context, rawPhone, countryCode, ip string) (string, int, error)
}

func (m *MockOTPSender) SendRegistrationOTP(ctx context.Context, rawPhone, countryCode, ip string) (string, int, error) {
	if m.SendRegistrationOTPFunc != nil {
		return m.SendRegistrationOTPFunc(ctx, rawPhone, countryCode, ip)
	}
	return "", 0, models.ErrInternalServer
}

func (m *MockOTPSender) SendLoginOTP(ctx context.Context, rawPhone, countryCode, ip string) (string, int, error) {
	if m.SendLoginOTPFunc != nil {
		return m.SendLoginOTPFunc(ctx, rawPhone, countryCode, ip)
	}
	return "", 0, models.ErrInternalServer
}

func (m *MockOTPSender) SendPasswordResetOTP(ctx context.Context, rawPhone, countryCode, ip string) (string, int, error) {
	if m.SendPasswordResetOTPFunc != nil {
		return m.SendPasswordResetOTPFunc(ctx, rawPhone, countryCode, ip)
	}
	return "", 0, models.ErrInternalServer
}

// MockSessionService implements SessionServiceInterface for testing
type MockSessionService struct {
	ListFunc      func(ctx context.Context, accountID int64) ([]*models.Session, error)
	RevokeFunc    func(ctx context.Context, accountID int64, sessionID string) error
	RevokeAllFunc func(ctx context.Context, accountID int64) (int64, error)
}

func (m *MockSessionService) List(ctx context.Context, accountID int64) ([]*models.Session, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, accountID)
	}
	return nil, models.ErrInternalServer
}

func (m *MockSessionService) Revoke(ctx context.Context, accountID int64, sessionID string) error {
	if m.RevokeFunc != nil {
		return m.RevokeFunc(ctx, accountID, sessionID)
	}
	return models.ErrInternalServer
}

func (m *MockSessionService) RevokeAll(ctx context.Context, accountID int64) (int64, error) {
	if m.RevokeAllFunc != nil {
		return m.RevokeAllFunc(ctx, accountID)
	}
	return 0, models.ErrInternalServer
}

// MockAccountAdmin implements AccountAdminInterface for testing
type MockAccountAdmin struct {
	GetFunc             func(ctx context.Context, accountID int64) (*models.Account, error)
	ListFunc            func(ctx context.Context, limit, offset int) ([]*models.Account, error)
	SuspendFunc         func(ctx context.Context, accountID int64, reason string, until *time.Time) error
	UnsuspendFunc       func(ctx context.Context, accountID int64) error
	DeactivateFunc      func(ctx context.Context, accountID int64) error
	RequestDeletionFunc func(ctx context.Context, accountID int64) error
}

func (m *MockAccountAdmin) Get(ctx context.Context, accountID int64) (*models.Account, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, accountID)
	}
	return nil, models.ErrInternalServer
}

func (m *MockAccountAdmin) List(ctx context.Context, limit, offset int) ([]*models.Account, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, limit, offset)
	}
	return nil, models.ErrInternalServer
}

func (m *MockAccountAdmin) Suspend(ctx context.Context, accountID int64, reason string, until *time.Time) error {
	if m.SuspendFunc != nil {
		return m.SuspendFunc(ctx, accountID, reason, until)
	}
	return models.ErrInternalServer
}

func (m *MockAccountAdmin) Unsuspend(ctx context.Context, accountID int64) error {
	if m.UnsuspendFunc != nil {
		return m.UnsuspendFunc(ctx, accountID)
	}
	return models.ErrInternalServer
}

func (m *MockAccountAdmin) Deactivate(ctx context.Context, accountID int64) error {
	if m.DeactivateFunc != nil {
		return m.DeactivateFunc(ctx, accountID)
	}
	return models.ErrInternalServer
}

func (m *MockAccountAdmin) RequestDeletion(ctx context.Context, accountID int64) error {
	if m.RequestDeletionFunc != nil {
		return m.RequestDeletionFunc(ctx, accountID)
	}
	return models.ErrInternalServer
}

// MockAuditTrail implements AuditTrailInterface for testing
type MockAuditTrail struct {
	GetAccountTrailFunc func(ctx context.Context, accountID int64, limit, offset int) ([]*models.AuditLog, error)
}

func (m *MockAuditTrail) GetAccountTrail(ctx context.Context, accountID int64, limit, offset int) ([]*models.AuditLog, error) {
	if m.GetAccountTrailFunc != nil {
		return m.GetAccountTrailFunc(ctx, accountID, limit, offset)
	}
	return nil, models.ErrInternalServer
}
