package integration

import (
	"context"
	"encoding/base64"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/calderray/aegis/internal/auth"
	"github.com/calderray/aegis/internal/models"
	"github.com/calderray/aegis/internal/ratelimit"
	"github.com/calderray/aegis/internal/services"
	"github.com/calderray/aegis/pkg/crypto"
	pkglogger "github.com/calderray/aegis/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testStack is the full service graph wired over a real database, with
// SMS delivery captured in memory.
type testStack struct {
	auth *services.AuthService
	sms  *services.MockSMSService
}

func newTestStack(t *testing.T, db *TestDB) *testStack {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	auditLogger := pkglogger.NewAuditLogger(logger)

	accountRepo, otpRepo, sessionRepo, auditRepo := InitializeRepositories(db.DB)

	key := base64.StdEncoding.EncodeToString(make([]byte, 32))
	cipher, err := crypto.NewFieldCipher(key, "")
	require.NoError(t, err)

	tm := auth.NewTokenManager(auth.TokenManagerConfig{
		AccessSecret:  "integration-access-secret-0000",
		RefreshSecret: "integration-refresh-secret-000",
		AccessExpiry:  15 * time.Minute,
		RefreshExpiry: 24 * time.Hour,
		Issuer:        "aegis",
		Audience:      "aegis-api",
	})

	sms := &services.MockSMSService{}
	// Flow tests send several codes to one phone in quick succession, so
	// the production burst tier is relaxed here.
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore(), []ratelimit.Tier{
		{Name: "burst", Window: time.Minute, Max: 100},
	})
	otpSvc := services.NewOTPService(otpRepo, sms, limiter, logger, auditLogger, services.OTPConfig{
		CodeLength:  6,
		Expiry:      5 * time.Minute,
		MaxAttempts: 5,
	})
	sessionSvc := services.NewSessionService(sessionRepo, logger, auditLogger, 5, 24*time.Hour)
	auditSvc := services.NewAuditService(auditRepo, logger)
	accountSvc := services.NewAccountService(accountRepo, sessionSvc, auditSvc, logger, auditLogger, services.LockoutPolicy{
		Threshold: 5,
		Window:    15 * time.Minute,
	})
	authSvc := services.NewAuthService(accountRepo, accountSvc, otpSvc, sessionSvc, tm, cipher, logger, auditLogger)

	return &testStack{auth: authSvc, sms: sms}
}

func (s *testStack) lastCode(t *testing.T) string {
	t.Helper()
	require.NotEmpty(t, s.sms.SentCodes, "no SMS was sent")
	return s.sms.SentCodes[len(s.sms.SentCodes)-1]
}

func TestAuthFlow_RegisterLoginRefreshLogout(t *testing.T) {
	db, ctx := setupDB(t)
	stack := newTestStack(t, db)

	phone := TestPhone()

	// Registration requires a consumed OTP challenge
	verificationID, _, err := stack.auth.SendRegistrationOTP(ctx, phone, "US", "127.0.0.1")
	require.NoError(t, err)

	registered, err := stack.auth.Register(ctx, services.RegisterRequest{
		VerificationID: verificationID,
		Phone:          phone,
		Code:           stack.lastCode(t),
		Password:       TestPassword,
		IP:             "127.0.0.1",
		UserAgent:      "integration-test",
	})
	require.NoError(t, err)
	require.NotNil(t, registered.Tokens)
	assert.Equal(t, models.StatusActive, registered.Account.Status)

	// Password login
	loggedIn, err := stack.auth.Login(ctx, services.LoginRequest{
		Phone:     phone,
		Password:  TestPassword,
		IP:        "127.0.0.1",
		UserAgent: "integration-test",
	})
	require.NoError(t, err)
	require.NotNil(t, loggedIn.Tokens)

	// Refresh rotates the pair; the old refresh token is dead afterwards
	refreshed, err := stack.auth.Refresh(ctx, loggedIn.Tokens.RefreshToken, "127.0.0.1", "integration-test")
	require.NoError(t, err)
	assert.NotEqual(t, loggedIn.Tokens.RefreshToken, refreshed.Tokens.RefreshToken)

	_, err = stack.auth.Refresh(ctx, loggedIn.Tokens.RefreshToken, "127.0.0.1", "integration-test")
	require.Error(t, err, "replaying the pre-rotation refresh token must fail")

	// A replayed refresh token revokes the session entirely
	_, err = stack.auth.Refresh(ctx, refreshed.Tokens.RefreshToken, "127.0.0.1", "integration-test")
	require.Error(t, err)
}

func TestAuthFlow_OTPLogin(t *testing.T) {
	db, ctx := setupDB(t)
	stack := newTestStack(t, db)

	phone := TestPhone()
	seedRegisteredAccount(t, ctx, stack, phone)

	verificationID, expiresIn, err := stack.auth.SendLoginOTP(ctx, phone, "US", "127.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, 300, expiresIn)

	loggedIn, err := stack.auth.Login(ctx, services.LoginRequest{
		Phone:          phone,
		VerificationID: verificationID,
		Code:           stack.lastCode(t),
		IP:             "127.0.0.1",
	})
	require.NoError(t, err)
	assert.NotNil(t, loggedIn.Tokens)

	// The same challenge cannot authenticate twice
	_, err = stack.auth.Login(ctx, services.LoginRequest{
		Phone:          phone,
		VerificationID: verificationID,
		Code:           stack.lastCode(t),
		IP:             "127.0.0.1",
	})
	require.Error(t, err)
}

func TestAuthFlow_UnknownPhoneGetsBurnerHandle(t *testing.T) {
	db, ctx := setupDB(t)
	stack := newTestStack(t, db)

	handle, expiresIn, err := stack.auth.SendLoginOTP(ctx, TestPhone(), "US", "127.0.0.1")
	require.NoError(t, err)
	assert.NotEmpty(t, handle)
	assert.Equal(t, 300, expiresIn, "burner handles must carry the same expiry as real challenges")
	assert.Empty(t, stack.sms.SentCodes, "no SMS may be sent for an unregistered phone")
}

func TestAuthFlow_PasswordReset(t *testing.T) {
	db, ctx := setupDB(t)
	stack := newTestStack(t, db)

	phone := TestPhone()
	seedRegisteredAccount(t, ctx, stack, phone)

	verificationID, _, err := stack.auth.SendPasswordResetOTP(ctx, phone, "US", "127.0.0.1")
	require.NoError(t, err)

	const newPassword = "Rotated!Pass9"
	err = stack.auth.ResetPassword(ctx, verificationID, phone, "US", stack.lastCode(t), newPassword, "127.0.0.1")
	require.NoError(t, err)

	// Old password no longer works
	_, err = stack.auth.Login(ctx, services.LoginRequest{
		Phone:    phone,
		Password: TestPassword,
		IP:       "127.0.0.1",
	})
	require.Error(t, err)

	// New password does
	_, err = stack.auth.Login(ctx, services.LoginRequest{
		Phone:    phone,
		Password: newPassword,
		IP:       "127.0.0.1",
	})
	require.NoError(t, err)
}

// seedRegisteredAccount registers an account through the public flow so
// state matches production rows exactly.
func seedRegisteredAccount(t *testing.T, ctx context.Context, stack *testStack, phone string) {
	t.Helper()

	verificationID, _, err := stack.auth.SendRegistrationOTP(ctx, phone, "US", "127.0.0.1")
	require.NoError(t, err)

	_, err = stack.auth.Register(ctx, services.RegisterRequest{
		VerificationID: verificationID,
		Phone:          phone,
		Code:           stack.lastCode(t),
		Password:       TestPassword,
		IP:             "127.0.0.1",
	})
	require.NoError(t, err)
}
