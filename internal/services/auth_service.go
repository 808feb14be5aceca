package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/calderray/aegis/internal/auth"
	"github.com/calderray/aegis/internal/models"
	pkgauth "github.com/calderray/aegis/pkg/auth"
	"github.com/calderray/aegis/pkg/crypto"
	pkglogger "github.com/calderray/aegis/pkg/logger"
	"github.com/calderray/aegis/pkg/phone"
	"github.com/google/uuid"
)

// AuthService composes the OTP engine, account state machine, session
// registry and token service into the authentication flows.
type AuthService struct {
	accounts    AccountRepository
	accountSvc  *AccountService
	otp         *OTPService
	sessions    *SessionService
	tm          *auth.TokenManager
	cipher      *crypto.FieldCipher
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger

	// Phones granted the admin role at login. Populated from deployment
	// config; empty means no admin accounts exist.
	adminPhones map[string]bool
}

// NewAuthService creates a new AuthService
func NewAuthService(
	accounts AccountRepository,
	accountSvc *AccountService,
	otp *OTPService,
	sessions *SessionService,
	tm *auth.TokenManager,
	cipher *crypto.FieldCipher,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
) *AuthService {
	return &AuthService{
		accounts:    accounts,
		accountSvc:  accountSvc,
		otp:         otp,
		sessions:    sessions,
		tm:          tm,
		cipher:      cipher,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// AccountResponse represents an account in HTTP responses. The
// password hash never appears here.
type AccountResponse struct {
	UUID        string `json:"id"`
	Phone       string `json:"phone"`
	CountryCode string `json:"country_code"`
	Status      string `json:"status"`
	Verified    bool   `json:"verified"`
	CreatedAt   string `json:"created_at"`
}

// AuthResponse represents the response from auth operations
type AuthResponse struct {
	Tokens  *models.TokenPair `json:"tokens"`
	Account *AccountResponse  `json:"account"`
}

// RegisterRequest carries the inputs to complete a registration.
type RegisterRequest struct {
	VerificationID string
	Phone          string
	CountryCode    string
	Code           string
	Password       string
	Device         DeviceInfo
	IP             string
	UserAgent      string
}

// LoginRequest carries the inputs to a login. Exactly one of Password
// or the OTP fields is used.
type LoginRequest struct {
	Phone          string
	CountryCode    string
	Password       string
	VerificationID string
	Code           string
	Device         DeviceInfo
	IP             string
	UserAgent      string
}

// Register completes a registration after the phone has passed an OTP
// challenge.
func (s *AuthService) Register(ctx context.Context, req RegisterRequest) (*AuthResponse, error) {
	normalized, countryCode, err := phone.NormalizeE164(req.Phone, req.CountryCode)
	if err != nil {
		return nil, models.ValidationError("invalid phone number")
	}

	challenge, err := s.otp.Verify(ctx, req.VerificationID, normalized, req.Code, req.IP)
	if err != nil {
		return nil, err
	}
	if challenge.Purpose != models.OTPPurposeRegistration {
		return nil, models.ErrInvalidOTP
	}

	if _, err := s.accounts.GetByPhone(ctx, normalized); err == nil {
		s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "register_failed",
			IPAddress:     req.IP,
			FailureReason: "duplicate_phone",
		})
		return nil, models.ErrDuplicatePhone
	} else if !errors.Is(err, models.ErrNotFound) {
		s.logger.Error("failed to check phone uniqueness", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := pkgauth.ValidatePassword(req.Password); err != nil {
		return nil, models.ValidationError(err.Error())
	}

	passwordHash, err := pkgauth.HashPassword(req.Password)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	// Verification provenance is PII-adjacent; it goes into the store
	// only inside an envelope. A failure here aborts the registration
	// since new data must never land unprotected.
	blob, err := s.cipher.EncryptJSON(map[string]any{
		"method":      "otp",
		"verified_at": time.Now().UTC().Format(time.RFC3339),
		"request_ip":  req.IP,
	})
	if err != nil {
		s.logger.Error("failed to encrypt verification payload", slog.Any("error", err))
		return nil, models.ErrEncryptionFailed
	}

	now := time.Now()
	account := &models.Account{
		Phone:             normalized,
		CountryCode:       countryCode,
		PasswordHash:      passwordHash,
		PasswordChangedAt: &now,
		RegistrationIP:    req.IP,
		Status:            models.StatusActive,
		Verified:          true,
		VerificationBlob:  blob,
	}

	// The account and its first session commit together. If minting
	// tokens or inserting the session fails, the account insert rolls
	// back too, so a retry never trips the duplicate-phone check.
	var pair *models.TokenPair
	created, _, err := s.accounts.CreateWithSession(ctx, account, func(created *models.Account) (*models.Session, error) {
		sessionID := uuid.New().String()
		minted, err := s.tm.IssuePair(auth.PairInput{
			AccountID: created.ID,
			SessionID: sessionID,
			DeviceID:  req.Device.DeviceID,
			Roles:     s.accountRoles(created),
		})
		if err != nil {
			return nil, err
		}
		pair = minted
		return s.sessions.build(sessionID, created.ID, req.Device, crypto.Hash(minted.RefreshToken), req.IP, req.UserAgent), nil
	})
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			// Lost a registration race on the same phone.
			return nil, models.ErrDuplicatePhone
		}
		s.logger.Error("failed to create account", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "register_success",
		AccountID: created.ID,
		IPAddress: req.IP,
		UserAgent: req.UserAgent,
		Success:   true,
	})

	return &AuthResponse{
		Tokens:  pair,
		Account: accountModelToResponse(created),
	}, nil
}

// Login authenticates by password or by a login OTP and opens a
// session. Unknown phone and wrong password both report
// ErrInvalidCredentials; account state errors are distinct because by
// then the caller has already proven nothing about the phone.
func (s *AuthService) Login(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	normalized, _, err := phone.NormalizeE164(req.Phone, req.CountryCode)
	if err != nil {
		return nil, models.ErrInvalidCredentials
	}

	account, err := s.accounts.GetByPhone(ctx, normalized)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
				EventType:     "login_failed",
				IPAddress:     req.IP,
				FailureReason: "invalid_credentials",
			})
			return nil, models.ErrInvalidCredentials
		}
		s.logger.Error("failed to load account", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	// Deactivated and pending-deletion accounts are not blocked: a
	// successful credential check below reactivates them in place.
	needsReactivation := false
	if err := s.accountSvc.CanLogin(ctx, account); err != nil {
		if errors.Is(err, models.ErrAccountDeactivated) || errors.Is(err, models.ErrAccountPendingDeletion) {
			needsReactivation = true
		} else {
			s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
				EventType:     "login_failed",
				AccountID:     account.ID,
				IPAddress:     req.IP,
				FailureReason: "account_blocked",
			})
			return nil, err
		}
	}

	switch {
	case req.Password != "":
		if err := pkgauth.ComparePassword(account.PasswordHash, req.Password); err != nil {
			if _, recErr := s.accountSvc.RecordFailedLogin(ctx, account.ID); recErr != nil {
				return nil, recErr
			}
			s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
				EventType:     "login_failed",
				AccountID:     account.ID,
				IPAddress:     req.IP,
				FailureReason: "invalid_credentials",
			})
			return nil, models.ErrInvalidCredentials
		}
	case req.VerificationID != "" && req.Code != "":
		challenge, err := s.otp.Verify(ctx, req.VerificationID, normalized, req.Code, req.IP)
		if err != nil {
			return nil, err
		}
		if challenge.Purpose != models.OTPPurposeLogin {
			return nil, models.ErrInvalidOTP
		}
	default:
		return nil, models.ValidationError("password or verification code is required")
	}

	if needsReactivation {
		if err := s.accountSvc.Reactivate(ctx, account.ID); err != nil {
			return nil, err
		}
		account.Status = models.StatusActive
	}

	if err := s.accounts.RecordLogin(ctx, account.ID, req.IP); err != nil {
		s.logger.Error("failed to record login", slog.Int64("account_id", account.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	resp, err := s.establishSession(ctx, account, req.Device, req.IP, req.UserAgent)
	if err != nil {
		return nil, err
	}

	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "login_success",
		AccountID: account.ID,
		IPAddress: req.IP,
		UserAgent: req.UserAgent,
		Success:   true,
	})

	return resp, nil
}

// Refresh exchanges a refresh token for a new pair. The token must
// match the hash currently stored on its session; under concurrent
// refreshes with the same token only the first caller wins, and the
// loser's session is revoked as a reuse signal.
func (s *AuthService) Refresh(ctx context.Context, refreshToken, ip, userAgent string) (*AuthResponse, error) {
	claims, err := s.tm.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, err
	}

	session, err := s.sessions.repo.GetByID(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrSessionNotFound
		}
		s.logger.Error("failed to load session", slog.String("session_id", claims.SessionID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if !session.IsValid() {
		return nil, models.ErrSessionExpired
	}

	account, err := s.accounts.GetByID(ctx, session.AccountID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrInvalidToken
		}
		s.logger.Error("failed to load account", slog.Int64("account_id", session.AccountID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := s.accountSvc.CanLogin(ctx, account); err != nil {
		return nil, err
	}

	// A password change invalidates all refresh tokens minted before it.
	if account.PasswordChangedAt != nil && claims.IssuedAt != nil &&
		claims.IssuedAt.Time.Before(*account.PasswordChangedAt) {
		return nil, models.ErrInvalidToken
	}

	pair, err := s.tm.IssuePair(auth.PairInput{
		AccountID: account.ID,
		SessionID: session.ID,
		DeviceID:  session.DeviceID,
		Roles:     s.accountRoles(account),
	})
	if err != nil {
		s.logger.Error("failed to issue token pair", slog.Int64("account_id", account.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	oldHash := crypto.Hash(refreshToken)
	newHash := crypto.Hash(pair.RefreshToken)

	rotated, err := s.sessions.Rotate(ctx, session.ID, oldHash, newHash)
	if err != nil {
		return nil, err
	}
	if !rotated {
		// The presented token was already rotated away. Treat it as
		// stolen-token replay and kill the session outright.
		s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "refresh_reuse_detected",
			AccountID:     account.ID,
			IPAddress:     ip,
			FailureReason: "stale_refresh_token",
		})
		if revokeErr := s.sessions.repo.Revoke(ctx, session.ID); revokeErr != nil && !errors.Is(revokeErr, models.ErrSessionNotFound) {
			s.logger.Error("failed to revoke session after reuse", slog.String("session_id", session.ID), slog.Any("error", revokeErr))
		}
		return nil, models.ErrInvalidToken
	}

	if err := s.sessions.Touch(ctx, session.ID, ip, userAgent); err != nil && !errors.Is(err, models.ErrSessionNotFound) {
		s.logger.Warn("failed to touch session on refresh", slog.String("session_id", session.ID), slog.Any("error", err))
	}

	return &AuthResponse{
		Tokens:  pair,
		Account: accountModelToResponse(account),
	}, nil
}

// Logout revokes the session behind the presented access token.
func (s *AuthService) Logout(ctx context.Context, accountID int64, sessionID string) error {
	if err := s.sessions.Revoke(ctx, accountID, sessionID); err != nil {
		return err
	}

	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "logout",
		AccountID: accountID,
		Success:   true,
	})
	return nil
}

// ResetPassword sets a new password after an OTP challenge and forces
// re-login everywhere by revoking every session.
func (s *AuthService) ResetPassword(ctx context.Context, verificationID, rawPhone, countryCode, code, newPassword, ip string) error {
	normalized, _, err := phone.NormalizeE164(rawPhone, countryCode)
	if err != nil {
		return models.ValidationError("invalid phone number")
	}

	challenge, err := s.otp.Verify(ctx, verificationID, normalized, code, ip)
	if err != nil {
		return err
	}
	if challenge.Purpose != models.OTPPurposePasswordReset {
		return models.ErrInvalidOTP
	}

	account, err := s.accounts.GetByPhone(ctx, normalized)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// The OTP proved phone ownership, so absence is safe to report.
			return models.ErrNotFound
		}
		s.logger.Error("failed to load account", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if account.SuspensionActive() {
		return models.SuspendedUntil(account.SuspensionUntil)
	}
	if account.Status == models.StatusPendingDeletion {
		return models.ErrAccountPendingDeletion
	}

	if err := pkgauth.ValidatePassword(newPassword); err != nil {
		return models.ValidationError(err.Error())
	}

	passwordHash, err := pkgauth.HashPassword(newPassword)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if err := s.accounts.UpdatePassword(ctx, account.ID, passwordHash); err != nil {
		s.logger.Error("failed to update password", slog.Int64("account_id", account.ID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	if err := s.accounts.ResetFailedAttempts(ctx, account.ID); err != nil {
		s.logger.Error("failed to reset attempt counters", slog.Int64("account_id", account.ID), slog.Any("error", err))
	}

	if _, err := s.sessions.RevokeAll(ctx, account.ID); err != nil {
		return err
	}

	s.auditLogger.LogAccountAction("password_reset", account.ID, ip, nil)
	s.accountSvc.recordAudit(ctx, account.ID, "password_reset", ip, map[string]any{
		"sessions_revoked": true,
	})
	return nil
}

// RequestPhoneChange starts a phone-change flow by challenging the new
// number. The challenge is bound to the requesting account.
func (s *AuthService) RequestPhoneChange(ctx context.Context, accountID int64, newPhone, countryCode, ip string) (string, int, error) {
	normalized, cc, err := phone.NormalizeE164(newPhone, countryCode)
	if err != nil {
		return "", 0, models.ValidationError("invalid phone number")
	}

	if _, err := s.accounts.GetByPhone(ctx, normalized); err == nil {
		return "", 0, models.ErrDuplicatePhone
	} else if !errors.Is(err, models.ErrNotFound) {
		s.logger.Error("failed to check phone uniqueness", slog.Any("error", err))
		return "", 0, models.ErrInternalServer
	}

	return s.otp.Send(ctx, normalized, cc, models.OTPPurposePhoneChange, ip, &accountID)
}

// ConfirmPhoneChange completes the flow once the new number passes its
// challenge. The challenge must belong to the same account that opened
// it.
func (s *AuthService) ConfirmPhoneChange(ctx context.Context, accountID int64, verificationID, newPhone, countryCode, code, ip string) error {
	normalized, cc, err := phone.NormalizeE164(newPhone, countryCode)
	if err != nil {
		return models.ValidationError("invalid phone number")
	}

	challenge, err := s.otp.Verify(ctx, verificationID, normalized, code, ip)
	if err != nil {
		return err
	}
	if challenge.Purpose != models.OTPPurposePhoneChange {
		return models.ErrInvalidOTP
	}
	if challenge.AccountID == nil || *challenge.AccountID != accountID {
		return models.ErrInvalidOTP
	}

	if err := s.accounts.UpdatePhone(ctx, accountID, normalized, cc); err != nil {
		if errors.Is(err, models.ErrConflict) {
			return models.ErrDuplicatePhone
		}
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		s.logger.Error("failed to update phone", slog.Int64("account_id", accountID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.auditLogger.LogAccountAction("phone_changed", accountID, ip, map[string]string{
		"new_phone": pkglogger.SanitizedPhone(normalized),
	})
	return nil
}

// SendLoginOTP issues a login challenge for a registered phone. The
// response is identical whether or not the phone exists, so the
// endpoint cannot be used to probe registrations.
func (s *AuthService) SendLoginOTP(ctx context.Context, rawPhone, countryCode, ip string) (string, int, error) {
	normalized, cc, err := phone.NormalizeE164(rawPhone, countryCode)
	if err != nil {
		return "", 0, models.ValidationError("invalid phone number")
	}

	if _, err := s.accounts.GetByPhone(ctx, normalized); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// Burn an opaque handle without sending anything.
			return s.burnerHandle()
		}
		s.logger.Error("failed to load account", slog.Any("error", err))
		return "", 0, models.ErrInternalServer
	}

	return s.otp.Send(ctx, normalized, cc, models.OTPPurposeLogin, ip, nil)
}

// SendRegistrationOTP issues a registration challenge. The phone does
// not have to be unregistered; duplicates are rejected at Register so
// this endpoint leaks nothing either way.
func (s *AuthService) SendRegistrationOTP(ctx context.Context, rawPhone, countryCode, ip string) (string, int, error) {
	normalized, cc, err := phone.NormalizeE164(rawPhone, countryCode)
	if err != nil {
		return "", 0, models.ValidationError("invalid phone number")
	}

	return s.otp.Send(ctx, normalized, cc, models.OTPPurposeRegistration, ip, nil)
}

// SendPasswordResetOTP issues a password reset challenge. Unknown
// phones get a burner handle, the same as SendLoginOTP.
func (s *AuthService) SendPasswordResetOTP(ctx context.Context, rawPhone, countryCode, ip string) (string, int, error) {
	normalized, cc, err := phone.NormalizeE164(rawPhone, countryCode)
	if err != nil {
		return "", 0, models.ValidationError("invalid phone number")
	}

	account, err := s.accounts.GetByPhone(ctx, normalized)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return s.burnerHandle()
		}
		s.logger.Error("failed to load account", slog.Any("error", err))
		return "", 0, models.ErrInternalServer
	}

	return s.otp.Send(ctx, normalized, cc, models.OTPPurposePasswordReset, ip, &account.ID)
}

// burnerHandle mints a handle shaped exactly like a real verification
// id, so callers cannot tell an unregistered phone from a sent code.
func (s *AuthService) burnerHandle() (string, int, error) {
	handle, err := crypto.GenerateSecureRandom(verificationIDLength)
	if err != nil {
		s.logger.Error("failed to generate burner handle", slog.Any("error", err))
		return "", 0, models.ErrInternalServer
	}
	return handle, s.otp.ExpirySeconds(), nil
}

// establishSession opens a session and mints the token pair for it.
func (s *AuthService) establishSession(ctx context.Context, account *models.Account, device DeviceInfo, ip, userAgent string) (*AuthResponse, error) {
	sessionID := uuid.New().String()

	pair, err := s.tm.IssuePair(auth.PairInput{
		AccountID: account.ID,
		SessionID: sessionID,
		DeviceID:  device.DeviceID,
		Roles:     s.accountRoles(account),
	})
	if err != nil {
		s.logger.Error("failed to issue token pair", slog.Int64("account_id", account.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if _, err := s.sessions.Create(ctx, sessionID, account.ID, device, crypto.Hash(pair.RefreshToken), ip, userAgent); err != nil {
		return nil, err
	}

	return &AuthResponse{
		Tokens:  pair,
		Account: accountModelToResponse(account),
	}, nil
}

// SetAdminPhones grants the admin role to the given E.164 numbers on
// their next login.
func (s *AuthService) SetAdminPhones(phones []string) {
	s.adminPhones = make(map[string]bool, len(phones))
	for _, p := range phones {
		s.adminPhones[p] = true
	}
}

func (s *AuthService) accountRoles(account *models.Account) []string {
	if s.adminPhones[account.Phone] {
		return []string{"user", "admin"}
	}
	return []string{"user"}
}

func accountModelToResponse(account *models.Account) *AccountResponse {
	return &AccountResponse{
		UUID:        account.UUID,
		Phone:       account.Phone,
		CountryCode: account.CountryCode,
		Status:      account.Status,
		Verified:    account.Verified,
		CreatedAt:   account.CreatedAt.Format(time.RFC3339),
	}
}
