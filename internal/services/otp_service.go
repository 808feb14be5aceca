package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/calderray/aegis/internal/models"
	"github.com/calderray/aegis/internal/ratelimit"
	"github.com/calderray/aegis/pkg/crypto"
	pkglogger "github.com/calderray/aegis/pkg/logger"
)

// OTPRepository defines the interface for OTP challenge persistence
type OTPRepository interface {
	Create(ctx context.Context, challenge *models.OTPChallenge) (*models.OTPChallenge, error)
	GetByVerificationID(ctx context.Context, verificationID string) (*models.OTPChallenge, error)
	IncrementAttempts(ctx context.Context, verificationID string) (int, error)
	Consume(ctx context.Context, verificationID string) (bool, error)
	Delete(ctx context.Context, verificationID string) error
	DeleteExpired(ctx context.Context, retention time.Duration) (int64, error)
}

// OTPConfig holds the challenge parameters
type OTPConfig struct {
	CodeLength  int
	Expiry      time.Duration
	MaxAttempts int
}

// OTPService issues and verifies one-time codes. Codes are stored only
// as hashes; the verification id handed back to the client is a
// separate opaque handle that cannot be derived from the code.
type OTPService struct {
	repo        OTPRepository
	sms         SMSService
	limiter     *ratelimit.Limiter
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	cfg         OTPConfig
}

// NewOTPService creates a new OTPService
func NewOTPService(repo OTPRepository, sms SMSService, limiter *ratelimit.Limiter, logger *slog.Logger, auditLogger *pkglogger.AuditLogger, cfg OTPConfig) *OTPService {
	return &OTPService{
		repo:        repo,
		sms:         sms,
		limiter:     limiter,
		logger:      logger,
		auditLogger: auditLogger,
		cfg:         cfg,
	}
}

// SendTiers are the per-phone send limits, checked together so a
// rejected request leaves no trace in any tier.
func SendTiers() []ratelimit.Tier {
	return []ratelimit.Tier{
		{Name: "burst", Window: time.Minute, Max: 1},
		{Name: "hourly", Window: time.Hour, Max: 5},
		{Name: "daily", Window: 24 * time.Hour, Max: 20},
	}
}

// verificationIDLength sizes the opaque handle handed to clients.
const verificationIDLength = 32

// ExpirySeconds reports the challenge lifetime clients should display.
func (s *OTPService) ExpirySeconds() int {
	return int(s.cfg.Expiry.Seconds())
}

// Send issues a new challenge for the phone number and delivers the
// code over SMS. Returns the verification id the client must present
// when verifying, plus the challenge lifetime in seconds. accountID is
// set only for phone-change challenges.
func (s *OTPService) Send(ctx context.Context, phone, countryCode, purpose, requesterIP string, accountID *int64) (string, int, error) {
	// Limits apply per phone and purpose, so a login challenge does
	// not starve a concurrent password reset for the same number.
	if err := s.limiter.Allow(ctx, "otp:"+phone+":"+purpose); err != nil {
		if errors.Is(err, models.ErrRateLimitExceeded) {
			s.auditLogger.LogOTPEvent("otp_send_rate_limited", phone, purpose, requesterIP, false)
			return "", 0, models.ErrRateLimitExceeded
		}
		s.logger.Error("rate limit check failed", slog.Any("error", err))
		return "", 0, models.ErrInternalServer
	}

	code, err := crypto.GenerateNumericCode(s.cfg.CodeLength)
	if err != nil {
		s.logger.Error("failed to generate otp code", slog.Any("error", err))
		return "", 0, models.ErrInternalServer
	}

	verificationID, err := crypto.GenerateSecureRandom(verificationIDLength)
	if err != nil {
		s.logger.Error("failed to generate verification id", slog.Any("error", err))
		return "", 0, models.ErrInternalServer
	}

	now := time.Now()
	challenge := &models.OTPChallenge{
		VerificationID: verificationID,
		Phone:          phone,
		CountryCode:    countryCode,
		CodeHash:       crypto.GenerateHMAC(code, []byte(verificationID)),
		Purpose:        purpose,
		AccountID:      accountID,
		IssuedAt:       now,
		ExpiresAt:      now.Add(s.cfg.Expiry),
		MaxAttempts:    s.cfg.MaxAttempts,
		RequesterIP:    requesterIP,
	}

	created, err := s.repo.Create(ctx, challenge)
	if err != nil {
		s.logger.Error("failed to store otp challenge", slog.Any("error", err))
		return "", 0, models.ErrInternalServer
	}

	expiryMinutes := int(s.cfg.Expiry.Minutes())
	if err := s.sms.SendVerificationCode(ctx, phone, code, expiryMinutes); err != nil {
		// A challenge nobody received is unverifiable dead weight;
		// remove it so the client can retry cleanly.
		if delErr := s.repo.Delete(ctx, created.VerificationID); delErr != nil && !errors.Is(delErr, models.ErrNotFound) {
			s.logger.Error("failed to clean up undelivered challenge",
				slog.String("verification_id", created.VerificationID),
				slog.Any("error", delErr))
		}
		s.auditLogger.LogOTPEvent("otp_send_failed", phone, purpose, requesterIP, false)
		return "", 0, models.ErrInternalServer
	}

	s.auditLogger.LogOTPEvent("otp_sent", phone, purpose, requesterIP, true)

	return created.VerificationID, s.ExpirySeconds(), nil
}

// Verify checks a submitted code against the challenge and consumes it
// on success. Failure modes are reported in a fixed order so callers
// cannot probe challenge state: unknown handle and wrong phone look
// identical, and a consumed challenge never verifies twice.
func (s *OTPService) Verify(ctx context.Context, verificationID, phone, code, requesterIP string) (*models.OTPChallenge, error) {
	challenge, err := s.repo.GetByVerificationID(ctx, verificationID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.auditLogger.LogOTPEvent("otp_verify_failed", phone, "", requesterIP, false)
			return nil, models.ErrInvalidOTP
		}
		s.logger.Error("failed to load otp challenge", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if challenge.Phone != phone {
		s.auditLogger.LogOTPEvent("otp_verify_failed", phone, challenge.Purpose, requesterIP, false)
		return nil, models.ErrInvalidOTP
	}

	if challenge.Verified {
		s.auditLogger.LogOTPEvent("otp_reuse_attempt", phone, challenge.Purpose, requesterIP, false)
		return nil, models.ErrInvalidOTP
	}

	if challenge.IsExpired() {
		s.auditLogger.LogOTPEvent("otp_verify_expired", phone, challenge.Purpose, requesterIP, false)
		return nil, models.ErrExpiredOTP
	}

	if challenge.AttemptsExhausted() {
		s.auditLogger.LogOTPEvent("otp_verify_exhausted", phone, challenge.Purpose, requesterIP, false)
		return nil, models.ErrOTPMaxAttemptsExceeded
	}

	// The code hash is keyed by the verification id, so a stolen hash
	// table cannot be checked against codes without the client handles.
	if !crypto.VerifyHMAC(code, challenge.CodeHash, []byte(challenge.VerificationID)) {
		// Record the attempt before reporting failure so a dropped
		// connection cannot earn a free retry.
		attempts, err := s.repo.IncrementAttempts(ctx, verificationID)
		if err != nil {
			s.logger.Error("failed to record otp attempt", slog.Any("error", err))
			return nil, models.ErrInternalServer
		}

		s.auditLogger.LogOTPEvent("otp_verify_failed", phone, challenge.Purpose, requesterIP, false)

		if attempts >= challenge.MaxAttempts {
			return nil, models.ErrOTPMaxAttemptsExceeded
		}
		return nil, models.InvalidOTPWithRemaining(challenge.MaxAttempts - attempts)
	}

	consumed, err := s.repo.Consume(ctx, verificationID)
	if err != nil {
		s.logger.Error("failed to consume otp challenge", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if !consumed {
		// Lost the race to a concurrent verification with the same code.
		s.auditLogger.LogOTPEvent("otp_reuse_attempt", phone, challenge.Purpose, requesterIP, false)
		return nil, models.ErrInvalidOTP
	}

	s.auditLogger.LogOTPEvent("otp_verified", phone, challenge.Purpose, requesterIP, true)

	return challenge, nil
}
