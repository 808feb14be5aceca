package services

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/calderray/aegis/internal/models"
	pkglogger "github.com/calderray/aegis/pkg/logger"
)

// MockAccountRepository implements AccountRepository for testing
type MockAccountRepository struct {
	GetByIDFunc                 func(ctx context.Context, id int64) (*models.Account, error)
	GetByUUIDFunc               func(ctx context.Context, accountUUID string) (*models.Account, error)
	GetByPhoneFunc              func(ctx context.Context, phone string) (*models.Account, error)
	ListFunc                    func(ctx context.Context, limit, offset int) ([]*models.Account, error)
	CreateWithSessionFunc       func(ctx context.Context, account *models.Account, makeSession func(created *models.Account) (*models.Session, error)) (*models.Account, *models.Session, error)
	UpdateStatusFunc            func(ctx context.Context, id int64, status string, reason *string, until *time.Time) error
	SuspendWithSessionsFunc     func(ctx context.Context, id int64, reason *string, until *time.Time) (int64, error)
	UpdatePasswordFunc          func(ctx context.Context, id int64, passwordHash string) error
	UpdatePhoneFunc             func(ctx context.Context, id int64, phone, countryCode string) error
	IncrementFailedAttemptsFunc func(ctx context.Context, id int64) (int, error)
	ResetFailedAttemptsFunc     func(ctx context.Context, id int64) error
	RecordLoginFunc             func(ctx context.Context, id int64, ip string) error
	MarkVerifiedFunc            func(ctx context.Context, id int64) error
}

func (m *MockAccountRepository) GetByID(ctx context.Context, id int64) (*models.Account, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockAccountRepository) GetByUUID(ctx context.Context, accountUUID string) (*models.Account, error) {
	if m.GetByUUIDFunc != nil {
		return m.GetByUUIDFunc(ctx, accountUUID)
	}
	return nil, models.ErrNotFound
}

func (m *MockAccountRepository) GetByPhone(ctx context.Context, phone string) (*models.Account, error) {
	if m.GetByPhoneFunc != nil {
		return m.GetByPhoneFunc(ctx, phone)
	}
	return nil, models.ErrNotFound
}

func (m *MockAccountRepository) List(ctx context.Context, limit, offset int) ([]*models.Account, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, limit, offset)
	}
	return []*models.Account{}, nil
}

func (m *MockAccountRepository) CreateWithSession(ctx context.Context, account *models.Account, makeSession func(created *models.Account) (*models.Session, error)) (*models.Account, *models.Session, error) {
	if m.CreateWithSessionFunc != nil {
		return m.CreateWithSessionFunc(ctx, account, makeSession)
	}
	return nil, nil, models.ErrInternalServer
}

func (m *MockAccountRepository) UpdateStatus(ctx context.Context, id int64, status string, reason *string, until *time.Time) error {
	if m.UpdateStatusFunc != nil {
		return m.UpdateStatusFunc(ctx, id, status, reason, until)
	}
	return nil
}

func (m *MockAccountRepository) SuspendWithSessions(ctx context.Context, id int64, reason *string, until *time.Time) (int64, error) {
	if m.SuspendWithSessionsFunc != nil {
		return m.SuspendWithSessionsFunc(ctx, id, reason, until)
	}
	return 0, nil
}

func (m *MockAccountRepository) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	if m.UpdatePasswordFunc != nil {
		return m.UpdatePasswordFunc(ctx, id, passwordHash)
	}
	return nil
}

func (m *MockAccountRepository) UpdatePhone(ctx context.Context, id int64, phone, countryCode string) error {
	if m.UpdatePhoneFunc != nil {
		return m.UpdatePhoneFunc(ctx, id, phone, countryCode)
	}
	return nil
}

func (m *MockAccountRepository) IncrementFailedAttempts(ctx context.Context, id int64) (int, error) {
	if m.IncrementFailedAttemptsFunc != nil {
		return m.IncrementFailedAttemptsFunc(ctx, id)
	}
	return 1, nil
}

func (m *MockAccountRepository) ResetFailedAttempts(ctx context.Context, id int64) error {
	if m.ResetFailedAttemptsFunc != nil {
		return m.ResetFailedAttemptsFunc(ctx, id)
	}
	return nil
}

func (m *MockAccountRepository) RecordLogin(ctx context.Context, id int64, ip string) error {
	if m.RecordLoginFunc != nil {
		return m.RecordLoginFunc(ctx, id, ip)
	}
	return nil
}

func (m *MockAccountRepository) MarkVerified(ctx context.Context, id int64) error {
	if m.MarkVerifiedFunc != nil {
		return m.MarkVerifiedFunc(ctx, id)
	}
	return nil
}

// MockOTPRepository implements OTPRepository for testing
type MockOTPRepository struct {
	CreateFunc              func(ctx context.Context, challenge *models.OTPChallenge) (*models.OTPChallenge, error)
	GetByVerificationIDFunc func(ctx context.Context, verificationID string) (*models.OTPChallenge, error)
	IncrementAttemptsFunc   func(ctx context.Context, verificationID string) (int, error)
	ConsumeFunc             func(ctx context.Context, verificationID string) (bool, error)
	DeleteFunc              func(ctx context.Context, verificationID string) error
	DeleteExpiredFunc       func(ctx context.Context, retention time.Duration) (int64, error)
}

func (m *MockOTPRepository) Create(ctx context.Context, challenge *models.OTPChallenge) (*models.OTPChallenge, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, challenge)
	}
	return challenge, nil
}

func (m *MockOTPRepository) GetByVerificationID(ctx context.Context, verificationID string) (*models.OTPChallenge, error) {
	if m.GetByVerificationIDFunc != nil {
		return m.GetByVerificationIDFunc(ctx, verificationID)
	}
	return nil, models.ErrNotFound
}

func (m *MockOTPRepository) IncrementAttempts(ctx context.Context, verificationID string) (int, error) {
	if m.IncrementAttemptsFunc != nil {
		return m.IncrementAttemptsFunc(ctx, verificationID)
	}
	return 1, nil
}

func (m *MockOTPRepository) Consume(ctx context.Context, verificationID string) (bool, error) {
	if m.ConsumeFunc != nil {
		return m.ConsumeFunc(ctx, verificationID)
	}
	return true, nil
}

func (m *MockOTPRepository) Delete(ctx context.Context, verificationID string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, verificationID)
	}
	return nil
}

func (m *MockOTPRepository) DeleteExpired(ctx context.Context, retention time.Duration) (int64, error) {
	if m.DeleteExpiredFunc != nil {
		return m.DeleteExpiredFunc(ctx, retention)
	}
	return 0, nil
}

// MockSessionRepository implements SessionRepository for testing
type MockSessionRepository struct {
	CreateFunc            func(ctx context.Context, session *models.Session) (*models.Session, error)
	GetByIDFunc           func(ctx context.Context, id string) (*models.Session, error)
	ListActiveFunc        func(ctx context.Context, accountID int64) ([]*models.Session, error)
	CountActiveFunc       func(ctx context.Context, accountID int64) (int, error)
	TouchFunc             func(ctx context.Context, id, ip, userAgent string) error
	RotateRefreshHashFunc func(ctx context.Context, id, oldHash, newHash string, expiresAt time.Time) (bool, error)
	RevokeFunc            func(ctx context.Context, id string) error
	RevokeAllFunc         func(ctx context.Context, accountID int64) (int64, error)
	RevokeOldestFunc      func(ctx context.Context, accountID int64) (string, error)
	DeleteExpiredFunc     func(ctx context.Context, retention time.Duration) (int64, error)
}

func (m *MockSessionRepository) Create(ctx context.Context, session *models.Session) (*models.Session, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, session)
	}
	return session, nil
}

func (m *MockSessionRepository) GetByID(ctx context.Context, id string) (*models.Session, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockSessionRepository) ListActive(ctx context.Context, accountID int64) ([]*models.Session, error) {
	if m.ListActiveFunc != nil {
		return m.ListActiveFunc(ctx, accountID)
	}
	return []*models.Session{}, nil
}

func (m *MockSessionRepository) CountActive(ctx context.Context, accountID int64) (int, error) {
	if m.CountActiveFunc != nil {
		return m.CountActiveFunc(ctx, accountID)
	}
	return 0, nil
}

func (m *MockSessionRepository) Touch(ctx context.Context, id, ip, userAgent string) error {
	if m.TouchFunc != nil {
		return m.TouchFunc(ctx, id, ip, userAgent)
	}
	return nil
}

func (m *MockSessionRepository) RotateRefreshHash(ctx context.Context, id, oldHash, newHash string, expiresAt time.Time) (bool, error) {
	if m.RotateRefreshHashFunc != nil {
		return m.RotateRefreshHashFunc(ctx, id, oldHash, newHash, expiresAt)
	}
	return true, nil
}

func (m *MockSessionRepository) Revoke(ctx context.Context, id string) error {
	if m.RevokeFunc != nil {
		return m.RevokeFunc(ctx, id)
	}
	return nil
}

func (m *MockSessionRepository) RevokeAll(ctx context.Context, accountID int64) (int64, error) {
	if m.RevokeAllFunc != nil {
		return m.RevokeAllFunc(ctx, accountID)
	}
	return 0, nil
}

func (m *MockSessionRepository) RevokeOldest(ctx context.Context, accountID int64) (string, error) {
	if m.RevokeOldestFunc != nil {
		return m.RevokeOldestFunc(ctx, accountID)
	}
	return "", models.ErrNotFound
}

func (m *MockSessionRepository) DeleteExpired(ctx context.Context, retention time.Duration) (int64, error) {
	if m.DeleteExpiredFunc != nil {
		return m.DeleteExpiredFunc(ctx, retention)
	}
	return 0, nil
}

// MockSMSService implements SMSService for testing
type MockSMSService struct {
	SendVerificationCodeFunc func(ctx context.Context, phone, code string, expiryMinutes int) error
	SentCodes                []string
	SentPhones               []string
}

func (m *MockSMSService) SendVerificationCode(ctx context.Context, phone, code string, expiryMinutes int) error {
	if m.SendVerificationCodeFunc != nil {
		return m.SendVerificationCodeFunc(ctx, phone, code, expiryMinutes)
	}
	m.SentCodes = append(m.SentCodes, code)
	m.SentPhones = append(m.SentPhones, phone)
	return nil
}

// MockAuditRepository implements AuditRepository for testing
type MockAuditRepository struct {
	CreateFunc       func(ctx context.Context, log *models.AuditLog) (*models.AuditLog, error)
	GetByActorIDFunc func(ctx context.Context, actorID int64, limit, offset int) ([]*models.AuditLog, error)
	GetByActionFunc  func(ctx context.Context, action string, limit, offset int) ([]*models.AuditLog, error)
	CleanupFunc      func(ctx context.Context, olderThanDays int) (int64, error)
}

func (m *MockAuditRepository) Create(ctx context.Context, log *models.AuditLog) (*models.AuditLog, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, log)
	}
	return log, nil
}

func (m *MockAuditRepository) GetByActorID(ctx context.Context, actorID int64, limit, offset int) ([]*models.AuditLog, error) {
	if m.GetByActorIDFunc != nil {
		return m.GetByActorIDFunc(ctx, actorID, limit, offset)
	}
	return []*models.AuditLog{}, nil
}

func (m *MockAuditRepository) GetByAction(ctx context.Context, action string, limit, offset int) ([]*models.AuditLog, error) {
	if m.GetByActionFunc != nil {
		return m.GetByActionFunc(ctx, action, limit, offset)
	}
	return []*models.AuditLog{}, nil
}

func (m *MockAuditRepository) Cleanup(ctx context.Context, olderThanDays int) (int64, error) {
	if m.CleanupFunc != nil {
		return m.CleanupFunc(ctx, olderThanDays)
	}
	return 0, nil
}

// testLogger returns a logger that discards output
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testAuditLogger returns an audit logger that discards output
func testAuditLogger() *pkglogger.AuditLogger {
	return pkglogger.NewAuditLogger(testLogger())
}

// testAuditService returns an audit service backed by a no-op repository
func testAuditService() *AuditService {
	return NewAuditService(&MockAuditRepository{}, testLogger())
}
