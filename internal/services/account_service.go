package services

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/calderray/aegis/internal/models"
	pkglogger "github.com/calderray/aegis/pkg/logger"
)

// AccountRepository defines the interface for account persistence
type AccountRepository interface {
	GetByID(ctx context.Context, id int64) (*models.Account, error)
	GetByUUID(ctx context.Context, accountUUID string) (*models.Account, error)
	GetByPhone(ctx context.Context, phone string) (*models.Account, error)
	List(ctx context.Context, limit, offset int) ([]*models.Account, error)
	CreateWithSession(ctx context.Context, account *models.Account, makeSession func(created *models.Account) (*models.Session, error)) (*models.Account, *models.Session, error)
	UpdateStatus(ctx context.Context, id int64, status string, reason *string, until *time.Time) error
	SuspendWithSessions(ctx context.Context, id int64, reason *string, until *time.Time) (int64, error)
	UpdatePassword(ctx context.Context, id int64, passwordHash string) error
	UpdatePhone(ctx context.Context, id int64, phone, countryCode string) error
	IncrementFailedAttempts(ctx context.Context, id int64) (int, error)
	ResetFailedAttempts(ctx context.Context, id int64) error
	RecordLogin(ctx context.Context, id int64, ip string) error
	MarkVerified(ctx context.Context, id int64) error
}

// LockoutPolicy defines when the derived locked state engages.
type LockoutPolicy struct {
	Threshold int
	Window    time.Duration
}

// AccountService handles account lifecycle and the login gate.
// Lifecycle transitions land in the persistent audit trail as well as
// the structured log.
type AccountService struct {
	repo        AccountRepository
	sessions    *SessionService
	audit       *AuditService
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	lockout     LockoutPolicy
}

// NewAccountService creates a new AccountService
func NewAccountService(repo AccountRepository, sessions *SessionService, audit *AuditService, logger *slog.Logger, auditLogger *pkglogger.AuditLogger, lockout LockoutPolicy) *AccountService {
	return &AccountService{
		repo:        repo,
		sessions:    sessions,
		audit:       audit,
		logger:      logger,
		auditLogger: auditLogger,
		lockout:     lockout,
	}
}

// recordAudit persists a lifecycle transition to the audit trail read
// by the admin endpoints.
func (s *AccountService) recordAudit(ctx context.Context, accountID int64, action, ip string, after map[string]any) {
	s.audit.Record(ctx, &models.AuditLog{
		ActorID:     &accountID,
		Action:      action,
		Resource:    "account",
		ResourceID:  strconv.FormatInt(accountID, 10),
		AfterValues: after,
		IPAddress:   ip,
	})
}

// CanLogin gates authentication on account state. Lock is checked
// before suspension so an attacker hammering a suspended account still
// sees the lockout, revealing nothing extra. A suspension whose end
// time has passed clears itself here on first contact.
func (s *AccountService) CanLogin(ctx context.Context, account *models.Account) error {
	if account.IsLocked(s.lockout.Threshold, s.lockout.Window) {
		return models.ErrAccountLocked
	}

	switch account.Status {
	case models.StatusActive:
		return nil
	case models.StatusSuspended:
		if account.SuspensionActive() {
			return models.SuspendedUntil(account.SuspensionUntil)
		}
		// Suspension lapsed; restore the account before letting the
		// login proceed.
		if err := s.repo.UpdateStatus(ctx, account.ID, models.StatusActive, nil, nil); err != nil {
			s.logger.Error("failed to clear lapsed suspension", slog.Int64("account_id", account.ID), slog.Any("error", err))
			return models.ErrInternalServer
		}
		account.Status = models.StatusActive
		s.auditLogger.LogAccountAction("suspension_expired", account.ID, "", nil)
		return nil
	case models.StatusDeactivated:
		return models.ErrAccountDeactivated
	case models.StatusPendingDeletion:
		return models.ErrAccountPendingDeletion
	default:
		s.logger.Error("unknown account status", slog.Int64("account_id", account.ID), slog.String("status", account.Status))
		return models.ErrInternalServer
	}
}

// RecordFailedLogin bumps the failure counter and reports whether the
// account just crossed into the locked state.
func (s *AccountService) RecordFailedLogin(ctx context.Context, accountID int64) (locked bool, err error) {
	count, err := s.repo.IncrementFailedAttempts(ctx, accountID)
	if err != nil {
		s.logger.Error("failed to record failed login", slog.Int64("account_id", accountID), slog.Any("error", err))
		return false, models.ErrInternalServer
	}

	if count >= s.lockout.Threshold {
		s.auditLogger.LogAccountAction("account_locked", accountID, "", nil)
		return true, nil
	}

	return false, nil
}

// Suspend moves the account to suspended and revokes every session. A
// nil until means indefinite.
func (s *AccountService) Suspend(ctx context.Context, accountID int64, reason string, until *time.Time) error {
	var reasonPtr *string
	if reason != "" {
		reasonPtr = &reason
	}

	// Status flip and session sweep commit together; a suspended
	// account must never retain live sessions.
	revoked, err := s.repo.SuspendWithSessions(ctx, accountID, reasonPtr, until)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		s.logger.Error("failed to suspend account", slog.Int64("account_id", accountID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.logger.Info("account suspended",
		slog.Int64("account_id", accountID),
		slog.Int64("sessions_revoked", revoked))

	metadata := map[string]string{"reason": reason}
	after := map[string]any{
		"status":           models.StatusSuspended,
		"reason":           reason,
		"sessions_revoked": revoked,
	}
	if until != nil {
		metadata["until"] = until.UTC().Format(time.RFC3339)
		after["until"] = until.UTC().Format(time.RFC3339)
	}
	s.auditLogger.LogAccountAction("account_suspended", accountID, "", metadata)
	s.recordAudit(ctx, accountID, "account_suspended", "", after)

	return nil
}

// Unsuspend restores a suspended account to active.
func (s *AccountService) Unsuspend(ctx context.Context, accountID int64) error {
	account, err := s.repo.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		s.logger.Error("failed to get account", slog.Int64("account_id", accountID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	if account.Status != models.StatusSuspended {
		return models.ValidationError("account is not suspended")
	}

	if err := s.repo.UpdateStatus(ctx, accountID, models.StatusActive, nil, nil); err != nil {
		s.logger.Error("failed to unsuspend account", slog.Int64("account_id", accountID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.auditLogger.LogAccountAction("account_unsuspended", accountID, "", nil)
	s.recordAudit(ctx, accountID, "account_unsuspended", "", map[string]any{"status": models.StatusActive})
	return nil
}

// Deactivate is the user-initiated off switch. Sessions are revoked;
// the account reactivates on the next successful login.
func (s *AccountService) Deactivate(ctx context.Context, accountID int64) error {
	if err := s.repo.UpdateStatus(ctx, accountID, models.StatusDeactivated, nil, nil); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		s.logger.Error("failed to deactivate account", slog.Int64("account_id", accountID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	if _, err := s.sessions.RevokeAll(ctx, accountID); err != nil {
		s.logger.Error("failed to revoke sessions on deactivate", slog.Int64("account_id", accountID), slog.Any("error", err))
	}

	s.auditLogger.LogAccountAction("account_deactivated", accountID, "", nil)
	s.recordAudit(ctx, accountID, "account_deactivated", "", map[string]any{"status": models.StatusDeactivated})
	return nil
}

// Reactivate restores a deactivated account to active. Called by the
// login flow after the password check passes.
func (s *AccountService) Reactivate(ctx context.Context, accountID int64) error {
	if err := s.repo.UpdateStatus(ctx, accountID, models.StatusActive, nil, nil); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		s.logger.Error("failed to reactivate account", slog.Int64("account_id", accountID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.auditLogger.LogAccountAction("account_reactivated", accountID, "", nil)
	s.recordAudit(ctx, accountID, "account_reactivated", "", map[string]any{"status": models.StatusActive})
	return nil
}

// RequestDeletion marks the account for deletion and revokes every
// session. The terminal purge happens out of band.
func (s *AccountService) RequestDeletion(ctx context.Context, accountID int64) error {
	if err := s.repo.UpdateStatus(ctx, accountID, models.StatusPendingDeletion, nil, nil); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		s.logger.Error("failed to mark account for deletion", slog.Int64("account_id", accountID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	if _, err := s.sessions.RevokeAll(ctx, accountID); err != nil {
		s.logger.Error("failed to revoke sessions on deletion request", slog.Int64("account_id", accountID), slog.Any("error", err))
	}

	s.auditLogger.LogAccountAction("account_deletion_requested", accountID, "", nil)
	s.recordAudit(ctx, accountID, "account_deletion_requested", "", map[string]any{"status": models.StatusPendingDeletion})
	return nil
}

// Get returns the account by id.
func (s *AccountService) Get(ctx context.Context, accountID int64) (*models.Account, error) {
	account, err := s.repo.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		s.logger.Error("failed to get account", slog.Int64("account_id", accountID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	return account, nil
}

// List returns accounts for admin views.
func (s *AccountService) List(ctx context.Context, limit, offset int) ([]*models.Account, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	accounts, err := s.repo.List(ctx, limit, offset)
	if err != nil {
		s.logger.Error("failed to list accounts", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	return accounts, nil
}
