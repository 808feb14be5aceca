package background

import (
	"context"
	"log/slog"
	"time"

	"github.com/calderray/aegis/internal/repositories"
)

// CleanupManager periodically sweeps expired OTP challenges, dead
// sessions and aged audit rows. The sweep is idempotent and safe to run
// concurrently with live verifications: it only touches rows that can
// no longer win any conditional update.
type CleanupManager struct {
	otpRepo     *repositories.OTPRepository
	sessionRepo *repositories.SessionRepository
	auditRepo   *repositories.AuditLogRepository
	logger      *slog.Logger
	interval    time.Duration
	retention   time.Duration
	auditDays   int
	stopCh      chan struct{}
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(
	otpRepo *repositories.OTPRepository,
	sessionRepo *repositories.SessionRepository,
	auditRepo *repositories.AuditLogRepository,
	logger *slog.Logger,
	interval, retention time.Duration,
	auditDays int,
) *CleanupManager {
	return &CleanupManager{
		otpRepo:     otpRepo,
		sessionRepo: sessionRepo,
		auditRepo:   auditRepo,
		logger:      logger,
		interval:    interval,
		retention:   retention,
		auditDays:   auditDays,
		stopCh:      make(chan struct{}),
	}
}

// Start begins the periodic cleanup task
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.runCleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.runCleanup(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

func (cm *CleanupManager) runCleanup(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	otpRows, err := cm.otpRepo.DeleteExpired(cleanupCtx, cm.retention)
	if err != nil {
		cm.logger.Error("failed to cleanup otp challenges", slog.Any("error", err))
	} else if otpRows > 0 {
		cm.logger.Info("otp cleanup completed", slog.Int64("rows_deleted", otpRows))
	}

	sessionRows, err := cm.sessionRepo.DeleteExpired(cleanupCtx, cm.retention)
	if err != nil {
		cm.logger.Error("failed to cleanup sessions", slog.Any("error", err))
	} else if sessionRows > 0 {
		cm.logger.Info("session cleanup completed", slog.Int64("rows_deleted", sessionRows))
	}

	if cm.auditDays > 0 {
		auditRows, err := cm.auditRepo.Cleanup(cleanupCtx, cm.auditDays)
		if err != nil {
			cm.logger.Error("failed to cleanup audit logs", slog.Any("error", err))
		} else if auditRows > 0 {
			cm.logger.Info("audit log cleanup completed", slog.Int64("rows_deleted", auditRows))
		}
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}
