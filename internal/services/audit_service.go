package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/calderray/aegis/internal/models"
)

// AuditRepository defines the interface for persisted audit records
type AuditRepository interface {
	Create(ctx context.Context, log *models.AuditLog) (*models.AuditLog, error)
	GetByActorID(ctx context.Context, actorID int64, limit, offset int) ([]*models.AuditLog, error)
	GetByAction(ctx context.Context, action string, limit, offset int) ([]*models.AuditLog, error)
	Cleanup(ctx context.Context, olderThanDays int) (int64, error)
}

// AuditService persists structured action records with a dual-write
// pattern: immediate slog output plus a database row. Persistence
// failures never fail the operation being audited.
type AuditService struct {
	repo   AuditRepository
	logger *slog.Logger
}

// NewAuditService creates a new AuditService
func NewAuditService(repo AuditRepository, logger *slog.Logger) *AuditService {
	return &AuditService{
		repo:   repo,
		logger: logger,
	}
}

// Record writes one audit entry.
func (s *AuditService) Record(ctx context.Context, entry *models.AuditLog) {
	s.logger.InfoContext(ctx, "audit event",
		slog.Any("actor_id", entry.ActorID),
		slog.String("action", entry.Action),
		slog.String("resource", entry.Resource),
		slog.String("resource_id", entry.ResourceID),
	)

	if _, err := s.repo.Create(ctx, entry); err != nil {
		s.logger.ErrorContext(ctx, "failed to persist audit log",
			slog.String("action", entry.Action),
			slog.Any("error", err),
		)
	}
}

// GetAccountTrail retrieves the audit trail for an account.
func (s *AuditService) GetAccountTrail(ctx context.Context, accountID int64, limit, offset int) ([]*models.AuditLog, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	logs, err := s.repo.GetByActorID(ctx, accountID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get account audit trail: %w", err)
	}

	return logs, nil
}
