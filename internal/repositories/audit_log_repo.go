package repositories

import (
	"context"
	"fmt"

	"github.com/calderray/aegis/internal/database"
	"github.com/calderray/aegis/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditLogRepository handles audit log data access
type AuditLogRepository struct {
	pool *pgxpool.Pool
}

// NewAuditLogRepository creates a new AuditLogRepository
func NewAuditLogRepository(db *database.DB) *AuditLogRepository {
	return &AuditLogRepository{pool: db.Pool}
}

func scanAuditLogRow(row rowScanner) (*models.AuditLog, error) {
	var log models.AuditLog
	var ipAddress, userAgent *string

	err := row.Scan(
		&log.ID, &log.ActorID, &log.Action, &log.Resource, &log.ResourceID,
		&log.BeforeValues, &log.AfterValues, &ipAddress, &userAgent,
		&log.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	if ipAddress != nil {
		log.IPAddress = *ipAddress
	}
	if userAgent != nil {
		log.UserAgent = *userAgent
	}

	return &log, nil
}

func scanAuditLogRows(rows pgx.Rows) ([]*models.AuditLog, error) {
	defer rows.Close()

	logs := make([]*models.AuditLog, 0)

	for rows.Next() {
		log, err := scanAuditLogRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		logs = append(logs, log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit log rows: %w", err)
	}

	return logs, nil
}

// Create creates a new audit log entry
func (r *AuditLogRepository) Create(ctx context.Context, log *models.AuditLog) (*models.AuditLog, error) {
	query := `
		INSERT INTO audit_logs (actor_id, action, resource, resource_id, before_values, after_values, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, actor_id, action, resource, resource_id, before_values, after_values, ip_address, user_agent, created_at
	`

	result, err := scanAuditLogRow(r.pool.QueryRow(
		ctx, query,
		log.ActorID, log.Action, log.Resource, log.ResourceID,
		log.BeforeValues, log.AfterValues,
		nullable(log.IPAddress), nullable(log.UserAgent),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create audit log: %w", err)
	}

	return result, nil
}

// GetByActorID retrieves audit logs for a specific account
func (r *AuditLogRepository) GetByActorID(ctx context.Context, actorID int64, limit, offset int) ([]*models.AuditLog, error) {
	query := `
		SELECT id, actor_id, action, resource, resource_id, before_values, after_values, ip_address, user_agent, created_at
		FROM audit_logs
		WHERE actor_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, actorID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}

	return scanAuditLogRows(rows)
}

// GetByAction retrieves audit logs by action name
func (r *AuditLogRepository) GetByAction(ctx context.Context, action string, limit, offset int) ([]*models.AuditLog, error) {
	query := `
		SELECT id, actor_id, action, resource, resource_id, before_values, after_values, ip_address, user_agent, created_at
		FROM audit_logs
		WHERE action = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, action, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}

	return scanAuditLogRows(rows)
}

// Cleanup removes audit logs older than the specified number of days
func (r *AuditLogRepository) Cleanup(ctx context.Context, olderThanDays int) (int64, error) {
	query := `
		DELETE FROM audit_logs
		WHERE created_at < CURRENT_TIMESTAMP - INTERVAL '1 day' * $1
	`

	result, err := r.pool.Exec(ctx, query, olderThanDays)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup audit logs: %w", err)
	}

	return result.RowsAffected(), nil
}
