package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/calderray/aegis/internal/database"
	"github.com/calderray/aegis/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const sessionColumns = `id, account_id, device_id, device_type, device_name, os, browser,
		last_ip, last_user_agent, refresh_token_hash, created_at, last_activity_at, expires_at, active`

type SessionRepository struct {
	pool *pgxpool.Pool
}

func NewSessionRepository(db *database.DB) *SessionRepository {
	return &SessionRepository{pool: db.Pool}
}

func scanSessionRow(scanner rowScanner) (*models.Session, error) {
	var session models.Session
	var deviceType, deviceName, os, browser, lastIP, lastUserAgent *string

	err := scanner.Scan(
		&session.ID, &session.AccountID,
		&session.DeviceID, &deviceType, &deviceName, &os, &browser,
		&lastIP, &lastUserAgent, &session.RefreshTokenHash,
		&session.CreatedAt, &session.LastActivityAt, &session.ExpiresAt, &session.Active,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	if deviceType != nil {
		session.DeviceType = *deviceType
	}
	if deviceName != nil {
		session.DeviceName = *deviceName
	}
	if os != nil {
		session.OS = *os
	}
	if browser != nil {
		session.Browser = *browser
	}
	if lastIP != nil {
		session.LastIP = *lastIP
	}
	if lastUserAgent != nil {
		session.LastUserAgent = *lastUserAgent
	}

	return &session, nil
}

func scanSessionRows(rows pgx.Rows) ([]*models.Session, error) {
	defer rows.Close()

	sessions := make([]*models.Session, 0)

	for rows.Next() {
		session, err := scanSessionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return sessions, nil
}

// insertSession runs the INSERT against q, which may be the pool or an
// open transaction. Registration uses the transactional form so the
// first session lands atomically with its account.
func insertSession(ctx context.Context, q queryRower, session *models.Session) (*models.Session, error) {
	query := `
		INSERT INTO sessions (id, account_id, device_id, device_type, device_name, os, browser,
			last_ip, last_user_agent, refresh_token_hash, created_at, last_activity_at, expires_at, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, true)
		RETURNING ` + sessionColumns

	return scanSessionRow(q.QueryRow(ctx, query,
		session.ID, session.AccountID,
		session.DeviceID, nullable(session.DeviceType), nullable(session.DeviceName),
		nullable(session.OS), nullable(session.Browser),
		nullable(session.LastIP), nullable(session.LastUserAgent),
		session.RefreshTokenHash,
		session.CreatedAt, session.LastActivityAt, session.ExpiresAt,
	))
}

func (r *SessionRepository) Create(ctx context.Context, session *models.Session) (*models.Session, error) {
	return insertSession(ctx, r.pool, session)
}

func (r *SessionRepository) GetByID(ctx context.Context, id string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	return scanSessionRow(r.pool.QueryRow(ctx, query, id))
}

// ListActive returns the account's live sessions, oldest activity first.
func (r *SessionRepository) ListActive(ctx context.Context, accountID int64) ([]*models.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE account_id = $1 AND active = true AND expires_at > $2
		ORDER BY last_activity_at ASC
	`

	rows, err := r.pool.Query(ctx, query, accountID, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}

	return scanSessionRows(rows)
}

func (r *SessionRepository) CountActive(ctx context.Context, accountID int64) (int, error) {
	query := `SELECT COUNT(*) FROM sessions WHERE account_id = $1 AND active = true AND expires_at > $2`

	var count int
	if err := r.pool.QueryRow(ctx, query, accountID, time.Now()).Scan(&count); err != nil {
		return 0, database.MapPostgresError(err)
	}

	return count, nil
}

// Touch advances the session's activity timestamp.
func (r *SessionRepository) Touch(ctx context.Context, id string, ip, userAgent string) error {
	query := `
		UPDATE sessions
		SET last_activity_at = $1, last_ip = COALESCE(NULLIF($2, ''), last_ip),
			last_user_agent = COALESCE(NULLIF($3, ''), last_user_agent)
		WHERE id = $4 AND active = true
	`

	result, err := r.pool.Exec(ctx, query, time.Now(), ip, userAgent, id)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrSessionNotFound
	}

	return nil
}

// RotateRefreshHash swaps the stored refresh hash conditionally on the
// previous value. Under concurrent refreshes only the first caller
// matches oldHash; the second finds the row already rotated and gets
// false, which the caller treats as token reuse.
func (r *SessionRepository) RotateRefreshHash(ctx context.Context, id, oldHash, newHash string, expiresAt time.Time) (bool, error) {
	query := `
		UPDATE sessions
		SET refresh_token_hash = $1, expires_at = $2, last_activity_at = $3
		WHERE id = $4 AND refresh_token_hash = $5 AND active = true
	`

	result, err := r.pool.Exec(ctx, query, newHash, expiresAt, time.Now(), id, oldHash)
	if err != nil {
		return false, database.MapPostgresError(err)
	}

	return result.RowsAffected() == 1, nil
}

func (r *SessionRepository) Revoke(ctx context.Context, id string) error {
	query := `UPDATE sessions SET active = false WHERE id = $1 AND active = true`

	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrSessionNotFound
	}

	return nil
}

// RevokeAll deactivates every live session for the account and returns
// how many were revoked.
func (r *SessionRepository) RevokeAll(ctx context.Context, accountID int64) (int64, error) {
	query := `UPDATE sessions SET active = false WHERE account_id = $1 AND active = true`

	result, err := r.pool.Exec(ctx, query, accountID)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}

	return result.RowsAffected(), nil
}

// RevokeOldest drops the account's least recently active session to
// make room under the per-account cap.
func (r *SessionRepository) RevokeOldest(ctx context.Context, accountID int64) (string, error) {
	query := `
		UPDATE sessions
		SET active = false
		WHERE id = (
			SELECT id FROM sessions
			WHERE account_id = $1 AND active = true
			ORDER BY last_activity_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id
	`

	var id string
	if err := r.pool.QueryRow(ctx, query, accountID).Scan(&id); err != nil {
		return "", database.MapPostgresError(err)
	}

	return id, nil
}

// DeleteExpired removes sessions whose expiry plus retention has
// passed, and inactive sessions older than retention.
func (r *SessionRepository) DeleteExpired(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)

	query := `
		DELETE FROM sessions
		WHERE expires_at < $1 OR (active = false AND last_activity_at < $1)
	`

	result, err := r.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}

	return result.RowsAffected(), nil
}

// nullable maps empty strings to NULL for optional text columns.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
