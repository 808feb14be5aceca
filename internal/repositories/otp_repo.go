package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/calderray/aegis/internal/database"
	"github.com/calderray/aegis/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

const otpColumns = `verification_id, phone, country_code, code_hash, purpose, account_id,
		issued_at, expires_at, attempts, max_attempts, verified, verified_at, requester_ip`

type OTPRepository struct {
	pool *pgxpool.Pool
}

func NewOTPRepository(db *database.DB) *OTPRepository {
	return &OTPRepository{pool: db.Pool}
}

func scanOTPRow(scanner rowScanner) (*models.OTPChallenge, error) {
	var challenge models.OTPChallenge
	var requesterIP *string

	err := scanner.Scan(
		&challenge.VerificationID, &challenge.Phone, &challenge.CountryCode,
		&challenge.CodeHash, &challenge.Purpose, &challenge.AccountID,
		&challenge.IssuedAt, &challenge.ExpiresAt,
		&challenge.Attempts, &challenge.MaxAttempts,
		&challenge.Verified, &challenge.VerifiedAt, &requesterIP,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	if requesterIP != nil {
		challenge.RequesterIP = *requesterIP
	}

	return &challenge, nil
}

func (r *OTPRepository) Create(ctx context.Context, challenge *models.OTPChallenge) (*models.OTPChallenge, error) {
	query := `
		INSERT INTO otp_challenges (verification_id, phone, country_code, code_hash, purpose, account_id,
			issued_at, expires_at, attempts, max_attempts, verified, requester_ip)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9, false, $10)
		RETURNING ` + otpColumns

	var requesterIP *string
	if challenge.RequesterIP != "" {
		requesterIP = &challenge.RequesterIP
	}

	created, err := scanOTPRow(r.pool.QueryRow(ctx, query,
		challenge.VerificationID, challenge.Phone, challenge.CountryCode,
		challenge.CodeHash, challenge.Purpose, challenge.AccountID,
		challenge.IssuedAt, challenge.ExpiresAt, challenge.MaxAttempts, requesterIP,
	))
	if err != nil {
		return nil, err
	}

	return created, nil
}

func (r *OTPRepository) GetByVerificationID(ctx context.Context, verificationID string) (*models.OTPChallenge, error) {
	query := `SELECT ` + otpColumns + ` FROM otp_challenges WHERE verification_id = $1`
	return scanOTPRow(r.pool.QueryRow(ctx, query, verificationID))
}

// IncrementAttempts bumps the attempt counter atomically and returns
// the new count. Incremented before the code comparison reports
// failure, so a crash between the two cannot grant a free attempt.
func (r *OTPRepository) IncrementAttempts(ctx context.Context, verificationID string) (int, error) {
	query := `
		UPDATE otp_challenges
		SET attempts = attempts + 1
		WHERE verification_id = $1
		RETURNING attempts
	`

	var attempts int
	if err := r.pool.QueryRow(ctx, query, verificationID).Scan(&attempts); err != nil {
		return 0, database.MapPostgresError(err)
	}

	return attempts, nil
}

// Consume marks the challenge verified, conditionally on it not having
// been consumed already. Exactly one of two concurrent verifications
// with the correct code sees the row flip; the loser gets false.
func (r *OTPRepository) Consume(ctx context.Context, verificationID string) (bool, error) {
	query := `
		UPDATE otp_challenges
		SET verified = true, verified_at = $1
		WHERE verification_id = $2 AND verified = false
	`

	result, err := r.pool.Exec(ctx, query, time.Now(), verificationID)
	if err != nil {
		return false, database.MapPostgresError(err)
	}

	return result.RowsAffected() == 1, nil
}

// Delete removes a challenge, used to roll back when SMS delivery fails.
func (r *OTPRepository) Delete(ctx context.Context, verificationID string) error {
	query := `DELETE FROM otp_challenges WHERE verification_id = $1`

	result, err := r.pool.Exec(ctx, query, verificationID)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

// DeleteExpired sweeps challenges past expiry plus retention, and
// consumed challenges older than retention. Returns rows removed.
func (r *OTPRepository) DeleteExpired(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)

	query := `
		DELETE FROM otp_challenges
		WHERE expires_at < $1 OR (verified = true AND verified_at < $1)
	`

	result, err := r.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired otp challenges: %w", err)
	}

	return result.RowsAffected(), nil
}
