package repositories

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/calderray/aegis/internal/database"
	"github.com/calderray/aegis/internal/models"
	"github.com/calderray/aegis/pkg/crypto"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const accountColumns = `id, uuid, phone, country_code, password_hash, password_changed_at,
		failed_login_attempts, last_failed_login, login_count, last_login_at, last_ip, registration_ip,
		status, suspension_reason, suspension_until, verified, verification_blob, created_at, updated_at`

// AccountRepository persists accounts with field-level encryption on the
// PII columns (phone, last_ip, registration_ip). Phone lookups go
// through the deterministic phone_hash column since ciphertext is not
// searchable.
type AccountRepository struct {
	db     *database.DB
	pool   *pgxpool.Pool
	cipher *crypto.FieldCipher
	logger *slog.Logger
}

func NewAccountRepository(db *database.DB, cipher *crypto.FieldCipher, logger *slog.Logger) *AccountRepository {
	return &AccountRepository{db: db, pool: db.Pool, cipher: cipher, logger: logger}
}

// rowScanner interface for scanning rows (supports both single row and multiple rows)
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// queryRower is the slice of pgx both *pgxpool.Pool and pgx.Tx satisfy,
// so the insert helpers work standalone and inside a transaction.
type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// decryptField unwraps an encrypted envelope. A value that fails to
// decrypt is returned as-is so a key misconfiguration degrades reads
// instead of breaking them; the warning is the operator's signal.
func (r *AccountRepository) decryptField(column, value string) string {
	plain, err := r.cipher.Decrypt(value)
	if err != nil {
		r.logger.Warn("returning undecryptable column as ciphertext",
			slog.String("column", column),
			slog.Any("error", err),
		)
		return value
	}
	return plain
}

// scanAccountRow populates an Account from a database row, handling
// nullable fields and decrypting the PII columns.
func (r *AccountRepository) scanAccountRow(scanner rowScanner) (*models.Account, error) {
	var account models.Account
	var lastIP, suspensionReason, verificationBlob *string

	err := scanner.Scan(
		&account.ID, &account.UUID, &account.Phone, &account.CountryCode,
		&account.PasswordHash, &account.PasswordChangedAt,
		&account.FailedLoginAttempts, &account.LastFailedLogin,
		&account.LoginCount, &account.LastLoginAt, &lastIP, &account.RegistrationIP,
		&account.Status, &suspensionReason, &account.SuspensionUntil,
		&account.Verified, &verificationBlob,
		&account.CreatedAt, &account.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	account.Phone = r.decryptField("phone", account.Phone)
	account.RegistrationIP = r.decryptField("registration_ip", account.RegistrationIP)
	if lastIP != nil {
		account.LastIP = r.decryptField("last_ip", *lastIP)
	}
	if suspensionReason != nil {
		account.SuspensionReason = *suspensionReason
	}
	if verificationBlob != nil {
		account.VerificationBlob = *verificationBlob
	}

	return &account, nil
}

// scanAccountRows iterates through rows and scans each into Account models
func (r *AccountRepository) scanAccountRows(rows pgx.Rows) ([]*models.Account, error) {
	defer rows.Close()

	accounts := make([]*models.Account, 0)

	for rows.Next() {
		account, err := r.scanAccountRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, account)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return accounts, nil
}

func (r *AccountRepository) GetByID(ctx context.Context, id int64) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return r.scanAccountRow(r.pool.QueryRow(ctx, query, id))
}

func (r *AccountRepository) GetByUUID(ctx context.Context, accountUUID string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE uuid = $1`
	return r.scanAccountRow(r.pool.QueryRow(ctx, query, accountUUID))
}

// GetByPhone looks an account up by its E.164 phone number via the
// deterministic hash column.
func (r *AccountRepository) GetByPhone(ctx context.Context, phone string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE phone_hash = $1`
	return r.scanAccountRow(r.pool.QueryRow(ctx, query, crypto.Hash(phone)))
}

func (r *AccountRepository) List(ctx context.Context, limit, offset int) ([]*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts ORDER BY created_at DESC LIMIT $1 OFFSET $2`

	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}

	return r.scanAccountRows(rows)
}

// insertAccount runs the INSERT against q, which may be the pool or an
// open transaction. The phone is stored encrypted alongside its hash.
func (r *AccountRepository) insertAccount(ctx context.Context, q queryRower, account *models.Account) (*models.Account, error) {
	account.UUID = uuid.New().String()

	now := time.Now()
	account.CreatedAt = now
	account.UpdatedAt = now

	if account.Status == "" {
		account.Status = models.StatusActive
	}

	encPhone, err := r.cipher.Encrypt(account.Phone)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt phone: %w", err)
	}
	encRegistrationIP, err := r.cipher.Encrypt(account.RegistrationIP)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt registration ip: %w", err)
	}

	query := `
		INSERT INTO accounts (uuid, phone, phone_hash, country_code, password_hash, password_changed_at,
			registration_ip, status, verified, verification_blob, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING ` + accountColumns

	var verificationBlob *string
	if account.VerificationBlob != "" {
		verificationBlob = &account.VerificationBlob
	}

	return r.scanAccountRow(q.QueryRow(ctx, query,
		account.UUID, encPhone, crypto.Hash(account.Phone), account.CountryCode,
		account.PasswordHash, account.PasswordChangedAt,
		encRegistrationIP, account.Status, account.Verified, verificationBlob,
		account.CreatedAt, account.UpdatedAt,
	))
}

func (r *AccountRepository) Create(ctx context.Context, account *models.Account) (*models.Account, error) {
	return r.insertAccount(ctx, r.pool, account)
}

// CreateWithSession inserts the account and its first session in one
// transaction. makeSession receives the persisted account (with its
// assigned id) and returns the session row to insert; if it fails, or
// the session insert fails, the account insert rolls back too, so a
// half-registered account can never be left behind.
func (r *AccountRepository) CreateWithSession(ctx context.Context, account *models.Account, makeSession func(created *models.Account) (*models.Session, error)) (*models.Account, *models.Session, error) {
	var created *models.Account
	var session *models.Session

	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		var err error
		created, err = r.insertAccount(ctx, tx, account)
		if err != nil {
			return err
		}

		toInsert, err := makeSession(created)
		if err != nil {
			return err
		}

		session, err = insertSession(ctx, tx, toInsert)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	return created, session, nil
}

func (r *AccountRepository) Update(ctx context.Context, id int64, account *models.Account) (*models.Account, error) {
	account.UpdatedAt = time.Now()

	query := `
		UPDATE accounts
		SET status = $1, suspension_reason = $2, suspension_until = $3,
			verified = $4, verification_blob = $5, updated_at = $6
		WHERE id = $7
		RETURNING ` + accountColumns

	var suspensionReason, verificationBlob *string
	if account.SuspensionReason != "" {
		suspensionReason = &account.SuspensionReason
	}
	if account.VerificationBlob != "" {
		verificationBlob = &account.VerificationBlob
	}

	updated, err := r.scanAccountRow(r.pool.QueryRow(ctx, query,
		account.Status, suspensionReason, account.SuspensionUntil,
		account.Verified, verificationBlob, account.UpdatedAt, id,
	))
	if err != nil {
		return nil, err
	}

	return updated, nil
}

// UpdateStatus transitions the account to a new lifecycle status.
// Suspension fields are cleared unless the new status is suspended.
func (r *AccountRepository) UpdateStatus(ctx context.Context, id int64, status string, reason *string, until *time.Time) error {
	query := `
		UPDATE accounts
		SET status = $1, suspension_reason = $2, suspension_until = $3, updated_at = $4
		WHERE id = $5
	`

	if status != models.StatusSuspended {
		reason = nil
		until = nil
	}

	result, err := r.pool.Exec(ctx, query, status, reason, until, time.Now(), id)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

// SuspendWithSessions marks the account suspended and deactivates its
// sessions in one transaction, so a crash between the two writes cannot
// leave a suspended account with live sessions. Returns the number of
// sessions revoked.
func (r *AccountRepository) SuspendWithSessions(ctx context.Context, id int64, reason *string, until *time.Time) (int64, error) {
	var revoked int64

	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		statusQuery := `
			UPDATE accounts
			SET status = $1, suspension_reason = $2, suspension_until = $3, updated_at = $4
			WHERE id = $5
		`
		result, err := tx.Exec(ctx, statusQuery, models.StatusSuspended, reason, until, time.Now(), id)
		if err != nil {
			return database.MapPostgresError(err)
		}
		if result.RowsAffected() == 0 {
			return models.ErrNotFound
		}

		result, err = tx.Exec(ctx, `UPDATE sessions SET active = false WHERE account_id = $1 AND active = true`, id)
		if err != nil {
			return database.MapPostgresError(err)
		}
		revoked = result.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}

	return revoked, nil
}

func (r *AccountRepository) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	query := `
		UPDATE accounts
		SET password_hash = $1, password_changed_at = $2, updated_at = $2
		WHERE id = $3
	`

	result, err := r.pool.Exec(ctx, query, passwordHash, time.Now(), id)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

// UpdatePhone moves the account to a new verified phone number. The
// unique constraint on phone_hash surfaces as ErrConflict if the target
// number was registered concurrently.
func (r *AccountRepository) UpdatePhone(ctx context.Context, id int64, phone, countryCode string) error {
	encPhone, err := r.cipher.Encrypt(phone)
	if err != nil {
		return fmt.Errorf("failed to encrypt phone: %w", err)
	}

	query := `
		UPDATE accounts
		SET phone = $1, phone_hash = $2, country_code = $3, updated_at = $4
		WHERE id = $5
	`

	result, err := r.pool.Exec(ctx, query, encPhone, crypto.Hash(phone), countryCode, time.Now(), id)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

// IncrementFailedAttempts bumps the failed-login counter atomically in
// SQL and returns the new count, so concurrent failures never lose an
// increment to a read-modify-write race.
func (r *AccountRepository) IncrementFailedAttempts(ctx context.Context, id int64) (int, error) {
	query := `
		UPDATE accounts
		SET failed_login_attempts = failed_login_attempts + 1, last_failed_login = $1, updated_at = $1
		WHERE id = $2
		RETURNING failed_login_attempts
	`

	var count int
	if err := r.pool.QueryRow(ctx, query, time.Now(), id).Scan(&count); err != nil {
		return 0, database.MapPostgresError(err)
	}

	return count, nil
}

func (r *AccountRepository) ResetFailedAttempts(ctx context.Context, id int64) error {
	query := `
		UPDATE accounts
		SET failed_login_attempts = 0, last_failed_login = NULL, updated_at = $1
		WHERE id = $2
	`

	if _, err := r.pool.Exec(ctx, query, time.Now(), id); err != nil {
		return database.MapPostgresError(err)
	}

	return nil
}

// RecordLogin updates the login bookkeeping after a successful
// authentication and clears the failed-attempt counters in the same
// statement.
func (r *AccountRepository) RecordLogin(ctx context.Context, id int64, ip string) error {
	encIP, err := r.cipher.Encrypt(ip)
	if err != nil {
		return fmt.Errorf("failed to encrypt ip: %w", err)
	}

	query := `
		UPDATE accounts
		SET login_count = login_count + 1, last_login_at = $1, last_ip = $2,
			failed_login_attempts = 0, last_failed_login = NULL, updated_at = $1
		WHERE id = $3
	`

	result, err := r.pool.Exec(ctx, query, time.Now(), encIP, id)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

// MarkVerified sets the verified flag after an OTP challenge completes.
func (r *AccountRepository) MarkVerified(ctx context.Context, id int64) error {
	query := `UPDATE accounts SET verified = true, updated_at = $1 WHERE id = $2`

	result, err := r.pool.Exec(ctx, query, time.Now(), id)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}
