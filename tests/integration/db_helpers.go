package integration

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/calderray/aegis/internal/database"
	"github.com/calderray/aegis/internal/models"
	"github.com/calderray/aegis/internal/repositories"
	"github.com/calderray/aegis/pkg/auth"
	"github.com/calderray/aegis/pkg/crypto"
	"github.com/google/uuid"
)

// TestDB manages the PostgreSQL testcontainer and database operations
type TestDB struct {
	Container  testcontainers.Container
	ConnString string
	Pool       *pgxpool.Pool
	DB         *database.DB
}

// SetupTestDatabase creates a PostgreSQL testcontainer, runs migrations, returns TestDB
func SetupTestDatabase(ctx context.Context) (*TestDB, error) {
	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("aegis"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(ctx, pool); err != nil {
		pool.Close()
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	dbWrapper := &database.DB{
		Pool: pool,
	}

	return &TestDB{
		Container:  container,
		ConnString: connStr,
		Pool:       pool,
		DB:         dbWrapper,
	}, nil
}

// runMigrations executes all goose migrations
func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	migrationsDir, err := filepath.Abs("../../migrations")
	if err != nil {
		return fmt.Errorf("failed to get migrations path: %w", err)
	}

	goose.SetLogger(log.New(io.Discard, "", 0))

	// Goose needs a stdlib DB connection
	sqlDB := stdlib.OpenDB(*pool.Config().ConnConfig)
	defer sqlDB.Close()

	if err := goose.UpContext(ctx, sqlDB, migrationsDir); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	return nil
}

// Teardown stops the container and closes the connection pool
func (db *TestDB) Teardown(ctx context.Context) error {
	if db.Pool != nil {
		db.Pool.Close()
	}
	if db.Container != nil {
		return db.Container.Terminate(ctx)
	}
	return nil
}

// CleanupTables truncates all tables for test isolation
func (db *TestDB) CleanupTables(ctx context.Context) error {
	tables := []string{
		"audit_logs",
		"sessions",
		"otp_challenges",
		"accounts",
	}

	for _, table := range tables {
		if _, err := db.Pool.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)); err != nil {
			return fmt.Errorf("failed to truncate table %s: %w", table, err)
		}
	}

	return nil
}

// TestFieldCipher builds a cipher with a fixed key so encrypted columns are
// reproducible across test runs.
func TestFieldCipher() *crypto.FieldCipher {
	key := base64.StdEncoding.EncodeToString(make([]byte, 32))
	cipher, err := crypto.NewFieldCipher(key, "")
	if err != nil {
		panic(fmt.Sprintf("failed to build test cipher: %v", err))
	}
	return cipher
}

// InitializeRepositories creates all repository instances from the database wrapper
func InitializeRepositories(db *database.DB) (
	*repositories.AccountRepository,
	*repositories.OTPRepository,
	*repositories.SessionRepository,
	*repositories.AuditLogRepository,
) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return repositories.NewAccountRepository(db, TestFieldCipher(), logger),
		repositories.NewOTPRepository(db),
		repositories.NewSessionRepository(db),
		repositories.NewAuditLogRepository(db)
}

// SeedAccount inserts a test account with a hashed password
func SeedAccount(ctx context.Context, repo *repositories.AccountRepository, phone, password string) (*models.Account, error) {
	hashed, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	account := &models.Account{
		Phone:          phone,
		CountryCode:    "US",
		PasswordHash:   hashed,
		RegistrationIP: "127.0.0.1",
		Verified:       true,
	}
	created, err := repo.Create(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("failed to insert account: %w", err)
	}

	return created, nil
}

// SeedSession inserts an active session for the account
func SeedSession(ctx context.Context, repo *repositories.SessionRepository, accountID int64, refreshHash string, ttl time.Duration) (*models.Session, error) {
	now := time.Now()
	session := &models.Session{
		ID:               uuid.New().String(),
		AccountID:        accountID,
		DeviceType:       "mobile",
		LastIP:           "127.0.0.1",
		RefreshTokenHash: refreshHash,
		CreatedAt:        now,
		LastActivityAt:   now,
		ExpiresAt:        now.Add(ttl),
		Active:           true,
	}
	created, err := repo.Create(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("failed to insert session: %w", err)
	}
	return created, nil
}
