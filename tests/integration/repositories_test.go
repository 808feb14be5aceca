package integration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/calderray/aegis/internal/models"
	"github.com/calderray/aegis/pkg/crypto"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupDB(t *testing.T) (*TestDB, context.Context) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	db, err := SetupTestDatabase(ctx)
	require.NoError(t, err, "failed to set up test database")

	t.Cleanup(func() {
		_ = db.Teardown(context.Background())
	})

	return db, ctx
}

func TestAccountRepository_Lifecycle(t *testing.T) {
	db, ctx := setupDB(t)
	accountRepo, _, _, _ := InitializeRepositories(db.DB)

	phone := TestPhone()
	account, err := SeedAccount(ctx, accountRepo, phone, TestPassword)
	require.NoError(t, err)
	assert.NotZero(t, account.ID)
	assert.NotEmpty(t, account.UUID)
	assert.Equal(t, models.StatusActive, account.Status)

	// Lookup by phone round-trips
	found, err := accountRepo.GetByPhone(ctx, phone)
	require.NoError(t, err)
	assert.Equal(t, account.ID, found.ID)

	// Duplicate phone surfaces as a conflict
	_, err = SeedAccount(ctx, accountRepo, phone, TestPassword)
	assert.ErrorIs(t, err, models.ErrConflict)

	// Failed attempt counter increments server-side
	n, err := accountRepo.IncrementFailedAttempts(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = accountRepo.IncrementFailedAttempts(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Recording a login resets the counters in the same statement
	require.NoError(t, accountRepo.RecordLogin(ctx, account.ID, "10.0.0.1"))
	found, err = accountRepo.GetByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, found.FailedLoginAttempts)
	assert.Equal(t, int64(1), found.LoginCount)
	assert.Equal(t, "10.0.0.1", found.LastIP)

	// Suspension round-trips and clears on reactivation
	reason := "abuse report"
	until := time.Now().Add(time.Hour).UTC()
	require.NoError(t, accountRepo.UpdateStatus(ctx, account.ID, models.StatusSuspended, &reason, &until))
	found, err = accountRepo.GetByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuspended, found.Status)
	assert.Equal(t, reason, found.SuspensionReason)
	require.NotNil(t, found.SuspensionUntil)

	require.NoError(t, accountRepo.UpdateStatus(ctx, account.ID, models.StatusActive, nil, nil))
	found, err = accountRepo.GetByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, found.Status)
	assert.Empty(t, found.SuspensionReason)
	assert.Nil(t, found.SuspensionUntil)

	// Unknown ids report not found
	err = accountRepo.UpdateStatus(ctx, 999999, models.StatusActive, nil, nil)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestOTPRepository_SingleUseConsume(t *testing.T) {
	db, ctx := setupDB(t)
	_, otpRepo, _, _ := InitializeRepositories(db.DB)

	challenge := &models.OTPChallenge{
		VerificationID: uuid.New().String(),
		Phone:          TestPhone(),
		CountryCode:    "US",
		CodeHash:       crypto.Hash("123456"),
		Purpose:        models.OTPPurposeLogin,
		IssuedAt:       time.Now(),
		ExpiresAt:      time.Now().Add(5 * time.Minute),
		MaxAttempts:    5,
		RequesterIP:    "127.0.0.1",
	}
	_, err := otpRepo.Create(ctx, challenge)
	require.NoError(t, err)

	// Attempts increment server-side
	n, err := otpRepo.IncrementAttempts(ctx, challenge.VerificationID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// First consume wins, the second loses
	ok, err := otpRepo.Consume(ctx, challenge.VerificationID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = otpRepo.Consume(ctx, challenge.VerificationID)
	require.NoError(t, err)
	assert.False(t, ok)

	found, err := otpRepo.GetByVerificationID(ctx, challenge.VerificationID)
	require.NoError(t, err)
	assert.True(t, found.Verified)
	assert.NotNil(t, found.VerifiedAt)
}

func TestOTPRepository_ConcurrentConsumeHasOneWinner(t *testing.T) {
	db, ctx := setupDB(t)
	_, otpRepo, _, _ := InitializeRepositories(db.DB)

	challenge := &models.OTPChallenge{
		VerificationID: uuid.New().String(),
		Phone:          TestPhone(),
		CodeHash:       crypto.Hash("123456"),
		Purpose:        models.OTPPurposeLogin,
		IssuedAt:       time.Now(),
		ExpiresAt:      time.Now().Add(5 * time.Minute),
		MaxAttempts:    5,
	}
	_, err := otpRepo.Create(ctx, challenge)
	require.NoError(t, err)

	const racers = 8
	results := make(chan bool, racers)
	for i := 0; i < racers; i++ {
		go func() {
			ok, err := otpRepo.Consume(ctx, challenge.VerificationID)
			if err != nil {
				ok = false
			}
			results <- ok
		}()
	}

	winners := 0
	for i := 0; i < racers; i++ {
		if <-results {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
}

func TestSessionRepository_RotationRace(t *testing.T) {
	db, ctx := setupDB(t)
	accountRepo, _, sessionRepo, _ := InitializeRepositories(db.DB)

	account, err := SeedAccount(ctx, accountRepo, TestPhone(), TestPassword)
	require.NoError(t, err)

	oldHash := crypto.Hash("refresh-token-1")
	session, err := SeedSession(ctx, sessionRepo, account.ID, oldHash, time.Hour)
	require.NoError(t, err)

	newExpiry := time.Now().Add(2 * time.Hour)

	// Rotation conditional on the current hash succeeds once
	rotated, err := sessionRepo.RotateRefreshHash(ctx, session.ID, oldHash, crypto.Hash("refresh-token-2"), newExpiry)
	require.NoError(t, err)
	assert.True(t, rotated)

	// Replaying the old hash loses
	rotated, err = sessionRepo.RotateRefreshHash(ctx, session.ID, oldHash, crypto.Hash("refresh-token-3"), newExpiry)
	require.NoError(t, err)
	assert.False(t, rotated)

	found, err := sessionRepo.GetByID(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, crypto.Hash("refresh-token-2"), found.RefreshTokenHash)
}

func TestSessionRepository_RevokeOldest(t *testing.T) {
	db, ctx := setupDB(t)
	accountRepo, _, sessionRepo, _ := InitializeRepositories(db.DB)

	account, err := SeedAccount(ctx, accountRepo, TestPhone(), TestPassword)
	require.NoError(t, err)

	oldest, err := SeedSession(ctx, sessionRepo, account.ID, crypto.Hash("t1"), time.Hour)
	require.NoError(t, err)

	// Ensure a later activity timestamp for the second session
	time.Sleep(10 * time.Millisecond)
	newer, err := SeedSession(ctx, sessionRepo, account.ID, crypto.Hash("t2"), time.Hour)
	require.NoError(t, err)

	revokedID, err := sessionRepo.RevokeOldest(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, oldest.ID, revokedID)

	count, err := sessionRepo.CountActive(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	remaining, err := sessionRepo.ListActive(ctx, account.ID)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, newer.ID, remaining[0].ID)
}

func TestAccountRepository_SuspendWithSessions(t *testing.T) {
	db, ctx := setupDB(t)
	accountRepo, _, sessionRepo, _ := InitializeRepositories(db.DB)

	account, err := SeedAccount(ctx, accountRepo, TestPhone(), TestPassword)
	require.NoError(t, err)
	_, err = SeedSession(ctx, sessionRepo, account.ID, crypto.Hash("t1"), time.Hour)
	require.NoError(t, err)
	_, err = SeedSession(ctx, sessionRepo, account.ID, crypto.Hash("t2"), time.Hour)
	require.NoError(t, err)

	reason := "abuse"
	revoked, err := accountRepo.SuspendWithSessions(ctx, account.ID, &reason, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), revoked)

	found, err := accountRepo.GetByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuspended, found.Status)

	count, err := sessionRepo.CountActive(ctx, account.ID)
	require.NoError(t, err)
	assert.Zero(t, count)

	// Unknown account rolls the whole thing back with not found
	_, err = accountRepo.SuspendWithSessions(ctx, 999999, &reason, nil)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestAuditLogRepository_TrailRoundTrip(t *testing.T) {
	db, ctx := setupDB(t)
	accountRepo, _, _, auditRepo := InitializeRepositories(db.DB)

	account, err := SeedAccount(ctx, accountRepo, TestPhone(), TestPassword)
	require.NoError(t, err)

	entry := &models.AuditLog{
		ActorID:     &account.ID,
		Action:      "login",
		Resource:    "account",
		ResourceID:  account.UUID,
		AfterValues: map[string]any{"ip": "127.0.0.1"},
		IPAddress:   "127.0.0.1",
		UserAgent:   "integration-test",
	}
	created, err := auditRepo.Create(ctx, entry)
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.False(t, created.CreatedAt.IsZero())

	trail, err := auditRepo.GetByActorID(ctx, account.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, "login", trail[0].Action)
	assert.Equal(t, "127.0.0.1", trail[0].AfterValues["ip"])
}

func TestAccountRepository_PhoneStoredEncrypted(t *testing.T) {
	db, ctx := setupDB(t)
	accountRepo, _, _, _ := InitializeRepositories(db.DB)

	phone := TestPhone()
	account, err := SeedAccount(ctx, accountRepo, phone, TestPassword)
	require.NoError(t, err)

	// The raw row must hold envelopes, never the dialable number
	var rawPhone, rawRegIP, phoneHash string
	err = db.Pool.QueryRow(ctx,
		"SELECT phone, registration_ip, phone_hash FROM accounts WHERE id = $1",
		account.ID,
	).Scan(&rawPhone, &rawRegIP, &phoneHash)
	require.NoError(t, err)

	assert.True(t, crypto.IsEnvelope(rawPhone), "phone column must be an encryption envelope")
	assert.NotContains(t, rawPhone, phone)
	assert.True(t, crypto.IsEnvelope(rawRegIP), "registration_ip column must be an encryption envelope")
	assert.Equal(t, crypto.Hash(phone), phoneHash)

	// Reads decrypt back to plaintext, and the hash column serves lookups
	found, err := accountRepo.GetByPhone(ctx, phone)
	require.NoError(t, err)
	assert.Equal(t, account.ID, found.ID)
	assert.Equal(t, phone, found.Phone)
	assert.Equal(t, "127.0.0.1", found.RegistrationIP)

	// RecordLogin encrypts last_ip on the way in
	require.NoError(t, accountRepo.RecordLogin(ctx, account.ID, "10.0.0.1"))
	var rawLastIP string
	err = db.Pool.QueryRow(ctx, "SELECT last_ip FROM accounts WHERE id = $1", account.ID).Scan(&rawLastIP)
	require.NoError(t, err)
	assert.True(t, crypto.IsEnvelope(rawLastIP), "last_ip column must be an encryption envelope")

	found, err = accountRepo.GetByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", found.LastIP)
}

func TestAccountRepository_CreateWithSessionRollsBack(t *testing.T) {
	db, ctx := setupDB(t)
	accountRepo, _, _, _ := InitializeRepositories(db.DB)

	phone := TestPhone()
	newAccount := func() *models.Account {
		return &models.Account{
			Phone:          phone,
			CountryCode:    "US",
			PasswordHash:   crypto.Hash(TestPassword),
			RegistrationIP: "127.0.0.1",
			Verified:       true,
		}
	}

	sessionErr := errors.New("token mint failed")
	_, _, err := accountRepo.CreateWithSession(ctx, newAccount(), func(created *models.Account) (*models.Session, error) {
		return nil, sessionErr
	})
	require.ErrorIs(t, err, sessionErr)

	// The account insert must not survive the failed session
	_, err = accountRepo.GetByPhone(ctx, phone)
	assert.ErrorIs(t, err, models.ErrNotFound)

	// The same phone registers cleanly on retry
	now := time.Now()
	created, session, err := accountRepo.CreateWithSession(ctx, newAccount(), func(created *models.Account) (*models.Session, error) {
		return &models.Session{
			ID:               uuid.New().String(),
			AccountID:        created.ID,
			DeviceType:       "mobile",
			LastIP:           "127.0.0.1",
			RefreshTokenHash: crypto.Hash("refresh-token"),
			CreatedAt:        now,
			LastActivityAt:   now,
			ExpiresAt:        now.Add(time.Hour),
			Active:           true,
		}, nil
	})
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	require.NotNil(t, session)
	assert.Equal(t, created.ID, session.AccountID)
}

func TestAccountRepository_UpdatePhoneConflict(t *testing.T) {
	db, ctx := setupDB(t)
	accountRepo, _, _, _ := InitializeRepositories(db.DB)

	first, err := SeedAccount(ctx, accountRepo, TestPhone(), TestPassword)
	require.NoError(t, err)
	second, err := SeedAccount(ctx, accountRepo, TestPhone(), TestPassword)
	require.NoError(t, err)

	err = accountRepo.UpdatePhone(ctx, second.ID, first.Phone, "US")
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrConflict))
}
