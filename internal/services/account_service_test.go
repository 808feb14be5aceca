package services

import (
	"context"
	"testing"
	"time"

	"github.com/calderray/aegis/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAccountService(repo AccountRepository, sessionRepo SessionRepository) *AccountService {
	return newTestAccountServiceWithAudit(repo, sessionRepo, testAuditService())
}

func newTestAccountServiceWithAudit(repo AccountRepository, sessionRepo SessionRepository, audit *AuditService) *AccountService {
	if sessionRepo == nil {
		sessionRepo = &MockSessionRepository{}
	}
	sessions := newTestSessionService(sessionRepo)
	return NewAccountService(repo, sessions, audit, testLogger(), testAuditLogger(), LockoutPolicy{
		Threshold: 5,
		Window:    15 * time.Minute,
	})
}

func TestAccountService_CanLogin_Active(t *testing.T) {
	svc := newTestAccountService(&MockAccountRepository{}, nil)

	err := svc.CanLogin(context.Background(), &models.Account{ID: 1, Status: models.StatusActive})
	assert.NoError(t, err)
}

func TestAccountService_CanLogin_Locked(t *testing.T) {
	svc := newTestAccountService(&MockAccountRepository{}, nil)

	recent := time.Now().Add(-time.Minute)
	account := &models.Account{
		ID:                  1,
		Status:              models.StatusActive,
		FailedLoginAttempts: 5,
		LastFailedLogin:     &recent,
	}

	err := svc.CanLogin(context.Background(), account)
	assert.ErrorIs(t, err, models.ErrAccountLocked)
}

func TestAccountService_CanLogin_LockExpiresWithWindow(t *testing.T) {
	svc := newTestAccountService(&MockAccountRepository{}, nil)

	stale := time.Now().Add(-20 * time.Minute)
	account := &models.Account{
		ID:                  1,
		Status:              models.StatusActive,
		FailedLoginAttempts: 7,
		LastFailedLogin:     &stale,
	}

	// Counter is over threshold but the window has passed.
	err := svc.CanLogin(context.Background(), account)
	assert.NoError(t, err)
}

func TestAccountService_CanLogin_LockTakesPrecedenceOverSuspension(t *testing.T) {
	svc := newTestAccountService(&MockAccountRepository{}, nil)

	recent := time.Now().Add(-time.Minute)
	account := &models.Account{
		ID:                  1,
		Status:              models.StatusSuspended,
		FailedLoginAttempts: 5,
		LastFailedLogin:     &recent,
	}

	err := svc.CanLogin(context.Background(), account)
	assert.ErrorIs(t, err, models.ErrAccountLocked)
}

func TestAccountService_CanLogin_Suspended(t *testing.T) {
	svc := newTestAccountService(&MockAccountRepository{}, nil)

	until := time.Now().Add(time.Hour)
	account := &models.Account{ID: 1, Status: models.StatusSuspended, SuspensionUntil: &until}

	err := svc.CanLogin(context.Background(), account)
	assert.ErrorIs(t, err, models.ErrAccountSuspended)
	assert.Contains(t, err.Error(), "until")
}

func TestAccountService_CanLogin_IndefiniteSuspension(t *testing.T) {
	svc := newTestAccountService(&MockAccountRepository{}, nil)

	account := &models.Account{ID: 1, Status: models.StatusSuspended}

	err := svc.CanLogin(context.Background(), account)
	assert.ErrorIs(t, err, models.ErrAccountSuspended)
}

func TestAccountService_CanLogin_LapsedSuspensionClears(t *testing.T) {
	var restoredTo string
	repo := &MockAccountRepository{
		UpdateStatusFunc: func(ctx context.Context, id int64, status string, reason *string, until *time.Time) error {
			restoredTo = status
			return nil
		},
	}
	svc := newTestAccountService(repo, nil)

	past := time.Now().Add(-time.Hour)
	account := &models.Account{ID: 1, Status: models.StatusSuspended, SuspensionUntil: &past}

	err := svc.CanLogin(context.Background(), account)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, restoredTo)
	assert.Equal(t, models.StatusActive, account.Status)
}

func TestAccountService_CanLogin_DeactivatedAndPendingDeletion(t *testing.T) {
	svc := newTestAccountService(&MockAccountRepository{}, nil)

	err := svc.CanLogin(context.Background(), &models.Account{ID: 1, Status: models.StatusDeactivated})
	assert.ErrorIs(t, err, models.ErrAccountDeactivated)

	err = svc.CanLogin(context.Background(), &models.Account{ID: 1, Status: models.StatusPendingDeletion})
	assert.ErrorIs(t, err, models.ErrAccountPendingDeletion)
}

func TestAccountService_RecordFailedLogin(t *testing.T) {
	count := 0
	repo := &MockAccountRepository{
		IncrementFailedAttemptsFunc: func(ctx context.Context, id int64) (int, error) {
			count++
			return count, nil
		},
	}
	svc := newTestAccountService(repo, nil)

	for i := 0; i < 4; i++ {
		locked, err := svc.RecordFailedLogin(context.Background(), 1)
		require.NoError(t, err)
		assert.False(t, locked)
	}

	locked, err := svc.RecordFailedLogin(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, locked, "fifth failure should cross the threshold")
}

func TestAccountService_Suspend_RevokesSessions(t *testing.T) {
	var suspendedUntil *time.Time
	suspended := false
	repo := &MockAccountRepository{
		SuspendWithSessionsFunc: func(ctx context.Context, id int64, reason *string, until *time.Time) (int64, error) {
			require.NotNil(t, reason)
			assert.Equal(t, "abuse", *reason)
			suspendedUntil = until
			suspended = true
			return 2, nil
		},
	}
	svc := newTestAccountService(repo, &MockSessionRepository{})

	until := time.Now().Add(24 * time.Hour)
	err := svc.Suspend(context.Background(), 1, "abuse", &until)
	require.NoError(t, err)
	assert.True(t, suspended, "suspension must end every live session atomically")
	assert.Equal(t, &until, suspendedUntil)
}

func TestAccountService_LifecycleTransitionsPersistAuditRows(t *testing.T) {
	var entries []*models.AuditLog
	auditRepo := &MockAuditRepository{
		CreateFunc: func(ctx context.Context, log *models.AuditLog) (*models.AuditLog, error) {
			entries = append(entries, log)
			return log, nil
		},
	}
	repo := &MockAccountRepository{
		GetByIDFunc: func(ctx context.Context, id int64) (*models.Account, error) {
			return &models.Account{ID: id, Status: models.StatusSuspended}, nil
		},
	}
	svc := newTestAccountServiceWithAudit(repo, &MockSessionRepository{}, NewAuditService(auditRepo, testLogger()))

	require.NoError(t, svc.Suspend(context.Background(), 1, "abuse", nil))
	require.NoError(t, svc.Unsuspend(context.Background(), 1))
	require.NoError(t, svc.Deactivate(context.Background(), 1))
	require.NoError(t, svc.Reactivate(context.Background(), 1))
	require.NoError(t, svc.RequestDeletion(context.Background(), 1))

	require.Len(t, entries, 5, "every lifecycle transition lands in the audit trail")

	actions := make([]string, 0, len(entries))
	for _, e := range entries {
		actions = append(actions, e.Action)
		require.NotNil(t, e.ActorID)
		assert.Equal(t, int64(1), *e.ActorID)
		assert.Equal(t, "account", e.Resource)
		assert.Equal(t, "1", e.ResourceID)
	}
	assert.Equal(t, []string{
		"account_suspended",
		"account_unsuspended",
		"account_deactivated",
		"account_reactivated",
		"account_deletion_requested",
	}, actions)

	assert.Equal(t, "abuse", entries[0].AfterValues["reason"])
	assert.Equal(t, models.StatusSuspended, entries[0].AfterValues["status"])
}

func TestAccountService_Unsuspend_RequiresSuspendedState(t *testing.T) {
	repo := &MockAccountRepository{
		GetByIDFunc: func(ctx context.Context, id int64) (*models.Account, error) {
			return &models.Account{ID: id, Status: models.StatusActive}, nil
		},
	}
	svc := newTestAccountService(repo, nil)

	err := svc.Unsuspend(context.Background(), 1)
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestAccountService_Deactivate_RevokesSessions(t *testing.T) {
	repo := &MockAccountRepository{
		UpdateStatusFunc: func(ctx context.Context, id int64, status string, reason *string, until *time.Time) error {
			assert.Equal(t, models.StatusDeactivated, status)
			assert.Nil(t, reason)
			assert.Nil(t, until)
			return nil
		},
	}
	revoked := false
	sessionRepo := &MockSessionRepository{
		RevokeAllFunc: func(ctx context.Context, accountID int64) (int64, error) {
			revoked = true
			return 1, nil
		},
	}
	svc := newTestAccountService(repo, sessionRepo)

	err := svc.Deactivate(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, revoked)
}
