package services

import (
	"context"
	"testing"
	"time"

	"github.com/calderray/aegis/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSessionService(repo SessionRepository) *SessionService {
	return NewSessionService(repo, testLogger(), testAuditLogger(), 5, 7*24*time.Hour)
}

func TestSessionService_Create(t *testing.T) {
	var created *models.Session
	repo := &MockSessionRepository{
		CreateFunc: func(ctx context.Context, session *models.Session) (*models.Session, error) {
			created = session
			return session, nil
		},
	}
	svc := newTestSessionService(repo)

	device := DeviceInfo{DeviceID: "device-1", DeviceType: "mobile", OS: "ios"}
	session, err := svc.Create(context.Background(), "sess-1", 42, device, "refresh-hash", "203.0.113.10", "test-agent")
	require.NoError(t, err)

	assert.Equal(t, "sess-1", session.ID)
	assert.Equal(t, int64(42), created.AccountID)
	assert.Equal(t, "refresh-hash", created.RefreshTokenHash)
	assert.Equal(t, "device-1", created.DeviceID)
	assert.WithinDuration(t, time.Now().Add(7*24*time.Hour), created.ExpiresAt, time.Minute)
}

func TestSessionService_Create_EvictsOldestAtCap(t *testing.T) {
	count := 5
	evicted := []string{}
	repo := &MockSessionRepository{
		CountActiveFunc: func(ctx context.Context, accountID int64) (int, error) {
			return count, nil
		},
		RevokeOldestFunc: func(ctx context.Context, accountID int64) (string, error) {
			count--
			id := "old-session"
			evicted = append(evicted, id)
			return id, nil
		},
	}
	svc := newTestSessionService(repo)

	_, err := svc.Create(context.Background(), "sess-new", 42, DeviceInfo{}, "hash", "", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"old-session"}, evicted)
}

func TestSessionService_Create_UnderCapNoEviction(t *testing.T) {
	repo := &MockSessionRepository{
		CountActiveFunc: func(ctx context.Context, accountID int64) (int, error) {
			return 4, nil
		},
		RevokeOldestFunc: func(ctx context.Context, accountID int64) (string, error) {
			t.Fatal("should not evict under the cap")
			return "", nil
		},
	}
	svc := newTestSessionService(repo)

	_, err := svc.Create(context.Background(), "", 42, DeviceInfo{}, "hash", "", "")
	require.NoError(t, err)
}

func TestSessionService_Get_OwnershipEnforced(t *testing.T) {
	repo := &MockSessionRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.Session, error) {
			return &models.Session{ID: id, AccountID: 42, Active: true, ExpiresAt: time.Now().Add(time.Hour)}, nil
		},
	}
	svc := newTestSessionService(repo)

	_, err := svc.Get(context.Background(), 42, "sess-1")
	assert.NoError(t, err)

	// A different account sees the same error as a missing session.
	_, err = svc.Get(context.Background(), 99, "sess-1")
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
}

func TestSessionService_IsSessionActive(t *testing.T) {
	tests := []struct {
		name    string
		session *models.Session
		err     error
		want    bool
	}{
		{
			name:    "live session",
			session: &models.Session{Active: true, ExpiresAt: time.Now().Add(time.Hour)},
			want:    true,
		},
		{
			name:    "revoked session",
			session: &models.Session{Active: false, ExpiresAt: time.Now().Add(time.Hour)},
			want:    false,
		},
		{
			name:    "expired session",
			session: &models.Session{Active: true, ExpiresAt: time.Now().Add(-time.Hour)},
			want:    false,
		},
		{
			name: "missing session",
			err:  models.ErrNotFound,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &MockSessionRepository{
				GetByIDFunc: func(ctx context.Context, id string) (*models.Session, error) {
					if tt.err != nil {
						return nil, tt.err
					}
					return tt.session, nil
				},
			}
			svc := newTestSessionService(repo)

			active, err := svc.IsSessionActive(context.Background(), "sess-1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, active)
		})
	}
}

func TestSessionService_Rotate_StaleHashLoses(t *testing.T) {
	currentHash := "hash-v2"
	repo := &MockSessionRepository{
		RotateRefreshHashFunc: func(ctx context.Context, id, oldHash, newHash string, expiresAt time.Time) (bool, error) {
			if oldHash != currentHash {
				return false, nil
			}
			currentHash = newHash
			return true, nil
		},
	}
	svc := newTestSessionService(repo)

	rotated, err := svc.Rotate(context.Background(), "sess-1", "hash-v2", "hash-v3")
	require.NoError(t, err)
	assert.True(t, rotated)

	// Replaying the previous hash after rotation must not succeed.
	rotated, err = svc.Rotate(context.Background(), "sess-1", "hash-v2", "hash-v4")
	require.NoError(t, err)
	assert.False(t, rotated)
}

func TestSessionService_Revoke_WrongAccount(t *testing.T) {
	repo := &MockSessionRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.Session, error) {
			return &models.Session{ID: id, AccountID: 42, Active: true, ExpiresAt: time.Now().Add(time.Hour)}, nil
		},
		RevokeFunc: func(ctx context.Context, id string) error {
			t.Fatal("revoke should not be reached for a foreign session")
			return nil
		},
	}
	svc := newTestSessionService(repo)

	err := svc.Revoke(context.Background(), 99, "sess-1")
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
}

func TestSessionService_RevokeAll(t *testing.T) {
	repo := &MockSessionRepository{
		RevokeAllFunc: func(ctx context.Context, accountID int64) (int64, error) {
			return 3, nil
		},
	}
	svc := newTestSessionService(repo)

	revoked, err := svc.RevokeAll(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, int64(3), revoked)
}
