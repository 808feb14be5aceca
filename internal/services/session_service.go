package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/calderray/aegis/internal/models"
	pkglogger "github.com/calderray/aegis/pkg/logger"
	"github.com/google/uuid"
)

// SessionRepository defines the interface for session persistence
type SessionRepository interface {
	Create(ctx context.Context, session *models.Session) (*models.Session, error)
	GetByID(ctx context.Context, id string) (*models.Session, error)
	ListActive(ctx context.Context, accountID int64) ([]*models.Session, error)
	CountActive(ctx context.Context, accountID int64) (int, error)
	Touch(ctx context.Context, id, ip, userAgent string) error
	RotateRefreshHash(ctx context.Context, id, oldHash, newHash string, expiresAt time.Time) (bool, error)
	Revoke(ctx context.Context, id string) error
	RevokeAll(ctx context.Context, accountID int64) (int64, error)
	RevokeOldest(ctx context.Context, accountID int64) (string, error)
	DeleteExpired(ctx context.Context, retention time.Duration) (int64, error)
}

// DeviceInfo describes the client a session was opened from.
type DeviceInfo struct {
	DeviceID   string
	DeviceType string
	DeviceName string
	OS         string
	Browser    string
}

// SessionService manages the per-account session registry.
type SessionService struct {
	repo        SessionRepository
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	maxSessions int
	sessionTTL  time.Duration
}

// NewSessionService creates a new SessionService
func NewSessionService(repo SessionRepository, logger *slog.Logger, auditLogger *pkglogger.AuditLogger, maxSessions int, sessionTTL time.Duration) *SessionService {
	return &SessionService{
		repo:        repo,
		logger:      logger,
		auditLogger: auditLogger,
		maxSessions: maxSessions,
		sessionTTL:  sessionTTL,
	}
}

// Create opens a new session for the account, evicting the least
// recently active session when the account is at its cap. The caller
// supplies sessionID because the token pair carrying it is minted
// first; an empty id gets a fresh one.
func (s *SessionService) Create(ctx context.Context, sessionID string, accountID int64, device DeviceInfo, refreshTokenHash, ip, userAgent string) (*models.Session, error) {
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	count, err := s.repo.CountActive(ctx, accountID)
	if err != nil {
		s.logger.Error("failed to count sessions", slog.Int64("account_id", accountID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	// Loop in case several logins race past the cap check at once.
	for count >= s.maxSessions {
		evicted, err := s.repo.RevokeOldest(ctx, accountID)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				break
			}
			s.logger.Error("failed to evict oldest session", slog.Int64("account_id", accountID), slog.Any("error", err))
			return nil, models.ErrInternalServer
		}
		s.auditLogger.LogAccountAction("session_evicted", accountID, ip, map[string]string{"session_id": evicted})
		count--
	}

	session := s.build(sessionID, accountID, device, refreshTokenHash, ip, userAgent)

	created, err := s.repo.Create(ctx, session)
	if err != nil {
		s.logger.Error("failed to create session", slog.Int64("account_id", accountID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	return created, nil
}

// build assembles a session model without persisting it. Registration
// uses this to hand the row into the account-create transaction.
func (s *SessionService) build(sessionID string, accountID int64, device DeviceInfo, refreshTokenHash, ip, userAgent string) *models.Session {
	now := time.Now()
	return &models.Session{
		ID:               sessionID,
		AccountID:        accountID,
		DeviceID:         device.DeviceID,
		DeviceType:       device.DeviceType,
		DeviceName:       device.DeviceName,
		OS:               device.OS,
		Browser:          device.Browser,
		LastIP:           ip,
		LastUserAgent:    userAgent,
		RefreshTokenHash: refreshTokenHash,
		CreatedAt:        now,
		LastActivityAt:   now,
		ExpiresAt:        now.Add(s.sessionTTL),
	}
}

// Get returns the session if it exists and belongs to the account.
func (s *SessionService) Get(ctx context.Context, accountID int64, sessionID string) (*models.Session, error) {
	session, err := s.repo.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrSessionNotFound
		}
		s.logger.Error("failed to get session", slog.String("session_id", sessionID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if session.AccountID != accountID {
		// Ownership mismatch is indistinguishable from absence.
		return nil, models.ErrSessionNotFound
	}

	return session, nil
}

// List returns the account's live sessions.
func (s *SessionService) List(ctx context.Context, accountID int64) ([]*models.Session, error) {
	sessions, err := s.repo.ListActive(ctx, accountID)
	if err != nil {
		s.logger.Error("failed to list sessions", slog.Int64("account_id", accountID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	return sessions, nil
}

// Touch advances the session's activity timestamp, keeping it out of
// eviction order.
func (s *SessionService) Touch(ctx context.Context, sessionID, ip, userAgent string) error {
	if err := s.repo.Touch(ctx, sessionID, ip, userAgent); err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			return models.ErrSessionNotFound
		}
		s.logger.Error("failed to touch session", slog.String("session_id", sessionID), slog.Any("error", err))
		return models.ErrInternalServer
	}
	return nil
}

// IsSessionActive reports whether the session can still authenticate
// requests. Satisfies the middleware's session checker.
func (s *SessionService) IsSessionActive(ctx context.Context, sessionID string) (bool, error) {
	session, err := s.repo.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return session.IsValid(), nil
}

// Rotate swaps the session's refresh hash conditionally on the previous
// value and extends the expiry. Returns false when the presented hash
// has already been rotated away, which callers treat as reuse of a
// stale refresh token.
func (s *SessionService) Rotate(ctx context.Context, sessionID, oldHash, newHash string) (bool, error) {
	rotated, err := s.repo.RotateRefreshHash(ctx, sessionID, oldHash, newHash, time.Now().Add(s.sessionTTL))
	if err != nil {
		s.logger.Error("failed to rotate refresh hash", slog.String("session_id", sessionID), slog.Any("error", err))
		return false, models.ErrInternalServer
	}
	return rotated, nil
}

// Revoke ends one session after verifying it belongs to the account.
func (s *SessionService) Revoke(ctx context.Context, accountID int64, sessionID string) error {
	session, err := s.Get(ctx, accountID, sessionID)
	if err != nil {
		return err
	}

	if err := s.repo.Revoke(ctx, session.ID); err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			return models.ErrSessionNotFound
		}
		s.logger.Error("failed to revoke session", slog.String("session_id", sessionID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.auditLogger.LogAccountAction("session_revoked", accountID, "", map[string]string{"session_id": sessionID})
	return nil
}

// RevokeAll ends every live session for the account and returns how
// many were revoked.
func (s *SessionService) RevokeAll(ctx context.Context, accountID int64) (int64, error) {
	revoked, err := s.repo.RevokeAll(ctx, accountID)
	if err != nil {
		s.logger.Error("failed to revoke sessions", slog.Int64("account_id", accountID), slog.Any("error", err))
		return 0, models.ErrInternalServer
	}

	if revoked > 0 {
		s.auditLogger.LogAccountAction("all_sessions_revoked", accountID, "", nil)
	}

	return revoked, nil
}
