package handlers_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/calderray/aegis/internal/handlers"
	"github.com/calderray/aegis/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

func TestListSessions_MarksCurrent(t *testing.T) {
	now := time.Now()
	mockSessions := &handlers.MockSessionService{
		ListFunc: func(ctx context.Context, accountID int64) ([]*models.Session, error) {
			assert.Equal(t, int64(42), accountID)
			return []*models.Session{
				{ID: "sess-1", AccountID: 42, RefreshTokenHash: "secret", CreatedAt: now, ExpiresAt: now.Add(time.Hour), Active: true},
				{ID: "sess-2", AccountID: 42, RefreshTokenHash: "secret", CreatedAt: now, ExpiresAt: now.Add(time.Hour), Active: true},
			}, nil
		},
	}

	handler := handlers.NewSessionHandler(mockSessions)
	req := handlers.NewTestRequest(t, "GET", "/sessions", nil)
	req = handlers.WithAuthContext(req, 42, "sess-2", "user")

	w := httptest.NewRecorder()
	handler.List(w, req)

	var resp []handlers.SessionResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Len(t, resp, 2)
	assert.False(t, resp[0].Current)
	assert.True(t, resp[1].Current)

	// The refresh token hash must not appear anywhere in the body
	assert.NotContains(t, w.Body.String(), "secret")
}

func TestListSessions_Unauthenticated(t *testing.T) {
	handler := handlers.NewSessionHandler(&handlers.MockSessionService{})
	req := handlers.NewTestRequest(t, "GET", "/sessions", nil)

	w := httptest.NewRecorder()
	handler.List(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRevokeSession_Success(t *testing.T) {
	var revoked string
	mockSessions := &handlers.MockSessionService{
		RevokeFunc: func(ctx context.Context, accountID int64, sessionID string) error {
			assert.Equal(t, int64(42), accountID)
			revoked = sessionID
			return nil
		},
	}

	handler := handlers.NewSessionHandler(mockSessions)
	req := handlers.NewTestRequest(t, "DELETE", "/sessions/sess-9", nil)
	req = handlers.WithAuthContext(req, 42, "sess-1", "user")

	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", "sess-9")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	w := httptest.NewRecorder()
	handler.Revoke(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "sess-9", revoked)
}

func TestRevokeSession_NotOwned(t *testing.T) {
	mockSessions := &handlers.MockSessionService{
		RevokeFunc: func(ctx context.Context, accountID int64, sessionID string) error {
			return models.ErrSessionNotFound
		},
	}

	handler := handlers.NewSessionHandler(mockSessions)
	req := handlers.NewTestRequest(t, "DELETE", "/sessions/someone-elses", nil)
	req = handlers.WithAuthContext(req, 42, "sess-1", "user")

	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", "someone-elses")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	w := httptest.NewRecorder()
	handler.Revoke(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusUnauthorized, "SESSION_NOT_FOUND")
}

func TestRevokeAllSessions_ReportsCount(t *testing.T) {
	mockSessions := &handlers.MockSessionService{
		RevokeAllFunc: func(ctx context.Context, accountID int64) (int64, error) {
			return 3, nil
		},
	}

	handler := handlers.NewSessionHandler(mockSessions)
	req := handlers.NewTestRequest(t, "DELETE", "/sessions", nil)
	req = handlers.WithAuthContext(req, 42, "sess-1", "user")

	w := httptest.NewRecorder()
	handler.RevokeAll(w, req)

	var resp map[string]int64
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, int64(3), resp["revoked"])
}
