package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/calderray/aegis/internal/auth"
	"github.com/calderray/aegis/internal/models"
	pkghttp "github.com/calderray/aegis/pkg/http"
	"github.com/go-chi/chi/v5"
)

// SessionServiceInterface defines the session registry operations used over HTTP
type SessionServiceInterface interface {
	List(ctx context.Context, accountID int64) ([]*models.Session, error)
	Revoke(ctx context.Context, accountID int64, sessionID string) error
	RevokeAll(ctx context.Context, accountID int64) (int64, error)
}

// SessionHandler handles session management requests for the authenticated account
type SessionHandler struct {
	service SessionServiceInterface
}

// NewSessionHandler creates a new SessionHandler
func NewSessionHandler(service SessionServiceInterface) *SessionHandler {
	return &SessionHandler{service: service}
}

// SessionResponse is the wire shape for a session. The refresh token
// hash never leaves the service.
type SessionResponse struct {
	ID             string    `json:"id"`
	DeviceID       string    `json:"device_id,omitempty"`
	DeviceType     string    `json:"device_type,omitempty"`
	DeviceName     string    `json:"device_name,omitempty"`
	OS             string    `json:"os,omitempty"`
	Browser        string    `json:"browser,omitempty"`
	LastIP         string    `json:"last_ip,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	Current        bool      `json:"current"`
}

func sessionToResponse(s *models.Session, currentSessionID string) SessionResponse {
	return SessionResponse{
		ID:             s.ID,
		DeviceID:       s.DeviceID,
		DeviceType:     s.DeviceType,
		DeviceName:     s.DeviceName,
		OS:             s.OS,
		Browser:        s.Browser,
		LastIP:         s.LastIP,
		CreatedAt:      s.CreatedAt,
		LastActivityAt: s.LastActivityAt,
		ExpiresAt:      s.ExpiresAt,
		Current:        s.ID == currentSessionID,
	}
}

// List returns the caller's active sessions
// @Summary List active sessions
// @Security BearerAuth
// @Produce json
// @Success 200 {array} SessionResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Router /sessions [get]
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaimsFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	sessions, err := h.service.List(r.Context(), claims.AccountID)
	if err != nil {
		pkghttp.WriteAuthError(w, err)
		return
	}

	resp := make([]SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		resp = append(resp, sessionToResponse(s, claims.SessionID))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}

// Revoke revokes one of the caller's sessions by id
// @Summary Revoke a session
// @Security BearerAuth
// @Param id path string true "Session ID"
// @Success 204
// @Failure 401 {object} pkghttp.ErrorResponse
// @Router /sessions/{id} [delete]
func (h *SessionHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaimsFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	sessionID := chi.URLParam(r, "id")
	if sessionID == "" {
		pkghttp.WriteBadRequest(w, "session id is required")
		return
	}

	if err := h.service.Revoke(r.Context(), claims.AccountID, sessionID); err != nil {
		pkghttp.WriteAuthError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RevokeAll revokes every session belonging to the caller, including the current one
// @Summary Revoke all sessions
// @Security BearerAuth
// @Produce json
// @Success 200
// @Failure 401 {object} pkghttp.ErrorResponse
// @Router /sessions [delete]
func (h *SessionHandler) RevokeAll(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaimsFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	revoked, err := h.service.RevokeAll(r.Context(), claims.AccountID)
	if err != nil {
		pkghttp.WriteAuthError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]int64{"revoked": revoked})
}
