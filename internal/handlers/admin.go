package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/calderray/aegis/internal/models"
	pkghttp "github.com/calderray/aegis/pkg/http"
	"github.com/calderray/aegis/pkg/logger"
	"github.com/go-chi/chi/v5"
)

// AccountAdminInterface defines the account lifecycle operations exposed to admins
type AccountAdminInterface interface {
	Get(ctx context.Context, accountID int64) (*models.Account, error)
	List(ctx context.Context, limit, offset int) ([]*models.Account, error)
	Suspend(ctx context.Context, accountID int64, reason string, until *time.Time) error
	Unsuspend(ctx context.Context, accountID int64) error
	Deactivate(ctx context.Context, accountID int64) error
	RequestDeletion(ctx context.Context, accountID int64) error
}

// AuditTrailInterface defines audit trail reads exposed to admins
type AuditTrailInterface interface {
	GetAccountTrail(ctx context.Context, accountID int64, limit, offset int) ([]*models.AuditLog, error)
}

// AdminHandler handles account administration HTTP requests
type AdminHandler struct {
	accounts AccountAdminInterface
	audit    AuditTrailInterface
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(accounts AccountAdminInterface, audit AuditTrailInterface) *AdminHandler {
	return &AdminHandler{
		accounts: accounts,
		audit:    audit,
	}
}

// AdminAccountResponse is the admin view of an account. The phone is
// masked; even operators do not need the full number on a list page.
type AdminAccountResponse struct {
	ID                  int64      `json:"id"`
	UUID                string     `json:"uuid"`
	Phone               string     `json:"phone"`
	CountryCode         string     `json:"country_code"`
	Status              string     `json:"status"`
	Verified            bool       `json:"verified"`
	FailedLoginAttempts int        `json:"failed_login_attempts"`
	SuspensionReason    string     `json:"suspension_reason,omitempty"`
	SuspensionUntil     *time.Time `json:"suspension_until,omitempty"`
	LastLoginAt         *time.Time `json:"last_login_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
}

// SuspendRequest represents the request body for suspending an account
type SuspendRequest struct {
	Reason string     `json:"reason" validate:"required,min=3,max=500"`
	Until  *time.Time `json:"until"`
}

func adminAccountToResponse(a *models.Account) AdminAccountResponse {
	return AdminAccountResponse{
		ID:                  a.ID,
		UUID:                a.UUID,
		Phone:               logger.SanitizedPhone(a.Phone),
		CountryCode:         a.CountryCode,
		Status:              a.Status,
		Verified:            a.Verified,
		FailedLoginAttempts: a.FailedLoginAttempts,
		SuspensionReason:    a.SuspensionReason,
		SuspensionUntil:     a.SuspensionUntil,
		LastLoginAt:         a.LastLoginAt,
		CreatedAt:           a.CreatedAt,
	}
}

func accountIDParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

// ListAccounts handles GET /admin/accounts with ?limit=N&offset=M
func (h *AdminHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	limit := 50
	offset := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if n, err := strconv.Atoi(o); err == nil && n >= 0 {
			offset = n
		}
	}

	accounts, err := h.accounts.List(r.Context(), limit, offset)
	if err != nil {
		pkghttp.WriteAuthError(w, err)
		return
	}

	resp := make([]AdminAccountResponse, 0, len(accounts))
	for _, a := range accounts {
		resp = append(resp, adminAccountToResponse(a))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// GetAccount handles GET /admin/accounts/{id}
func (h *AdminHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := accountIDParam(r)
	if !ok {
		pkghttp.WriteBadRequest(w, "invalid account id")
		return
	}

	account, err := h.accounts.Get(r.Context(), id)
	if err != nil {
		pkghttp.WriteAuthError(w, err)
		return
	}

	resp := adminAccountToResponse(account)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// SuspendAccount handles POST /admin/accounts/{id}/suspend
func (h *AdminHandler) SuspendAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := accountIDParam(r)
	if !ok {
		pkghttp.WriteBadRequest(w, "invalid account id")
		return
	}

	var req SuspendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if req.Until != nil && req.Until.Before(time.Now()) {
		pkghttp.WriteBadRequest(w, "suspension end must be in the future")
		return
	}

	if err := h.accounts.Suspend(r.Context(), id, req.Reason, req.Until); err != nil {
		pkghttp.WriteAuthError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// UnsuspendAccount handles POST /admin/accounts/{id}/unsuspend
func (h *AdminHandler) UnsuspendAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := accountIDParam(r)
	if !ok {
		pkghttp.WriteBadRequest(w, "invalid account id")
		return
	}

	if err := h.accounts.Unsuspend(r.Context(), id); err != nil {
		pkghttp.WriteAuthError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// DeactivateAccount handles POST /admin/accounts/{id}/deactivate
func (h *AdminHandler) DeactivateAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := accountIDParam(r)
	if !ok {
		pkghttp.WriteBadRequest(w, "invalid account id")
		return
	}

	if err := h.accounts.Deactivate(r.Context(), id); err != nil {
		pkghttp.WriteAuthError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RequestAccountDeletion handles POST /admin/accounts/{id}/request-deletion
func (h *AdminHandler) RequestAccountDeletion(w http.ResponseWriter, r *http.Request) {
	id, ok := accountIDParam(r)
	if !ok {
		pkghttp.WriteBadRequest(w, "invalid account id")
		return
	}

	if err := h.accounts.RequestDeletion(r.Context(), id); err != nil {
		pkghttp.WriteAuthError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetAuditTrail handles GET /admin/accounts/{id}/audit with ?limit=N&offset=M
func (h *AdminHandler) GetAuditTrail(w http.ResponseWriter, r *http.Request) {
	id, ok := accountIDParam(r)
	if !ok {
		pkghttp.WriteBadRequest(w, "invalid account id")
		return
	}

	limit := 50
	offset := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if n, err := strconv.Atoi(o); err == nil && n >= 0 {
			offset = n
		}
	}

	trail, err := h.audit.GetAccountTrail(r.Context(), id, limit, offset)
	if err != nil {
		pkghttp.WriteAuthError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(trail)
}
