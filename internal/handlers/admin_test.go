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

func withAccountIDParam(req *http.Request, id string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", id)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestAdminListAccounts_MasksPhones(t *testing.T) {
	mockAccounts := &handlers.MockAccountAdmin{
		ListFunc: func(ctx context.Context, limit, offset int) ([]*models.Account, error) {
			return []*models.Account{
				{ID: 1, UUID: "u1", Phone: "+15551230000", Status: models.StatusActive, CreatedAt: time.Now()},
			}, nil
		},
	}

	handler := handlers.NewAdminHandler(mockAccounts, &handlers.MockAuditTrail{})
	req := handlers.NewTestRequest(t, "GET", "/admin/accounts", nil)
	req = handlers.WithAuthContext(req, 7, "sess-admin", "admin")

	w := httptest.NewRecorder()
	handler.ListAccounts(w, req)

	var resp []handlers.AdminAccountResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Len(t, resp, 1)
	assert.NotContains(t, w.Body.String(), "+15551230000")
	assert.NotEmpty(t, resp[0].Phone)
}

func TestAdminSuspendAccount_Success(t *testing.T) {
	var suspendedID int64
	var gotReason string
	mockAccounts := &handlers.MockAccountAdmin{
		SuspendFunc: func(ctx context.Context, accountID int64, reason string, until *time.Time) error {
			suspendedID = accountID
			gotReason = reason
			return nil
		},
	}

	handler := handlers.NewAdminHandler(mockAccounts, &handlers.MockAuditTrail{})
	req := handlers.NewTestRequest(t, "POST", "/admin/accounts/42/suspend", handlers.SuspendRequest{
		Reason: "abuse report",
	})
	req = withAccountIDParam(req, "42")

	w := httptest.NewRecorder()
	handler.SuspendAccount(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, int64(42), suspendedID)
	assert.Equal(t, "abuse report", gotReason)
}

func TestAdminSuspendAccount_RejectsPastDeadline(t *testing.T) {
	handler := handlers.NewAdminHandler(&handlers.MockAccountAdmin{}, &handlers.MockAuditTrail{})

	past := time.Now().Add(-time.Hour)
	req := handlers.NewTestRequest(t, "POST", "/admin/accounts/42/suspend", handlers.SuspendRequest{
		Reason: "abuse report",
		Until:  &past,
	})
	req = withAccountIDParam(req, "42")

	w := httptest.NewRecorder()
	handler.SuspendAccount(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "VALIDATION_ERROR")
}

func TestAdminUnsuspendAccount_WrongState(t *testing.T) {
	mockAccounts := &handlers.MockAccountAdmin{
		UnsuspendFunc: func(ctx context.Context, accountID int64) error {
			return models.ValidationError("account is not suspended")
		},
	}

	handler := handlers.NewAdminHandler(mockAccounts, &handlers.MockAuditTrail{})
	req := handlers.NewTestRequest(t, "POST", "/admin/accounts/42/unsuspend", nil)
	req = withAccountIDParam(req, "42")

	w := httptest.NewRecorder()
	handler.UnsuspendAccount(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "VALIDATION_ERROR")
}

func TestAdminGetAccount_InvalidID(t *testing.T) {
	handler := handlers.NewAdminHandler(&handlers.MockAccountAdmin{}, &handlers.MockAuditTrail{})
	req := handlers.NewTestRequest(t, "GET", "/admin/accounts/abc", nil)
	req = withAccountIDParam(req, "abc")

	w := httptest.NewRecorder()
	handler.GetAccount(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "VALIDATION_ERROR")
}

func TestAdminGetAuditTrail_Success(t *testing.T) {
	mockAudit := &handlers.MockAuditTrail{
		GetAccountTrailFunc: func(ctx context.Context, accountID int64, limit, offset int) ([]*models.AuditLog, error) {
			assert.Equal(t, int64(42), accountID)
			actor := int64(42)
			return []*models.AuditLog{
				{ID: "log-1", ActorID: &actor, Action: "login", CreatedAt: time.Now()},
			}, nil
		},
	}

	handler := handlers.NewAdminHandler(&handlers.MockAccountAdmin{}, mockAudit)
	req := handlers.NewTestRequest(t, "GET", "/admin/accounts/42/audit", nil)
	req = withAccountIDParam(req, "42")

	w := httptest.NewRecorder()
	handler.GetAuditTrail(w, req)

	var resp []models.AuditLog
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Len(t, resp, 1)
}
