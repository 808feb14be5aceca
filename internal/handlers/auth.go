package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/calderray/aegis/internal/auth"
	"github.com/calderray/aegis/internal/services"
	pkghttp "github.com/calderray/aegis/pkg/http"
)

// AuthServiceInterface defines the interface for auth business logic
type AuthServiceInterface interface {
	Register(ctx context.Context, req services.RegisterRequest) (*services.AuthResponse, error)
	Login(ctx context.Context, req services.LoginRequest) (*services.AuthResponse, error)
	Refresh(ctx context.Context, refreshToken, ip, userAgent string) (*services.AuthResponse, error)
	Logout(ctx context.Context, accountID int64, sessionID string) error
	ResetPassword(ctx context.Context, verificationID, rawPhone, countryCode, code, newPassword, ip string) error
	RequestPhoneChange(ctx context.Context, accountID int64, newPhone, countryCode, ip string) (string, int, error)
	ConfirmPhoneChange(ctx context.Context, accountID int64, verificationID, newPhone, countryCode, code, ip string) error
	SendLoginOTP(ctx context.Context, rawPhone, countryCode, ip string) (string, int, error)
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service  AuthServiceInterface
	ipConfig *pkghttp.IPConfig
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service AuthServiceInterface, ipConfig *pkghttp.IPConfig) *AuthHandler {
	return &AuthHandler{
		service:  service,
		ipConfig: ipConfig,
	}
}

// Request DTOs

// DeviceRequest carries optional client device metadata
type DeviceRequest struct {
	DeviceID   string `json:"device_id" validate:"omitempty,max=128"`
	DeviceType string `json:"device_type" validate:"omitempty,oneof=mobile desktop tablet other"`
	DeviceName string `json:"device_name" validate:"omitempty,max=128"`
	OS         string `json:"os" validate:"omitempty,max=64"`
	Browser    string `json:"browser" validate:"omitempty,max=64"`
}

// RegisterRequest represents the request body for registration
type RegisterRequest struct {
	Phone          string        `json:"phone" validate:"required,min=7,max=20"`
	CountryCode    string        `json:"country_code" validate:"omitempty,len=2"`
	VerificationID string        `json:"verification_id" validate:"required,min=16,max=64"`
	Code           string        `json:"code" validate:"required,numeric,min=4,max=10"`
	Password       string        `json:"password" validate:"required,min=8,max=128"`
	Device         DeviceRequest `json:"device"`
}

// LoginRequest represents the request body for login.
// Callers supply either a password or an OTP code with its challenge handle.
type LoginRequest struct {
	Phone          string        `json:"phone" validate:"required,min=7,max=20"`
	CountryCode    string        `json:"country_code" validate:"omitempty,len=2"`
	Password       string        `json:"password" validate:"omitempty,max=128"`
	VerificationID string        `json:"verification_id" validate:"omitempty,min=16,max=64"`
	Code           string        `json:"code" validate:"omitempty,numeric,min=4,max=10"`
	Device         DeviceRequest `json:"device"`
}

// RefreshRequest represents the request body for token refresh
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// ResetPasswordRequest represents the request body for an OTP-backed password reset
type ResetPasswordRequest struct {
	Phone          string `json:"phone" validate:"required,min=7,max=20"`
	CountryCode    string `json:"country_code" validate:"omitempty,len=2"`
	VerificationID string `json:"verification_id" validate:"required,min=16,max=64"`
	Code           string `json:"code" validate:"required,numeric,min=4,max=10"`
	NewPassword    string `json:"new_password" validate:"required,min=8,max=128"`
}

// RequestPhoneChangeRequest represents the request body to start a phone number change
type RequestPhoneChangeRequest struct {
	NewPhone    string `json:"new_phone" validate:"required,min=7,max=20"`
	CountryCode string `json:"country_code" validate:"omitempty,len=2"`
}

// ConfirmPhoneChangeRequest represents the request body to complete a phone number change
type ConfirmPhoneChangeRequest struct {
	NewPhone       string `json:"new_phone" validate:"required,min=7,max=20"`
	CountryCode    string `json:"country_code" validate:"omitempty,len=2"`
	VerificationID string `json:"verification_id" validate:"required,min=16,max=64"`
	Code           string `json:"code" validate:"required,numeric,min=4,max=10"`
}

func (d DeviceRequest) toService() services.DeviceInfo {
	return services.DeviceInfo{
		DeviceID:   d.DeviceID,
		DeviceType: d.DeviceType,
		DeviceName: d.DeviceName,
		OS:         d.OS,
		Browser:    d.Browser,
	}
}

// Register handles account registration
// @Summary Register a new account
// @Accept json
// @Param request body RegisterRequest true "Register request"
// @Produce json
// @Success 201 {object} services.AuthResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Failure 409 {object} pkghttp.ErrorResponse
// @Router /auth/register [post]
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	ipAddress := pkghttp.ExtractClientIP(r, h.ipConfig)
	userAgent := r.Header.Get("User-Agent")

	authResp, err := h.service.Register(r.Context(), services.RegisterRequest{
		VerificationID: req.VerificationID,
		Phone:          strings.TrimSpace(req.Phone),
		CountryCode:    strings.ToUpper(strings.TrimSpace(req.CountryCode)),
		Code:           req.Code,
		Password:       req.Password,
		Device:         req.Device.toService(),
		IP:             ipAddress,
		UserAgent:      userAgent,
	})
	if err != nil {
		pkghttp.WriteAuthError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(authResp)
}

// Login handles credential or OTP login
// @Summary Log in with a phone number
// @Accept json
// @Param request body LoginRequest true "Login request"
// @Produce json
// @Success 200 {object} services.AuthResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Failure 403 {object} pkghttp.ErrorResponse
// @Router /auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	// Exactly one credential path must be supplied
	hasPassword := req.Password != ""
	hasOTP := req.VerificationID != "" && req.Code != ""
	if hasPassword == hasOTP {
		pkghttp.WriteBadRequest(w, "supply either a password or a verification code")
		return
	}

	ipAddress := pkghttp.ExtractClientIP(r, h.ipConfig)
	userAgent := r.Header.Get("User-Agent")

	authResp, err := h.service.Login(r.Context(), services.LoginRequest{
		Phone:          strings.TrimSpace(req.Phone),
		CountryCode:    strings.ToUpper(strings.TrimSpace(req.CountryCode)),
		Password:       req.Password,
		VerificationID: req.VerificationID,
		Code:           req.Code,
		Device:         req.Device.toService(),
		IP:             ipAddress,
		UserAgent:      userAgent,
	})
	if err != nil {
		pkghttp.WriteAuthError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(authResp)
}

// Refresh handles token refresh
// @Summary Exchange a refresh token for a new token pair
// @Accept json
// @Param request body RefreshRequest true "Refresh request"
// @Produce json
// @Success 200 {object} services.AuthResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Router /auth/refresh [post]
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	ipAddress := pkghttp.ExtractClientIP(r, h.ipConfig)
	userAgent := r.Header.Get("User-Agent")

	authResp, err := h.service.Refresh(r.Context(), req.RefreshToken, ipAddress, userAgent)
	if err != nil {
		pkghttp.WriteAuthError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(authResp)
}

// Logout revokes the session named by the presented access token
// @Summary Log out of the current session
// @Security BearerAuth
// @Success 204
// @Failure 401 {object} pkghttp.ErrorResponse
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaimsFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	if err := h.service.Logout(r.Context(), claims.AccountID, claims.SessionID); err != nil {
		pkghttp.WriteAuthError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ResetPassword completes an OTP-backed password reset
// @Summary Reset password with a verification code
// @Accept json
// @Param request body ResetPasswordRequest true "Reset password request"
// @Success 204
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Router /auth/reset-password [post]
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	ipAddress := pkghttp.ExtractClientIP(r, h.ipConfig)

	err := h.service.ResetPassword(r.Context(), req.VerificationID,
		strings.TrimSpace(req.Phone), strings.ToUpper(strings.TrimSpace(req.CountryCode)),
		req.Code, req.NewPassword, ipAddress)
	if err != nil {
		pkghttp.WriteAuthError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RequestPhoneChange starts a phone number change for the authenticated account
// @Summary Request a phone number change
// @Security BearerAuth
// @Accept json
// @Param request body RequestPhoneChangeRequest true "Phone change request"
// @Produce json
// @Success 202
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 409 {object} pkghttp.ErrorResponse
// @Router /auth/phone-change [post]
func (h *AuthHandler) RequestPhoneChange(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaimsFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req RequestPhoneChangeRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	ipAddress := pkghttp.ExtractClientIP(r, h.ipConfig)

	verificationID, expiresIn, err := h.service.RequestPhoneChange(r.Context(), claims.AccountID,
		strings.TrimSpace(req.NewPhone), strings.ToUpper(strings.TrimSpace(req.CountryCode)), ipAddress)
	if err != nil {
		pkghttp.WriteAuthError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(SendOTPResponse{
		VerificationID: verificationID,
		ExpiresIn:      expiresIn,
		Message:        "A verification code has been sent to the new number.",
	})
}

// ConfirmPhoneChange completes a phone number change with the code sent to the new number
// @Summary Confirm a phone number change
// @Security BearerAuth
// @Accept json
// @Param request body ConfirmPhoneChangeRequest true "Confirm phone change request"
// @Success 204
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Failure 409 {object} pkghttp.ErrorResponse
// @Router /auth/phone-change/confirm [post]
func (h *AuthHandler) ConfirmPhoneChange(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaimsFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req ConfirmPhoneChangeRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	ipAddress := pkghttp.ExtractClientIP(r, h.ipConfig)

	err := h.service.ConfirmPhoneChange(r.Context(), claims.AccountID, req.VerificationID,
		strings.TrimSpace(req.NewPhone), strings.ToUpper(strings.TrimSpace(req.CountryCode)),
		req.Code, ipAddress)
	if err != nil {
		pkghttp.WriteAuthError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
