package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/calderray/aegis/internal/models"
	pkghttp "github.com/calderray/aegis/pkg/http"
)

// OTPSenderInterface defines the challenge-issuing operations exposed publicly
type OTPSenderInterface interface {
	SendRegistrationOTP(ctx context.Context, rawPhone, countryCode, ip string) (string, int, error)
	SendLoginOTP(ctx context.Context, rawPhone, countryCode, ip string) (string, int, error)
	SendPasswordResetOTP(ctx context.Context, rawPhone, countryCode, ip string) (string, int, error)
}

// OTPHandler handles OTP challenge requests
type OTPHandler struct {
	sender   OTPSenderInterface
	ipConfig *pkghttp.IPConfig
}

// NewOTPHandler creates a new OTPHandler
func NewOTPHandler(sender OTPSenderInterface, ipConfig *pkghttp.IPConfig) *OTPHandler {
	return &OTPHandler{
		sender:   sender,
		ipConfig: ipConfig,
	}
}

// SendOTPRequest represents the request body for sending a verification code
type SendOTPRequest struct {
	Phone       string `json:"phone" validate:"required,min=7,max=20"`
	CountryCode string `json:"country_code" validate:"omitempty,len=2"`
	Purpose     string `json:"purpose" validate:"required,oneof=registration login password_reset"`
}

// SendOTPResponse represents the response for a sent verification code
type SendOTPResponse struct {
	VerificationID string `json:"verification_id"`
	ExpiresIn      int    `json:"expires_in"`
	Message        string `json:"message"`
}

// Send issues a verification code over SMS
// @Summary Send a verification code
// @Accept json
// @Param request body SendOTPRequest true "Send OTP request"
// @Produce json
// @Success 202 {object} SendOTPResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 429 {object} pkghttp.ErrorResponse
// @Router /otp/send [post]
func (h *OTPHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req SendOTPRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	rawPhone := strings.TrimSpace(req.Phone)
	countryCode := strings.ToUpper(strings.TrimSpace(req.CountryCode))
	ipAddress := pkghttp.ExtractClientIP(r, h.ipConfig)

	var (
		verificationID string
		expiresIn      int
		err            error
	)
	switch req.Purpose {
	case models.OTPPurposeRegistration:
		verificationID, expiresIn, err = h.sender.SendRegistrationOTP(r.Context(), rawPhone, countryCode, ipAddress)
	case models.OTPPurposeLogin:
		verificationID, expiresIn, err = h.sender.SendLoginOTP(r.Context(), rawPhone, countryCode, ipAddress)
	case models.OTPPurposePasswordReset:
		verificationID, expiresIn, err = h.sender.SendPasswordResetOTP(r.Context(), rawPhone, countryCode, ipAddress)
	default:
		pkghttp.WriteBadRequest(w, "unsupported purpose")
		return
	}
	if err != nil {
		pkghttp.WriteAuthError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(SendOTPResponse{
		VerificationID: verificationID,
		ExpiresIn:      expiresIn,
		Message:        "If the number can receive SMS, a verification code is on its way.",
	})
}
