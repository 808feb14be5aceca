package routes

import (
	"github.com/calderray/aegis/internal/auth"
	"github.com/calderray/aegis/internal/handlers"
	"github.com/calderray/aegis/internal/middleware"
	"github.com/calderray/aegis/internal/services"
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	authHandler *handlers.AuthHandler,
	otpHandler *handlers.OTPHandler,
	sessionHandler *handlers.SessionHandler,
	adminHandler *handlers.AdminHandler,
	tokenManager *auth.TokenManager,
	sessionService *services.SessionService,
) {
	authRate := middleware.DefaultAuthRateLimit()
	otpRate := middleware.DefaultOTPRateLimit()

	// Public routes - no authentication required
	router.With(middleware.RateLimitByIP(otpRate)).Post("/otp/send", otpHandler.Send)
	router.With(middleware.RateLimitByIP(authRate)).Post("/auth/register", authHandler.Register)
	router.With(middleware.RateLimitByIP(authRate)).Post("/auth/login", authHandler.Login)
	router.With(middleware.RateLimitByIP(authRate)).Post("/auth/refresh", authHandler.Refresh)
	router.With(middleware.RateLimitByIP(authRate)).Post("/auth/reset-password", authHandler.ResetPassword)

	// Protected routes - authentication plus a live session required
	router.Group(func(r chi.Router) {
		r.Use(auth.MiddlewareWithSessionCheck(tokenManager, sessionService, auth.SessionCheckConfig{
			FailClosed: true,
		}))

		r.Post("/auth/logout", authHandler.Logout)
		r.Post("/auth/phone-change", authHandler.RequestPhoneChange)
		r.Post("/auth/phone-change/confirm", authHandler.ConfirmPhoneChange)

		r.Get("/sessions", sessionHandler.List)
		r.Delete("/sessions", sessionHandler.RevokeAll)
		r.Delete("/sessions/{id}", sessionHandler.Revoke)

		// Admin-only routes
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole("admin"))
			r.Get("/admin/accounts", adminHandler.ListAccounts)
			r.Get("/admin/accounts/{id}", adminHandler.GetAccount)
			r.Post("/admin/accounts/{id}/suspend", adminHandler.SuspendAccount)
			r.Post("/admin/accounts/{id}/unsuspend", adminHandler.UnsuspendAccount)
			r.Post("/admin/accounts/{id}/deactivate", adminHandler.DeactivateAccount)
			r.Post("/admin/accounts/{id}/request-deletion", adminHandler.RequestAccountDeletion)
			r.Get("/admin/accounts/{id}/audit", adminHandler.GetAuditTrail)
		})
	})
}
