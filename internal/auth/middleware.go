package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/calderray/aegis/internal/models"
)

// contextKey is a custom type for context keys
type contextKey string

const (
	// ClaimsContextKey is the key for storing token claims in context
	ClaimsContextKey contextKey = "claims"
)

// SessionChecker reports whether the session a token was minted for is
// still live in the registry, and records activity against it.
type SessionChecker interface {
	IsSessionActive(ctx context.Context, sessionID string) (bool, error)
	Touch(ctx context.Context, sessionID, ip, userAgent string) error
}

// SessionCheckConfig holds configuration for session validation behavior
type SessionCheckConfig struct {
	FailClosed bool // If true, deny access when the session check itself errors
}

// Middleware validates bearer tokens and injects claims into context
func Middleware(tm *TokenManager) func(next http.Handler) http.Handler {
	return MiddlewareWithSessionCheck(tm, nil, SessionCheckConfig{FailClosed: false})
}

// MiddlewareWithSessionCheck validates bearer tokens and additionally
// verifies the backing session has not been revoked. A revoked session
// invalidates its access token immediately rather than at expiry.
func MiddlewareWithSessionCheck(tm *TokenManager, sessions SessionChecker, cfg SessionCheckConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "missing authorization header", http.StatusUnauthorized)
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				http.Error(w, "invalid authorization header format", http.StatusUnauthorized)
				return
			}

			// VerifyAccess rejects refresh tokens outright; they are
			// only accepted by the refresh endpoint itself.
			claims, err := tm.VerifyAccess(parts[1])
			if err != nil {
				http.Error(w, "invalid or expired token", http.StatusUnauthorized)
				return
			}

			if sessions != nil && claims.SessionID != "" {
				active, err := sessions.IsSessionActive(r.Context(), claims.SessionID)
				if err != nil {
					if cfg.FailClosed {
						http.Error(w, "unable to verify session status", http.StatusServiceUnavailable)
						return
					}
					// Fail open on infrastructure errors; expired and
					// malformed tokens were already rejected above.
				} else if !active {
					http.Error(w, "session has been revoked", http.StatusUnauthorized)
					return
				} else {
					// Best effort. A missed touch only delays the
					// activity timestamp until the next request.
					_ = sessions.Touch(r.Context(), claims.SessionID, r.RemoteAddr, r.UserAgent())
				}
			}

			ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole enforces role-based access after Middleware has run.
func RequireRole(role string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetClaimsFromContext(r)
			if claims == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			for _, have := range claims.Roles {
				if have == role {
					next.ServeHTTP(w, r)
					return
				}
			}

			http.Error(w, "forbidden: insufficient permissions", http.StatusForbidden)
		})
	}
}

// GetClaimsFromContext extracts token claims from request context
func GetClaimsFromContext(r *http.Request) *models.TokenClaims {
	claims, ok := r.Context().Value(ClaimsContextKey).(*models.TokenClaims)
	if !ok {
		return nil
	}
	return claims
}
