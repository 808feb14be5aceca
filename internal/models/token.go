package models

import (
	"github.com/golang-jwt/jwt/v5"
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// TokenClaims are the signed claims carried by both token kinds. The
// Type discriminator is mandatory: access and refresh tokens use
// different secrets, but a shared-secret misconfiguration must still
// not let a refresh token pass as an access token.
type TokenClaims struct {
	Type        string   `json:"type"`
	AccountID   int64    `json:"account_id"`
	SessionID   string   `json:"session_id"`
	DeviceID    string   `json:"device_id,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

// TokenPair is the response shape for all token-issuing operations.
type TokenPair struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int64  `json:"expires_in"`
	RefreshExpiresIn int64  `json:"refresh_expires_in"`
}
