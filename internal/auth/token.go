package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/calderray/aegis/internal/models"
	"github.com/calderray/aegis/pkg/crypto"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const clockLeeway = 30 * time.Second

// TokenManager issues and verifies access/refresh token pairs. The two
// kinds are signed with independent secrets and additionally carry a
// type claim, so a refresh token can never pass as an access token
// even if the secrets were misconfigured to the same value.
type TokenManager struct {
	accessSecret  []byte
	refreshSecret []byte
	accessExpiry  time.Duration
	refreshExpiry time.Duration
	issuer        string
	audience      string

	// When cipher is set, the domain claims ride inside an encrypted
	// envelope; only the registered claims stay readable on the wire.
	cipher *crypto.FieldCipher
}

type TokenManagerConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessExpiry  time.Duration
	RefreshExpiry time.Duration
	Issuer        string
	Audience      string
}

// NewTokenManager creates a new TokenManager
func NewTokenManager(cfg TokenManagerConfig) *TokenManager {
	return &TokenManager{
		accessSecret:  []byte(cfg.AccessSecret),
		refreshSecret: []byte(cfg.RefreshSecret),
		accessExpiry:  cfg.AccessExpiry,
		refreshExpiry: cfg.RefreshExpiry,
		issuer:        cfg.Issuer,
		audience:      cfg.Audience,
	}
}

// EnablePayloadEncryption wraps domain claims in an encryption envelope
// before signing, so bearer tokens do not expose account details.
func (tm *TokenManager) EnablePayloadEncryption(cipher *crypto.FieldCipher) {
	tm.cipher = cipher
}

// wireClaims is the on-the-wire shape. Enc is set only when payload
// encryption is enabled; the embedded TokenClaims are then empty.
type wireClaims struct {
	Enc string `json:"enc,omitempty"`
	models.TokenClaims
}

// PairInput carries everything a token pair is minted from.
type PairInput struct {
	AccountID   int64
	SessionID   string
	DeviceID    string
	Roles       []string
	Permissions []string
}

// IssuePair mints an access/refresh token pair sharing the same
// session id. Both tokens carry fresh jtis.
func (tm *TokenManager) IssuePair(in PairInput) (*models.TokenPair, error) {
	accessToken, err := tm.sign(in, models.TokenTypeAccess, tm.accessSecret, tm.accessExpiry)
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}

	refreshToken, err := tm.sign(in, models.TokenTypeRefresh, tm.refreshSecret, tm.refreshExpiry)
	if err != nil {
		return nil, fmt.Errorf("failed to sign refresh token: %w", err)
	}

	return &models.TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		TokenType:        "Bearer",
		ExpiresIn:        int64(tm.accessExpiry.Seconds()),
		RefreshExpiresIn: int64(tm.refreshExpiry.Seconds()),
	}, nil
}

// VerifyAccess verifies a token and requires its type claim to be "access".
func (tm *TokenManager) VerifyAccess(tokenString string) (*models.TokenClaims, error) {
	return tm.verify(tokenString, tm.accessSecret, models.TokenTypeAccess)
}

// VerifyRefresh verifies a token and requires its type claim to be "refresh".
// Callers must additionally cross-check the token against the session's
// stored refresh hash; signature validity alone does not prove the
// token is still current.
func (tm *TokenManager) VerifyRefresh(tokenString string) (*models.TokenClaims, error) {
	return tm.verify(tokenString, tm.refreshSecret, models.TokenTypeRefresh)
}

func (tm *TokenManager) sign(in PairInput, tokenType string, secret []byte, expiry time.Duration) (string, error) {
	now := time.Now()

	claims := models.TokenClaims{
		Type:        tokenType,
		AccountID:   in.AccountID,
		SessionID:   in.SessionID,
		DeviceID:    in.DeviceID,
		Roles:       in.Roles,
		Permissions: in.Permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    tm.issuer,
			Audience:  jwt.ClaimStrings{tm.audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	wire := wireClaims{TokenClaims: claims}
	if tm.cipher != nil {
		payload, err := json.Marshal(claims)
		if err != nil {
			return "", fmt.Errorf("marshal claims: %w", err)
		}
		envelope, err := tm.cipher.Encrypt(string(payload))
		if err != nil {
			return "", fmt.Errorf("encrypt claims: %w", err)
		}
		// Registered claims stay in the clear so verification can check
		// expiry and audience before decrypting anything.
		wire = wireClaims{Enc: envelope}
		wire.RegisteredClaims = claims.RegisteredClaims
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, wire)
	return token.SignedString(secret)
}

func (tm *TokenManager) verify(tokenString string, secret []byte, wantType string) (*models.TokenClaims, error) {
	wire := &wireClaims{}

	token, err := jwt.ParseWithClaims(tokenString, wire, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	},
		jwt.WithIssuer(tm.issuer),
		jwt.WithAudience(tm.audience),
		jwt.WithLeeway(clockLeeway),
	)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, models.ErrExpiredToken
		}
		return nil, models.ErrInvalidToken
	}

	if !token.Valid {
		return nil, models.ErrInvalidToken
	}

	claims := &wire.TokenClaims
	if wire.Enc != "" {
		if tm.cipher == nil {
			return nil, models.ErrInvalidToken
		}
		payload, err := tm.cipher.Decrypt(wire.Enc)
		if err != nil {
			return nil, models.ErrInvalidToken
		}
		inner := &models.TokenClaims{}
		if err := json.Unmarshal([]byte(payload), inner); err != nil {
			return nil, models.ErrInvalidToken
		}
		claims = inner
	}

	if claims.Type != wantType {
		return nil, models.ErrInvalidToken
	}

	return claims, nil
}
