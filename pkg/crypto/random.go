package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"math/big"
)

// GenerateSecureRandom returns a URL-safe random string of length n,
// used for verification ids and other opaque client handles.
func GenerateSecureRandom(n int) (string, error) {
	// Base64 expands 3 bytes to 4 chars; over-provision and trim.
	bytes := make([]byte, (n*3+3)/4+2)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	encoded := base64.RawURLEncoding.EncodeToString(bytes)
	return encoded[:n], nil
}

// GenerateNumericCode returns a zero-padded numeric code of the given
// length, drawn from a uniform distribution.
func GenerateNumericCode(length int) (string, error) {
	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil)

	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("failed to generate numeric code: %w", err)
	}

	return fmt.Sprintf("%0*d", length, n), nil
}
