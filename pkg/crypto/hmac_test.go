package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHMAC_RoundTrip(t *testing.T) {
	key := []byte("integrity-key-for-tests")

	tag := GenerateHMAC(`{"verification_id":"abc"}`, key)
	assert.True(t, VerifyHMAC(`{"verification_id":"abc"}`, tag, key))
	assert.False(t, VerifyHMAC(`{"verification_id":"abd"}`, tag, key))
	assert.False(t, VerifyHMAC(`{"verification_id":"abc"}`, tag, []byte("other-key")))
}

func TestVerifyHMAC_RejectsMalformedTag(t *testing.T) {
	key := []byte("integrity-key-for-tests")
	assert.False(t, VerifyHMAC("data", "not-hex", key))
	assert.False(t, VerifyHMAC("data", "", key))
}

func TestGenerateSecureRandom(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		token, err := GenerateSecureRandom(32)
		require.NoError(t, err)
		require.Len(t, token, 32)
		assert.False(t, seen[token], "random tokens must not repeat")
		seen[token] = true
	}
}

func TestGenerateNumericCode(t *testing.T) {
	for i := 0; i < 100; i++ {
		code, err := GenerateNumericCode(6)
		require.NoError(t, err)
		require.Len(t, code, 6, "codes must be zero-padded to full length")
		for _, r := range code {
			assert.True(t, r >= '0' && r <= '9')
		}
	}
}
