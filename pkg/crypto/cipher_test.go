package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) string {
	t.Helper()
	key := make([]byte, KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(key)
}

func newTestCipher(t *testing.T) *FieldCipher {
	t.Helper()
	fc, err := NewFieldCipher(testKey(t), testKey(t))
	require.NoError(t, err)
	return fc
}

func TestFieldCipher_RoundTrip(t *testing.T) {
	fc := newTestCipher(t)

	inputs := []string{
		"+15551230000",
		"short",
		strings.Repeat("long payload ", 200),
		`{"nested":"json"}`,
		"unicode: héllo wörld ✓",
	}

	for _, plaintext := range inputs {
		envelope, err := fc.Encrypt(plaintext)
		require.NoError(t, err)
		assert.NotEqual(t, plaintext, envelope)
		assert.True(t, IsEnvelope(envelope))

		decrypted, err := fc.Decrypt(envelope)
		require.NoError(t, err)
		assert.Equal(t, plaintext, decrypted)
	}
}

func TestFieldCipher_EmptyInputPassesThrough(t *testing.T) {
	fc := newTestCipher(t)

	envelope, err := fc.Encrypt("")
	require.NoError(t, err)
	assert.Equal(t, "", envelope)
}

func TestFieldCipher_NonEnvelopeReturnsInputUnchanged(t *testing.T) {
	fc := newTestCipher(t)

	// Legacy plaintext values must survive a decrypt pass during migration.
	for _, value := range []string{"plain legacy value", "+15551230000", "enc:not.a-real.envelope%%"} {
		got, err := fc.Decrypt(value)
		require.NoError(t, err)
		assert.Equal(t, value, got)
	}
}

func TestFieldCipher_TamperedEnvelopeFails(t *testing.T) {
	fc := newTestCipher(t)

	envelope, err := fc.Encrypt("sensitive")
	require.NoError(t, err)

	// Flip one bit inside the ciphertext segment.
	parts := strings.SplitN(envelope, ".", 3)
	require.Len(t, parts, 3)
	sealed, err := base64.StdEncoding.DecodeString(parts[2])
	require.NoError(t, err)
	sealed[0] ^= 0x01
	tampered := parts[0] + "." + parts[1] + "." + base64.StdEncoding.EncodeToString(sealed)

	_, err = fc.Decrypt(tampered)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestFieldCipher_UnknownKeyVersionFails(t *testing.T) {
	fc, err := NewFieldCipher(testKey(t), "")
	require.NoError(t, err)

	envelope, err := fc.Encrypt("data")
	require.NoError(t, err)

	// Rewrite the key-version tag to one the cipher does not hold.
	tampered := strings.Replace(envelope, "enc:v1.", "enc:v9.", 1)
	_, err = fc.Decrypt(tampered)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestFieldCipher_RandomNoncePerCall(t *testing.T) {
	fc := newTestCipher(t)

	first, err := fc.Encrypt("same plaintext")
	require.NoError(t, err)
	second, err := fc.Encrypt("same plaintext")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestFieldCipher_JSONRoundTrip(t *testing.T) {
	fc := newTestCipher(t)

	type payload struct {
		Phone string `json:"phone"`
		Level int    `json:"level"`
	}

	envelope, err := fc.EncryptJSON(payload{Phone: "+15551230000", Level: 3})
	require.NoError(t, err)

	var out payload
	require.NoError(t, fc.DecryptJSON(envelope, &out))
	assert.Equal(t, "+15551230000", out.Phone)
	assert.Equal(t, 3, out.Level)
}

func TestNewFieldCipher_RejectsBadKeys(t *testing.T) {
	_, err := NewFieldCipher("not-base64!!", "")
	assert.Error(t, err)

	short := base64.StdEncoding.EncodeToString([]byte("too short"))
	_, err = NewFieldCipher(short, "")
	assert.Error(t, err)
}

func TestHash_Deterministic(t *testing.T) {
	assert.Equal(t, Hash("+15551230000"), Hash("+15551230000"))
	assert.NotEqual(t, Hash("+15551230000"), Hash("+15551230001"))
	assert.Len(t, Hash("x"), 64)
}
