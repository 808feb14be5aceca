package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors. Callers map these to their boundary error codes.
var (
	ErrEncryptionFailed = errors.New("encryption failed")
	ErrDecryptionFailed = errors.New("decryption failed")
)

const (
	KeySize = 32 // AES-256

	// Key versions. New data always encrypts under the primary key;
	// the secondary slot keeps old data readable across a rotation.
	KeyVersionPrimary   = "v1"
	KeyVersionSecondary = "v2"

	envelopePrefix = "enc:"
)

// FieldCipher provides authenticated encryption for individual
// persisted fields. It holds a primary key and an optional secondary
// key; re-encrypting existing rows under a new primary is an external
// job, only the dual-key read path lives here.
type FieldCipher struct {
	keys map[string][]byte
}

// NewFieldCipher builds a cipher from base64-encoded 32-byte keys.
// secondary may be empty when no rotation is in progress.
func NewFieldCipher(primary, secondary string) (*FieldCipher, error) {
	keys := make(map[string][]byte, 2)

	pk, err := decodeKey(primary)
	if err != nil {
		return nil, fmt.Errorf("primary encryption key: %w", err)
	}
	keys[KeyVersionPrimary] = pk

	if secondary != "" {
		sk, err := decodeKey(secondary)
		if err != nil {
			return nil, fmt.Errorf("secondary encryption key: %w", err)
		}
		keys[KeyVersionSecondary] = sk
	}

	return &FieldCipher{keys: keys}, nil
}

func decodeKey(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("key must be base64: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key))
	}
	return key, nil
}

// Encrypt seals plaintext under the primary key with a random nonce and
// returns an envelope string "enc:<keyver>.<b64 nonce>.<b64 ciphertext>".
// The GCM tag rides inside the ciphertext segment. Empty input passes
// through unchanged so optional columns round-trip without noise.
func (fc *FieldCipher) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	gcm, err := fc.aead(KeyVersionPrimary)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("%w: nonce generation: %v", ErrEncryptionFailed, err)
	}

	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)

	return envelopePrefix + KeyVersionPrimary + "." +
		base64.StdEncoding.EncodeToString(nonce) + "." +
		base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens an envelope produced by Encrypt. Input that does not
// parse as an envelope is returned unchanged: during migration a column
// may hold a mix of encrypted and legacy plaintext values, and only a
// well-formed envelope that fails its tag check is treated as corrupt.
func (fc *FieldCipher) Decrypt(value string) (string, error) {
	keyVersion, nonce, sealed, ok := parseEnvelope(value)
	if !ok {
		return value, nil
	}

	gcm, err := fc.aead(keyVersion)
	if err != nil {
		return "", err
	}

	if len(nonce) != gcm.NonceSize() {
		return "", fmt.Errorf("%w: bad nonce length", ErrDecryptionFailed)
	}

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: authentication failed", ErrDecryptionFailed)
	}

	return string(plaintext), nil
}

// EncryptJSON serializes v and encrypts the result.
func (fc *FieldCipher) EncryptJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("%w: marshal: %v", ErrEncryptionFailed, err)
	}
	return fc.Encrypt(string(data))
}

// DecryptJSON decrypts an envelope and unmarshals the plaintext into v.
func (fc *FieldCipher) DecryptJSON(value string, v any) error {
	plaintext, err := fc.Decrypt(value)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(plaintext), v); err != nil {
		return fmt.Errorf("%w: unmarshal: %v", ErrDecryptionFailed, err)
	}
	return nil
}

// IsEnvelope reports whether value carries an encryption envelope.
func IsEnvelope(value string) bool {
	_, _, _, ok := parseEnvelope(value)
	return ok
}

// Hash returns the SHA-256 hex digest of data, for non-reversible
// search tokens (phone lookups, refresh token references).
func Hash(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

func (fc *FieldCipher) aead(keyVersion string) (cipher.AEAD, error) {
	key, ok := fc.keys[keyVersion]
	if !ok {
		return nil, fmt.Errorf("%w: unknown key version %q", ErrDecryptionFailed, keyVersion)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	return gcm, nil
}

func parseEnvelope(value string) (keyVersion string, nonce, sealed []byte, ok bool) {
	rest, found := strings.CutPrefix(value, envelopePrefix)
	if !found {
		return "", nil, nil, false
	}

	parts := strings.SplitN(rest, ".", 3)
	if len(parts) != 3 {
		return "", nil, nil, false
	}

	nonce, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", nil, nil, false
	}

	sealed, err = base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return "", nil, nil, false
	}

	return parts[0], nonce, sealed, true
}
