package auth

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// TokenCipherKeySize is the required secret length in bytes.
const TokenCipherKeySize = chacha20poly1305.KeySize

const tokenSeparator = ":"

// TokenCipher encrypts provider credentials with XChaCha20-Poly1305. The
// output is "<hex nonce>:<hex ciphertext>"; a fresh nonce is drawn per call so
// identical plaintexts never produce identical ciphertexts.
type TokenCipher struct {
	aead cipher.AEAD
}

// NewTokenCipher creates a cipher from a 32-byte secret
func NewTokenCipher(secret []byte) (*TokenCipher, error) {
	if len(secret) != TokenCipherKeySize {
		return nil, fmt.Errorf("token cipher secret must be %d bytes, got %d", TokenCipherKeySize, len(secret))
	}
	aead, err := chacha20poly1305.NewX(secret)
	if err != nil {
		return nil, fmt.Errorf("failed to create token cipher: %w", err)
	}
	return &TokenCipher{aead: aead}, nil
}

// Encrypt seals plaintext under a random nonce
func (c *TokenCipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(nonce) + tokenSeparator + hex.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt. A malformed value, a wrong
// secret or any tampering yields a DECRYPTION_FAILED error.
func (c *TokenCipher) Decrypt(ciphertext string) (string, error) {
	noncePart, sealedPart, ok := strings.Cut(ciphertext, tokenSeparator)
	if !ok {
		return "", Internal(ErrDecryption, "ciphertext is missing separator", nil)
	}
	nonce, err := hex.DecodeString(noncePart)
	if err != nil || len(nonce) != c.aead.NonceSize() {
		return "", Internal(ErrDecryption, "invalid nonce", err)
	}
	sealed, err := hex.DecodeString(sealedPart)
	if err != nil {
		return "", Internal(ErrDecryption, "invalid ciphertext encoding", err)
	}
	plain, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", Internal(ErrDecryption, "ciphertext could not be authenticated", err)
	}
	return string(plain), nil
}
