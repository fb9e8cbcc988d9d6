// Package vault encrypts and decrypts host secrets (SSH passwords and private
// keys) before they reach the database.
package vault

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"
)

const (
	KeySize = chacha20poly1305.KeySize

	// Defaults used when no encryption key is configured and the key has to be
	// derived from the application secret.
	DefaultSecret    = "supersecretkey"
	derivationSalt   = "nfi_salt_static"
	derivationRounds = 100000
)

var ErrDecrypt = errors.New("failed to decrypt secret")

type Vault struct {
	aead cipher.AEAD
}

// New makes a vault from a raw 32 byte key.
func New(key []byte) (*Vault, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("invalid vault key: %w", err)
	}
	return &Vault{aead: aead}, nil
}

// DeriveKey stretches a secret into a vault key with PBKDF2-HMAC-SHA256.
func DeriveKey(secret string) []byte {
	if secret == "" {
		secret = DefaultSecret
	}
	return pbkdf2.Key([]byte(secret), []byte(derivationSalt), derivationRounds, KeySize, sha256.New)
}

// FromSettings prefers an explicit encryption key (URL-safe base64 of 32
// bytes) and falls back to deriving one from the secret.
func FromSettings(encryptionKey, secret string) (*Vault, error) {
	encryptionKey = strings.TrimSpace(encryptionKey)
	if encryptionKey == "" {
		return New(DeriveKey(secret))
	}

	key, err := base64.URLEncoding.DecodeString(encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode encryption key: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", KeySize, len(key))
	}
	return New(key)
}

// Encrypt seals the plaintext. An empty plaintext stays empty so optional
// secrets can be stored as-is.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, v.aead.NonceSize(), v.aead.NonceSize()+len(plaintext)+v.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := v.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

func (v *Vault) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	raw, err := base64.URLEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	if len(raw) < v.aead.NonceSize() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecrypt)
	}

	nonce, sealed := raw[:v.aead.NonceSize()], raw[v.aead.NonceSize():]
	plaintext, err := v.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return string(plaintext), nil
}
