// Package crypto encrypts tenant secrets (OAuth tokens, API tokens) at
// rest. Ciphertexts are XChaCha20-Poly1305 with a leading version byte so
// the key can be rotated without re-encrypting every row at once.
package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"
	"golang.org/x/crypto/chacha20poly1305"
)

// keyVersion prefixes every ciphertext. Bump it when rotating the master
// key; Decrypt rejects versions it does not know.
const keyVersion = 0x01

// ErrUnknownVersion is returned when a ciphertext was produced under a key
// version this binary does not carry.
var ErrUnknownVersion = errors.New("unknown ciphertext version")

// Vault seals and opens secret strings with the tenant-shared master key.
type Vault struct {
	aead cipher.AEAD
}

// New constructs a Vault from a 32-byte master key.
func New(key []byte) (*Vault, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init AEAD: %w", err)
	}
	return &Vault{aead: aead}, nil
}

// NewFromEnv loads the master key from TOKEN_ENCRYPTION_KEY (base64).
// In production a missing key is fatal. In any other environment a key is
// synthesized deterministically so local stacks work out of the box, and a
// loud warning is logged because everything encrypted under it is throwaway.
func NewFromEnv(logger *zap.Logger) (*Vault, error) {
	encoded := os.Getenv("TOKEN_ENCRYPTION_KEY")
	if encoded != "" {
		key, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("TOKEN_ENCRYPTION_KEY is not valid base64: %w", err)
		}
		if len(key) != chacha20poly1305.KeySize {
			return nil, fmt.Errorf("TOKEN_ENCRYPTION_KEY must decode to %d bytes, got %d", chacha20poly1305.KeySize, len(key))
		}
		return New(key)
	}

	if os.Getenv("ENVIRONMENT") == "production" {
		return nil, errors.New("TOKEN_ENCRYPTION_KEY is required in production")
	}

	logger.Warn("TOKEN_ENCRYPTION_KEY not set, synthesizing a development key; encrypted data will NOT survive across environments")
	synth := sha256.Sum256([]byte("frozo-zendesk-dev-token-key"))
	return New(synth[:])
}

// Encrypt seals plaintext and returns base64(version || nonce || ciphertext).
func (v *Vault) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	out := make([]byte, 0, 1+len(nonce)+len(plaintext)+v.aead.Overhead())
	out = append(out, keyVersion)
	out = append(out, nonce...)
	out = v.aead.Seal(out, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt opens a ciphertext produced by Encrypt.
func (v *Vault) Decrypt(token string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	if len(raw) < 1+v.aead.NonceSize()+v.aead.Overhead() {
		return "", errors.New("ciphertext too short")
	}
	if raw[0] != keyVersion {
		return "", fmt.Errorf("%w: 0x%02x", ErrUnknownVersion, raw[0])
	}

	nonce := raw[1 : 1+v.aead.NonceSize()]
	ct := raw[1+v.aead.NonceSize():]
	plain, err := v.aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("open ciphertext: %w", err)
	}
	return string(plain), nil
}
