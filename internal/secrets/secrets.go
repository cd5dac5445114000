// SPDX-License-Identifier: MIT

// Package secrets encrypts connector API keys at rest. A single 256-bit
// process key lives in <dataDir>/secret.key, generated on first start and
// written atomically with owner-only permissions. Losing the key file means
// re-entering API keys; there is no key rotation or escrow.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/renameio/v2"
)

const keySize = 32 // AES-256

var (
	// ErrInvalidKey reports a key file whose content is not a 256-bit key.
	ErrInvalidKey = errors.New("secrets: invalid key material")
	// ErrMalformedCiphertext reports ciphertext too short to carry its nonce
	// or otherwise undecryptable.
	ErrMalformedCiphertext = errors.New("secrets: malformed ciphertext")
)

// Cipher seals and opens short secrets with AES-256-GCM. The nonce is
// prepended to the ciphertext so each sealed value is self-contained.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher builds a Cipher from 32 bytes of key material.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidKey, len(key), keySize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt seals plaintext and returns base64(nonce || ciphertext). The nonce
// doubles as the destination buffer so nonce and ciphertext always travel
// together.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt.
func (c *Cipher) Decrypt(encoded string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedCiphertext, err)
	}
	nonceSize := c.aead.NonceSize()
	if len(sealed) < nonceSize {
		return "", ErrMalformedCiphertext
	}
	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedCiphertext, err)
	}
	return string(plaintext), nil
}

// LoadOrCreateKey reads the process key from path, generating and persisting
// a fresh one on first start. The file is written atomically (fsync before
// rename) with 0600 permissions.
func LoadOrCreateKey(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err == nil {
		key, decErr := base64.StdEncoding.DecodeString(string(raw))
		if decErr != nil || len(key) != keySize {
			return nil, fmt.Errorf("%w: %s", ErrInvalidKey, path)
		}
		return key, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	key := make([]byte, keySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(key)

	pending, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o600))
	if err != nil {
		return nil, fmt.Errorf("create pending key file: %w", err)
	}
	defer func() {
		_ = pending.Cleanup()
	}()
	if _, err := pending.WriteString(encoded); err != nil {
		return nil, fmt.Errorf("write key file: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return nil, fmt.Errorf("atomically replace key file: %w", err)
	}
	return key, nil
}

// Open is the composed first-start path: load or create the key at path and
// build the cipher from it.
func Open(path string) (*Cipher, error) {
	key, err := LoadOrCreateKey(path)
	if err != nil {
		return nil, err
	}
	return NewCipher(key)
}
