// Package crypto seals session credentials at rest with AES-256-GCM.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// sealedPrefix marks values written by Seal; the version allows a later format change.
const sealedPrefix = "sealed:v1:"

var (
	// ErrNoKey is returned when a sealed value is read without a key.
	ErrNoKey = errors.New("value is encrypted but no encryption key is configured")
	// ErrDecrypt covers a wrong key, a tampered value and a value sealed for another session.
	ErrDecrypt = errors.New("cannot decrypt sealed value")
)

// Sealer encrypts short secrets such as auth tokens, bound to the session
// they belong to. A nil *Sealer passes values through unchanged, so stores
// hold one unconditionally.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer builds a Sealer from a key (see DeriveKey for the accepted
// encodings). An empty key returns a nil Sealer and no error.
func NewSealer(key string) (*Sealer, error) {
	if key == "" {
		return nil, nil
	}
	raw, err := DeriveKey(key)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(raw)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// Seal encrypts plaintext with sessionID as additional data, so the result
// only opens for the same session. Empty values stay empty.
func (s *Sealer) Seal(sessionID, plaintext string) (string, error) {
	if s == nil || plaintext == "" {
		return plaintext, nil
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	out := s.aead.Seal(nonce, nonce, []byte(plaintext), []byte(sessionID))
	return sealedPrefix + base64.RawURLEncoding.EncodeToString(out), nil
}

// Open reverses Seal. Unsealed values are returned as they are, so session
// records written before a key was configured stay readable.
func (s *Sealer) Open(sessionID, value string) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}
	if s == nil {
		return "", ErrNoKey
	}
	data, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(value, sealedPrefix))
	if err != nil || len(data) < s.aead.NonceSize() {
		return "", fmt.Errorf("%w: malformed value", ErrDecrypt)
	}
	n := s.aead.NonceSize()
	plain, err := s.aead.Open(nil, data[:n], data[n:], []byte(sessionID))
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plain), nil
}

// IsSealed reports whether value was produced by Seal.
func IsSealed(value string) bool {
	return strings.HasPrefix(value, sealedPrefix)
}

// GenerateKey returns a new random key, hex encoded.
func GenerateKey() (string, error) {
	k := make([]byte, 32)
	if _, err := rand.Read(k); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return hex.EncodeToString(k), nil
}

// DeriveKey turns a configured key into 32 AES bytes. It accepts 64 hex
// characters, 44 characters of padded base64, or 32 raw bytes.
func DeriveKey(input string) ([]byte, error) {
	switch len(input) {
	case 64:
		if b, err := hex.DecodeString(input); err == nil {
			return b, nil
		}
	case 44:
		if b, err := base64.StdEncoding.DecodeString(input); err == nil && len(b) == 32 {
			return b, nil
		}
	case 32:
		return []byte(input), nil
	}
	return nil, errors.New("encryption key must be 64 hex characters, 44 base64 characters or 32 raw bytes")
}
