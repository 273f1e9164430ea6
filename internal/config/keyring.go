package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/zalando/go-keyring"
)

const (
	EnvEncryptionKey = "WALINK_ENCRYPTION_KEY"

	keyringService = "walink"
	keyringUser    = "session-encryption-key"
)

// keyringGet is swapped in tests.
var keyringGet = keyring.Get

// ResolveEncryptionKey returns the key used to seal stored auth tokens:
// security.encryption_key (or $WALINK_ENCRYPTION_KEY via overrides), then
// the OS keyring when security.use_keyring is set. An empty key disables
// encryption.
func (c *Config) ResolveEncryptionKey() (string, error) {
	if c.Security.EncryptionKey != "" {
		return c.Security.EncryptionKey, nil
	}
	if v := os.Getenv(EnvEncryptionKey); v != "" {
		return v, nil
	}
	if !c.Security.UseKeyring {
		return "", nil
	}
	key, err := keyringGet(keyringService, keyringUser)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read keyring: %w", err)
	}
	return key, nil
}

// StoreEncryptionKey saves key in the OS keyring.
func StoreEncryptionKey(key string) error {
	if err := keyring.Set(keyringService, keyringUser, key); err != nil {
		return fmt.Errorf("write keyring: %w", err)
	}
	return nil
}
