package credstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/99designs/keyring"
)

const serviceName = "livegmail"

// Keyring stores preferences in the operating system keyring.
type Keyring struct {
	ring keyring.Keyring
}

// OpenKeyring returns a Keyring backed by the first available system backend,
// falling back to an encrypted file under fileDir.
func OpenKeyring(fileDir string) (*Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  fileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt("livegmail-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return &Keyring{ring: ring}, nil
}

// NewKeyring wraps an already opened keyring.
func NewKeyring(ring keyring.Keyring) *Keyring {
	return &Keyring{ring: ring}
}

func (k *Keyring) Get(_ context.Context, key string) (string, bool, error) {
	item, err := k.ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("getting credential %q: %w", key, err)
	}
	return string(item.Data), true, nil
}

func (k *Keyring) Set(_ context.Context, key, value string) error {
	if err := k.ring.Set(keyring.Item{Key: key, Data: []byte(value)}); err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}
	return nil
}

func (k *Keyring) Clear(_ context.Context, keys ...string) error {
	for _, key := range keys {
		err := k.ring.Remove(key)
		if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
			return fmt.Errorf("deleting credential %q: %w", key, err)
		}
	}
	return nil
}

var _ Store = (*Keyring)(nil)
