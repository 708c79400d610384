// Package credential keeps tracker secrets (passwords, API tokens,
// certificates) in the system keyring instead of the config file.
package credential

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/99designs/keyring"
)

const serviceName = "itsbridge"

// BackendEnv selects a single keyring backend, e.g. "file" on headless hosts.
const BackendEnv = "ITSBRIDGE_KEYRING_BACKEND"

// Store reads and writes credentials keyed by "<plugin>.<key>". It satisfies
// tracker.SecretStore. The keyring is opened on first use.
type Store struct {
	once sync.Once
	open func() (keyring.Keyring, error)
	ring keyring.Keyring
	err  error
}

// New returns a Store backed by the system keyring.
func New() *Store {
	return &Store{open: openKeyring}
}

// NewStore returns a Store backed by ring.
func NewStore(ring keyring.Keyring) *Store {
	return &Store{open: func() (keyring.Keyring, error) { return ring, nil }}
}

// openKeyring returns a configured keyring instance.
func openKeyring() (keyring.Keyring, error) {
	backends := []keyring.BackendType{
		keyring.KeychainBackend,
		keyring.SecretServiceBackend,
		keyring.WinCredBackend,
		keyring.PassBackend,
		keyring.FileBackend,
	}
	if b := os.Getenv(BackendEnv); b != "" {
		backends = []keyring.BackendType{keyring.BackendType(b)}
	}

	fileDir := "~/.config/itsbridge/credentials"
	if home, err := os.UserHomeDir(); err == nil {
		fileDir = filepath.Join(home, ".config", "itsbridge", "credentials")
	}

	ring, err := keyring.Open(keyring.Config{
		ServiceName:              serviceName,
		AllowedBackends:          backends,
		FileDir:                  fileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt("itsbridge-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

func (s *Store) keyring() (keyring.Keyring, error) {
	s.once.Do(func() {
		s.ring, s.err = s.open()
	})
	return s.ring, s.err
}

// Get retrieves a credential. A missing key yields "" and no error.
func (s *Store) Get(key string) (string, error) {
	ring, err := s.keyring()
	if err != nil {
		return "", err
	}

	item, err := ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}

	return string(item.Data), nil
}

// Set stores a credential.
func (s *Store) Set(key, value string) error {
	ring, err := s.keyring()
	if err != nil {
		return err
	}

	err = ring.Set(keyring.Item{
		Key:   key,
		Data:  []byte(value),
		Label: serviceName + " " + key,
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}

	return nil
}

// Delete removes a credential. Deleting a missing key is not an error.
func (s *Store) Delete(key string) error {
	ring, err := s.keyring()
	if err != nil {
		return err
	}

	err = ring.Remove(key)
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}

	return nil
}

// Keys lists the stored credential names.
func (s *Store) Keys() ([]string, error) {
	ring, err := s.keyring()
	if err != nil {
		return nil, err
	}
	keys, err := ring.Keys()
	if err != nil {
		return nil, fmt.Errorf("listing credentials: %w", err)
	}
	return keys, nil
}
