package credential

import (
	"errors"
	"fmt"

	"github.com/99designs/keyring"
)

// DefaultService is the keyring service name used when none is configured.
const DefaultService = "readreply"

// ErrNotFound is returned when the keyring holds no item for a key.
var ErrNotFound = errors.New("credential not found")

// Store reads and writes passwords in a keyring.
type Store struct {
	ring keyring.Keyring
}

// Open returns a Store backed by the platform keyring for service.
func Open(service string) (*Store, error) {
	if service == "" {
		service = DefaultService
	}
	ring, err := keyring.Open(keyring.Config{
		ServiceName: service,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/" + service + "/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt(service + "-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return NewStore(ring), nil
}

// NewStore wraps an already opened keyring.
func NewStore(ring keyring.Keyring) *Store {
	return &Store{ring: ring}
}

// IMAPKey is the keyring key of the IMAP password for user.
func IMAPKey(user string) string { return "imap:" + user }

// SMTPKey is the keyring key of the SMTP password for user.
func SMTPKey(user string) string { return "smtp:" + user }

// Get retrieves a credential value by key.
func (s *Store) Get(key string) (string, error) {
	item, err := s.ring.Get(key)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return "", fmt.Errorf("getting credential %q: %w", key, ErrNotFound)
		}
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}
	return string(item.Data), nil
}

// Set stores a credential value by key.
func (s *Store) Set(key, value string) error {
	err := s.ring.Set(keyring.Item{
		Key:   key,
		Data:  []byte(value),
		Label: key,
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}
	return nil
}

// Delete removes a credential by key.
func (s *Store) Delete(key string) error {
	if err := s.ring.Remove(key); err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return fmt.Errorf("deleting credential %q: %w", key, ErrNotFound)
		}
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}
	return nil
}
