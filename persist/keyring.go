package persist

import (
	"context"
	"errors"
	"fmt"

	"github.com/goliatone/go-authguard"
	"github.com/zalando/go-keyring"
)

const DefaultService = "authguard-cli"

// Keyring stores the session in the OS keychain/credential manager.
type Keyring struct {
	Service string
	// Account distinguishes sessions of different projects.
	Account string
}

// NewKeyring returns a keyring storage keyed by project URL.
func NewKeyring(projectURL string) *Keyring {
	return &Keyring{
		Service: DefaultService,
		Account: getKeyringKey(projectURL),
	}
}

// getKeyringKey returns a unique key for storing sessions per project
func getKeyringKey(projectURL string) string {
	return fmt.Sprintf("session-%s", projectURL)
}

// Load implements Storage.
func (k *Keyring) Load(_ context.Context) (*authguard.Session, error) {
	raw, err := keyring.Get(k.Service, k.Account)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return decode([]byte(raw))
}

// Save implements Storage.
func (k *Keyring) Save(_ context.Context, session *authguard.Session) error {
	data, err := encode(session)
	if err != nil {
		return err
	}
	if err := keyring.Set(k.Service, k.Account, string(data)); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Clear implements Storage.
func (k *Keyring) Clear(_ context.Context) error {
	if err := keyring.Delete(k.Service, k.Account); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil // Already deleted
		}
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
