// Package auth keeps CLI session tokens in the OS keychain.
package auth

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const service = "flock-cli"

// ErrNoToken is returned when the profile has never logged in
var ErrNoToken = errors.New("not authenticated, run 'flock login' first")

// TokenStore defines the token storage operations, so tests can swap the keyring
type TokenStore interface {
	SaveToken(profile, token string) error
	LoadToken(profile string) (string, error)
	DeleteToken(profile string) error
}

// Keyring stores one token per profile in the OS keychain/credential manager
type Keyring struct{}

// Default is the production token store
var Default TokenStore = Keyring{}

// keyringKey returns the key for a profile's token
func keyringKey(profile string) string {
	return fmt.Sprintf("jwt-%s", profile)
}

// SaveToken persists the token for a profile
func (Keyring) SaveToken(profile, token string) error {
	if err := keyring.Set(service, keyringKey(profile), token); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

// LoadToken retrieves the token for a profile, or ErrNoToken
func (Keyring) LoadToken(profile string) (string, error) {
	token, err := keyring.Get(service, keyringKey(profile))
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrNoToken
		}
		return "", fmt.Errorf("failed to load token: %w", err)
	}
	return token, nil
}

// DeleteToken removes the token for a profile. A missing token is not an error.
func (Keyring) DeleteToken(profile string) error {
	if err := keyring.Delete(service, keyringKey(profile)); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return nil
}
