package auth

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
)

const defaultKeyringService = "cashbotd"

// Secret names one credential kept in the OS keyring.
type Secret string

const (
	SecretPostgresDSN Secret = "postgres_dsn"
	SecretMirrorKey   Secret = "mirror_key"
)

// ParseSecret maps a CLI name onto a known secret.
func ParseSecret(name string) (Secret, bool) {
	switch s := Secret(strings.ToLower(strings.TrimSpace(name))); s {
	case SecretPostgresDSN, SecretMirrorKey:
		return s, true
	}
	return "", false
}

// env returns the environment variable that overrides the keyring entry.
func (s Secret) env() string {
	return "CASHBOT_" + strings.ToUpper(string(s))
}

// ErrNoSecret is returned when neither the environment nor the keyring holds
// the credential.
var ErrNoSecret = errors.New("credential not configured")

var (
	keyringGet = keyring.Get
	keyringSet = keyring.Set
)

// LoadSecret returns the credential, checking the CASHBOT_<NAME> environment
// variable first and the OS keyring second.
func LoadSecret(s Secret) (string, error) {
	if v := strings.TrimSpace(os.Getenv(s.env())); v != "" {
		return v, nil
	}

	service := keyringService()
	v, err := keyringGet(service, string(s))
	if errors.Is(err, keyring.ErrNotFound) {
		return "", fmt.Errorf("%s: %w", s, ErrNoSecret)
	}
	if err != nil {
		return "", fmt.Errorf("read keyring item service=%q account=%q: %w", service, s, err)
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return "", fmt.Errorf("%s: %w", s, ErrNoSecret)
	}
	return v, nil
}

// SaveSecret stores the credential in the OS keyring.
func SaveSecret(s Secret, value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return fmt.Errorf("%s cannot be empty", s)
	}
	service := keyringService()
	if err := keyringSet(service, string(s), value); err != nil {
		return fmt.Errorf("store keyring item service=%q account=%q: %w", service, s, err)
	}
	return nil
}

func keyringService() string {
	if v := strings.TrimSpace(os.Getenv("CASHBOT_KEYRING_SERVICE")); v != "" {
		return v
	}
	return defaultKeyringService
}
