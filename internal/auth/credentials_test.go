package auth

import (
	"errors"
	"strings"
	"testing"

	"github.com/zalando/go-keyring"
)

func stubKeyringGet(t *testing.T, fn func(service, user string) (string, error)) {
	t.Helper()
	orig := keyringGet
	keyringGet = fn
	t.Cleanup(func() { keyringGet = orig })
}

func TestLoadSecretPrefersEnvironment(t *testing.T) {
	t.Setenv("CASHBOT_POSTGRES_DSN", "  postgres://env  ")
	stubKeyringGet(t, func(string, string) (string, error) {
		t.Fatal("keyring consulted although the environment variable is set")
		return "", nil
	})

	got, err := LoadSecret(SecretPostgresDSN)
	if err != nil {
		t.Fatalf("LoadSecret() unexpected error: %v", err)
	}
	if got != "postgres://env" {
		t.Fatalf("LoadSecret() = %q, want %q", got, "postgres://env")
	}
}

func TestLoadSecretFallsBackToKeyring(t *testing.T) {
	t.Setenv("CASHBOT_MIRROR_KEY", "")
	t.Setenv("CASHBOT_KEYRING_SERVICE", "svc")

	var gotService, gotUser string
	stubKeyringGet(t, func(service, user string) (string, error) {
		gotService, gotUser = service, user
		return " secret\n", nil
	})

	got, err := LoadSecret(SecretMirrorKey)
	if err != nil {
		t.Fatalf("LoadSecret() unexpected error: %v", err)
	}
	if got != "secret" {
		t.Fatalf("LoadSecret() = %q, want %q", got, "secret")
	}
	if gotService != "svc" || gotUser != "mirror_key" {
		t.Fatalf("keyringGet called with (%q, %q)", gotService, gotUser)
	}
}

func TestLoadSecretNotConfigured(t *testing.T) {
	t.Setenv("CASHBOT_MIRROR_KEY", "")
	stubKeyringGet(t, func(string, string) (string, error) {
		return "", keyring.ErrNotFound
	})

	_, err := LoadSecret(SecretMirrorKey)
	if !errors.Is(err, ErrNoSecret) {
		t.Fatalf("LoadSecret() error = %v, want ErrNoSecret", err)
	}
}

func TestLoadSecretKeyringFailure(t *testing.T) {
	t.Setenv("CASHBOT_MIRROR_KEY", "")
	stubKeyringGet(t, func(string, string) (string, error) {
		return "", errors.New("dbus unavailable")
	})

	_, err := LoadSecret(SecretMirrorKey)
	if err == nil || errors.Is(err, ErrNoSecret) {
		t.Fatalf("LoadSecret() error = %v, want keyring failure", err)
	}
	if !strings.Contains(err.Error(), "dbus unavailable") {
		t.Fatalf("error %q does not carry the keyring cause", err)
	}
}

func TestSaveSecret(t *testing.T) {
	orig := keyringSet
	defer func() { keyringSet = orig }()

	var stored string
	keyringSet = func(service, user, password string) error {
		stored = password
		return nil
	}

	if err := SaveSecret(SecretPostgresDSN, "   "); err == nil {
		t.Fatal("SaveSecret() accepted an empty value")
	}
	if err := SaveSecret(SecretPostgresDSN, " dsn "); err != nil {
		t.Fatalf("SaveSecret() unexpected error: %v", err)
	}
	if stored != "dsn" {
		t.Fatalf("stored %q, want %q", stored, "dsn")
	}
}
