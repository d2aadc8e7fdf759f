// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package secrets keeps credentials such as the Redis password out of
// config files. A config value of the form keyring://service/key is
// replaced by the secret stored under that service and key in the OS
// keyring.
package secrets

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/spf13/viper"
	"github.com/zalando/go-keyring"

	leasherr "github.com/sigil-dev/leash/pkg/errors"
)

const keyringScheme = "keyring://"

// Store saves and fetches secrets by service and key.
type Store interface {
	Set(service, key, value string) error
	Get(service, key string) (string, error)
	Delete(service, key string) error
}

// KeyringStore implements Store on the OS keyring: Keychain on macOS,
// secret-service on Linux and the Credential Manager on Windows.
type KeyringStore struct{}

// NewKeyringStore returns a KeyringStore.
func NewKeyringStore() *KeyringStore { return &KeyringStore{} }

func (KeyringStore) Set(service, key, value string) error {
	if err := checkRef(service, key); err != nil {
		return err
	}
	if err := keyring.Set(service, key, value); err != nil {
		return leasherr.Wrapf(err, leasherr.CodeSecretStoreFailure, "storing secret %s/%s", service, key)
	}
	return nil
}

func (KeyringStore) Get(service, key string) (string, error) {
	if err := checkRef(service, key); err != nil {
		return "", err
	}
	val, err := keyring.Get(service, key)
	if err != nil {
		return "", keyringErr(err, "retrieving", service, key)
	}
	return val, nil
}

func (KeyringStore) Delete(service, key string) error {
	if err := checkRef(service, key); err != nil {
		return err
	}
	if err := keyring.Delete(service, key); err != nil {
		return keyringErr(err, "deleting", service, key)
	}
	return nil
}

func checkRef(service, key string) error {
	if service == "" || key == "" {
		return leasherr.Errorf(leasherr.CodeSecretInvalidInput,
			"secret service and key must not be empty, got %q/%q", service, key)
	}
	return nil
}

func keyringErr(err error, op, service, key string) error {
	if errors.Is(err, keyring.ErrNotFound) {
		return leasherr.Errorf(leasherr.CodeSecretNotFound, "secret %s/%s not found", service, key)
	}
	return leasherr.Wrapf(err, leasherr.CodeSecretStoreFailure, "%s secret %s/%s", op, service, key)
}

// IsRef reports whether value uses the keyring:// scheme.
func IsRef(value string) bool {
	return strings.HasPrefix(value, keyringScheme)
}

// ParseRef splits keyring://service/key. The key may contain slashes.
func ParseRef(ref string) (service, key string, err error) {
	if !IsRef(ref) {
		return "", "", leasherr.Errorf(leasherr.CodeSecretInvalidInput, "not a keyring reference: %q", ref)
	}
	service, key, ok := strings.Cut(strings.TrimPrefix(ref, keyringScheme), "/")
	if !ok || service == "" || key == "" {
		return "", "", leasherr.Errorf(leasherr.CodeSecretInvalidInput,
			"invalid keyring reference %q: expected keyring://service/key", ref)
	}
	return service, key, nil
}

// Resolve returns the secret value references, or value unchanged when it
// is not a reference.
func Resolve(s Store, value string) (string, error) {
	if !IsRef(value) {
		return value, nil
	}
	service, key, err := ParseRef(value)
	if err != nil {
		return "", err
	}
	return s.Get(service, key)
}

// ResolveViper replaces every keyring reference among v's string values
// with the referenced secret. A reference that cannot be resolved is left
// in place and logged, so the component that uses it fails visibly.
func ResolveViper(v *viper.Viper, s Store) {
	for _, key := range v.AllKeys() {
		val, ok := v.Get(key).(string)
		if !ok || !IsRef(val) {
			continue
		}
		resolved, err := Resolve(s, val)
		if err != nil {
			slog.Warn("keeping unresolved keyring reference", "config_key", key, "error", err)
			continue
		}
		v.Set(key, resolved)
	}
}
