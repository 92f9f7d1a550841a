// Package credentials stores and resolves the API keys sky needs.
//
// Keys are resolved from the environment first and from the OS credential
// store second, so a key exported in the shell (or in .env) always wins over
// the one saved by `sky setup`.
package credentials

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode"

	"github.com/zalando/go-keyring"
)

const (
	// Service name for OS credential store
	credentialService = "sky"

	mpKeyName     = "mp_api_key"
	openAIKeyName = "openai_api_key"
)

// Environment variables consulted before the credential store.
const (
	MPAPIKeyEnv     = "MP_API_KEY"
	OpenAIAPIKeyEnv = "OPENAI_API_KEY"
	// OpenAIMDGKeyEnv takes priority over OpenAIAPIKeyEnv when both are set.
	OpenAIMDGKeyEnv = "OPENAI_MDG_API_KEY"
)

// Key identifies one of the stored secrets.
type Key string

const (
	MPKey     Key = mpKeyName
	OpenAIKey Key = openAIKeyName
)

// ErrNoKey is returned when a key is neither in the environment nor stored.
var ErrNoKey = errors.New("no API key configured")

// Source reports where a resolved key came from.
type Source string

const (
	SourceEnv     Source = "env"
	SourceKeyring Source = "keyring"
	SourceNone    Source = "none"
)

// Manager handles secure storage and retrieval of API keys.
type Manager struct {
	service string
	getenv  func(string) string
}

// NewManager creates a credential manager bound to the "sky" service.
func NewManager() *Manager {
	return &Manager{service: credentialService, getenv: os.Getenv}
}

func envNames(k Key) []string {
	switch k {
	case MPKey:
		return []string{MPAPIKeyEnv}
	case OpenAIKey:
		return []string{OpenAIMDGKeyEnv, OpenAIAPIKeyEnv}
	}
	return nil
}

// Store validates and saves a key in the OS credential store.
func (m *Manager) Store(k Key, value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return fmt.Errorf("%s cannot be empty", k)
	}
	if err := ValidateKeyFormat(value); err != nil {
		return fmt.Errorf("invalid %s: %w", k, err)
	}
	if err := keyring.Set(m.service, string(k), value); err != nil {
		return fmt.Errorf("failed to store %s in credential store: %w", k, err)
	}
	return nil
}

// Stored returns the key saved in the credential store, ignoring the
// environment.
func (m *Manager) Stored(k Key) (string, error) {
	value, err := keyring.Get(m.service, string(k))
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrNoKey
		}
		return "", fmt.Errorf("failed to retrieve %s from credential store: %w", k, err)
	}
	if strings.TrimSpace(value) == "" {
		return "", ErrNoKey
	}
	return value, nil
}

// Resolve returns the effective key: environment first, then the credential
// store. A credential store that is unavailable is treated as empty.
func (m *Manager) Resolve(k Key) (string, Source) {
	for _, name := range envNames(k) {
		if v := strings.TrimSpace(m.getenv(name)); v != "" {
			return v, SourceEnv
		}
	}
	if v, err := m.Stored(k); err == nil {
		return v, SourceKeyring
	}
	return "", SourceNone
}

// MPAPIKey returns the Materials Project key or "" when none is configured.
func (m *Manager) MPAPIKey() string {
	v, _ := m.Resolve(MPKey)
	return v
}

// OpenAIAPIKey returns the OpenAI key or "" when none is configured.
func (m *Manager) OpenAIAPIKey() string {
	v, _ := m.Resolve(OpenAIKey)
	return v
}

// Delete removes a stored key. Deleting a key that does not exist is not an
// error.
func (m *Manager) Delete(k Key) error {
	err := keyring.Delete(m.service, string(k))
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete %s from credential store: %w", k, err)
	}
	return nil
}

// ValidateKeyFormat performs a shallow sanity check on an API key: it must be
// reasonably long and contain no whitespace.
func ValidateKeyFormat(value string) error {
	if len(value) < 16 {
		return fmt.Errorf("key too short (minimum 16 characters)")
	}
	for _, r := range value {
		if unicode.IsSpace(r) {
			return fmt.Errorf("key must not contain whitespace")
		}
	}
	return nil
}

// StoreStatus writes a throwaway entry to the credential store and reports
// whether it is usable.
func (m *Manager) StoreStatus() map[string]any {
	status := map[string]any{"service": m.service}

	const checkKey = "sky_store_check"
	if err := keyring.Set(m.service, checkKey, "check"); err != nil {
		status["available"] = false
		status["error"] = err.Error()
		return status
	}
	defer keyring.Delete(m.service, checkKey)

	got, err := keyring.Get(m.service, checkKey)
	if err != nil {
		status["available"] = false
		status["error"] = err.Error()
		return status
	}
	if got != "check" {
		status["available"] = false
		status["error"] = "credential store corrupted - values don't match"
		return status
	}

	status["available"] = true
	return status
}
