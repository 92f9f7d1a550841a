package credentials

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

const testKey = "0123456789abcdefABCDEF"

func newTestManager(t *testing.T, env map[string]string) *Manager {
	t.Helper()
	keyring.MockInit()
	return &Manager{
		service: "sky-test-" + t.Name(),
		getenv:  func(k string) string { return env[k] },
	}
}

func TestNewManager(t *testing.T) {
	m := NewManager()
	assert.Equal(t, credentialService, m.service)
}

func TestValidateKeyFormat(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{"valid", testKey, false},
		{"openai style", "sk-proj-abcdefghijklmnop", false},
		{"too short", "abc", true},
		{"inner whitespace", "0123456789 abcdefABCDEF", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateKeyFormat(tt.value)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStoreAndResolve(t *testing.T) {
	m := newTestManager(t, nil)

	_, src := m.Resolve(MPKey)
	assert.Equal(t, SourceNone, src)

	require.NoError(t, m.Store(MPKey, "  "+testKey+"  "))

	got, src := m.Resolve(MPKey)
	assert.Equal(t, testKey, got)
	assert.Equal(t, SourceKeyring, src)
	assert.Equal(t, testKey, m.MPAPIKey())

	require.NoError(t, m.Delete(MPKey))
	_, err := m.Stored(MPKey)
	assert.True(t, errors.Is(err, ErrNoKey))

	// Deleting twice is fine.
	assert.NoError(t, m.Delete(MPKey))
}

func TestStoreRejectsInvalid(t *testing.T) {
	m := newTestManager(t, nil)
	assert.Error(t, m.Store(OpenAIKey, ""))
	assert.Error(t, m.Store(OpenAIKey, "short"))
	_, src := m.Resolve(OpenAIKey)
	assert.Equal(t, SourceNone, src)
}

func TestEnvironmentWins(t *testing.T) {
	m := newTestManager(t, map[string]string{MPAPIKeyEnv: "env-key-0123456789"})
	require.NoError(t, m.Store(MPKey, testKey))

	got, src := m.Resolve(MPKey)
	assert.Equal(t, "env-key-0123456789", got)
	assert.Equal(t, SourceEnv, src)
}

func TestOpenAIKeyPriority(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"mdg preferred", map[string]string{OpenAIMDGKeyEnv: "mdg", OpenAIAPIKeyEnv: "plain"}, "mdg"},
		{"plain fallback", map[string]string{OpenAIAPIKeyEnv: "plain"}, "plain"},
		{"blank mdg ignored", map[string]string{OpenAIMDGKeyEnv: "  ", OpenAIAPIKeyEnv: "plain"}, "plain"},
		{"none", map[string]string{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager(t, tt.env)
			assert.Equal(t, tt.want, m.OpenAIAPIKey())
		})
	}
}

func TestStoreStatus(t *testing.T) {
	m := newTestManager(t, nil)
	status := m.StoreStatus()
	assert.Equal(t, true, status["available"])
	_, err := keyring.Get(m.service, "sky_store_check")
	assert.ErrorIs(t, err, keyring.ErrNotFound)
}
