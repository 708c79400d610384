package tracker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapStore map[string]string

func (m mapStore) GetConfig(_ context.Context, key string) (string, error) {
	return m[key], nil
}

func (m mapStore) SetConfig(_ context.Context, key, value string) error {
	m[key] = value
	return nil
}

func (m mapStore) GetAllConfig(context.Context) (map[string]string, error) {
	return m, nil
}

type mapSecrets map[string]string

func (m mapSecrets) Get(key string) (string, error) {
	if key == "broken.password" {
		return "", errors.New("keyring locked")
	}
	return m[key], nil
}

func TestConfigGet(t *testing.T) {
	store := mapStore{"bugzilla.url": "https://bz.example.com"}
	cfg := NewConfig(context.Background(), "bugzilla", store)

	got, err := cfg.Get("url")
	require.NoError(t, err)
	assert.Equal(t, "https://bz.example.com", got)

	got, err = cfg.Get("username")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestConfigEnvFallback(t *testing.T) {
	t.Setenv("BUGZILLA_USERNAME", "env-user")
	t.Setenv("ITS_PHABRICATOR_TOKEN", "api-token")

	cfg := NewConfig(context.Background(), "bugzilla", mapStore{})
	got, _ := cfg.Get("username")
	assert.Equal(t, "env-user", got)

	phab := NewConfig(context.Background(), "its-phabricator", nil)
	got, _ = phab.Get("token")
	assert.Equal(t, "api-token", got)
}

func TestConfigStoreWinsOverEnv(t *testing.T) {
	t.Setenv("BUGZILLA_URL", "https://env.example.com")
	cfg := NewConfig(context.Background(), "bugzilla", mapStore{"bugzilla.url": "https://file.example.com"})
	got, _ := cfg.Get("url")
	assert.Equal(t, "https://file.example.com", got)
}

func TestConfigGetRequired(t *testing.T) {
	cfg := NewConfig(context.Background(), "bugzilla", mapStore{})
	_, err := cfg.GetRequired("url")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bugzilla.url not configured")
	assert.Contains(t, err.Error(), "BUGZILLA_URL")
}

func TestConfigGetSecret(t *testing.T) {
	secrets := mapSecrets{"bugzilla.password": "s3cret"}
	cfg := NewConfig(context.Background(), "bugzilla", mapStore{}).WithSecrets(secrets)

	got, err := cfg.GetSecret("password")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", got)

	// Plain config takes precedence over the secret store.
	cfg = NewConfig(context.Background(), "bugzilla", mapStore{"bugzilla.password": "plain"}).WithSecrets(secrets)
	got, _ = cfg.GetSecret("password")
	assert.Equal(t, "plain", got)

	broken := NewConfig(context.Background(), "broken", mapStore{}).WithSecrets(secrets)
	_, err = broken.GetSecret("password")
	assert.Error(t, err)
}

func TestConfigSetAndGetAll(t *testing.T) {
	store := mapStore{"other.url": "x"}
	cfg := NewConfig(context.Background(), "bugzilla", store)
	require.NoError(t, cfg.Set("url", "https://bz"))
	require.NoError(t, cfg.Set("username", "admin"))

	all, err := cfg.GetAll()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"url": "https://bz", "username": "admin"}, all)

	noStore := NewConfig(context.Background(), "bugzilla", nil)
	assert.Error(t, noStore.Set("url", "x"))
}
