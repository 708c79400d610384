package tracker

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Config holds configuration for a tracker integration.
// It wraps the config storage and provides a consistent interface
// for accessing settings of the host config section keyed by plugin name.
type Config struct {
	// Prefix is the config section for this tracker (e.g., "bugzilla", "its-phabricator")
	Prefix string

	// Store provides access to the config storage
	Store ConfigStore

	// Secrets is consulted for secret keys that are absent from Store and env.
	Secrets SecretStore

	// Context for config operations
	Ctx context.Context
}

// ConfigStore provides access to the host configuration.
type ConfigStore interface {
	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
	GetAllConfig(ctx context.Context) (map[string]string, error)
}

// SecretStore looks up credentials kept outside the config file.
// Get returns "" and no error when the key is unknown.
type SecretStore interface {
	Get(key string) (string, error)
}

// NewConfig creates a new tracker config with the given prefix and store.
func NewConfig(ctx context.Context, prefix string, store ConfigStore) *Config {
	return &Config{
		Prefix: prefix,
		Store:  store,
		Ctx:    ctx,
	}
}

// WithSecrets returns c with a secret store attached.
func (c *Config) WithSecrets(s SecretStore) *Config {
	c.Secrets = s
	return c
}

// Get retrieves a config value by key, checking both the config store
// and environment variables. The key should not include the tracker prefix.
// Example: cfg.Get("url") for "bugzilla" prefix looks up "bugzilla.url"
// and falls back to the "BUGZILLA_URL" env var.
func (c *Config) Get(key string) (string, error) {
	fullKey := c.Prefix + "." + key

	if c.Store != nil {
		value, err := c.Store.GetConfig(c.Ctx, fullKey)
		if err == nil && value != "" {
			return value, nil
		}
	}

	if value := os.Getenv(c.envVarName(key)); value != "" {
		return value, nil
	}

	return "", nil
}

// GetSecret is like Get but falls back to the secret store, where the value
// is kept under the full "<prefix>.<key>" name.
func (c *Config) GetSecret(key string) (string, error) {
	value, err := c.Get(key)
	if err != nil || value != "" {
		return value, err
	}
	if c.Secrets == nil {
		return "", nil
	}
	value, err = c.Secrets.Get(c.Prefix + "." + key)
	if err != nil {
		return "", fmt.Errorf("read secret %s.%s: %w", c.Prefix, key, err)
	}
	return value, nil
}

// GetRequired is like Get but returns an error if the value is empty.
func (c *Config) GetRequired(key string) (string, error) {
	value, err := c.Get(key)
	if err != nil {
		return "", err
	}
	if value == "" {
		fullKey := c.Prefix + "." + key
		return "", fmt.Errorf("%s not configured\nSet %s in the config file\nOr: export %s=VALUE",
			fullKey, fullKey, c.envVarName(key))
	}
	return value, nil
}

// Set stores a config value.
func (c *Config) Set(key, value string) error {
	if c.Store == nil {
		return fmt.Errorf("config store not available")
	}
	return c.Store.SetConfig(c.Ctx, c.Prefix+"."+key, value)
}

// GetAll returns all config values with the tracker's prefix.
func (c *Config) GetAll() (map[string]string, error) {
	if c.Store == nil {
		return make(map[string]string), nil
	}

	all, err := c.Store.GetAllConfig(c.Ctx)
	if err != nil {
		return nil, err
	}

	result := make(map[string]string)
	prefix := c.Prefix + "."
	for key, value := range all {
		if strings.HasPrefix(key, prefix) {
			result[strings.TrimPrefix(key, prefix)] = value
		}
	}
	return result, nil
}

// envVarName converts a config key to its environment variable name.
// Example: for prefix "its-phabricator" and key "url", returns "ITS_PHABRICATOR_URL"
func (c *Config) envVarName(key string) string {
	envKey := strings.ToUpper(c.Prefix + "_" + key)
	envKey = strings.NewReplacer(".", "_", "-", "_").Replace(envKey)
	return envKey
}

// CommonConfig defines configuration keys used by the trackers.
var CommonConfig = struct {
	URL         string
	Username    string
	Password    string
	Token       string
	Certificate string
}{
	URL:         "url",
	Username:    "username",
	Password:    "password",
	Token:       "token",
	Certificate: "certificate",
}
