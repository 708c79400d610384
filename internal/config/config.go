// Package config loads the itsbridge configuration file and exposes it as a
// tracker.ConfigStore.
//
// The file holds one section per tracker plugin, keyed by plugin name:
//
//	bugzilla:
//	  url: https://bugzilla.example.com
//	  username: gerrit@example.com
//	its-phabricator:
//	  url: https://phabricator.example.com
//	  token: api-xxxxxxxx
//
// YAML is the default; TOML and JSON are selected by file extension. Every key
// may be overridden with an ITSBRIDGE_-prefixed environment variable
// (ITSBRIDGE_BUGZILLA_URL for bugzilla.url).
package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides of config keys.
const EnvPrefix = "ITSBRIDGE"

// Store is a viper-backed configuration store. It is safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	v    *viper.Viper
	path string
}

// DefaultPath returns the config file used when none is given:
// $ITSBRIDGE_CONFIG, or ~/.config/itsbridge/config.yaml.
func DefaultPath() (string, error) {
	if p := os.Getenv(EnvPrefix + "_CONFIG"); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locate home directory: %w", err)
	}
	return filepath.Join(home, ".config", "itsbridge", "config.yaml"), nil
}

// Load reads the config file at path. A missing file yields an empty store
// that SetConfig will create.
func Load(path string) (*Store, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if configType(path) == "" {
		v.SetConfigType("yaml")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("tracker", "")
	v.SetDefault("telemetry.enabled", false)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}
	return &Store{v: v, path: path}, nil
}

// configType returns the viper config type implied by the file extension.
func configType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	case ".toml":
		return "toml"
	case ".json":
		return "json"
	default:
		return ""
	}
}

// Path returns the config file location.
func (s *Store) Path() string {
	return s.path
}

// GetString returns a value, or "" when unset.
func (s *Store) GetString(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v.GetString(key)
}

// GetBool returns a boolean value.
func (s *Store) GetBool(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v.GetBool(key)
}

// GetConfig implements tracker.ConfigStore.
func (s *Store) GetConfig(_ context.Context, key string) (string, error) {
	return s.GetString(key), nil
}

// SetConfig implements tracker.ConfigStore. The value is written back to the
// config file.
func (s *Store) SetConfig(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.v.Set(key, value)
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := s.v.WriteConfigAs(s.path); err != nil {
		return fmt.Errorf("failed to write config %s: %w", s.path, err)
	}
	return nil
}

// GetAllConfig implements tracker.ConfigStore. Keys are flattened with dots.
func (s *Store) GetAllConfig(_ context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make(map[string]string)
	for _, key := range s.v.AllKeys() {
		all[key] = s.v.GetString(key)
	}
	return all, nil
}

// Keys returns all known keys, sorted.
func (s *Store) Keys() []string {
	s.mu.RLock()
	keys := s.v.AllKeys()
	s.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// Settings returns the effective configuration as a nested map.
func (s *Store) Settings() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v.AllSettings()
}
