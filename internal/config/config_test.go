package config

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const yamlConfig = `tracker: bugzilla
bugzilla:
  url: https://bugzilla.example.com
  username: gerrit@example.com
  password: hunter2
its-phabricator:
  url: https://phabricator.example.com
  token: api-abc
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadYAML(t *testing.T) {
	store, err := Load(writeFile(t, "config.yaml", yamlConfig))
	require.NoError(t, err)
	ctx := context.Background()

	got, err := store.GetConfig(ctx, "bugzilla.url")
	require.NoError(t, err)
	assert.Equal(t, "https://bugzilla.example.com", got)

	got, err = store.GetConfig(ctx, "its-phabricator.token")
	require.NoError(t, err)
	assert.Equal(t, "api-abc", got)

	got, err = store.GetConfig(ctx, "bugzilla.missing")
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, "bugzilla", store.GetString("tracker"))
}

func TestLoadByExtension(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"toml", "config.toml", "[bugzilla]\nurl = \"https://bugzilla.example.com\"\n"},
		{"json", "config.json", `{"bugzilla": {"url": "https://bugzilla.example.com"}}`},
		{"no extension means yaml", "config", "bugzilla:\n  url: https://bugzilla.example.com\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := Load(writeFile(t, tt.file, tt.content))
			require.NoError(t, err)
			assert.Equal(t, "https://bugzilla.example.com", store.GetString("bugzilla.url"))
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	store, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Empty(t, store.GetString("bugzilla.url"))
	assert.False(t, store.GetBool("telemetry.enabled"))
}

func TestLoadMalformedFile(t *testing.T) {
	_, err := Load(writeFile(t, "config.yaml", "bugzilla: [unclosed"))
	assert.Error(t, err)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("ITSBRIDGE_BUGZILLA_URL", "https://override.example.com")
	t.Setenv("ITSBRIDGE_ITS_PHABRICATOR_URL", "https://phab.override.example.com")
	store, err := Load(writeFile(t, "config.yaml", yamlConfig))
	require.NoError(t, err)

	assert.Equal(t, "https://override.example.com", store.GetString("bugzilla.url"))
	assert.Equal(t, "https://phab.override.example.com", store.GetString("its-phabricator.url"))
}

func TestSetConfigPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	store, err := Load(path)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.SetConfig(ctx, "bugzilla.url", "https://bugzilla.example.com"))

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://bugzilla.example.com", reloaded.GetString("bugzilla.url"))
}

func TestGetAllConfig(t *testing.T) {
	store, err := Load(writeFile(t, "config.yaml", yamlConfig))
	require.NoError(t, err)

	all, err := store.GetAllConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "gerrit@example.com", all["bugzilla.username"])
	assert.Equal(t, "https://phabricator.example.com", all["its-phabricator.url"])
	assert.Contains(t, store.Keys(), "bugzilla.password")
}

func TestRenderMasksSecrets(t *testing.T) {
	store, err := Load(writeFile(t, "config.yaml", yamlConfig))
	require.NoError(t, err)

	decoders := map[string]func([]byte, any) error{
		FormatYAML: yaml.Unmarshal,
		FormatJSON: json.Unmarshal,
		FormatTOML: toml.Unmarshal,
	}
	for format, decode := range decoders {
		t.Run(format, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, store.Render(&buf, format))

			var out map[string]any
			require.NoError(t, decode(buf.Bytes(), &out))
			bugzilla := out["bugzilla"].(map[string]any)
			assert.Equal(t, "https://bugzilla.example.com", bugzilla["url"])
			assert.Equal(t, mask, bugzilla["password"])
			assert.NotContains(t, buf.String(), "hunter2")
			assert.NotContains(t, buf.String(), "api-abc")
		})
	}
}

func TestRenderUnknownFormat(t *testing.T) {
	store, err := Load(writeFile(t, "config.yaml", yamlConfig))
	require.NoError(t, err)
	assert.Error(t, store.Render(&bytes.Buffer{}, "xml"))
}

func TestDefaultPath(t *testing.T) {
	t.Setenv("ITSBRIDGE_CONFIG", "/etc/itsbridge.toml")
	path, err := DefaultPath()
	require.NoError(t, err)
	assert.Equal(t, "/etc/itsbridge.toml", path)

	t.Setenv("ITSBRIDGE_CONFIG", "")
	t.Setenv("HOME", "/home/gerrit")
	path, err = DefaultPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/home/gerrit", ".config", "itsbridge", "config.yaml"), path)
}
