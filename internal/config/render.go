package config

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Output formats accepted by Render.
const (
	FormatYAML = "yaml"
	FormatTOML = "toml"
	FormatJSON = "json"
)

// secretKeys are masked by Render.
var secretKeys = map[string]bool{
	"password":    true,
	"token":       true,
	"certificate": true,
}

const mask = "********"

// Render writes the effective configuration to w in the given format, with
// secret values masked.
func (s *Store) Render(w io.Writer, format string) error {
	settings := maskSecrets(s.Settings())

	switch strings.ToLower(format) {
	case "", FormatYAML:
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)
		if err := encoder.Encode(settings); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		return encoder.Close()
	case FormatTOML:
		if err := toml.NewEncoder(w).Encode(settings); err != nil {
			return fmt.Errorf("failed to encode toml: %w", err)
		}
		return nil
	case FormatJSON:
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(settings)
	default:
		return fmt.Errorf("unknown format %q (expected %s, %s or %s)", format, FormatYAML, FormatTOML, FormatJSON)
	}
}

// maskSecrets returns a copy of m with secret leaves replaced.
func maskSecrets(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case map[string]any:
			out[k] = maskSecrets(val)
		default:
			if secretKeys[strings.ToLower(k)] && fmt.Sprint(v) != "" {
				out[k] = mask
			} else {
				out[k] = v
			}
		}
	}
	return out
}
