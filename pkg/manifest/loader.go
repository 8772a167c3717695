package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads and validates a manifest from the given file path.
//
// The file format is determined by extension: .yaml/.yml for YAML, .json
// for JSON. If the extension is unrecognized, YAML is attempted first, then
// JSON.
//
// After parsing, the manifest is validated and defaults are applied to
// optional fields.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("manifest file not found: %s", path)
		}
		if os.IsPermission(err) {
			return nil, fmt.Errorf("permission denied reading manifest: %s", path)
		}
		return nil, fmt.Errorf("failed to read manifest file: %w", err)
	}
	return LoadFromBytes(data, path)
}

// LoadFromBytes parses and validates a manifest from raw bytes. The path
// parameter is used for error messages and format detection; if empty,
// format detection falls back to trying YAML first.
func LoadFromBytes(data []byte, path string) (*Manifest, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errors.New("manifest file is empty")
	}

	var m Manifest
	if err := decode(data, path, &m); err != nil {
		return nil, err
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	m.applyDefaults()
	return &m, nil
}

func decode(data []byte, path string, m *Manifest) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, m); err != nil {
			return fmt.Errorf("invalid YAML manifest: %w", err)
		}
		return nil
	case ".json":
		if err := json.Unmarshal(data, m); err != nil {
			return fmt.Errorf("invalid JSON manifest: %w", err)
		}
		return nil
	default:
		if yerr := yaml.Unmarshal(data, m); yerr == nil {
			return nil
		}
		if jerr := json.Unmarshal(data, m); jerr == nil {
			return nil
		}
		return fmt.Errorf("manifest is neither valid YAML nor valid JSON: %s", path)
	}
}
