package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Dump renders the effective settings for configPath, defaults and
// environment overrides included, as YAML using the file's key names.
func Dump(configPath string) ([]byte, error) {
	v, err := newViper(configPath)
	if err != nil {
		return nil, err
	}
	out, err := yaml.Marshal(v.AllSettings())
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return out, nil
}
