// Package config loads YAML configuration files, expanding ${VAR} references
// from the environment before decoding.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// Validator is implemented by configuration types that check themselves
// after decoding.
type Validator interface {
	Validate() error
}

// Load decodes filename into target and runs target's Validate, if any.
// Fields absent from the file keep the values target already holds.
func Load[T any](filename string, target *T) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("read config %s: %w", filename, err)
	}

	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), target); err != nil {
		return fmt.Errorf("parse config %s: %w", filename, err)
	}

	if v, ok := any(target).(Validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("validate config %s: %w", filename, err)
		}
	}
	return nil
}

// LoadWithDefaults loads filename, or fallback when filename does not exist.
// It returns the path that was actually loaded.
func LoadWithDefaults[T any](filename, fallback string, target *T) (string, error) {
	if _, err := os.Stat(filename); errors.Is(err, fs.ErrNotExist) {
		if fallback == "" || fallback == filename {
			return "", fmt.Errorf("config file not found: %s", filename)
		}
		return fallback, Load(fallback, target)
	}
	return filename, Load(filename, target)
}
