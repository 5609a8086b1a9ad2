// Package config provides YAML-based configuration loading with environment variable expansion.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Validator is an interface for configuration validation.
type Validator interface {
	Validate() error
}

// Load loads configuration from a YAML file with environment variable
// expansion and validates it.
func Load[T any](filename string, target *T) error {
	if err := Decode(filename, target); err != nil {
		return err
	}
	return Validate(target)
}

// Decode reads filename, expands ${VAR} references and decodes the YAML
// over target. Keys absent from the file keep target's current values, so
// target can be pre-filled with defaults.
func Decode[T any](filename string, target *T) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	expandedData := os.ExpandEnv(string(data))

	if err := yaml.Unmarshal([]byte(expandedData), target); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", filename, err)
	}
	return nil
}

// DecodeOptional is Decode for a file that may not exist. It reports
// whether the file was found.
func DecodeOptional[T any](filename string, target *T) (bool, error) {
	if _, err := os.Stat(filename); errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err := Decode(filename, target); err != nil {
		return true, err
	}
	return true, nil
}

// Validate runs target's Validate method when it implements Validator.
func Validate[T any](target *T) error {
	if validator, ok := any(target).(Validator); ok {
		if err := validator.Validate(); err != nil {
			return fmt.Errorf("config validation failed: %w", err)
		}
	}
	return nil
}
