package config

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig is the sentinel every ConfigError unwraps to
var ErrInvalidConfig = errors.New("invalid configuration")

// ConfigError describes a configuration problem detected before any I/O
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfig
}

func invalid(field, format string, args ...interface{}) error {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
