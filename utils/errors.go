package utils

import (
	"fmt"

	"github.com/pkg/errors"
)

// ConfigurationError reports a setup problem detected before any iteration runs, such as a
// missing threshold, missing normals or mismatched cloud sizes.
type ConfigurationError struct {
	Component string
	Reason    string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s configuration: %s", e.Component, e.Reason)
}

// NewConfigurationError returns a *ConfigurationError for the named component.
func NewConfigurationError(component, format string, args ...interface{}) error {
	return &ConfigurationError{Component: component, Reason: fmt.Sprintf(format, args...)}
}

// IsConfigurationError returns whether err is, or wraps, a *ConfigurationError.
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}
