package config

import "fmt"

// ConfigError reports a malformed target selector, signal identifier or other
// execution setting. The offending value is never applied.
type ConfigError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}
