package config

import "strings"

// ConfigError reports every required configuration key missing at startup,
// aggregated into one readable, fail-fast message rather than failing on
// the first missing key.
type ConfigError struct {
	Keys []string
}

func (e *ConfigError) Error() string {
	return "config: missing required environment variable(s): " + strings.Join(e.Keys, ", ")
}
