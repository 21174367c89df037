// Package config loads and validates the service configuration from a YAML
// file layered over built-in defaults.
package config
