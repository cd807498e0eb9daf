// Package config loads, normalizes, and validates the TOML configuration for
// the import queue daemon and CLI.
package config
