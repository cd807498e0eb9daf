// Package testsupport provides shared helpers for package tests.
package testsupport

import (
	"path/filepath"
	"testing"

	"importq/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.StagingDir = filepath.Join(base, "staging")
	cfg.Paths.LibraryDir = filepath.Join(base, "library")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.SocketPath = filepath.Join(base, "importqd.sock")
	cfg.Encoding.AudioWorkers = 2
	cfg.Workflow.QueuePollInterval = 1
	cfg.Workflow.ProgressFlushMillis = 20

	for _, opt := range opts {
		opt(&cfg)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}

	return &cfg
}

// WithVmafDisabled turns off quality calibration for tests that only need
// the encode path.
func WithVmafDisabled() ConfigOption {
	return func(cfg *config.Config) {
		cfg.Vmaf.Enabled = false
	}
}
