package logging

import (
	"log/slog"
	"path/filepath"

	"importq/internal/config"
)

// NewFromConfig builds the daemon logger from configuration. Console and
// file output are combined so interactive runs still land in the log dir.
func NewFromConfig(cfg *config.Config) (*slog.Logger, error) {
	outputs := []string{"stdout"}
	errorOutputs := []string{"stderr"}
	if cfg.Paths.LogDir != "" {
		logFile := filepath.Join(cfg.Paths.LogDir, "importqd.log")
		outputs = append(outputs, logFile)
		errorOutputs = append(errorOutputs, logFile)
	}
	return New(Options{
		Level:            cfg.Logging.Level,
		Format:           cfg.Logging.Format,
		OutputPaths:      outputs,
		ErrorOutputPaths: errorOutputs,
	})
}
