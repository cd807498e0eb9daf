// Command importqd runs the transcode import queue daemon in the foreground.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"importq/internal/config"
	"importq/internal/daemonrun"
)

func main() {
	var configPath string
	var logLevel string
	flag.StringVar(&configPath, "config", "", "configuration file path")
	flag.StringVar(&logLevel, "log-level", "", "override the configured log level")
	flag.Parse()

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	if err := daemonrun.Run(context.Background(), cfg, daemonrun.Options{LogLevel: logLevel}); err != nil {
		fmt.Fprintf(os.Stderr, "importqd: %v\n", err)
		os.Exit(1)
	}
}
