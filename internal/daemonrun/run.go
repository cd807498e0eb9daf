// Package daemonrun composes the daemon process: store, stages, workflow,
// and the IPC surface.
package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"importq/internal/api"
	"importq/internal/config"
	"importq/internal/daemon"
	"importq/internal/events"
	"importq/internal/ipc"
	"importq/internal/logging"
	"importq/internal/postprocess"
	"importq/internal/progress"
	"importq/internal/queue"
	"importq/internal/services/ffmpeg"
	"importq/internal/transcoding"
	"importq/internal/vmafsearch"
	"importq/internal/workflow"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel string
}

// Run starts the importq daemon and blocks until a signal or a shutdown
// request over IPC.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}
	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		cfg.Logging.Level = level
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logDependencySnapshot(logger, cfg)

	pidPath := filepath.Join(cfg.Paths.LogDir, "importqd.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := queue.Open(cfg)
	if err != nil {
		logger.Error("open queue store", logging.Error(err))
		return err
	}
	defer store.Close()

	bus := events.NewBus(logger)
	defer bus.Close()
	eventSub := bus.Subscribe(0)
	go logEvents(eventSub, logging.NewComponentLogger(logger, "events"))

	flush := time.Duration(cfg.Workflow.ProgressFlushMillis) * time.Millisecond
	aggregator := progress.NewAggregator(store, bus, flush, cfg.Encoding.VideoCostShare,
		progress.WithLogger(logger))
	defer aggregator.Close()

	client := ffmpeg.NewCLI(ffmpeg.WithBinary(cfg.Encoding.FFmpegBinary))
	engine := vmafsearch.NewEngine(client, vmafsearch.ParamsFromConfig(cfg), logger)
	manager := workflow.NewManager(cfg, store, workflow.Stages{
		Vmaf:        vmafsearch.NewStage(cfg, engine, aggregator, logger),
		Transcoding: transcoding.NewStage(cfg, client, aggregator, logger),
		Postprocess: postprocess.NewStage(cfg, client, aggregator, logger),
	}, bus, aggregator, logger)
	queueSvc := api.NewQueueService(store, manager)

	d, err := daemon.New(cfg, store, logger, manager, queueSvc)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	ipcServer, err := ipc.NewServer(signalCtx, cfg.Paths.SocketPath, d, logger)
	if err != nil {
		return fmt.Errorf("start ipc server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	if err := d.Start(signalCtx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	select {
	case <-signalCtx.Done():
	case <-d.ShutdownRequested():
	}
	logger.Info("importq daemon shutting down")
	return nil
}

// logEvents mirrors bus traffic into the debug log. Progress events are
// skipped; the aggregator already emits sampled progress lines.
func logEvents(sub *events.Subscription, logger *slog.Logger) {
	for event := range sub.Events() {
		if event.Type == events.TypeItemProgress {
			continue
		}
		attrs := []logging.Attr{logging.String(logging.FieldEventType, string(event.Type))}
		if event.ItemID > 0 {
			attrs = append(attrs, logging.Int64(logging.FieldItemID, event.ItemID))
		}
		if event.Status != nil {
			attrs = append(attrs,
				logging.String("from", string(event.Status.From)),
				logging.String("to", string(event.Status.To)))
		}
		if event.Summary != nil {
			attrs = append(attrs,
				logging.Int("pending", event.Summary.Pending),
				logging.Int("processing", event.Summary.Processing))
		}
		logger.Debug("event", logging.Args(attrs...)...)
	}
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	ffmpegBinary := cfg.Encoding.FFmpegBinary
	if ffmpegBinary == "" {
		ffmpegBinary = "ffmpeg"
	}
	ffprobeBinary := cfg.Encoding.FFprobeBinary
	if ffprobeBinary == "" {
		ffprobeBinary = "ffprobe"
	}
	logger.Info("dependency snapshot",
		logging.Bool("ffmpeg_available", binaryAvailable(ffmpegBinary)),
		logging.String("ffmpeg_binary", ffmpegBinary),
		logging.Bool("ffprobe_available", binaryAvailable(ffprobeBinary)),
		logging.String("ffprobe_binary", ffprobeBinary),
		logging.Bool("vmaf_enabled", cfg.Vmaf.Enabled),
	)
}

func binaryAvailable(name string) bool {
	if strings.TrimSpace(name) == "" {
		return false
	}
	_, err := exec.LookPath(name)
	return err == nil
}
