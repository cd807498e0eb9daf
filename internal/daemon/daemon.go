package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"importq/internal/api"
	"importq/internal/config"
	"importq/internal/logging"
	"importq/internal/queue"
	"importq/internal/workflow"
)

// Daemon enforces single-instance execution and owns the workflow lifecycle.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *queue.Store
	wf     *workflow.Manager
	queue  *api.QueueService

	lockPath string
	lock     *flock.Flock

	running      atomic.Bool
	cancel       context.CancelFunc
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger, wf *workflow.Manager, queueSvc *api.QueueService) (*Daemon, error) {
	if cfg == nil || store == nil || wf == nil || queueSvc == nil {
		return nil, errors.New("daemon requires config, store, workflow manager, and queue service")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.With(logging.String(logging.FieldComponent, "daemon"))
	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		wf:       wf,
		queue:    queueSvc,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
		shutdown: make(chan struct{}),
	}, nil
}

// Shutdown asks the owning process to exit. It is safe to call more than
// once.
func (d *Daemon) Shutdown() {
	d.shutdownOnce.Do(func() { close(d.shutdown) })
}

// ShutdownRequested is closed when a client asked the daemon to exit.
func (d *Daemon) ShutdownRequested() <-chan struct{} {
	return d.shutdown
}

// Start acquires the instance lock, restores items interrupted by a previous
// run, and launches the workflow manager.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another importq daemon instance is already running")
	}

	restored, err := d.store.RestoreInterrupted(ctx, queue.DaemonStopReason)
	if err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("restore interrupted items: %w", err)
	}
	if restored > 0 {
		d.logger.Info("restored interrupted items", logging.Int64("count", restored))
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.wf.Run(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start workflow: %w", err)
	}
	d.cancel = cancel

	d.running.Store(true)
	d.logger.Info("importq daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop halts background processing, returns any in-flight item to pending,
// and releases the instance lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.wf.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if restored, err := d.store.RestoreInterrupted(ctx, queue.DaemonStopReason); err != nil {
		d.logger.Warn("failed to restore in-flight item at shutdown", logging.Error(err))
	} else if restored > 0 {
		d.logger.Info("returned in-flight items to pending", logging.Int64("count", restored))
	}

	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("importq daemon stopped")
}

// Close stops the daemon and closes the queue store.
func (d *Daemon) Close() error {
	d.Stop()
	return d.store.Close()
}

// Queue exposes the command surface backing the IPC server.
func (d *Daemon) Queue() *api.QueueService {
	return d.queue
}

// QueueHealth returns aggregate queue diagnostics.
func (d *Daemon) QueueHealth(ctx context.Context) (queue.HealthSummary, error) {
	return d.store.Health(ctx)
}

// DatabaseHealth returns detailed database diagnostics.
func (d *Daemon) DatabaseHealth(ctx context.Context) (queue.DatabaseHealth, error) {
	return d.store.CheckHealth(ctx)
}

// Status reports the current daemon runtime state.
func (d *Daemon) Status(ctx context.Context) api.DaemonStatus {
	summary := d.wf.Status(ctx)
	status := api.DaemonStatus{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		QueueDBPath:  d.cfg.DatabasePath(),
		LockFilePath: d.lockPath,
		Control: api.ControlStatus{
			Running:   summary.Running,
			Paused:    summary.Paused,
			AutoStart: summary.AutoStart,
		},
		QueueStats:  api.MergeQueueStats(summary.QueueStats),
		StageHealth: api.StageHealthSlice(summary.StageHealth),
	}
	if summary.ActiveItem != nil {
		active := api.FromQueueItem(summary.ActiveItem)
		status.ActiveItem = &active
	}
	return status
}
