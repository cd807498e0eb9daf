package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"importq/internal/config"
	"importq/internal/events"
	"importq/internal/logging"
	"importq/internal/progress"
	"importq/internal/queue"
	"importq/internal/stage"
)

// Stages holds the handlers for each phase of an item's lifecycle.
type Stages struct {
	Vmaf        stage.Handler
	Transcoding stage.Handler
	Postprocess stage.Handler
}

// Manager coordinates queue processing.
type Manager struct {
	cfg        *config.Config
	store      *queue.Store
	bus        *events.Bus
	aggregator *progress.Aggregator
	logger     *slog.Logger
	stages     Stages

	heartbeat     *HeartbeatMonitor
	pollInterval  time.Duration
	errorInterval time.Duration

	mu        sync.RWMutex
	running   bool
	paused    bool
	autoStart bool
	kicked    bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	lastErr   error
	lastItem  *queue.Item

	wake chan struct{}
}

// NewManager constructs a workflow manager. The bus and aggregator may be nil
// in tests that only exercise scheduling.
func NewManager(cfg *config.Config, store *queue.Store, stages Stages, bus *events.Bus, aggregator *progress.Aggregator, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.With(logging.String(logging.FieldComponent, "workflow"))
	return &Manager{
		cfg:        cfg,
		store:      store,
		bus:        bus,
		aggregator: aggregator,
		logger:     logger,
		stages:     stages,
		heartbeat: NewHeartbeatMonitor(
			store,
			logger,
			time.Duration(cfg.Workflow.HeartbeatInterval)*time.Second,
			time.Duration(cfg.Workflow.HeartbeatTimeout)*time.Second,
		),
		pollInterval:  time.Duration(cfg.Workflow.QueuePollInterval) * time.Second,
		errorInterval: time.Duration(cfg.Workflow.ErrorRetryInterval) * time.Second,
		autoStart:     cfg.Workflow.AutoStart,
		wake:          make(chan struct{}, 1),
	}
}

// Run begins background processing.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	if m.stages.Transcoding == nil {
		m.mu.Unlock()
		return errors.New("transcoding stage not configured")
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(1)
	m.mu.Unlock()

	go m.runLoop(runCtx)
	return nil
}

// Stop terminates background processing and waits for the in-flight item to
// settle.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

// Start requests a single pickup of the earliest eligible pending item. It is
// rejected while the queue is paused and a no-op when an item is already
// active.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.paused {
		m.mu.Unlock()
		return errors.New("queue is paused")
	}
	m.kicked = true
	m.mu.Unlock()
	m.signalWake()
	return nil
}

// Pause stops pickup of new pending items. In-flight work keeps running.
func (m *Manager) Pause() {
	m.mu.Lock()
	m.paused = true
	m.mu.Unlock()
	m.publishState()
}

// Resume re-enables pickup of pending items.
func (m *Manager) Resume() {
	m.mu.Lock()
	m.paused = false
	m.mu.Unlock()
	m.signalWake()
	m.publishState()
}

// SetAutoStart toggles automatic pickup of pending items.
func (m *Manager) SetAutoStart(enabled bool) {
	m.mu.Lock()
	m.autoStart = enabled
	m.mu.Unlock()
	if enabled {
		m.signalWake()
	}
	m.publishState()
}

// Running reports whether the processing loop is active.
func (m *Manager) Running() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// Paused reports whether pickup is currently suspended.
func (m *Manager) Paused() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paused
}

// AutoStart reports whether new pending items are picked up automatically.
func (m *Manager) AutoStart() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.autoStart
}

func (m *Manager) signalWake() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// pickupAllowed reports whether the loop may promote a pending item right now.
func (m *Manager) pickupAllowed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.paused {
		return false
	}
	return m.autoStart || m.kicked
}

// consumeKick clears a pending one-shot start request.
func (m *Manager) consumeKick() {
	m.mu.Lock()
	m.kicked = false
	m.mu.Unlock()
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) setLastItem(item *queue.Item) {
	m.mu.Lock()
	if item != nil {
		copied := *item
		m.lastItem = &copied
	} else {
		m.lastItem = nil
	}
	m.mu.Unlock()
}
