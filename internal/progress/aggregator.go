package progress

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"importq/internal/events"
	"importq/internal/logging"
)

// Store is the slice of queue persistence the aggregator needs.
type Store interface {
	UpdateProgress(ctx context.Context, id int64, stage, message string, percent float64) error
}

// Publisher is the slice of the event bus the aggregator needs.
type Publisher interface {
	Publish(events.Event)
}

// TaskKind distinguishes the two encode pools for weighted aggregation.
type TaskKind string

const (
	TaskVideo TaskKind = "video"
	TaskAudio TaskKind = "audio"
)

type itemState struct {
	correlationID string
	stage         string
	message       string
	fps           float64
	speed         float64
	sampler       *logging.ProgressSampler

	// Direct percent for single-phase stages (calibration, postprocess).
	direct float64

	// Task-based tracking for the transcoding fan-out.
	useTasks bool
	video    []float64
	audio    []float64

	lastFlushed float64
	dirty       bool
}

// Aggregator buffers progress samples and flushes them on a fixed interval.
// Reported percents may arrive out of order from concurrent tasks; the
// flushed item-level percent never decreases until the item is dropped.
type Aggregator struct {
	store      Store
	publisher  Publisher
	interval   time.Duration
	videoShare float64
	logger     *slog.Logger

	mu    sync.Mutex
	items map[int64]*itemState

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// Option customizes aggregator construction.
type Option func(*Aggregator)

// WithLogger attaches a logger for flush failures.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Aggregator) {
		if logger != nil {
			a.logger = logger.With(logging.String(logging.FieldComponent, "progress"))
		}
	}
}

// NewAggregator starts the flush loop. interval <= 0 defaults to 300ms and
// videoShare outside (0,1) defaults to 0.85.
func NewAggregator(store Store, publisher Publisher, interval time.Duration, videoShare float64, opts ...Option) *Aggregator {
	if interval <= 0 {
		interval = 300 * time.Millisecond
	}
	if videoShare <= 0 || videoShare >= 1 {
		videoShare = 0.85
	}
	a := &Aggregator{
		store:      store,
		publisher:  publisher,
		interval:   interval,
		videoShare: videoShare,
		logger:     logging.NewNop(),
		items:      make(map[int64]*itemState),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	go a.loop()
	return a
}

func (a *Aggregator) loop() {
	defer close(a.done)
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.flush()
		case <-a.stop:
			a.flush()
			return
		}
	}
}

// StartItem begins tracking an item in a direct-percent stage.
func (a *Aggregator) StartItem(itemID int64, correlationID, stage string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	state := a.ensure(itemID)
	state.correlationID = correlationID
	state.stage = stage
	state.message = ""
	state.direct = 0
	state.useTasks = false
	state.dirty = true
}

// BeginTasks switches an item to weighted task-based tracking with the given
// pool sizes.
func (a *Aggregator) BeginTasks(itemID int64, stage string, videoTasks, audioTasks int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	state := a.ensure(itemID)
	state.stage = stage
	state.useTasks = true
	state.video = make([]float64, videoTasks)
	state.audio = make([]float64, audioTasks)
	state.dirty = true
}

// ReportStage records a direct percent sample for single-phase stages.
func (a *Aggregator) ReportStage(itemID int64, stage, message string, percent float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	state := a.ensure(itemID)
	state.stage = stage
	state.message = message
	state.useTasks = false
	if percent > state.direct {
		state.direct = percent
	}
	state.dirty = true
}

// ReportTask records one task's percent sample. fps and speed describe the
// most recently sampled encode and are carried through to events.
func (a *Aggregator) ReportTask(itemID int64, kind TaskKind, index int, percent, fps, speed float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	state, ok := a.items[itemID]
	if !ok || !state.useTasks {
		return
	}
	var slots []float64
	switch kind {
	case TaskVideo:
		slots = state.video
	case TaskAudio:
		slots = state.audio
	}
	if index < 0 || index >= len(slots) {
		return
	}
	if percent > slots[index] {
		slots[index] = percent
	}
	if fps > 0 {
		state.fps = fps
	}
	if speed > 0 {
		state.speed = speed
	}
	state.dirty = true
}

// SetMessage updates the human-readable progress note without moving percent.
func (a *Aggregator) SetMessage(itemID int64, message string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if state, ok := a.items[itemID]; ok {
		state.message = message
		state.dirty = true
	}
}

// FinishItem flushes the item one final time and drops its state.
func (a *Aggregator) FinishItem(itemID int64) {
	a.mu.Lock()
	state, ok := a.items[itemID]
	if ok {
		delete(a.items, itemID)
	}
	a.mu.Unlock()
	if ok {
		state.dirty = true
		a.flushOne(itemID, state)
	}
}

// Close stops the flush loop after one final flush of every tracked item.
func (a *Aggregator) Close() {
	a.stopOnce.Do(func() {
		close(a.stop)
	})
	<-a.done
}

func (a *Aggregator) ensure(itemID int64) *itemState {
	state, ok := a.items[itemID]
	if !ok {
		state = &itemState{sampler: logging.NewProgressSampler(0)}
		a.items[itemID] = state
	}
	return state
}

func (a *Aggregator) flush() {
	a.mu.Lock()
	type pending struct {
		id    int64
		state *itemState
	}
	var batch []pending
	for id, state := range a.items {
		if state.dirty {
			batch = append(batch, pending{id: id, state: state})
		}
	}
	a.mu.Unlock()

	for _, entry := range batch {
		a.flushOne(entry.id, entry.state)
	}
}

func (a *Aggregator) flushOne(itemID int64, state *itemState) {
	a.mu.Lock()
	percent := state.compute(a.videoShare)
	if percent < state.lastFlushed {
		percent = state.lastFlushed
	}
	state.lastFlushed = percent
	state.dirty = false
	stage := state.stage
	message := state.message
	fps := state.fps
	speed := state.speed
	correlationID := state.correlationID
	logSample := state.sampler.ShouldLog(percent, stage)
	a.mu.Unlock()

	if logSample {
		a.logger.Debug("progress",
			logging.Int64(logging.FieldItemID, itemID),
			logging.String(logging.FieldStage, stage),
			logging.Float64("percent", percent))
	}

	if a.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.store.UpdateProgress(ctx, itemID, stage, message, percent); err != nil {
			a.logger.Warn("persist progress failed",
				logging.Int64(logging.FieldItemID, itemID),
				logging.Error(err))
		}
		cancel()
	}
	if a.publisher != nil {
		a.publisher.Publish(events.NewProgressEvent(itemID, correlationID, events.ProgressUpdate{
			Stage:   stage,
			Percent: percent,
			Message: message,
			FPS:     fps,
			Speed:   speed,
		}))
	}
}

func (s *itemState) compute(videoShare float64) float64 {
	if !s.useTasks {
		return clampPercent(s.direct)
	}
	videoTotal := len(s.video)
	audioTotal := len(s.audio)
	switch {
	case videoTotal == 0 && audioTotal == 0:
		return clampPercent(s.direct)
	case audioTotal == 0:
		videoShare = 1
	case videoTotal == 0:
		videoShare = 0
	}
	return clampPercent(average(s.video)*videoShare + average(s.audio)*(1-videoShare))
}

func average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
