package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"importq/internal/events"
	"importq/internal/logging"
	"importq/internal/queue"
	"importq/internal/services"
	"importq/internal/stage"
)

// errCancelRequested is the cancellation cause used when a user cancels the
// active item, distinguishing it from daemon shutdown.
var errCancelRequested = errors.New("item cancel requested")

// cancelPollInterval is how often the active item is checked for a pending
// cancel request.
const cancelPollInterval = time.Second

type phase struct {
	name   string
	status queue.Status
	run    func(ctx context.Context, item *queue.Item) error
}

func (m *Manager) runLoop(ctx context.Context) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := m.heartbeat.ReclaimStale(ctx); err != nil && ctx.Err() == nil {
			m.logger.Warn("reclaim stale processing failed; stuck items may remain", logging.Error(err))
		}

		if !m.pickupAllowed() {
			if !m.waitForWork(ctx) {
				return
			}
			continue
		}

		item, err := m.store.NextPending(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.setLastError(err)
			m.logger.Error("failed to fetch next queue item", logging.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(m.errorInterval):
			}
			continue
		}
		if item == nil {
			if !m.waitForWork(ctx) {
				return
			}
			continue
		}

		m.consumeKick()
		if err := m.processItem(ctx, item); err != nil {
			if ctx.Err() != nil {
				return
			}
		}
	}
}

// waitForWork sleeps until the next poll, a wake signal, or shutdown. It
// returns false on shutdown.
func (m *Manager) waitForWork(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-m.wake:
		return true
	case <-time.After(m.pollInterval):
		return true
	}
}

func (m *Manager) processItem(ctx context.Context, item *queue.Item) error {
	correlationID := uuid.NewString()
	item.CorrelationID = correlationID
	logger := m.logger.With(
		logging.Int64(logging.FieldItemID, item.ID),
		logging.String(logging.FieldCorrelationID, correlationID))

	annotated := services.WithRequestID(services.WithItemID(ctx, item.ID), correlationID)
	itemCtx, cancelItem := context.WithCancelCause(annotated)
	watchDone := make(chan struct{})
	go m.watchCancelRequest(itemCtx, item.ID, cancelItem, watchDone)
	defer func() {
		cancelItem(nil)
		<-watchDone
	}()

	if m.aggregator != nil {
		m.aggregator.StartItem(item.ID, correlationID, stageLabel(queue.StatusVmaf))
		defer m.aggregator.FinishItem(item.ID)
	}

	logger.Info("item picked up",
		logging.String("source", item.SourcePath),
		logging.Int("priority", item.Priority))

	for _, ph := range m.phases() {
		if cause := context.Cause(itemCtx); cause != nil {
			return m.settleCancellation(ctx, logger, item, cause)
		}

		prior := item.Status
		updated, err := m.store.Transition(ctx, item.ID, prior, ph.status, func(stored *queue.Item) error {
			copyPayload(stored, item)
			stored.ErrorMessage = ""
			stored.ProgressStage = stageLabel(ph.status)
			stored.ProgressMessage = ""
			now := time.Now().UTC()
			stored.LastHeartbeat = &now
			return nil
		})
		if err != nil {
			switch {
			case errors.Is(err, queue.ErrSlotBusy):
				logger.Warn("another item holds the processing slot, leaving item pending")
				return nil
			case errors.Is(err, queue.ErrStatusConflict), errors.Is(err, queue.ErrNotFound):
				logger.Info("item changed under pickup, skipping", logging.Error(err))
				return nil
			default:
				m.setLastError(err)
				logger.Error("failed to transition item", logging.Error(err))
				return err
			}
		}
		item = updated
		item.CorrelationID = correlationID
		m.setLastItem(item)
		m.publishStatus(item, prior, ph.status)
		logger.Info("stage started", logging.String(logging.FieldStage, ph.name))
		stageStart := time.Now()

		execErr := m.runWithHeartbeat(services.WithStage(itemCtx, ph.name), item, ph.run)
		if execErr != nil {
			if itemCtx.Err() != nil {
				if cause := context.Cause(itemCtx); errors.Is(cause, errCancelRequested) {
					return m.settleCancellation(ctx, logger, item, cause)
				}
				logger.Info("stage interrupted by shutdown", logging.String(logging.FieldStage, ph.name))
				return context.Canceled
			}
			return m.settleFailure(ctx, logger, item, ph, execErr)
		}
		logger.Info("stage completed",
			logging.String(logging.FieldStage, ph.name),
			logging.Duration("stage_duration", time.Since(stageStart)))
	}

	return m.settleCompletion(ctx, logger, item)
}

// phases returns the pipeline for one item in execution order. Calibration is
// skipped entirely when disabled.
func (m *Manager) phases() []phase {
	var out []phase
	if m.cfg.Vmaf.Enabled && m.stages.Vmaf != nil {
		out = append(out, phase{name: "vmaf", status: queue.StatusVmaf, run: m.runHandler(m.stages.Vmaf)})
	}
	out = append(out,
		phase{name: "preparing", status: queue.StatusPreparing, run: m.stages.Transcoding.Prepare},
		phase{name: "transcoding", status: queue.StatusTranscoding, run: m.stages.Transcoding.Execute},
	)
	if m.stages.Postprocess != nil {
		out = append(out, phase{name: "postprocess", status: queue.StatusPostprocess, run: m.runHandler(m.stages.Postprocess)})
	}
	return out
}

// runHandler composes a handler's Prepare and Execute into one phase body.
func (m *Manager) runHandler(handler stage.Handler) func(ctx context.Context, item *queue.Item) error {
	return func(ctx context.Context, item *queue.Item) error {
		if err := handler.Prepare(ctx, item); err != nil {
			return err
		}
		return handler.Execute(ctx, item)
	}
}

func (m *Manager) runWithHeartbeat(ctx context.Context, item *queue.Item, run func(context.Context, *queue.Item) error) error {
	hbCtx, hbCancel := context.WithCancel(ctx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go m.heartbeat.StartLoop(hbCtx, &hbWG, item.ID)

	err := run(ctx, item)
	hbCancel()
	hbWG.Wait()
	return err
}

// watchCancelRequest polls the persisted cancel flag for the active item and
// cancels the item context when it is set.
func (m *Manager) watchCancelRequest(ctx context.Context, itemID int64, cancelItem context.CancelCauseFunc, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(cancelPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			item, err := m.store.GetByID(ctx, itemID)
			if err != nil {
				continue
			}
			if item.CancelRequested {
				cancelItem(errCancelRequested)
				return
			}
		}
	}
}

// dropProgressBuffer settles the aggregator's buffered state for an item
// before its terminal transition, so no late flush can overwrite the final
// stage and percent.
func (m *Manager) dropProgressBuffer(itemID int64) {
	if m.aggregator != nil {
		m.aggregator.FinishItem(itemID)
	}
}

func (m *Manager) settleCancellation(ctx context.Context, logger *slog.Logger, item *queue.Item, cause error) error {
	if !errors.Is(cause, errCancelRequested) {
		return context.Canceled
	}
	m.dropProgressBuffer(item.ID)
	prior := item.Status
	updated, err := m.store.Transition(ctx, item.ID, prior, queue.StatusCancelled, func(stored *queue.Item) error {
		copyPayload(stored, item)
		stored.ErrorMessage = queue.UserCancelReason
		stored.ProgressMessage = queue.UserCancelReason
		stored.CancelRequested = false
		return nil
	})
	if err != nil {
		m.setLastError(err)
		logger.Error("failed to persist cancellation", logging.Error(err))
		return err
	}
	logger.Info("item cancelled")
	m.setLastItem(updated)
	m.publishStatus(updated, prior, queue.StatusCancelled)
	m.publishState()
	return nil
}

func (m *Manager) settleFailure(ctx context.Context, logger *slog.Logger, item *queue.Item, ph phase, stageErr error) error {
	message := services.Message(stageErr)
	m.dropProgressBuffer(item.ID)
	prior := item.Status
	updated, err := m.store.Transition(ctx, item.ID, prior, queue.StatusError, func(stored *queue.Item) error {
		copyPayload(stored, item)
		stored.SetFailed(message)
		if services.IsFatalSetup(stageErr) {
			stored.ProgressMessage = message + " (fix the input or configuration before retrying)"
		}
		return nil
	})
	if err != nil {
		m.setLastError(err)
		logger.Error("failed to persist stage failure", logging.Error(err))
		return err
	}
	m.setLastError(stageErr)
	logger.Error("stage failed",
		logging.String(logging.FieldStage, ph.name),
		logging.String(logging.FieldErrorHint, message),
		logging.Error(stageErr))
	m.setLastItem(updated)
	m.publishStatus(updated, prior, queue.StatusError)
	m.publishState()
	return nil
}

func (m *Manager) settleCompletion(ctx context.Context, logger *slog.Logger, item *queue.Item) error {
	m.dropProgressBuffer(item.ID)
	prior := item.Status
	updated, err := m.store.Transition(ctx, item.ID, prior, queue.StatusCompleted, func(stored *queue.Item) error {
		copyPayload(stored, item)
		stored.SetProgress(stageLabel(queue.StatusCompleted), "", 100)
		return nil
	})
	if err != nil {
		m.setLastError(err)
		logger.Error("failed to persist completion", logging.Error(err))
		return err
	}
	logger.Info("item completed", logging.String("final_file", updated.FinalFile))
	m.setLastItem(updated)
	m.publishStatus(updated, prior, queue.StatusCompleted)
	m.publishState()
	return nil
}

// copyPayload carries the fields a stage mutates in memory onto the freshly
// read row inside a transition.
func copyPayload(dst, src *queue.Item) {
	dst.Title = src.Title
	dst.CorrelationID = src.CorrelationID
	dst.VmafResultJSON = src.VmafResultJSON
	dst.EncodePlanJSON = src.EncodePlanJSON
	dst.StagingDir = src.StagingDir
	dst.FinalFile = src.FinalFile
}

func stageLabel(status queue.Status) string {
	switch status {
	case queue.StatusVmaf:
		return "Calibrating"
	case queue.StatusPreparing:
		return "Preparing"
	case queue.StatusTranscoding:
		return "Transcoding"
	case queue.StatusPostprocess:
		return "Postprocessing"
	case queue.StatusCompleted:
		return "Completed"
	default:
		return string(status)
	}
}

func (m *Manager) publishStatus(item *queue.Item, from, to queue.Status) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(events.NewStatusEvent(item.ID, item.CorrelationID, from, to))
}

func (m *Manager) publishState() {
	if m.bus == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	summary, err := m.store.Health(ctx)
	if err != nil {
		m.logger.Warn("failed to read queue summary", logging.Error(err))
		return
	}
	m.mu.RLock()
	paused := m.paused
	autoStart := m.autoStart
	m.mu.RUnlock()
	m.bus.Publish(events.NewStateEvent(events.QueueSummary{
		Total:      summary.Total,
		Pending:    summary.Pending,
		Processing: summary.Processing,
		Completed:  summary.Completed,
		Errored:    summary.Errored,
		Paused:     paused,
		AutoStart:  autoStart,
	}))
}
