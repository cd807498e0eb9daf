package workflow

import (
	"context"

	"importq/internal/logging"
	"importq/internal/queue"
	"importq/internal/stage"
)

// StatusSummary represents lightweight workflow diagnostics.
type StatusSummary struct {
	Running     bool
	Paused      bool
	AutoStart   bool
	LastError   string
	LastItem    *queue.Item
	ActiveItem  *queue.Item
	QueueStats  map[queue.Status]int
	StageHealth map[string]stage.Health
}

// Status returns the latest workflow information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	summary := StatusSummary{
		Running:   m.running,
		Paused:    m.paused,
		AutoStart: m.autoStart,
	}
	if m.lastErr != nil {
		summary.LastError = m.lastErr.Error()
	}
	if m.lastItem != nil {
		copied := *m.lastItem
		summary.LastItem = &copied
	}
	m.mu.RUnlock()

	stats, err := m.store.Stats(ctx)
	if err != nil {
		m.logger.Warn("failed to read queue stats", logging.Error(err))
	}
	summary.QueueStats = stats

	if active, err := m.store.ActiveItem(ctx); err == nil {
		summary.ActiveItem = active
	}

	health := make(map[string]stage.Health)
	for name, handler := range map[string]stage.Handler{
		"vmaf":        m.stages.Vmaf,
		"transcoding": m.stages.Transcoding,
		"postprocess": m.stages.Postprocess,
	} {
		if handler == nil {
			continue
		}
		health[name] = handler.HealthCheck(ctx)
	}
	summary.StageHealth = health
	return summary
}
