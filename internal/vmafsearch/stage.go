package vmafsearch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"importq/internal/config"
	"importq/internal/logging"
	"importq/internal/progress"
	"importq/internal/queue"
	"importq/internal/services"
	"importq/internal/stage"
)

// ParamsFromConfig builds search parameters from daemon configuration.
func ParamsFromConfig(cfg *config.Config) Params {
	return Params{
		TargetScore:     cfg.Vmaf.TargetScore,
		Tolerance:       cfg.Vmaf.Tolerance,
		MaxIterations:   cfg.Vmaf.MaxIterations,
		MinCQ:           cfg.Vmaf.MinCQ,
		MaxCQ:           cfg.Vmaf.MaxCQ,
		SampleDuration:  cfg.Vmaf.SampleDuration,
		Encoder:         cfg.Encoding.VideoCodec,
		FallbackEncoder: cfg.Encoding.FallbackCodec,
		FFprobeBinary:   cfg.Encoding.FFprobeBinary,
	}
}

// Stage wraps the search engine as a workflow stage. A retried item that
// already carries a calibration result skips the search.
type Stage struct {
	cfg        *config.Config
	engine     *Engine
	aggregator *progress.Aggregator
	logger     *slog.Logger

	workDir func(item *queue.Item) string
}

// NewStage constructs the calibration stage handler.
func NewStage(cfg *config.Config, engine *Engine, aggregator *progress.Aggregator, logger *slog.Logger) *Stage {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Stage{
		cfg:        cfg,
		engine:     engine,
		aggregator: aggregator,
		logger:     logger.With(logging.String(logging.FieldComponent, "vmaf")),
	}
	s.workDir = func(item *queue.Item) string {
		return filepath.Join(cfg.Paths.StagingDir, fmt.Sprintf("item-%d-calibration", item.ID))
	}
	return s
}

// Prepare creates the calibration scratch directory.
func (s *Stage) Prepare(ctx context.Context, item *queue.Item) error {
	result, err := item.VmafResult()
	if err != nil {
		return err
	}
	if result != nil {
		return nil
	}
	if err := os.MkdirAll(s.workDir(item), 0o755); err != nil {
		return services.Wrap(services.ErrConfiguration, "vmaf", "create work dir",
			"Could not create the calibration scratch directory", err)
	}
	return nil
}

// Execute runs the bisecting search and records the result on the item.
func (s *Stage) Execute(ctx context.Context, item *queue.Item) error {
	logger := logging.WithContext(ctx, s.logger)
	existing, err := item.VmafResult()
	if err != nil {
		return err
	}
	if existing != nil {
		logger.Info("reusing prior calibration result",
			logging.Int("cq", existing.CQ),
			logging.Float64("score", existing.Score))
		return nil
	}

	workDir := s.workDir(item)
	defer os.RemoveAll(workDir)

	result, err := s.engine.Search(ctx, item.SourcePath, workDir, func(p Progress) {
		if s.aggregator == nil {
			return
		}
		percent := 0.0
		if p.Total > 0 {
			percent = float64(p.Iteration) / float64(p.Total) * 100
		}
		message := fmt.Sprintf("Calibration %s", p.Phase)
		if p.Iteration > 0 {
			message = fmt.Sprintf("Calibration %s, iteration %d of %d, CQ %d", p.Phase, p.Iteration, p.Total, p.CandidateCQ)
		}
		s.aggregator.ReportStage(item.ID, "Calibrating", message, percent)
	})
	if err != nil {
		return err
	}
	if err := item.SetVmafResult(result); err != nil {
		return err
	}
	logger.Info("calibration finished",
		logging.Int("cq", result.CQ),
		logging.Float64("score", result.Score),
		logging.Int("iterations", result.Iterations),
		logging.Bool("degraded", result.Degraded),
		logging.Bool("used_fallback", result.UsedFallback))
	return nil
}

// HealthCheck verifies at least one configured encoder is usable.
func (s *Stage) HealthCheck(ctx context.Context) stage.Health {
	const name = "vmaf"
	if !s.cfg.Vmaf.Enabled {
		return stage.Healthy(name)
	}
	if available, err := s.engine.client.DetectEncoder(ctx, s.engine.params.Encoder); err == nil && available {
		return stage.Healthy(name)
	}
	if s.engine.params.FallbackEncoder != "" {
		if available, err := s.engine.client.DetectEncoder(ctx, s.engine.params.FallbackEncoder); err == nil && available {
			return stage.Healthy(name)
		}
	}
	return stage.Unhealthy(name, "no configured encoder is available")
}

var _ stage.Handler = (*Stage)(nil)
