// Package postprocess muxes per-stream encode artifacts into the final
// container and promotes it into the library.
package postprocess

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"importq/internal/config"
	"importq/internal/fileutil"
	"importq/internal/logging"
	"importq/internal/progress"
	"importq/internal/queue"
	"importq/internal/services"
	"importq/internal/services/ffmpeg"
	"importq/internal/stage"
	"importq/internal/transcoding"
)

// Stage implements the postprocess phase of an item.
type Stage struct {
	cfg        *config.Config
	client     ffmpeg.Client
	aggregator *progress.Aggregator
	logger     *slog.Logger
}

// NewStage constructs the postprocess stage handler.
func NewStage(cfg *config.Config, client ffmpeg.Client, aggregator *progress.Aggregator, logger *slog.Logger) *Stage {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Stage{
		cfg:        cfg,
		client:     client,
		aggregator: aggregator,
		logger:     logger.With(logging.String(logging.FieldComponent, "postprocess")),
	}
}

// Prepare validates that the encode plan finished before muxing starts.
func (s *Stage) Prepare(ctx context.Context, item *queue.Item) error {
	plan, err := transcoding.DecodePlan(item)
	if err != nil {
		return services.Wrap(services.ErrValidation, "postprocess", "load plan",
			"Encode plan missing; item must be transcoded first", err)
	}
	for _, task := range plan.Tasks {
		if task.State != transcoding.TaskCompleted {
			return services.Wrap(services.ErrValidation, "postprocess", "validate tasks",
				fmt.Sprintf("%s stream %d is %s, cannot assemble final file", task.Kind, task.StreamIndex, task.State), nil)
		}
	}
	if strings.TrimSpace(item.StagingDir) == "" {
		return services.Wrap(services.ErrValidation, "postprocess", "validate staging",
			"Item has no staging directory", nil)
	}
	return nil
}

// Execute muxes the task outputs into one container, moves it into the
// library, records the final path on the item, and removes the staging
// directory.
func (s *Stage) Execute(ctx context.Context, item *queue.Item) error {
	plan, err := transcoding.DecodePlan(item)
	if err != nil {
		return services.Wrap(services.ErrValidation, "postprocess", "load plan",
			"Encode plan missing; item must be transcoded first", err)
	}

	logger := logging.WithContext(ctx, s.logger)
	var inputs []string
	for _, idx := range plan.VideoTasks() {
		inputs = append(inputs, plan.Tasks[idx].Output)
	}
	for _, idx := range plan.AudioTasks() {
		inputs = append(inputs, plan.Tasks[idx].Output)
	}
	if len(inputs) == 0 {
		return services.Wrap(services.ErrValidation, "postprocess", "collect outputs",
			"Encode plan has no task outputs to assemble", nil)
	}

	s.report(item.ID, 10, "Assembling final file")
	assembled := filepath.Join(item.StagingDir, "final.mkv")
	if err := s.client.Mux(ctx, inputs, assembled); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return services.Wrap(services.ErrExternalTool, "postprocess", "mux outputs",
			"Could not assemble the final container", err)
	}

	s.report(item.ID, 70, "Moving into library")
	target, err := s.libraryPath(item)
	if err != nil {
		return err
	}
	if err := fileutil.MoveFile(assembled, target); err != nil {
		return services.Wrap(services.ErrTransient, "postprocess", "move to library",
			"Could not move the final file into the library", err)
	}
	item.FinalFile = target

	if err := os.RemoveAll(item.StagingDir); err != nil {
		logger.Warn("failed to clean staging directory",
			logging.String("staging_dir", item.StagingDir),
			logging.Error(err))
	}

	s.report(item.ID, 100, fmt.Sprintf("Available in library: %s", filepath.Base(target)))
	logger.Info("postprocess completed",
		logging.String("final_file", target))
	return nil
}

func (s *Stage) report(itemID int64, percent float64, message string) {
	if s.aggregator == nil {
		return
	}
	s.aggregator.ReportStage(itemID, "Postprocessing", message, percent)
}

// libraryPath allocates a non-colliding target under the library directory,
// named after the item title.
func (s *Stage) libraryPath(item *queue.Item) (string, error) {
	libraryDir := strings.TrimSpace(s.cfg.Paths.LibraryDir)
	if libraryDir == "" {
		return "", services.Wrap(services.ErrConfiguration, "postprocess", "resolve library dir",
			"Library directory not configured; set library_dir in your importq config.toml", nil)
	}
	name := sanitizeName(item.Title)
	if name == "" {
		base := filepath.Base(item.SourcePath)
		name = sanitizeName(strings.TrimSuffix(base, filepath.Ext(base)))
	}
	if name == "" {
		name = fmt.Sprintf("item-%d", item.ID)
	}

	const maxAttempts = 10000
	for attempt := 0; attempt < maxAttempts; attempt++ {
		candidate := name + ".mkv"
		if attempt > 0 {
			candidate = fmt.Sprintf("%s-%d.mkv", name, attempt)
		}
		target := filepath.Join(libraryDir, candidate)
		if _, err := os.Stat(target); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return target, nil
			}
			return "", services.Wrap(services.ErrTransient, "postprocess", "allocate library filename",
				"Unable to allocate a library filename", err)
		}
	}
	return "", services.Wrap(services.ErrTransient, "postprocess", "allocate library filename",
		fmt.Sprintf("exhausted filename slots in %s", libraryDir), nil)
}

// sanitizeName converts a title to a lowercase alphanumeric slug with hyphens.
func sanitizeName(input string) string {
	input = strings.ToLower(strings.TrimSpace(input))
	var slug strings.Builder
	lastHyphen := false
	for _, r := range input {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			slug.WriteRune(r)
			lastHyphen = false
		case r == ' ' || r == '-' || r == '_' || r == '.':
			if !lastHyphen {
				slug.WriteRune('-')
				lastHyphen = true
			}
		}
	}
	return strings.Trim(slug.String(), "-")
}

// HealthCheck verifies the library destination is configured.
func (s *Stage) HealthCheck(ctx context.Context) stage.Health {
	const name = "postprocess"
	if s.cfg == nil {
		return stage.Unhealthy(name, "configuration unavailable")
	}
	if strings.TrimSpace(s.cfg.Paths.LibraryDir) == "" {
		return stage.Unhealthy(name, "library directory not configured")
	}
	return stage.Healthy(name)
}

var _ stage.Handler = (*Stage)(nil)
