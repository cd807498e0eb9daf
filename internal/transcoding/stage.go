package transcoding

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"importq/internal/config"
	"importq/internal/logging"
	"importq/internal/media/ffprobe"
	"importq/internal/progress"
	"importq/internal/queue"
	"importq/internal/services"
	"importq/internal/services/ffmpeg"
	"importq/internal/stage"
)

// Stage implements the preparing and transcoding phases of an item.
type Stage struct {
	cfg        *config.Config
	client     ffmpeg.Client
	aggregator *progress.Aggregator
	logger     *slog.Logger
	probe      func(ctx context.Context, binary, path string) (ffprobe.Result, error)
}

// NewStage constructs the transcoding stage handler.
func NewStage(cfg *config.Config, client ffmpeg.Client, aggregator *progress.Aggregator, logger *slog.Logger) *Stage {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Stage{
		cfg:        cfg,
		client:     client,
		aggregator: aggregator,
		logger:     logger.With(logging.String(logging.FieldComponent, "transcoding")),
		probe:      ffprobe.Probe,
	}
}

// Prepare probes the source and writes the task plan onto the item. The item
// is in the preparing status while this runs.
func (s *Stage) Prepare(ctx context.Context, item *queue.Item) error {
	probeResult, err := s.probe(ctx, s.cfg.Encoding.FFprobeBinary, item.SourcePath)
	if err != nil {
		return services.Wrap(services.ErrExternalTool, "preparing", "probe source",
			"Source file could not be inspected", err)
	}

	stagingDir := filepath.Join(s.cfg.Paths.StagingDir, fmt.Sprintf("item-%d", item.ID))
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return services.Wrap(services.ErrConfiguration, "preparing", "create staging dir",
			"Could not create the item staging directory", err)
	}
	item.StagingDir = stagingDir

	plan, err := BuildPlan(s.cfg, item, probeResult, stagingDir)
	if err != nil {
		return services.Wrap(services.ErrValidation, "preparing", "build plan",
			"Could not derive an encode plan from the source", err)
	}
	if err := EncodePlan(item, plan); err != nil {
		return err
	}

	logging.WithContext(ctx, s.logger).Info("encode plan ready",
		logging.Int("video_tasks", len(plan.VideoTasks())),
		logging.Int("audio_tasks", len(plan.AudioTasks())),
		logging.Int("cq", plan.CQ),
		logging.String("video_codec", plan.VideoCodec))
	return nil
}

// Execute runs the plan's tasks through the two bounded pools. A failed task
// does not abort its siblings; the error is reported only after every task
// has settled. Context cancellation kills the running encodes and marks
// unfinished tasks cancelled.
func (s *Stage) Execute(ctx context.Context, item *queue.Item) error {
	plan, err := DecodePlan(item)
	if err != nil {
		return services.Wrap(services.ErrValidation, "transcoding", "load plan",
			"Encode plan missing; item must be prepared first", err)
	}

	logger := logging.WithContext(ctx, s.logger)
	videoIdx := plan.VideoTasks()
	audioIdx := plan.AudioTasks()
	if s.aggregator != nil {
		s.aggregator.BeginTasks(item.ID, "Transcoding", len(videoIdx), len(audioIdx))
	}

	videoSlots := semaphore.NewWeighted(int64(s.cfg.Encoding.VideoSlots))
	audioSlots := semaphore.NewWeighted(int64(s.cfg.Encoding.AudioWorkers))

	var (
		group    errgroup.Group
		mu       sync.Mutex
		failures []string
	)

	runTask := func(taskIndex, poolIndex int, kind progress.TaskKind, sem *semaphore.Weighted) {
		group.Go(func() error {
			if err := sem.Acquire(ctx, 1); err != nil {
				s.markTask(&mu, plan, taskIndex, TaskCancelled, err)
				return nil
			}
			defer sem.Release(1)
			if ctx.Err() != nil {
				s.markTask(&mu, plan, taskIndex, TaskCancelled, ctx.Err())
				return nil
			}

			task := plan.Tasks[taskIndex]
			spec := ffmpeg.EncodeSpec{
				Input:           item.SourcePath,
				Output:          task.Output,
				StreamIndex:     task.StreamIndex,
				Codec:           task.Codec,
				CQ:              task.CQ,
				Bitrate:         task.Bitrate,
				DurationSeconds: task.Duration,
			}
			switch task.Kind {
			case KindVideo:
				spec.StreamType = "v"
				spec.ExtraArgs = s.cfg.ExtraVideoArgList()
			case KindAudio:
				spec.StreamType = "a"
				spec.ExtraArgs = s.cfg.ExtraAudioArgList()
			}

			encodeErr := s.client.Encode(ctx, spec, func(update ffmpeg.ProgressUpdate) {
				if s.aggregator != nil {
					s.aggregator.ReportTask(item.ID, kind, poolIndex, update.Percent, update.FPS, update.Speed)
				}
			})
			switch {
			case encodeErr == nil:
				s.markTask(&mu, plan, taskIndex, TaskCompleted, nil)
				if s.aggregator != nil {
					s.aggregator.ReportTask(item.ID, kind, poolIndex, 100, 0, 0)
				}
			case ctx.Err() != nil:
				s.markTask(&mu, plan, taskIndex, TaskCancelled, encodeErr)
			default:
				s.markTask(&mu, plan, taskIndex, TaskFailed, encodeErr)
				mu.Lock()
				failures = append(failures, fmt.Sprintf("%s stream %d: %v", task.Kind, task.StreamIndex, encodeErr))
				mu.Unlock()
				logger.Error("task failed",
					logging.String(logging.FieldTask, task.Kind),
					logging.String(logging.FieldPool, string(kind)),
					logging.Int("stream_index", task.StreamIndex),
					logging.Error(encodeErr))
			}
			return nil
		})
	}

	for poolIndex, taskIndex := range videoIdx {
		runTask(taskIndex, poolIndex, progress.TaskVideo, videoSlots)
	}
	for poolIndex, taskIndex := range audioIdx {
		runTask(taskIndex, poolIndex, progress.TaskAudio, audioSlots)
	}

	_ = group.Wait()

	// Persist final task states regardless of outcome.
	if err := EncodePlan(item, plan); err != nil {
		return err
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if len(failures) > 0 {
		return services.Wrap(services.ErrExternalTool, "transcoding", "encode",
			fmt.Sprintf("%d of %d tasks failed: %s", len(failures), len(plan.Tasks), strings.Join(failures, "; ")), nil)
	}
	return nil
}

func (s *Stage) markTask(mu *sync.Mutex, plan *Plan, taskIndex int, state string, err error) {
	mu.Lock()
	defer mu.Unlock()
	plan.Tasks[taskIndex].State = state
	if err != nil {
		plan.Tasks[taskIndex].Error = err.Error()
	}
}

// HealthCheck verifies the encoder binary can be queried.
func (s *Stage) HealthCheck(ctx context.Context) stage.Health {
	const name = "transcoding"
	if _, err := s.client.DetectEncoder(ctx, s.cfg.Encoding.FallbackCodec); err != nil {
		return stage.Unhealthy(name, err.Error())
	}
	return stage.Healthy(name)
}

var _ stage.Handler = (*Stage)(nil)
