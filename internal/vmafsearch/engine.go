package vmafsearch

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"importq/internal/logging"
	"importq/internal/media/ffprobe"
	"importq/internal/queue"
	"importq/internal/services"
	"importq/internal/services/ffmpeg"
)

// Params holds the search configuration.
type Params struct {
	TargetScore     float64
	Tolerance       float64
	MaxIterations   int
	MinCQ           int
	MaxCQ           int
	SampleDuration  int
	Encoder         string
	FallbackEncoder string
	FFprobeBinary   string
}

// Progress reports one step of the search.
type Progress struct {
	Phase       string
	Iteration   int
	Total       int
	CandidateCQ int
	LastScore   float64
}

// Search phases reported through the progress callback.
const (
	PhaseSample  = "sample"
	PhaseEncode  = "encode"
	PhaseScore   = "score"
	PhaseDone    = "done"
	PhasePreface = "preflight"
)

// Engine runs the bisecting CQ search.
type Engine struct {
	client ffmpeg.Client
	params Params
	logger *slog.Logger
	probe  func(ctx context.Context, binary, path string) (ffprobe.Result, error)
}

// NewEngine constructs a search engine. A nil logger is replaced with a no-op.
func NewEngine(client ffmpeg.Client, params Params, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Engine{
		client: client,
		params: params,
		logger: logger.With(logging.String(logging.FieldComponent, "vmafsearch")),
		probe:  ffprobe.Probe,
	}
}

// Search extracts a representative sample from sourcePath, then bisects the
// CQ range until a candidate lands within tolerance of the target score.
// Exhausting the iteration cap yields the closest candidate marked
// Degraded rather than an error. An unreadable source is a terminal error.
func (e *Engine) Search(ctx context.Context, sourcePath, workDir string, progress func(Progress)) (*queue.VmafResult, error) {
	report := func(p Progress) {
		if progress != nil {
			p.Total = e.params.MaxIterations
			progress(p)
		}
	}

	report(Progress{Phase: PhaseSample})
	probeResult, err := e.probe(ctx, e.params.FFprobeBinary, sourcePath)
	if err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "vmaf", "probe source",
			"Source file could not be inspected; check that it is readable video", err)
	}
	duration := probeResult.DurationSeconds()
	if math.IsNaN(duration) || duration <= 0 {
		return nil, services.Wrap(services.ErrValidation, "vmaf", "probe source",
			"Source reports no duration; cannot extract a calibration sample", nil)
	}

	samplePath := filepath.Join(workDir, "vmaf-sample.mkv")
	start := sampleStart(duration, e.params.SampleDuration)
	if err := e.client.ExtractSample(ctx, sourcePath, samplePath, start, e.params.SampleDuration); err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "vmaf", "extract sample",
			"Could not extract the calibration sample from the source", err)
	}
	defer os.Remove(samplePath)

	encoder, usedFallback, err := e.selectEncoder(ctx)
	if err != nil {
		return nil, err
	}
	report(Progress{Phase: PhasePreface})

	sampleDuration := float64(e.params.SampleDuration)

	lo, hi := e.params.MinCQ, e.params.MaxCQ
	best := &queue.VmafResult{CQ: 0, Score: -1}
	var iterations int

	for iterations = 0; iterations < e.params.MaxIterations && lo <= hi; iterations++ {
		candidate := (lo + hi) / 2
		report(Progress{Phase: PhaseEncode, Iteration: iterations + 1, CandidateCQ: candidate, LastScore: best.Score})

		encodedPath := filepath.Join(workDir, fmt.Sprintf("vmaf-cq%d.mkv", candidate))
		spec := ffmpeg.EncodeSpec{
			Input:           samplePath,
			Output:          encodedPath,
			StreamType:      "v",
			Codec:           encoder,
			CQ:              candidate,
			DurationSeconds: sampleDuration,
		}
		if err := e.client.Encode(ctx, spec, nil); err != nil {
			if !usedFallback && e.params.FallbackEncoder != "" && ctx.Err() == nil {
				// Hardware encoders can pass detection yet fail at runtime.
				e.logger.Warn("encoder failed, retrying with fallback",
					logging.String("encoder", encoder),
					logging.String("fallback", e.params.FallbackEncoder),
					logging.Error(err))
				encoder = e.params.FallbackEncoder
				usedFallback = true
				spec.Codec = encoder
				err = e.client.Encode(ctx, spec, nil)
			}
			if err != nil {
				return nil, services.Wrap(services.ErrExternalTool, "vmaf", "encode sample",
					"Sample encode failed for CQ "+fmt.Sprint(candidate), err)
			}
		}

		report(Progress{Phase: PhaseScore, Iteration: iterations + 1, CandidateCQ: candidate, LastScore: best.Score})
		score, err := e.client.Score(ctx, samplePath, encodedPath)
		_ = os.Remove(encodedPath)
		if err != nil {
			return nil, services.Wrap(services.ErrExternalTool, "vmaf", "score sample",
				"VMAF scoring failed for CQ "+fmt.Sprint(candidate), err)
		}

		e.logger.Info("calibration candidate scored",
			logging.Int("cq", candidate),
			logging.Float64("score", score),
			logging.Int("iteration", iterations+1))

		if best.Score < 0 || closer(score, best.Score, e.params.TargetScore) {
			best.CQ = candidate
			best.Score = score
		}

		if math.Abs(score-e.params.TargetScore) <= e.params.Tolerance {
			best.CQ = candidate
			best.Score = score
			iterations++
			break
		}
		if score > e.params.TargetScore {
			// Quality above target: room to raise CQ and shrink output.
			lo = candidate + 1
		} else {
			hi = candidate - 1
		}
	}

	if best.Score < 0 {
		return nil, services.Wrap(services.ErrExternalTool, "vmaf", "search",
			"No calibration candidate could be scored", nil)
	}

	result := &queue.VmafResult{
		CQ:           best.CQ,
		Score:        best.Score,
		Iterations:   iterations,
		UsedFallback: usedFallback,
		Degraded:     math.Abs(best.Score-e.params.TargetScore) > e.params.Tolerance,
		MeasuredAt:   time.Now().UTC(),
	}
	report(Progress{Phase: PhaseDone, Iteration: iterations, CandidateCQ: result.CQ, LastScore: result.Score})
	if result.Degraded {
		e.logger.Warn("calibration exhausted iterations, using closest candidate",
			logging.Int("cq", result.CQ),
			logging.Float64("score", result.Score))
	}
	return result, nil
}

func (e *Engine) selectEncoder(ctx context.Context) (string, bool, error) {
	encoder := e.params.Encoder
	available, err := e.client.DetectEncoder(ctx, encoder)
	if err != nil {
		return "", false, services.Wrap(services.ErrExternalTool, "vmaf", "detect encoder",
			"Could not query available encoders from ffmpeg", err)
	}
	if available {
		return encoder, false, nil
	}
	if e.params.FallbackEncoder == "" {
		return "", false, services.Wrap(services.ErrConfiguration, "vmaf", "detect encoder",
			"Encoder "+encoder+" is unavailable and no fallback is configured", nil)
	}
	e.logger.Warn("preferred encoder unavailable, using fallback",
		logging.String("encoder", encoder),
		logging.String("fallback", e.params.FallbackEncoder))
	return e.params.FallbackEncoder, true, nil
}

// sampleStart centers the sample clip in the source.
func sampleStart(duration float64, sampleDuration int) int {
	start := duration/2 - float64(sampleDuration)/2
	if start < 0 {
		return 0
	}
	return int(start)
}

func closer(candidate, incumbent, target float64) bool {
	return math.Abs(candidate-target) < math.Abs(incumbent-target)
}
