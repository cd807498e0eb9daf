package transcoding

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"importq/internal/config"
	"importq/internal/media/ffprobe"
	"importq/internal/queue"
)

// Task states persisted in the plan.
const (
	TaskPlanned   = "planned"
	TaskCompleted = "completed"
	TaskFailed    = "failed"
	TaskCancelled = "cancelled"
)

// Task kinds.
const (
	KindVideo = "video"
	KindAudio = "audio"
)

// Task is one stream encode inside an item's plan.
type Task struct {
	Kind        string  `json:"kind"`
	StreamIndex int     `json:"stream_index"`
	Output      string  `json:"output"`
	Codec       string  `json:"codec"`
	CQ          int     `json:"cq,omitempty"`
	Bitrate     string  `json:"bitrate,omitempty"`
	Duration    float64 `json:"duration_seconds"`
	Language    string  `json:"language,omitempty"`
	State       string  `json:"state"`
	Error       string  `json:"error,omitempty"`
}

// Plan is the persisted encode plan for one item.
type Plan struct {
	SourceDuration float64 `json:"source_duration"`
	VideoCodec     string  `json:"video_codec"`
	CQ             int     `json:"cq"`
	Tasks          []Task  `json:"tasks"`
}

// VideoTasks returns the indexes of video tasks within Tasks.
func (p *Plan) VideoTasks() []int {
	return p.tasksOfKind(KindVideo)
}

// AudioTasks returns the indexes of audio tasks within Tasks.
func (p *Plan) AudioTasks() []int {
	return p.tasksOfKind(KindAudio)
}

func (p *Plan) tasksOfKind(kind string) []int {
	var indexes []int
	for i, task := range p.Tasks {
		if task.Kind == kind {
			indexes = append(indexes, i)
		}
	}
	return indexes
}

// BuildPlan derives the task fan-out from a probe of the source. The CQ comes
// from the item's calibration result when present, otherwise the midpoint of
// the configured range. A calibration that fell back to the software encoder
// pins the plan to the same encoder so measured quality holds.
func BuildPlan(cfg *config.Config, item *queue.Item, probeResult ffprobe.Result, stagingDir string) (*Plan, error) {
	videoStreams := probeResult.VideoStreams()
	audioStreams := probeResult.AudioStreams()
	if len(videoStreams) == 0 && len(audioStreams) == 0 {
		return nil, errors.New("source has no video or audio streams")
	}

	videoCodec := cfg.Encoding.VideoCodec
	cq := (cfg.Vmaf.MinCQ + cfg.Vmaf.MaxCQ) / 2
	if result, err := item.VmafResult(); err != nil {
		return nil, err
	} else if result != nil {
		cq = result.CQ
		if result.UsedFallback {
			videoCodec = cfg.Encoding.FallbackCodec
		}
	}

	duration := probeResult.DurationSeconds()
	plan := &Plan{
		SourceDuration: duration,
		VideoCodec:     videoCodec,
		CQ:             cq,
	}

	for i, stream := range videoStreams {
		plan.Tasks = append(plan.Tasks, Task{
			Kind:        KindVideo,
			StreamIndex: stream.Index,
			Output:      filepath.Join(stagingDir, fmt.Sprintf("video-%d.mkv", i)),
			Codec:       videoCodec,
			CQ:          cq,
			Duration:    streamDuration(stream, duration),
			State:       TaskPlanned,
		})
	}
	for i, stream := range audioStreams {
		plan.Tasks = append(plan.Tasks, Task{
			Kind:        KindAudio,
			StreamIndex: stream.Index,
			Output:      filepath.Join(stagingDir, fmt.Sprintf("audio-%d.mka", i)),
			Codec:       cfg.Encoding.AudioCodec,
			Bitrate:     cfg.Encoding.AudioBitrate,
			Duration:    streamDuration(stream, duration),
			Language:    stream.Language(),
			State:       TaskPlanned,
		})
	}
	return plan, nil
}

func streamDuration(stream ffprobe.Stream, containerDuration float64) float64 {
	raw := strings.TrimSpace(stream.Duration)
	if raw != "" {
		var parsed float64
		if _, err := fmt.Sscanf(raw, "%f", &parsed); err == nil && parsed > 0 {
			return parsed
		}
	}
	return containerDuration
}

// DecodePlan reads the persisted plan off a queue item.
func DecodePlan(item *queue.Item) (*Plan, error) {
	if strings.TrimSpace(item.EncodePlanJSON) == "" {
		return nil, errors.New("item has no encode plan")
	}
	var plan Plan
	if err := json.Unmarshal([]byte(item.EncodePlanJSON), &plan); err != nil {
		return nil, fmt.Errorf("decode encode plan: %w", err)
	}
	return &plan, nil
}

// EncodePlan persists the plan onto a queue item.
func EncodePlan(item *queue.Item, plan *Plan) error {
	payload, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}
	item.EncodePlanJSON = string(payload)
	return nil
}
