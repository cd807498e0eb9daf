package config

import (
	"errors"
	"fmt"

	"github.com/google/shlex"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateEncoding(); err != nil {
		return err
	}
	if err := c.validateVmaf(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	return nil
}

func (c *Config) validateEncoding() error {
	if c.Encoding.VideoSlots <= 0 {
		return errors.New("encoding.video_slots must be positive")
	}
	if c.Encoding.AudioWorkers <= 0 {
		return errors.New("encoding.audio_workers must be positive")
	}
	if c.Encoding.VideoCostShare <= 0 || c.Encoding.VideoCostShare >= 1 {
		return errors.New("encoding.video_cost_share must be between 0 and 1 exclusive")
	}
	// Extra args are parsed once here so a shell-quoting mistake fails at
	// startup instead of mid-encode.
	if _, err := shlex.Split(c.Encoding.ExtraVideoArgs); err != nil {
		return fmt.Errorf("encoding.extra_video_args: %w", err)
	}
	if _, err := shlex.Split(c.Encoding.ExtraAudioArgs); err != nil {
		return fmt.Errorf("encoding.extra_audio_args: %w", err)
	}
	return nil
}

// ExtraVideoArgList returns the tokenized extra ffmpeg args for video tasks.
func (c *Config) ExtraVideoArgList() []string {
	args, err := shlex.Split(c.Encoding.ExtraVideoArgs)
	if err != nil {
		return nil
	}
	return args
}

// ExtraAudioArgList returns the tokenized extra ffmpeg args for audio tasks.
func (c *Config) ExtraAudioArgList() []string {
	args, err := shlex.Split(c.Encoding.ExtraAudioArgs)
	if err != nil {
		return nil
	}
	return args
}

func (c *Config) validateVmaf() error {
	if !c.Vmaf.Enabled {
		return nil
	}
	if c.Vmaf.TargetScore <= 0 || c.Vmaf.TargetScore > 100 {
		return errors.New("vmaf.target_score must be between 0 and 100")
	}
	if c.Vmaf.MinCQ >= c.Vmaf.MaxCQ {
		return errors.New("vmaf.min_cq must be less than vmaf.max_cq")
	}
	if c.Vmaf.MaxIterations <= 0 {
		return errors.New("vmaf.max_iterations must be positive")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"workflow.queue_poll_interval":   c.Workflow.QueuePollInterval,
		"workflow.error_retry_interval":  c.Workflow.ErrorRetryInterval,
		"workflow.progress_flush_millis": c.Workflow.ProgressFlushMillis,
	}); err != nil {
		return err
	}
	if c.Workflow.HeartbeatInterval <= 0 {
		return errors.New("workflow.heartbeat_interval must be positive")
	}
	if c.Workflow.HeartbeatTimeout <= c.Workflow.HeartbeatInterval {
		return errors.New("workflow.heartbeat_timeout must be greater than workflow.heartbeat_interval")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
