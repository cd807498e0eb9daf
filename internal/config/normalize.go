package config

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeEncoding()
	c.normalizeVmaf()
	c.normalizeWorkflow()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.StagingDir, err = expandPath(c.Paths.StagingDir); err != nil {
		return fmt.Errorf("paths.staging_dir: %w", err)
	}
	if c.Paths.LibraryDir, err = expandPath(c.Paths.LibraryDir); err != nil {
		return fmt.Errorf("paths.library_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.SocketPath) == "" {
		c.Paths.SocketPath = defaultSocketPath
	}
	if c.Paths.SocketPath, err = expandPath(c.Paths.SocketPath); err != nil {
		return fmt.Errorf("paths.socket_path: %w", err)
	}
	return nil
}

func (c *Config) normalizeEncoding() {
	if strings.TrimSpace(c.Encoding.VideoCodec) == "" {
		c.Encoding.VideoCodec = defaultVideoCodec
	}
	if strings.TrimSpace(c.Encoding.FallbackCodec) == "" {
		c.Encoding.FallbackCodec = defaultFallbackCodec
	}
	if strings.TrimSpace(c.Encoding.AudioCodec) == "" {
		c.Encoding.AudioCodec = defaultAudioCodec
	}
	if strings.TrimSpace(c.Encoding.AudioBitrate) == "" {
		c.Encoding.AudioBitrate = defaultAudioBitrate
	}
	if c.Encoding.VideoSlots <= 0 {
		c.Encoding.VideoSlots = defaultVideoSlots
	}
	if c.Encoding.AudioWorkers <= 0 {
		c.Encoding.AudioWorkers = detectAudioWorkers()
	}
	if c.Encoding.VideoCostShare <= 0 || c.Encoding.VideoCostShare >= 1 {
		c.Encoding.VideoCostShare = defaultVideoCostShare
	}
	if strings.TrimSpace(c.Encoding.FFmpegBinary) == "" {
		c.Encoding.FFmpegBinary = defaultFFmpegBinary
	}
	if strings.TrimSpace(c.Encoding.FFprobeBinary) == "" {
		c.Encoding.FFprobeBinary = defaultFFprobeBinary
	}
}

// detectAudioWorkers sizes the audio pool from the physical core count,
// falling back to GOMAXPROCS-style logical count when detection fails.
func detectAudioWorkers() int {
	if count, err := cpu.Counts(false); err == nil && count > 0 {
		return count
	}
	if count := runtime.NumCPU(); count > 0 {
		return count
	}
	return 1
}

func (c *Config) normalizeVmaf() {
	if c.Vmaf.TargetScore <= 0 {
		c.Vmaf.TargetScore = defaultVmafTarget
	}
	if c.Vmaf.Tolerance <= 0 {
		c.Vmaf.Tolerance = defaultVmafTolerance
	}
	if c.Vmaf.MaxIterations <= 0 {
		c.Vmaf.MaxIterations = defaultVmafMaxIterations
	}
	if c.Vmaf.MinCQ <= 0 {
		c.Vmaf.MinCQ = defaultVmafMinCQ
	}
	if c.Vmaf.MaxCQ <= 0 {
		c.Vmaf.MaxCQ = defaultVmafMaxCQ
	}
	if c.Vmaf.SampleDuration <= 0 {
		c.Vmaf.SampleDuration = defaultVmafSampleDuration
	}
}

func (c *Config) normalizeWorkflow() {
	if c.Workflow.QueuePollInterval <= 0 {
		c.Workflow.QueuePollInterval = defaultQueuePollInterval
	}
	if c.Workflow.ErrorRetryInterval <= 0 {
		c.Workflow.ErrorRetryInterval = defaultErrorRetryInterval
	}
	if c.Workflow.HeartbeatInterval <= 0 {
		c.Workflow.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.Workflow.HeartbeatTimeout <= 0 {
		c.Workflow.HeartbeatTimeout = defaultHeartbeatTimeout
	}
	if c.Workflow.ProgressFlushMillis <= 0 {
		c.Workflow.ProgressFlushMillis = defaultProgressFlushMillis
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
