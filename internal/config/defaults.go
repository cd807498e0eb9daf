package config

const (
	defaultStagingDir     = "~/.local/share/importq/staging"
	defaultLibraryDir     = "~/library"
	defaultLogDir         = "~/.local/share/importq/logs"
	defaultSocketPath     = "~/.local/share/importq/importqd.sock"
	defaultLogFormat      = "console"
	defaultLogLevel       = "info"
	defaultVideoCodec     = "av1_nvenc"
	defaultFallbackCodec  = "libsvtav1"
	defaultAudioCodec     = "libopus"
	defaultAudioBitrate   = "128k"
	defaultVideoSlots     = 1
	defaultVideoCostShare = 0.85
	defaultFFmpegBinary   = "ffmpeg"
	defaultFFprobeBinary  = "ffprobe"

	defaultVmafTarget         = 95.0
	defaultVmafTolerance      = 0.5
	defaultVmafMaxIterations  = 6
	defaultVmafMinCQ          = 10
	defaultVmafMaxCQ          = 50
	defaultVmafSampleDuration = 30

	defaultQueuePollInterval   = 5
	defaultErrorRetryInterval  = 10
	defaultHeartbeatInterval   = 15
	defaultHeartbeatTimeout    = 120
	defaultProgressFlushMillis = 300
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StagingDir: defaultStagingDir,
			LibraryDir: defaultLibraryDir,
			LogDir:     defaultLogDir,
			SocketPath: defaultSocketPath,
		},
		Encoding: Encoding{
			VideoCodec:     defaultVideoCodec,
			FallbackCodec:  defaultFallbackCodec,
			AudioCodec:     defaultAudioCodec,
			AudioBitrate:   defaultAudioBitrate,
			VideoSlots:     defaultVideoSlots,
			AudioWorkers:   0, // resolved from physical CPU count during normalize
			VideoCostShare: defaultVideoCostShare,
			FFmpegBinary:   defaultFFmpegBinary,
			FFprobeBinary:  defaultFFprobeBinary,
		},
		Vmaf: Vmaf{
			Enabled:        true,
			TargetScore:    defaultVmafTarget,
			Tolerance:      defaultVmafTolerance,
			MaxIterations:  defaultVmafMaxIterations,
			MinCQ:          defaultVmafMinCQ,
			MaxCQ:          defaultVmafMaxCQ,
			SampleDuration: defaultVmafSampleDuration,
		},
		Workflow: Workflow{
			QueuePollInterval:   defaultQueuePollInterval,
			ErrorRetryInterval:  defaultErrorRetryInterval,
			HeartbeatInterval:   defaultHeartbeatInterval,
			HeartbeatTimeout:    defaultHeartbeatTimeout,
			AutoStart:           true,
			ProgressFlushMillis: defaultProgressFlushMillis,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
