package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

var commandContext = exec.CommandContext

// ProgressUpdate captures one sample of ffmpeg -progress output.
type ProgressUpdate struct {
	Percent float64
	FPS     float64
	Speed   float64
	OutTime float64
}

// EncodeSpec describes a single encode invocation.
type EncodeSpec struct {
	Input string
	// Output is the full target path including extension.
	Output string
	// StreamIndex selects the input stream (absolute container index).
	StreamIndex int
	// StreamType is "v" for video or "a" for audio and scopes the mapping.
	StreamType string
	Codec      string
	// CQ applies constant-quality video encodes; <= 0 omits the flag.
	CQ int
	// Bitrate applies to audio encodes, e.g. "128k".
	Bitrate string
	// DurationSeconds of the source stream, used to turn out_time into percent.
	DurationSeconds float64
	ExtraArgs       []string
}

// Client defines the encoder behaviour consumed by the stages.
type Client interface {
	Encode(ctx context.Context, spec EncodeSpec, progress func(ProgressUpdate)) error
	ExtractSample(ctx context.Context, input, output string, startSeconds, durationSeconds int) error
	Score(ctx context.Context, reference, distorted string) (float64, error)
	DetectEncoder(ctx context.Context, encoder string) (bool, error)
	Mux(ctx context.Context, inputs []string, output string) error
}

// Option configures the CLI client.
type Option func(*CLI)

// WithBinary overrides the default ffmpeg binary name.
func WithBinary(binary string) Option {
	return func(c *CLI) {
		if binary != "" {
			c.binary = binary
		}
	}
}

// CLI shells out to ffmpeg.
type CLI struct {
	binary string
}

// NewCLI constructs a CLI client using defaults.
func NewCLI(opts ...Option) *CLI {
	cli := &CLI{binary: "ffmpeg"}
	for _, opt := range opts {
		opt(cli)
	}
	return cli
}

// Encode runs a single-stream encode and streams progress samples until the
// process exits. Cancellation kills the process through the context.
func (c *CLI) Encode(ctx context.Context, spec EncodeSpec, progress func(ProgressUpdate)) error {
	if spec.Input == "" {
		return errors.New("input path required")
	}
	if spec.Output == "" {
		return errors.New("output path required")
	}
	streamType := spec.StreamType
	if streamType == "" {
		streamType = "v"
	}

	args := []string{
		"-hide_banner", "-nostdin", "-y",
		"-i", spec.Input,
		"-map", fmt.Sprintf("0:%d", spec.StreamIndex),
	}
	switch streamType {
	case "v":
		args = append(args, "-c:v", spec.Codec)
		if spec.CQ > 0 {
			args = append(args, "-cq", strconv.Itoa(spec.CQ))
		}
	case "a":
		args = append(args, "-c:a", spec.Codec)
		if spec.Bitrate != "" {
			args = append(args, "-b:a", spec.Bitrate)
		}
	default:
		return fmt.Errorf("unsupported stream type %q", streamType)
	}
	args = append(args, spec.ExtraArgs...)
	args = append(args, "-progress", "pipe:1", "-nostats", spec.Output)

	cmd := commandContext(ctx, c.binary, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	parser := newProgressParser(spec.DurationSeconds)
	for scanner.Scan() {
		if update, ok := parser.feed(scanner.Text()); ok && progress != nil {
			progress(update)
		}
	}
	if err := scanner.Err(); err != nil {
		_ = cmd.Wait()
		return fmt.Errorf("read ffmpeg output: %w", err)
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("ffmpeg encode failed: %w: %s", err, lastLines(stderr.String(), 5))
	}
	return nil
}

// ExtractSample copies a clip from the source without re-encoding, for use
// as the calibration reference.
func (c *CLI) ExtractSample(ctx context.Context, input, output string, startSeconds, durationSeconds int) error {
	if input == "" || output == "" {
		return errors.New("input and output paths required")
	}
	if durationSeconds <= 0 {
		return errors.New("sample duration must be positive")
	}
	if startSeconds < 0 {
		startSeconds = 0
	}
	args := []string{
		"-hide_banner", "-nostdin", "-y",
		"-ss", strconv.Itoa(startSeconds),
		"-i", input,
		"-t", strconv.Itoa(durationSeconds),
		"-map", "0:v:0",
		"-c", "copy",
		output,
	}
	cmd := commandContext(ctx, c.binary, args...)
	combined, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("extract sample: %w: %s", err, lastLines(string(combined), 5))
	}
	return nil
}

// Score compares a distorted encode against its reference with libvmaf and
// returns the pooled VMAF score.
func (c *CLI) Score(ctx context.Context, reference, distorted string) (float64, error) {
	if reference == "" || distorted == "" {
		return 0, errors.New("reference and distorted paths required")
	}
	args := []string{
		"-hide_banner", "-nostdin",
		"-i", distorted,
		"-i", reference,
		"-lavfi", "libvmaf",
		"-f", "null", "-",
	}
	cmd := commandContext(ctx, c.binary, args...)
	combined, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, fmt.Errorf("vmaf score: %w: %s", err, lastLines(string(combined), 5))
	}
	score, ok := parseVmafScore(string(combined))
	if !ok {
		return 0, fmt.Errorf("vmaf score missing from ffmpeg output: %s", lastLines(string(combined), 5))
	}
	return score, nil
}

// DetectEncoder reports whether the named encoder is available in this
// ffmpeg build. Presence in -encoders output does not guarantee working
// hardware; callers treat a failed first encode as the real signal.
func (c *CLI) DetectEncoder(ctx context.Context, encoder string) (bool, error) {
	encoder = strings.TrimSpace(encoder)
	if encoder == "" {
		return false, errors.New("encoder name required")
	}
	cmd := commandContext(ctx, c.binary, "-hide_banner", "-encoders")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return false, fmt.Errorf("list encoders: %w", err)
	}
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		// Encoder lines look like " V....D av1_nvenc   NVIDIA NVENC av1 encoder".
		if len(fields) >= 2 && fields[1] == encoder {
			return true, nil
		}
	}
	return false, nil
}

// Mux combines per-stream encode outputs into one container without
// re-encoding. Input order decides stream order in the output.
func (c *CLI) Mux(ctx context.Context, inputs []string, output string) error {
	if len(inputs) == 0 {
		return errors.New("at least one input required")
	}
	if output == "" {
		return errors.New("output path required")
	}
	args := []string{"-hide_banner", "-nostdin", "-y"}
	for _, input := range inputs {
		args = append(args, "-i", input)
	}
	for i := range inputs {
		args = append(args, "-map", strconv.Itoa(i))
	}
	args = append(args, "-c", "copy", output)

	cmd := commandContext(ctx, c.binary, args...)
	combined, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("mux outputs: %w: %s", err, lastLines(string(combined), 5))
	}
	return nil
}

func lastLines(text string, n int) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}

var _ Client = (*CLI)(nil)
