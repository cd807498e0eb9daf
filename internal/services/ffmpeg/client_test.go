package ffmpeg

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewCLIWithBinary(t *testing.T) {
	cli := NewCLI(WithBinary("/opt/ffmpeg"))
	if cli.binary != "/opt/ffmpeg" {
		t.Fatalf("expected binary override to be applied, got %q", cli.binary)
	}
}

func TestEncodeRequiresPaths(t *testing.T) {
	cli := NewCLI()
	if err := cli.Encode(context.Background(), EncodeSpec{Output: "/tmp/out.mkv"}, nil); err == nil {
		t.Fatal("expected error when input path is empty")
	}
	if err := cli.Encode(context.Background(), EncodeSpec{Input: "/tmp/in.mkv"}, nil); err == nil {
		t.Fatal("expected error when output path is empty")
	}
}

func TestEncodeBuildsVideoArgs(t *testing.T) {
	var capturedArgs []string
	original := commandContext
	commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		capturedArgs = append([]string(nil), args...)
		cmd := exec.CommandContext(ctx, os.Args[0], "-test.run=TestHelperProcess")
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "FFMPEG_HELPER_MODE=progress")
		return cmd
	}
	t.Cleanup(func() { commandContext = original })

	tempDir := t.TempDir()
	spec := EncodeSpec{
		Input:           filepath.Join(tempDir, "in.mkv"),
		Output:          filepath.Join(tempDir, "out.mkv"),
		StreamIndex:     0,
		StreamType:      "v",
		Codec:           "libsvtav1",
		CQ:              30,
		DurationSeconds: 20,
		ExtraArgs:       []string{"-pix_fmt", "yuv420p10le"},
	}

	var updates []ProgressUpdate
	cli := NewCLI()
	if err := cli.Encode(context.Background(), spec, func(u ProgressUpdate) {
		updates = append(updates, u)
	}); err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}

	joined := strings.Join(capturedArgs, " ")
	for _, want := range []string{"-map 0:0", "-c:v libsvtav1", "-cq 30", "-pix_fmt yuv420p10le", "-progress pipe:1"} {
		if !strings.Contains(joined, want) {
			t.Errorf("expected args to contain %q, got %q", want, joined)
		}
	}

	if len(updates) == 0 {
		t.Fatal("expected progress updates")
	}
	final := updates[len(updates)-1]
	if final.Percent != 100 {
		t.Fatalf("expected final percent 100, got %v", final.Percent)
	}
	for i := 1; i < len(updates); i++ {
		if updates[i].Percent < updates[i-1].Percent {
			t.Fatalf("progress went backwards at sample %d: %v after %v", i, updates[i].Percent, updates[i-1].Percent)
		}
	}
}

func TestEncodeBuildsAudioArgs(t *testing.T) {
	var capturedArgs []string
	original := commandContext
	commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		capturedArgs = append([]string(nil), args...)
		cmd := exec.CommandContext(ctx, os.Args[0], "-test.run=TestHelperProcess")
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "FFMPEG_HELPER_MODE=progress")
		return cmd
	}
	t.Cleanup(func() { commandContext = original })

	spec := EncodeSpec{
		Input:       "/media/in.mkv",
		Output:      "/tmp/audio-1.mka",
		StreamIndex: 2,
		StreamType:  "a",
		Codec:       "libopus",
		Bitrate:     "128k",
	}
	cli := NewCLI()
	if err := cli.Encode(context.Background(), spec, nil); err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}
	joined := strings.Join(capturedArgs, " ")
	for _, want := range []string{"-map 0:2", "-c:a libopus", "-b:a 128k"} {
		if !strings.Contains(joined, want) {
			t.Errorf("expected args to contain %q, got %q", want, joined)
		}
	}
}

func TestScoreParsesVmafOutput(t *testing.T) {
	original := commandContext
	commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		cmd := exec.CommandContext(ctx, os.Args[0], "-test.run=TestHelperProcess")
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "FFMPEG_HELPER_MODE=vmaf")
		return cmd
	}
	t.Cleanup(func() { commandContext = original })

	cli := NewCLI()
	score, err := cli.Score(context.Background(), "/tmp/ref.mkv", "/tmp/dist.mkv")
	if err != nil {
		t.Fatalf("Score returned error: %v", err)
	}
	if math.Abs(score-94.73) > 1e-9 {
		t.Fatalf("expected score 94.73, got %v", score)
	}
}

func TestDetectEncoder(t *testing.T) {
	original := commandContext
	commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		cmd := exec.CommandContext(ctx, os.Args[0], "-test.run=TestHelperProcess")
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "FFMPEG_HELPER_MODE=encoders")
		return cmd
	}
	t.Cleanup(func() { commandContext = original })

	cli := NewCLI()
	found, err := cli.DetectEncoder(context.Background(), "av1_nvenc")
	if err != nil {
		t.Fatalf("DetectEncoder returned error: %v", err)
	}
	if !found {
		t.Fatal("expected av1_nvenc to be detected")
	}
	found, err = cli.DetectEncoder(context.Background(), "av1_qsv")
	if err != nil {
		t.Fatalf("DetectEncoder returned error: %v", err)
	}
	if found {
		t.Fatal("did not expect av1_qsv to be detected")
	}
}

func TestProgressParser(t *testing.T) {
	parser := newProgressParser(100)
	lines := []string{
		"fps=48.2",
		"out_time_us=25000000",
		"speed=1.6x",
		"progress=continue",
		"out_time=00:01:00.000000",
		"progress=continue",
		"progress=end",
	}
	var updates []ProgressUpdate
	for _, line := range lines {
		if update, ok := parser.feed(line); ok {
			updates = append(updates, update)
		}
	}
	if len(updates) != 3 {
		t.Fatalf("expected 3 updates, got %d", len(updates))
	}
	if updates[0].Percent != 25 || updates[0].FPS != 48.2 || updates[0].Speed != 1.6 {
		t.Fatalf("unexpected first update %#v", updates[0])
	}
	if updates[1].Percent != 60 {
		t.Fatalf("expected 60 percent from out_time clock, got %v", updates[1].Percent)
	}
	if updates[2].Percent != 100 {
		t.Fatalf("expected 100 at end, got %v", updates[2].Percent)
	}
}

func TestParseVmafScoreUsesLastMatch(t *testing.T) {
	output := "frame-level VMAF score: 91.2\n[libvmaf] VMAF score: 95.81\n"
	score, ok := parseVmafScore(output)
	if !ok || score != 95.81 {
		t.Fatalf("expected pooled score 95.81, got %v ok=%v", score, ok)
	}
	if _, ok := parseVmafScore("no score here"); ok {
		t.Fatal("expected no match")
	}
}

// TestHelperProcess is not a real test; it stands in for the ffmpeg binary.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	switch os.Getenv("FFMPEG_HELPER_MODE") {
	case "progress":
		fmt.Println("fps=30.0")
		fmt.Println("out_time_us=5000000")
		fmt.Println("speed=1.2x")
		fmt.Println("progress=continue")
		fmt.Println("out_time_us=15000000")
		fmt.Println("progress=continue")
		fmt.Println("progress=end")
	case "vmaf":
		fmt.Println("[Parsed_libvmaf_0 @ 0x55] VMAF score: 94.73")
	case "encoders":
		fmt.Println("Encoders:")
		fmt.Println(" V....D libsvtav1            SVT-AV1 encoder")
		fmt.Println(" V....D av1_nvenc            NVIDIA NVENC av1 encoder")
		fmt.Println(" A....D libopus              libopus Opus encoder")
	}
	os.Exit(0)
}
