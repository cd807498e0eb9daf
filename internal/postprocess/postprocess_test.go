package postprocess

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"importq/internal/queue"
	"importq/internal/services/ffmpeg"
	"importq/internal/testsupport"
	"importq/internal/transcoding"
)

// fakeMuxer concatenates the inputs into the output file.
type fakeMuxer struct {
	mu      sync.Mutex
	muxed   [][]string
	failMux bool
}

func (f *fakeMuxer) Mux(_ context.Context, inputs []string, output string) error {
	f.mu.Lock()
	f.muxed = append(f.muxed, append([]string(nil), inputs...))
	f.mu.Unlock()
	if f.failMux {
		return errors.New("mux exploded")
	}
	var combined []byte
	for _, input := range inputs {
		data, err := os.ReadFile(input)
		if err != nil {
			return err
		}
		combined = append(combined, data...)
	}
	return os.WriteFile(output, combined, 0o644)
}

func (f *fakeMuxer) Encode(context.Context, ffmpeg.EncodeSpec, func(ffmpeg.ProgressUpdate)) error {
	return nil
}

func (f *fakeMuxer) ExtractSample(context.Context, string, string, int, int) error { return nil }

func (f *fakeMuxer) Score(context.Context, string, string) (float64, error) { return 0, nil }

func (f *fakeMuxer) DetectEncoder(context.Context, string) (bool, error) { return true, nil }

func transcodedItem(t *testing.T, stagingRoot string) *queue.Item {
	t.Helper()
	staging := filepath.Join(stagingRoot, "item-9")
	if err := os.MkdirAll(staging, 0o755); err != nil {
		t.Fatal(err)
	}
	plan := &transcoding.Plan{
		SourceDuration: 3600,
		VideoCodec:     "av1_nvenc",
		CQ:             27,
	}
	for i, name := range []string{"video-0.mkv", "audio-0.mka", "audio-1.mka"} {
		path := filepath.Join(staging, name)
		if err := os.WriteFile(path, []byte(name), 0o644); err != nil {
			t.Fatal(err)
		}
		kind := transcoding.KindAudio
		if i == 0 {
			kind = transcoding.KindVideo
		}
		plan.Tasks = append(plan.Tasks, transcoding.Task{
			Kind:        kind,
			StreamIndex: i,
			Output:      path,
			State:       transcoding.TaskCompleted,
		})
	}
	item := &queue.Item{ID: 9, SourcePath: "/media/show.mkv", Title: "Some Show", StagingDir: staging}
	if err := transcoding.EncodePlan(item, plan); err != nil {
		t.Fatal(err)
	}
	return item
}

func TestExecuteAssemblesAndPromotes(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	muxer := &fakeMuxer{}
	stage := NewStage(cfg, muxer, nil, nil)
	item := transcodedItem(t, cfg.Paths.StagingDir)

	if err := stage.Prepare(context.Background(), item); err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if err := stage.Execute(context.Background(), item); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if item.FinalFile != filepath.Join(cfg.Paths.LibraryDir, "some-show.mkv") {
		t.Fatalf("unexpected final file %q", item.FinalFile)
	}
	data, err := os.ReadFile(item.FinalFile)
	if err != nil {
		t.Fatalf("final file not in library: %v", err)
	}
	if string(data) != "video-0.mkvaudio-0.mkaaudio-1.mka" {
		t.Fatalf("unexpected final content %q", data)
	}
	if len(muxer.muxed) != 1 || len(muxer.muxed[0]) != 3 {
		t.Fatalf("unexpected mux inputs %v", muxer.muxed)
	}
	// Video stream first, then audio in plan order.
	if filepath.Base(muxer.muxed[0][0]) != "video-0.mkv" {
		t.Fatalf("video must lead the mux order: %v", muxer.muxed[0])
	}
	if _, err := os.Stat(item.StagingDir); !os.IsNotExist(err) {
		t.Fatal("staging directory should be removed")
	}
}

func TestExecuteAvoidsLibraryCollisions(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	stage := NewStage(cfg, &fakeMuxer{}, nil, nil)
	item := transcodedItem(t, cfg.Paths.StagingDir)

	occupied := filepath.Join(cfg.Paths.LibraryDir, "some-show.mkv")
	if err := os.WriteFile(occupied, []byte("existing"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := stage.Execute(context.Background(), item); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if item.FinalFile != filepath.Join(cfg.Paths.LibraryDir, "some-show-1.mkv") {
		t.Fatalf("expected collision suffix, got %q", item.FinalFile)
	}
	data, err := os.ReadFile(occupied)
	if err != nil || string(data) != "existing" {
		t.Fatalf("existing file must be untouched: %q %v", data, err)
	}
}

func TestPrepareRejectsUnfinishedPlan(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	stage := NewStage(cfg, &fakeMuxer{}, nil, nil)
	item := transcodedItem(t, cfg.Paths.StagingDir)

	plan, err := transcoding.DecodePlan(item)
	if err != nil {
		t.Fatal(err)
	}
	plan.Tasks[1].State = transcoding.TaskFailed
	if err := transcoding.EncodePlan(item, plan); err != nil {
		t.Fatal(err)
	}

	err = stage.Prepare(context.Background(), item)
	if err == nil {
		t.Fatal("expected error for unfinished plan")
	}
	if !strings.Contains(err.Error(), "failed") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestExecuteMuxFailureKeepsStaging(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	stage := NewStage(cfg, &fakeMuxer{failMux: true}, nil, nil)
	item := transcodedItem(t, cfg.Paths.StagingDir)

	if err := stage.Execute(context.Background(), item); err == nil {
		t.Fatal("expected mux failure")
	}
	if item.FinalFile != "" {
		t.Fatalf("final file must stay unset, got %q", item.FinalFile)
	}
	if _, err := os.Stat(item.StagingDir); err != nil {
		t.Fatal("staging directory must survive a failed mux")
	}
}

func TestHealthCheckRequiresLibraryDir(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Paths.LibraryDir = ""
	stage := NewStage(cfg, &fakeMuxer{}, nil, nil)
	if health := stage.HealthCheck(context.Background()); health.Ready {
		t.Fatal("expected unhealthy without library dir")
	}
}
