package transcoding

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"importq/internal/media/ffprobe"
	"importq/internal/queue"
	"importq/internal/services/ffmpeg"
	"importq/internal/testsupport"
)

// fakeEncoder records encode specs and fails the streams it is told to.
type fakeEncoder struct {
	mu          sync.Mutex
	encoded     []ffmpeg.EncodeSpec
	failStreams map[int]bool
	block       chan struct{}
}

func (f *fakeEncoder) Encode(ctx context.Context, spec ffmpeg.EncodeSpec, report func(ffmpeg.ProgressUpdate)) error {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if report != nil {
		report(ffmpeg.ProgressUpdate{Percent: 50})
	}
	f.mu.Lock()
	f.encoded = append(f.encoded, spec)
	fail := f.failStreams[spec.StreamIndex]
	f.mu.Unlock()
	if fail {
		return errors.New("encoder exploded")
	}
	return nil
}

func (f *fakeEncoder) ExtractSample(context.Context, string, string, int, int) error { return nil }

func (f *fakeEncoder) Score(context.Context, string, string) (float64, error) { return 0, nil }

func (f *fakeEncoder) DetectEncoder(context.Context, string) (bool, error) { return true, nil }

func (f *fakeEncoder) Mux(context.Context, []string, string) error { return nil }

func (f *fakeEncoder) specs() []ffmpeg.EncodeSpec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ffmpeg.EncodeSpec(nil), f.encoded...)
}

func preparedItem(t *testing.T, stage *Stage) *queue.Item {
	t.Helper()
	item := &queue.Item{ID: 7, SourcePath: "/media/in.mkv"}
	if err := stage.Prepare(context.Background(), item); err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	return item
}

func newTestStage(t *testing.T, client ffmpeg.Client) *Stage {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	stage := NewStage(cfg, client, nil, nil)
	stage.probe = func(context.Context, string, string) (ffprobe.Result, error) {
		return sampleProbe(), nil
	}
	return stage
}

func TestStagePrepareWritesPlanAndStagingDir(t *testing.T) {
	encoder := &fakeEncoder{}
	stage := newTestStage(t, encoder)
	item := preparedItem(t, stage)

	if item.StagingDir == "" {
		t.Fatal("expected staging dir to be assigned")
	}
	if filepath.Base(item.StagingDir) != "item-7" {
		t.Fatalf("unexpected staging dir %q", item.StagingDir)
	}
	plan, err := DecodePlan(item)
	if err != nil {
		t.Fatalf("plan not persisted: %v", err)
	}
	if len(plan.Tasks) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(plan.Tasks))
	}
}

func TestStageExecuteRunsAllTasks(t *testing.T) {
	encoder := &fakeEncoder{}
	stage := newTestStage(t, encoder)
	item := preparedItem(t, stage)

	if err := stage.Execute(context.Background(), item); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	specs := encoder.specs()
	if len(specs) != 3 {
		t.Fatalf("expected 3 encodes, got %d", len(specs))
	}
	plan, err := DecodePlan(item)
	if err != nil {
		t.Fatal(err)
	}
	for _, task := range plan.Tasks {
		if task.State != TaskCompleted {
			t.Fatalf("task %d not completed: %q", task.StreamIndex, task.State)
		}
	}
}

func TestStageExecuteFailureDoesNotAbortSiblings(t *testing.T) {
	encoder := &fakeEncoder{failStreams: map[int]bool{1: true}}
	stage := newTestStage(t, encoder)
	item := preparedItem(t, stage)

	err := stage.Execute(context.Background(), item)
	if err == nil {
		t.Fatal("expected aggregated failure")
	}
	if !strings.Contains(err.Error(), "1 of 3 tasks failed") {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := len(encoder.specs()); got != 3 {
		t.Fatalf("siblings should still run, got %d encodes", got)
	}
	plan, decodeErr := DecodePlan(item)
	if decodeErr != nil {
		t.Fatal(decodeErr)
	}
	var failed, completed int
	for _, task := range plan.Tasks {
		switch task.State {
		case TaskFailed:
			failed++
			if task.Error == "" {
				t.Fatal("failed task missing error detail")
			}
		case TaskCompleted:
			completed++
		}
	}
	if failed != 1 || completed != 2 {
		t.Fatalf("expected 1 failed and 2 completed, got %d/%d", failed, completed)
	}
}

func TestStageExecuteCancellation(t *testing.T) {
	encoder := &fakeEncoder{block: make(chan struct{})}
	stage := newTestStage(t, encoder)
	item := preparedItem(t, stage)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- stage.Execute(ctx, item) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	err := <-done
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	plan, decodeErr := DecodePlan(item)
	if decodeErr != nil {
		t.Fatal(decodeErr)
	}
	for _, task := range plan.Tasks {
		if task.State == TaskCompleted {
			t.Fatalf("no task should complete after cancellation: %#v", task)
		}
		if task.State != TaskCancelled {
			t.Fatalf("task %d not cancelled: %q", task.StreamIndex, task.State)
		}
	}
}

func TestStageExecuteWithoutPlan(t *testing.T) {
	stage := newTestStage(t, &fakeEncoder{})
	item := &queue.Item{ID: 8, SourcePath: "/media/in.mkv"}
	if err := stage.Execute(context.Background(), item); err == nil {
		t.Fatal("expected error without a plan")
	}
}
