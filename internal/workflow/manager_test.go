package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"importq/internal/config"
	"importq/internal/progress"
	"importq/internal/queue"
	"importq/internal/services"
	"importq/internal/stage"
	"importq/internal/testsupport"
)

// stubHandler records invocations and fails on demand.
type stubHandler struct {
	mu          sync.Mutex
	prepareRuns int
	executeRuns int
	prepareErr  error
	executeErr  error
	executeFn   func(ctx context.Context, item *queue.Item) error
}

func (s *stubHandler) Prepare(ctx context.Context, item *queue.Item) error {
	s.mu.Lock()
	s.prepareRuns++
	s.mu.Unlock()
	return s.prepareErr
}

func (s *stubHandler) Execute(ctx context.Context, item *queue.Item) error {
	s.mu.Lock()
	s.executeRuns++
	fn := s.executeFn
	err := s.executeErr
	s.mu.Unlock()
	if fn != nil {
		return fn(ctx, item)
	}
	return err
}

func (s *stubHandler) HealthCheck(ctx context.Context) stage.Health {
	return stage.Healthy("stub")
}

func (s *stubHandler) runs() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prepareRuns, s.executeRuns
}

type managerFixture struct {
	manager     *Manager
	store       *queue.Store
	transcoding *stubHandler
	postprocess *stubHandler
	vmaf        *stubHandler
}

func newFixture(t *testing.T, opts ...testsupport.ConfigOption) *managerFixture {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)
	return newFixtureWithConfig(t, cfg, store)
}

func newFixtureWithConfig(t *testing.T, cfg *config.Config, store *queue.Store) *managerFixture {
	t.Helper()
	f := &managerFixture{
		store:       store,
		transcoding: &stubHandler{},
		postprocess: &stubHandler{},
		vmaf:        &stubHandler{},
	}
	f.manager = NewManager(cfg, store, Stages{
		Vmaf:        f.vmaf,
		Transcoding: f.transcoding,
		Postprocess: f.postprocess,
	}, nil, nil, nil)
	return f
}

func (f *managerFixture) run(t *testing.T) {
	t.Helper()
	if err := f.manager.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	t.Cleanup(f.manager.Stop)
}

func waitForStatus(t *testing.T, store *queue.Store, id int64, want queue.Status) *queue.Item {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		item, err := store.GetByID(context.Background(), id)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if item.Status == want {
			return item
		}
		time.Sleep(20 * time.Millisecond)
	}
	item, _ := store.GetByID(context.Background(), id)
	t.Fatalf("item %d never reached %s, last status %s", id, want, item.Status)
	return nil
}

func TestManagerProcessesItemToCompletion(t *testing.T) {
	f := newFixture(t, testsupport.WithVmafDisabled())
	item := testsupport.AddItem(t, f.store, "/media/a.mkv", "")
	f.run(t)

	done := waitForStatus(t, f.store, item.ID, queue.StatusCompleted)
	if done.ProgressPercent != 100 {
		t.Fatalf("completed item must report 100%%, got %v", done.ProgressPercent)
	}
	if done.CorrelationID == "" {
		t.Fatal("completed item missing correlation id")
	}

	prepares, executes := f.transcoding.runs()
	if prepares != 1 || executes != 1 {
		t.Fatalf("transcoding runs: prepare=%d execute=%d", prepares, executes)
	}
	prepares, executes = f.postprocess.runs()
	if prepares != 1 || executes != 1 {
		t.Fatalf("postprocess runs: prepare=%d execute=%d", prepares, executes)
	}
	if p, e := f.vmaf.runs(); p != 0 || e != 0 {
		t.Fatalf("vmaf must not run when disabled: prepare=%d execute=%d", p, e)
	}
}

func TestManagerRunsCalibrationWhenEnabled(t *testing.T) {
	f := newFixture(t)
	item := testsupport.AddItem(t, f.store, "/media/a.mkv", "")
	f.run(t)

	waitForStatus(t, f.store, item.ID, queue.StatusCompleted)
	if p, e := f.vmaf.runs(); p != 1 || e != 1 {
		t.Fatalf("vmaf runs: prepare=%d execute=%d", p, e)
	}
}

func TestManagerRecordsStageFailure(t *testing.T) {
	f := newFixture(t, testsupport.WithVmafDisabled())
	f.transcoding.executeErr = services.Wrap(services.ErrExternalTool, "transcoding", "encode",
		"2 of 3 tasks failed", errors.New("encoder exploded"))
	item := testsupport.AddItem(t, f.store, "/media/a.mkv", "")
	f.run(t)

	failed := waitForStatus(t, f.store, item.ID, queue.StatusError)
	if failed.ErrorMessage == "" {
		t.Fatal("errored item missing message")
	}
	if p, _ := f.postprocess.runs(); p != 0 {
		t.Fatal("postprocess must not run after a failure")
	}

	// The slot must be free so the next item can be picked up.
	f.transcoding.mu.Lock()
	f.transcoding.executeErr = nil
	f.transcoding.mu.Unlock()
	next := testsupport.AddItem(t, f.store, "/media/b.mkv", "")
	waitForStatus(t, f.store, next.ID, queue.StatusCompleted)
}

func TestManagerFailureKeepsFinalProgressState(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithVmafDisabled())
	store := testsupport.MustOpenStore(t, cfg)
	aggregator := progress.NewAggregator(store, nil, 20*time.Millisecond, 0)
	t.Cleanup(aggregator.Close)

	f := &managerFixture{
		store:       store,
		transcoding: &stubHandler{},
		postprocess: &stubHandler{},
		vmaf:        &stubHandler{},
	}
	f.manager = NewManager(cfg, store, Stages{
		Vmaf:        f.vmaf,
		Transcoding: f.transcoding,
		Postprocess: f.postprocess,
	}, nil, aggregator, nil)

	f.transcoding.executeFn = func(ctx context.Context, item *queue.Item) error {
		aggregator.ReportStage(item.ID, "Transcoding", "encoding", 47)
		time.Sleep(60 * time.Millisecond)
		return services.Wrap(services.ErrExternalTool, "transcoding", "encode",
			"2 of 3 tasks failed", errors.New("encoder exploded"))
	}
	item := testsupport.AddItem(t, f.store, "/media/a.mkv", "")
	f.run(t)

	failed := waitForStatus(t, f.store, item.ID, queue.StatusError)
	if failed.ProgressStage != "Failed" || failed.ProgressPercent != 0 {
		t.Fatalf("errored item carries stale progress: stage=%q percent=%v",
			failed.ProgressStage, failed.ProgressPercent)
	}

	// No buffered sample may surface after the item settled.
	time.Sleep(100 * time.Millisecond)
	stored, err := f.store.GetByID(context.Background(), item.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.ProgressStage != "Failed" || stored.ProgressPercent != 0 {
		t.Fatalf("late flush overwrote the final state: stage=%q percent=%v",
			stored.ProgressStage, stored.ProgressPercent)
	}
}

func TestManagerPauseBlocksPickupOnly(t *testing.T) {
	f := newFixture(t, testsupport.WithVmafDisabled())
	f.manager.Pause()
	item := testsupport.AddItem(t, f.store, "/media/a.mkv", "")
	f.run(t)

	time.Sleep(300 * time.Millisecond)
	stored, err := f.store.GetByID(context.Background(), item.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != queue.StatusPending {
		t.Fatalf("paused queue must not pick up items, got %s", stored.Status)
	}
	if err := f.manager.Start(context.Background()); err == nil {
		t.Fatal("start must be rejected while paused")
	}

	f.manager.Resume()
	waitForStatus(t, f.store, item.ID, queue.StatusCompleted)
}

func TestManagerStartPromotesOneItemWithoutAutoStart(t *testing.T) {
	f := newFixture(t, testsupport.WithVmafDisabled(), func(cfg *config.Config) {
		cfg.Workflow.AutoStart = false
	})
	first := testsupport.AddItem(t, f.store, "/media/a.mkv", "")
	second := testsupport.AddItem(t, f.store, "/media/b.mkv", "")
	f.run(t)

	time.Sleep(300 * time.Millisecond)
	stored, err := f.store.GetByID(context.Background(), first.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != queue.StatusPending {
		t.Fatalf("auto-start off must not pick up items, got %s", stored.Status)
	}

	if err := f.manager.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitForStatus(t, f.store, first.ID, queue.StatusCompleted)

	time.Sleep(300 * time.Millisecond)
	stored, err = f.store.GetByID(context.Background(), second.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != queue.StatusPending {
		t.Fatalf("a single start must promote one item, second is %s", stored.Status)
	}
}

func TestManagerCancelRequestAbortsActiveItem(t *testing.T) {
	f := newFixture(t, testsupport.WithVmafDisabled())
	started := make(chan struct{})
	var once sync.Once
	f.transcoding.executeFn = func(ctx context.Context, item *queue.Item) error {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return ctx.Err()
	}
	item := testsupport.AddItem(t, f.store, "/media/a.mkv", "")
	f.run(t)

	<-started
	if err := f.store.RequestCancel(context.Background(), item.ID); err != nil {
		t.Fatal(err)
	}

	cancelled := waitForStatus(t, f.store, item.ID, queue.StatusCancelled)
	if cancelled.ErrorMessage != queue.UserCancelReason {
		t.Fatalf("unexpected cancel message %q", cancelled.ErrorMessage)
	}
	if cancelled.CancelRequested {
		t.Fatal("cancel flag must be cleared once honoured")
	}

	active, err := f.store.ActiveItemID(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if active != 0 {
		t.Fatalf("slot must be free after cancellation, held by %d", active)
	}
}

func TestManagerProcessesInPriorityOrder(t *testing.T) {
	f := newFixture(t, testsupport.WithVmafDisabled())
	var mu sync.Mutex
	var order []int64
	f.transcoding.executeFn = func(ctx context.Context, item *queue.Item) error {
		mu.Lock()
		order = append(order, item.ID)
		mu.Unlock()
		return nil
	}
	a := testsupport.AddItem(t, f.store, "/media/a.mkv", "")
	b := testsupport.AddItem(t, f.store, "/media/b.mkv", "")
	c := testsupport.AddItem(t, f.store, "/media/c.mkv", "")
	// Put b first, then c, then a.
	if err := f.store.Reorder(context.Background(), []int64{b.ID, c.ID}); err != nil {
		t.Fatal(err)
	}
	f.run(t)

	waitForStatus(t, f.store, a.ID, queue.StatusCompleted)
	waitForStatus(t, f.store, b.ID, queue.StatusCompleted)
	waitForStatus(t, f.store, c.ID, queue.StatusCompleted)

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 || order[0] != b.ID || order[1] != c.ID || order[2] != a.ID {
		t.Fatalf("unexpected processing order %v", order)
	}
}

func TestManagerStatusSummary(t *testing.T) {
	f := newFixture(t, testsupport.WithVmafDisabled())
	testsupport.AddItem(t, f.store, "/media/a.mkv", "")

	summary := f.manager.Status(context.Background())
	if summary.Running {
		t.Fatal("manager not started yet")
	}
	if summary.QueueStats[queue.StatusPending] != 1 {
		t.Fatalf("unexpected stats %v", summary.QueueStats)
	}
	if len(summary.StageHealth) != 3 {
		t.Fatalf("expected health for three stages, got %v", summary.StageHealth)
	}
}
