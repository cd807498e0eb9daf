package progress_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"importq/internal/events"
	"importq/internal/progress"
)

type recordingStore struct {
	mu      sync.Mutex
	updates []storeUpdate
}

type storeUpdate struct {
	id      int64
	stage   string
	percent float64
}

func (r *recordingStore) UpdateProgress(_ context.Context, id int64, stage, _ string, percent float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, storeUpdate{id: id, stage: stage, percent: percent})
	return nil
}

func (r *recordingStore) snapshot() []storeUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make([]storeUpdate, len(r.updates))
	copy(cp, r.updates)
	return cp
}

func TestAggregatorCoalescesSamples(t *testing.T) {
	store := &recordingStore{}
	agg := progress.NewAggregator(store, nil, 50*time.Millisecond, 0.85)
	defer agg.Close()

	agg.StartItem(1, "corr", "Calibrating")
	// Many samples inside one flush window collapse to at most a couple of writes.
	for i := 0; i <= 50; i++ {
		agg.ReportStage(1, "Calibrating", "searching", float64(i))
	}
	time.Sleep(120 * time.Millisecond)

	updates := store.snapshot()
	if len(updates) == 0 {
		t.Fatal("expected at least one flush")
	}
	if len(updates) > 4 {
		t.Fatalf("expected coalesced flushes, got %d", len(updates))
	}
	last := updates[len(updates)-1]
	if last.percent != 50 {
		t.Fatalf("expected latest percent 50, got %v", last.percent)
	}
}

func TestAggregatorMonotonicUnderOutOfOrderSamples(t *testing.T) {
	store := &recordingStore{}
	bus := events.NewBus(nil)
	defer bus.Close()
	sub := bus.Subscribe(128)
	defer sub.Close()

	agg := progress.NewAggregator(store, bus, 20*time.Millisecond, 0.85)
	defer agg.Close()

	agg.StartItem(2, "corr", "Transcoding")
	agg.BeginTasks(2, "Transcoding", 1, 2)

	agg.ReportTask(2, progress.TaskVideo, 0, 40, 120, 2.5)
	time.Sleep(50 * time.Millisecond)
	// Late, lower sample must not reduce flushed percent.
	agg.ReportTask(2, progress.TaskVideo, 0, 10, 0, 0)
	agg.ReportTask(2, progress.TaskAudio, 0, 100, 0, 0)
	time.Sleep(50 * time.Millisecond)
	agg.FinishItem(2)

	var prev float64 = -1
	for _, u := range store.snapshot() {
		if u.percent < prev {
			t.Fatalf("store percent decreased: %v after %v", u.percent, prev)
		}
		prev = u.percent
	}

	agg.Close()
	var eventPrev float64 = -1
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if ev.Type != events.TypeItemProgress {
				continue
			}
			if ev.Progress.Percent < eventPrev {
				t.Fatalf("event percent decreased: %v after %v", ev.Progress.Percent, eventPrev)
			}
			eventPrev = ev.Progress.Percent
		default:
			return
		}
	}
}

func TestAggregatorWeightedPools(t *testing.T) {
	store := &recordingStore{}
	agg := progress.NewAggregator(store, nil, 10*time.Millisecond, 0.8)

	agg.StartItem(3, "", "Transcoding")
	agg.BeginTasks(3, "Transcoding", 2, 2)
	agg.ReportTask(3, progress.TaskVideo, 0, 100, 0, 0)
	agg.ReportTask(3, progress.TaskVideo, 1, 50, 0, 0)
	agg.ReportTask(3, progress.TaskAudio, 0, 100, 0, 0)
	agg.ReportTask(3, progress.TaskAudio, 1, 0, 0, 0)
	agg.FinishItem(3)
	agg.Close()

	updates := store.snapshot()
	if len(updates) == 0 {
		t.Fatal("expected flush")
	}
	// video avg 75 * 0.8 + audio avg 50 * 0.2 = 70
	got := updates[len(updates)-1].percent
	if got < 69.9 || got > 70.1 {
		t.Fatalf("expected weighted percent 70, got %v", got)
	}
}

func TestAggregatorFinalFlushOnClose(t *testing.T) {
	store := &recordingStore{}
	// Long interval: without the close-time flush nothing would be written.
	agg := progress.NewAggregator(store, nil, time.Hour, 0.85)

	agg.StartItem(4, "", "Postprocess")
	agg.ReportStage(4, "Postprocess", "moving files", 90)
	agg.Close()

	updates := store.snapshot()
	if len(updates) != 1 {
		t.Fatalf("expected exactly one close-time flush, got %d", len(updates))
	}
	if updates[0].percent != 90 || updates[0].stage != "Postprocess" {
		t.Fatalf("unexpected flush %#v", updates[0])
	}
}

func TestAggregatorVideoOnlyPlan(t *testing.T) {
	store := &recordingStore{}
	agg := progress.NewAggregator(store, nil, 10*time.Millisecond, 0.85)

	agg.StartItem(5, "", "Transcoding")
	agg.BeginTasks(5, "Transcoding", 1, 0)
	agg.ReportTask(5, progress.TaskVideo, 0, 60, 0, 0)
	agg.FinishItem(5)
	agg.Close()

	updates := store.snapshot()
	if len(updates) == 0 {
		t.Fatal("expected flush")
	}
	if got := updates[len(updates)-1].percent; got != 60 {
		t.Fatalf("video-only plan should use full weight, got %v", got)
	}
}
