package queue_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"importq/internal/queue"
	"importq/internal/testsupport"
)

func TestOpenCreatesSchemaAndAdds(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	item, err := store.Add(ctx, "/media/in/movie.mkv", "")
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if item.ID == 0 {
		t.Fatal("expected item ID to be assigned")
	}
	if item.Status != queue.StatusPending {
		t.Fatalf("expected pending, got %s", item.Status)
	}
	if item.Title != "movie" {
		t.Fatalf("expected inferred title %q, got %q", "movie", item.Title)
	}

	fetched, err := store.GetByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if fetched == nil || fetched.SourcePath != "/media/in/movie.mkv" {
		t.Fatalf("unexpected fetched item: %#v", fetched)
	}
}

func TestGetByIDUnknownReturnsNotFound(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	item, err := store.GetByID(context.Background(), 424242)
	if !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if item != nil {
		t.Fatalf("expected nil item on missing row, got %#v", item)
	}
}

func TestAddRequiresSourcePath(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	if _, err := store.Add(context.Background(), "  ", "title"); err == nil {
		t.Fatal("expected error when source path missing")
	}
}

func TestListOrdersByPriorityThenAddedAt(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 4; i++ {
		item := testsupport.AddItem(t, store, fmt.Sprintf("/media/in/file-%d.mkv", i), "")
		ids = append(ids, item.ID)
	}

	items, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(items) != 4 {
		t.Fatalf("expected 4 items, got %d", len(items))
	}
	for i, item := range items {
		if item.ID != ids[i] {
			t.Fatalf("position %d: expected id %d, got %d", i, ids[i], item.ID)
		}
	}

	// Promote the last item to the front.
	if err := store.Reorder(ctx, []int64{ids[3]}); err != nil {
		t.Fatalf("Reorder failed: %v", err)
	}
	items, err = store.List(ctx)
	if err != nil {
		t.Fatalf("List after reorder failed: %v", err)
	}
	want := []int64{ids[3], ids[0], ids[1], ids[2]}
	for i, item := range items {
		if item.ID != want[i] {
			t.Fatalf("after reorder position %d: expected id %d, got %d", i, want[i], item.ID)
		}
	}

	next, err := store.NextPending(ctx)
	if err != nil {
		t.Fatalf("NextPending failed: %v", err)
	}
	if next == nil || next.ID != ids[3] {
		t.Fatalf("expected next pending %d, got %#v", ids[3], next)
	}
}

func TestReorderUnknownID(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	err := store.Reorder(context.Background(), []int64{999})
	if err == nil {
		t.Fatal("expected error for unknown id")
	}
}

func TestUpdateProgressIsMonotonic(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	item := testsupport.AddItem(t, store, "/media/in/mono.mkv", "")
	if err := store.UpdateProgress(ctx, item.ID, "Transcoding", "encoding", 40); err != nil {
		t.Fatalf("UpdateProgress failed: %v", err)
	}
	// A stale lower sample must not reduce the persisted percent.
	if err := store.UpdateProgress(ctx, item.ID, "Transcoding", "encoding", 25); err != nil {
		t.Fatalf("UpdateProgress failed: %v", err)
	}
	got, err := store.GetByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.ProgressPercent != 40 {
		t.Fatalf("expected progress 40, got %v", got.ProgressPercent)
	}

	if err := store.UpdateProgress(ctx, item.ID, "Transcoding", "encoding", 250); err != nil {
		t.Fatalf("UpdateProgress failed: %v", err)
	}
	got, err = store.GetByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.ProgressPercent != 100 {
		t.Fatalf("expected clamped progress 100, got %v", got.ProgressPercent)
	}
}

func TestUpdateProgressLeavesTerminalItems(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	item := testsupport.AddItem(t, store, "/media/in/settled.mkv", "")
	if err := store.UpdateProgress(ctx, item.ID, "Transcoding", "encoding", 47); err != nil {
		t.Fatalf("UpdateProgress failed: %v", err)
	}
	if _, err := store.Transition(ctx, item.ID, queue.StatusPending, queue.StatusPreparing, nil); err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	if _, err := store.Transition(ctx, item.ID, queue.StatusPreparing, queue.StatusError, func(it *queue.Item) error {
		it.SetFailed("encode failed")
		return nil
	}); err != nil {
		t.Fatalf("transition to error failed: %v", err)
	}

	// A sample arriving after the item settled must not overwrite the
	// terminal stage or resurrect the old percent.
	if err := store.UpdateProgress(ctx, item.ID, "Transcoding", "encoding", 47); err != nil {
		t.Fatalf("UpdateProgress failed: %v", err)
	}
	got, err := store.GetByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.ProgressStage != "Failed" || got.ProgressPercent != 0 {
		t.Fatalf("terminal item overwritten by late sample: stage=%q percent=%v", got.ProgressStage, got.ProgressPercent)
	}
}

func TestReorderSkipsNonPendingItems(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	done := testsupport.AddItem(t, store, "/media/in/done.mkv", "")
	first := testsupport.AddItem(t, store, "/media/in/first.mkv", "")
	second := testsupport.AddItem(t, store, "/media/in/second.mkv", "")

	done.Status = queue.StatusCompleted
	if err := store.Update(ctx, done); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	donePriority := done.Priority

	if err := store.Reorder(ctx, []int64{second.ID}); err != nil {
		t.Fatalf("Reorder failed: %v", err)
	}

	got, err := store.GetByID(ctx, done.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Priority != donePriority {
		t.Fatalf("completed item renumbered: had %d, got %d", donePriority, got.Priority)
	}

	pending, err := store.List(ctx, queue.StatusPending)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	want := []int64{second.ID, first.ID}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending items, got %d", len(pending))
	}
	for i, item := range pending {
		if item.ID != want[i] {
			t.Fatalf("pending position %d: expected id %d, got %d", i, want[i], item.ID)
		}
	}
}

func TestClearCompletedLeavesOthers(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	done := testsupport.AddItem(t, store, "/media/in/done.mkv", "")
	pending := testsupport.AddItem(t, store, "/media/in/waiting.mkv", "")

	done.Status = queue.StatusCompleted
	if err := store.Update(ctx, done); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	removed, err := store.ClearCompleted(ctx)
	if err != nil {
		t.Fatalf("ClearCompleted failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	remaining, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(remaining) != 1 || remaining[0].ID != pending.ID {
		t.Fatalf("unexpected remaining items: %#v", remaining)
	}
}

func TestVmafResultRoundTrip(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	item := testsupport.AddItem(t, store, "/media/in/calibrated.mkv", "")
	if err := item.SetVmafResult(&queue.VmafResult{CQ: 28, Score: 95.2, Iterations: 3}); err != nil {
		t.Fatalf("SetVmafResult failed: %v", err)
	}
	if err := store.Update(ctx, item); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, err := store.GetByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	result, err := got.VmafResult()
	if err != nil {
		t.Fatalf("VmafResult failed: %v", err)
	}
	if result == nil || result.CQ != 28 || result.Score != 95.2 {
		t.Fatalf("unexpected result: %#v", result)
	}
}

func TestStatsAndHealth(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	a := testsupport.AddItem(t, store, "/media/in/a.mkv", "")
	testsupport.AddItem(t, store, "/media/in/b.mkv", "")
	a.Status = queue.StatusError
	a.ErrorMessage = "ffmpeg exited 1"
	if err := store.Update(ctx, a); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	health, err := store.Health(ctx)
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if health.Total != 2 || health.Pending != 1 || health.Errored != 1 {
		t.Fatalf("unexpected health: %#v", health)
	}

	dbHealth, err := store.CheckHealth(ctx)
	if err != nil {
		t.Fatalf("CheckHealth failed: %v", err)
	}
	if !dbHealth.DatabaseExists || !dbHealth.TableExists || !dbHealth.IntegrityCheck {
		t.Fatalf("unexpected db health: %#v", dbHealth)
	}
	if len(dbHealth.MissingColumns) != 0 {
		t.Fatalf("missing columns reported: %v", dbHealth.MissingColumns)
	}
}
