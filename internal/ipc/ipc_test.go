package ipc_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"importq/internal/api"
	"importq/internal/config"
	"importq/internal/daemon"
	"importq/internal/ipc"
	"importq/internal/queue"
	"importq/internal/stage"
	"importq/internal/testsupport"
	"importq/internal/workflow"
)

type noopStage struct{}

func (noopStage) Prepare(context.Context, *queue.Item) error { return nil }

func (noopStage) Execute(context.Context, *queue.Item) error { return nil }

func (noopStage) HealthCheck(context.Context) stage.Health { return stage.Healthy("noop") }

func waitForStatus(t *testing.T, store *queue.Store, id int64, want queue.Status) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		item, err := store.GetByID(context.Background(), id)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if item.Status == want {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	item, _ := store.GetByID(context.Background(), id)
	t.Fatalf("item %d never reached %s, last status %s", id, want, item.Status)
}

func TestIPCServerClient(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithVmafDisabled(), func(cfg *config.Config) {
		cfg.Workflow.AutoStart = false
	})
	store := testsupport.MustOpenStore(t, cfg)

	manager := workflow.NewManager(cfg, store, workflow.Stages{
		Vmaf:        noopStage{},
		Transcoding: noopStage{},
		Postprocess: noopStage{},
	}, nil, nil, nil)
	svc := api.NewQueueService(store, manager)
	d, err := daemon.New(cfg, store, nil, manager, svc)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { d.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := d.Start(ctx); err != nil {
		t.Fatalf("daemon start: %v", err)
	}

	srv, err := ipc.NewServer(ctx, cfg.Paths.SocketPath, d, nil)
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping IPC server test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(srv.Close)

	client, err := ipc.Dial(cfg.Paths.SocketPath)
	if err != nil {
		t.Fatalf("ipc.Dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	addResp, err := client.QueueAdd([]api.AddRequest{
		{Path: "/media/a.mkv"},
		{Path: "/media/b.mkv", Title: "Second"},
	})
	if err != nil {
		t.Fatalf("QueueAdd failed: %v", err)
	}
	if len(addResp.Items) != 2 {
		t.Fatalf("expected 2 added items, got %d", len(addResp.Items))
	}
	first := addResp.Items[0]
	second := addResp.Items[1]

	stats, err := client.QueueStats()
	if err != nil {
		t.Fatalf("QueueStats failed: %v", err)
	}
	if stats.Counts[string(queue.StatusPending)] != 2 {
		t.Fatalf("unexpected stats %v", stats.Counts)
	}

	describe, err := client.QueueDescribe(first.ID)
	if err != nil {
		t.Fatalf("QueueDescribe failed: %v", err)
	}
	if !describe.Found || describe.Item.ID != first.ID {
		t.Fatalf("unexpected describe response %#v", describe)
	}
	missing, err := client.QueueDescribe(9999)
	if err != nil {
		t.Fatalf("QueueDescribe missing failed: %v", err)
	}
	if missing.Found {
		t.Fatal("expected missing item to report not found")
	}

	pending, err := client.QueueList([]string{string(queue.StatusPending)})
	if err != nil {
		t.Fatalf("QueueList failed: %v", err)
	}
	if len(pending.Items) != 2 {
		t.Fatalf("expected 2 pending items, got %d", len(pending.Items))
	}
	if _, err := client.QueueList([]string{"bogus"}); err == nil {
		t.Fatal("unknown status filter must fail")
	}

	if err := client.Pause(); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	if err := client.Start(); err == nil {
		t.Fatal("start must be rejected while paused")
	}
	if err := client.Resume(); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}

	if err := client.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitForStatus(t, store, first.ID, queue.StatusCompleted)

	renamed := "Renamed"
	updateResp, err := client.QueueUpdate(second.ID, api.UpdateRequest{Title: &renamed})
	if err != nil {
		t.Fatalf("QueueUpdate failed: %v", err)
	}
	if updateResp.Item.Title != renamed {
		t.Fatalf("unexpected updated title %q", updateResp.Item.Title)
	}
	if err := client.QueueReorder([]int64{second.ID}); err != nil {
		t.Fatalf("QueueReorder failed: %v", err)
	}

	cancelResp, err := client.QueueCancel(second.ID)
	if err != nil {
		t.Fatalf("QueueCancel failed: %v", err)
	}
	if cancelResp.Result.Outcome != api.CancelItemCancelled {
		t.Fatalf("unexpected cancel outcome %s", cancelResp.Result.Outcome)
	}

	retryResp, err := client.QueueRetry([]int64{second.ID})
	if err != nil {
		t.Fatalf("QueueRetry failed: %v", err)
	}
	if retryResp.Result.RetriedCount != 1 {
		t.Fatalf("expected 1 retried item, got %d", retryResp.Result.RetriedCount)
	}

	removeResp, err := client.QueueRemove([]int64{second.ID})
	if err != nil {
		t.Fatalf("QueueRemove failed: %v", err)
	}
	if removeResp.Result.RemovedCount != 1 {
		t.Fatalf("expected 1 removed item, got %d", removeResp.Result.RemovedCount)
	}

	cleared, err := client.QueueClearCompleted()
	if err != nil {
		t.Fatalf("QueueClearCompleted failed: %v", err)
	}
	if cleared.Removed != 1 {
		t.Fatalf("expected 1 completed item cleared, got %d", cleared.Removed)
	}

	status, err := client.Status()
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if !status.Status.Running || status.Status.PID <= 0 {
		t.Fatalf("unexpected status %#v", status.Status)
	}
	if status.Status.Control.Paused {
		t.Fatal("queue must not be paused after resume")
	}

	health, err := client.QueueHealth()
	if err != nil {
		t.Fatalf("QueueHealth failed: %v", err)
	}
	if health.Health.Total != 0 {
		t.Fatalf("expected empty queue, got %#v", health.Health)
	}

	dbHealth, err := client.DatabaseHealth()
	if err != nil {
		t.Fatalf("DatabaseHealth failed: %v", err)
	}
	if !strings.HasSuffix(dbHealth.Health.DBPath, "queue.db") {
		t.Fatalf("unexpected db path %s", dbHealth.Health.DBPath)
	}

	if err := client.SetAutoStart(true); err != nil {
		t.Fatalf("SetAutoStart failed: %v", err)
	}

	cancelAll, err := client.QueueCancelAll()
	if err != nil {
		t.Fatalf("QueueCancelAll failed: %v", err)
	}
	if cancelAll.Result.CancelledCount != 0 || cancelAll.Result.RequestedCount != 0 {
		t.Fatalf("expected empty cancel-all result, got %#v", cancelAll.Result)
	}

	errored, err := client.QueueClearErrored()
	if err != nil {
		t.Fatalf("QueueClearErrored failed: %v", err)
	}
	if errored.Removed != 0 {
		t.Fatalf("expected no errored items, got %d", errored.Removed)
	}
}
