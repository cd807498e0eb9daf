package vmafsearch

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"importq/internal/queue"
	"importq/internal/testsupport"
)

func newTestStage(t *testing.T, client *fakeClient) (*Stage, string) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	stage := NewStage(cfg, newTestEngine(client), nil, nil)
	workDir := filepath.Join(t.TempDir(), "calibration")
	stage.workDir = func(*queue.Item) string { return workDir }
	return stage, workDir
}

func TestStageExecuteRecordsResult(t *testing.T) {
	client := &fakeClient{scores: curve(30), available: map[string]bool{"av1_nvenc": true}}
	stage, workDir := newTestStage(t, client)
	item := &queue.Item{ID: 7, SourcePath: "/media/in.mkv"}

	if err := stage.Prepare(context.Background(), item); err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if _, err := os.Stat(workDir); err != nil {
		t.Fatalf("work dir not created: %v", err)
	}
	if err := stage.Execute(context.Background(), item); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	result, err := item.VmafResult()
	if err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result == nil || result.CQ < 10 || result.CQ > 50 {
		t.Fatalf("unexpected result %#v", result)
	}
	if _, err := os.Stat(workDir); !os.IsNotExist(err) {
		t.Fatalf("work dir must be removed after the search, stat err: %v", err)
	}
}

func TestStageSkipsSearchWhenResultPresent(t *testing.T) {
	client := &fakeClient{scores: curve(30), available: map[string]bool{"av1_nvenc": true}}
	stage, workDir := newTestStage(t, client)

	item := &queue.Item{ID: 8, SourcePath: "/media/in.mkv"}
	if err := item.SetVmafResult(&queue.VmafResult{CQ: 27, Score: 95.2, Iterations: 3}); err != nil {
		t.Fatalf("seed result: %v", err)
	}

	if err := stage.Prepare(context.Background(), item); err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if _, err := os.Stat(workDir); !os.IsNotExist(err) {
		t.Fatal("work dir must not be created when a result already exists")
	}
	if err := stage.Execute(context.Background(), item); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if client.encodeCalls != 0 || client.sampleCalls != 0 {
		t.Fatalf("search must be skipped, got %d encodes %d samples", client.encodeCalls, client.sampleCalls)
	}
}
