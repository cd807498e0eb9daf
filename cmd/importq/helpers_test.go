package main

import (
	"testing"

	"importq/internal/api"
)

func TestParseIDs(t *testing.T) {
	ids, err := parseIDs([]string{"3", " 7 ", "12"})
	if err != nil {
		t.Fatalf("parseIDs failed: %v", err)
	}
	if len(ids) != 3 || ids[0] != 3 || ids[1] != 7 || ids[2] != 12 {
		t.Fatalf("unexpected ids %v", ids)
	}

	for _, bad := range []string{"abc", "0", "-4", ""} {
		if _, err := parseIDs([]string{bad}); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestStatusDisplay(t *testing.T) {
	if got := statusDisplay("pending"); got != "Pending" {
		t.Fatalf("unexpected display %q", got)
	}
	if got := statusDisplay("vmaf_search"); got != "Vmaf Search" {
		t.Fatalf("unexpected display %q", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Fatalf("unexpected %q", got)
	}
	if got := truncate("a-rather-long-value", 10); got != "a-rathe..." {
		t.Fatalf("unexpected %q", got)
	}
}

func TestBuildQueueStatusRowsOrder(t *testing.T) {
	rows := buildQueueStatusRows(map[string]int{
		"completed": 2,
		"pending":   5,
		"error":     1,
		"cancelled": 0,
	})
	if len(rows) != 3 {
		t.Fatalf("zero counts must be dropped, got %v", rows)
	}
	if rows[0][0] != "Pending" {
		t.Fatalf("pending must sort first, got %v", rows)
	}
}

func TestBuildQueueListRows(t *testing.T) {
	rows := buildQueueListRows([]api.QueueItem{{
		ID:         4,
		Title:      "Some Show",
		Status:     "transcoding",
		Priority:   2,
		SourcePath: "/media/some-show.mkv",
		Progress:   api.QueueProgress{Stage: "Transcoding", Percent: 42.5},
	}})
	if len(rows) != 1 {
		t.Fatalf("expected one row, got %d", len(rows))
	}
	row := rows[0]
	if row[0] != "4" || row[2] != "Transcoding" || row[4] != "Transcoding 42.5%" {
		t.Fatalf("unexpected row %v", row)
	}
}

func TestRootCommandWiring(t *testing.T) {
	root := newRootCommand()
	for _, name := range []string{"add", "show", "status", "start", "pause", "resume", "autostart", "queue", "daemon", "config"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd == root {
			t.Fatalf("missing subcommand %q", name)
		}
	}
}
