package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"importq/internal/api"
	"importq/internal/queue"
)

var statusCaser = cases.Title(language.English)

// statusDisplay renders a queue status constant as a human-readable label.
func statusDisplay(status string) string {
	return statusCaser.String(strings.ReplaceAll(status, "_", " "))
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid item id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func truncate(value string, max int) string {
	if max <= 3 || len(value) <= max {
		return value
	}
	return value[:max-3] + "..."
}

func formatPercent(percent float64) string {
	return fmt.Sprintf("%.1f%%", percent)
}

func buildQueueListRows(items []api.QueueItem) [][]string {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		progress := formatPercent(item.Progress.Percent)
		if item.Progress.Stage != "" {
			progress = fmt.Sprintf("%s %s", item.Progress.Stage, progress)
		}
		rows = append(rows, []string{
			strconv.FormatInt(item.ID, 10),
			truncate(item.Title, 40),
			statusDisplay(item.Status),
			strconv.Itoa(item.Priority),
			progress,
			truncate(item.SourcePath, 48),
		})
	}
	return rows
}

// buildQueueStatusRows orders status counts by pipeline position.
func buildQueueStatusRows(stats map[string]int) [][]string {
	ordered := make([]string, 0, len(queue.AllStatuses()))
	for _, status := range queue.AllStatuses() {
		ordered = append(ordered, string(status))
	}
	position := make(map[string]int, len(ordered))
	for i, status := range ordered {
		position[status] = i
	}

	names := make([]string, 0, len(stats))
	for name, count := range stats {
		if count == 0 {
			continue
		}
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		pi, iok := position[names[i]]
		pj, jok := position[names[j]]
		if iok && jok {
			return pi < pj
		}
		if iok != jok {
			return iok
		}
		return names[i] < names[j]
	})

	rows := make([][]string, 0, len(names))
	for _, name := range names {
		rows = append(rows, []string{statusDisplay(name), strconv.Itoa(stats[name])})
	}
	return rows
}
