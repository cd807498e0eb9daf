package api

import (
	"encoding/json"
	"sort"

	"importq/internal/queue"
	"importq/internal/stage"
)

// FromQueueItem converts a queue record to its API representation.
func FromQueueItem(item *queue.Item) QueueItem {
	if item == nil {
		return QueueItem{}
	}

	dto := QueueItem{
		ID:         item.ID,
		SourcePath: item.SourcePath,
		Title:      item.Title,
		Status:     string(item.Status),
		Priority:   item.Priority,
		Progress: QueueProgress{
			Stage:   item.ProgressStage,
			Percent: item.ProgressPercent,
			Message: item.ProgressMessage,
		},
		ErrorMessage:  item.ErrorMessage,
		FinalFile:     item.FinalFile,
		CorrelationID: item.CorrelationID,
	}
	if !item.AddedAt.IsZero() {
		dto.AddedAt = item.AddedAt.UTC().Format(dateTimeFormat)
	}
	if !item.UpdatedAt.IsZero() {
		dto.UpdatedAt = item.UpdatedAt.UTC().Format(dateTimeFormat)
	}
	if item.StartedAt != nil {
		dto.StartedAt = item.StartedAt.UTC().Format(dateTimeFormat)
	}
	if item.CompletedAt != nil {
		dto.CompletedAt = item.CompletedAt.UTC().Format(dateTimeFormat)
	}
	if raw := item.VmafResultJSON; raw != "" {
		dto.VmafResult = json.RawMessage(raw)
	}
	return dto
}

// FromQueueItems converts a slice of queue records into API DTOs.
func FromQueueItems(items []*queue.Item) []QueueItem {
	if len(items) == 0 {
		return nil
	}
	out := make([]QueueItem, 0, len(items))
	for _, item := range items {
		out = append(out, FromQueueItem(item))
	}
	return out
}

// MergeQueueStats produces a string-keyed representation of queue stats.
func MergeQueueStats(stats map[queue.Status]int) map[string]int {
	out := make(map[string]int, len(stats))
	for status, count := range stats {
		out[string(status)] = count
	}
	return out
}

// StageHealthSlice converts a stage health map into a deterministic slice.
func StageHealthSlice(health map[string]stage.Health) []StageHealth {
	if len(health) == 0 {
		return nil
	}
	names := make([]string, 0, len(health))
	for name := range health {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]StageHealth, 0, len(names))
	for _, name := range names {
		h := health[name]
		out = append(out, StageHealth{Name: name, Ready: h.Ready, Detail: h.Detail})
	}
	return out
}
