package ipc

import (
	"importq/internal/api"
	"importq/internal/queue"
)

// StatusRequest asks for daemon runtime information.
type StatusRequest struct{}

// StatusResponse carries the daemon status snapshot.
type StatusResponse struct {
	Status api.DaemonStatus `json:"status"`
}

// QueueHealthRequest asks for aggregate queue counts.
type QueueHealthRequest struct{}

// QueueHealthResponse carries aggregate queue counts.
type QueueHealthResponse struct {
	Health queue.HealthSummary `json:"health"`
}

// DatabaseHealthRequest asks for detailed database diagnostics.
type DatabaseHealthRequest struct{}

// DatabaseHealthResponse carries database diagnostics.
type DatabaseHealthResponse struct {
	Health queue.DatabaseHealth `json:"health"`
}

// QueueAddRequest enqueues one or more source files.
type QueueAddRequest struct {
	Items []api.AddRequest `json:"items"`
}

// QueueAddResponse returns the created queue records.
type QueueAddResponse struct {
	Items []api.QueueItem `json:"items"`
}

// QueueListRequest filters queue items by optional status names.
type QueueListRequest struct {
	Statuses []string `json:"statuses,omitempty"`
}

// QueueListResponse carries the matching queue items.
type QueueListResponse struct {
	Items []api.QueueItem `json:"items"`
}

// QueueDescribeRequest asks for a single queue item.
type QueueDescribeRequest struct {
	ID int64 `json:"id"`
}

// QueueDescribeResponse carries one queue item when found.
type QueueDescribeResponse struct {
	Found bool          `json:"found"`
	Item  api.QueueItem `json:"item,omitempty"`
}

// QueueStatsRequest asks for per-status queue counts.
type QueueStatsRequest struct{}

// QueueStatsResponse carries per-status queue counts.
type QueueStatsResponse struct {
	Counts map[string]int `json:"counts"`
}

// QueueCancelRequest cancels one item.
type QueueCancelRequest struct {
	ID int64 `json:"id"`
}

// QueueCancelResponse reports the cancellation outcome.
type QueueCancelResponse struct {
	Result api.CancelItemResult `json:"result"`
}

// QueueCancelAllRequest cancels every pending and active item.
type QueueCancelAllRequest struct{}

// QueueCancelAllResponse reports per-item cancellation outcomes.
type QueueCancelAllResponse struct {
	Result api.CancelAllResult `json:"result"`
}

// QueueRetryRequest re-enqueues errored or cancelled items.
type QueueRetryRequest struct {
	IDs []int64 `json:"ids"`
}

// QueueRetryResponse reports per-item retry outcomes.
type QueueRetryResponse struct {
	Result api.RetryItemsResult `json:"result"`
}

// QueueRemoveRequest deletes pending or terminal items.
type QueueRemoveRequest struct {
	IDs []int64 `json:"ids"`
}

// QueueRemoveResponse reports per-item removal outcomes.
type QueueRemoveResponse struct {
	Result api.RemoveItemsResult `json:"result"`
}

// QueueReorderRequest moves pending items to the front in the given order.
type QueueReorderRequest struct {
	IDs []int64 `json:"ids"`
}

// QueueReorderResponse acknowledges a reorder.
type QueueReorderResponse struct{}

// QueueUpdateRequest edits a pending item.
type QueueUpdateRequest struct {
	ID     int64             `json:"id"`
	Update api.UpdateRequest `json:"update"`
}

// QueueUpdateResponse carries the updated item.
type QueueUpdateResponse struct {
	Item api.QueueItem `json:"item"`
}

// QueueClearRequest removes terminal items of one kind.
type QueueClearRequest struct{}

// QueueClearResponse reports how many items were removed.
type QueueClearResponse struct {
	Removed int64 `json:"removed"`
}

// ShutdownRequest asks the daemon process to exit.
type ShutdownRequest struct{}

// ShutdownResponse acknowledges a shutdown request.
type ShutdownResponse struct{}

// StartRequest asks the scheduler to promote the next pending item.
type StartRequest struct{}

// StartResponse acknowledges a start request.
type StartResponse struct{}

// PauseRequest suspends pickup of pending items.
type PauseRequest struct{}

// PauseResponse acknowledges a pause.
type PauseResponse struct{}

// ResumeRequest re-enables pickup of pending items.
type ResumeRequest struct{}

// ResumeResponse acknowledges a resume.
type ResumeResponse struct{}

// SetAutoStartRequest toggles automatic pickup.
type SetAutoStartRequest struct {
	Enabled bool `json:"enabled"`
}

// SetAutoStartResponse acknowledges the toggle.
type SetAutoStartResponse struct{}
