package api

import "encoding/json"

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// QueueItem describes a queue entry in a transport-friendly format.
type QueueItem struct {
	ID            int64           `json:"id"`
	SourcePath    string          `json:"sourcePath"`
	Title         string          `json:"title"`
	Status        string          `json:"status"`
	Priority      int             `json:"priority"`
	Progress      QueueProgress   `json:"progress"`
	ErrorMessage  string          `json:"errorMessage,omitempty"`
	AddedAt       string          `json:"addedAt,omitempty"`
	UpdatedAt     string          `json:"updatedAt,omitempty"`
	StartedAt     string          `json:"startedAt,omitempty"`
	CompletedAt   string          `json:"completedAt,omitempty"`
	FinalFile     string          `json:"finalFile,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`
	VmafResult    json.RawMessage `json:"vmafResult,omitempty"`
}

// QueueProgress captures stage progress information for a queue entry.
type QueueProgress struct {
	Stage   string  `json:"stage"`
	Percent float64 `json:"percent"`
	Message string  `json:"message"`
}

// ControlStatus summarizes the scheduler's pickup state.
type ControlStatus struct {
	Running   bool `json:"running"`
	Paused    bool `json:"paused"`
	AutoStart bool `json:"autoStart"`
}

// StageHealth mirrors readiness reporting for workflow stages.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool           `json:"running"`
	PID          int            `json:"pid"`
	QueueDBPath  string         `json:"queueDbPath"`
	LockFilePath string         `json:"lockFilePath"`
	Control      ControlStatus  `json:"control"`
	QueueStats   map[string]int `json:"queueStats"`
	ActiveItem   *QueueItem     `json:"activeItem,omitempty"`
	StageHealth  []StageHealth  `json:"stageHealth"`
}

// QueueStatsResponse provides a normalized queue stats payload.
type QueueStatsResponse struct {
	Counts map[string]int `json:"counts"`
}

// QueueListResponse wraps a collection of queue items for API responses.
type QueueListResponse struct {
	Items []QueueItem `json:"items"`
}

// QueueItemResponse wraps a single queue item.
type QueueItemResponse struct {
	Item QueueItem `json:"item"`
}
