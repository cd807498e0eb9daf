package queue

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Status represents the lifecycle of a queue item.
type Status string

const (
	StatusPending     Status = "pending"
	StatusVmaf        Status = "vmaf"
	StatusPreparing   Status = "preparing"
	StatusTranscoding Status = "transcoding"
	StatusPostprocess Status = "postprocess"
	StatusCompleted   Status = "completed"
	StatusError       Status = "error"
	StatusCancelled   Status = "cancelled"
)

// UserCancelReason is the error message set when a user explicitly cancels an item.
const UserCancelReason = "Cancelled by user"

// DaemonStopReason is the progress note set when in-flight items are reset at shutdown.
const DaemonStopReason = "Daemon stopped"

var allStatuses = []Status{
	StatusPending,
	StatusVmaf,
	StatusPreparing,
	StatusTranscoding,
	StatusPostprocess,
	StatusCompleted,
	StatusError,
	StatusCancelled,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

var processingStatuses = map[Status]struct{}{
	StatusVmaf:        {},
	StatusPreparing:   {},
	StatusTranscoding: {},
	StatusPostprocess: {},
}

var legalTransitions = map[Status][]Status{
	StatusPending:     {StatusVmaf, StatusPreparing, StatusCancelled},
	StatusVmaf:        {StatusPreparing, StatusError, StatusCancelled, StatusPending},
	StatusPreparing:   {StatusTranscoding, StatusError, StatusCancelled, StatusPending},
	StatusTranscoding: {StatusPostprocess, StatusError, StatusCancelled, StatusPending},
	StatusPostprocess: {StatusCompleted, StatusError, StatusCancelled, StatusPending},
	StatusError:       {StatusPending},
	StatusCancelled:   {StatusPending},
	StatusCompleted:   {},
}

// CanTransition reports whether moving an item from one status to another is
// legal. Processing statuses can always fall back to pending so crash
// recovery and cancellation reuse the same edge as normal retries.
func CanTransition(from, to Status) bool {
	for _, candidate := range legalTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsProcessingStatus reports whether a status reflects an in-flight operation.
func IsProcessingStatus(status Status) bool {
	_, ok := processingStatuses[status]
	return ok
}

// IsTerminalStatus reports whether a status ends an item's lifecycle.
func IsTerminalStatus(status Status) bool {
	switch status {
	case StatusCompleted, StatusError, StatusCancelled:
		return true
	default:
		return false
	}
}

// VmafResult records the outcome of quality calibration for an item. It is
// persisted as JSON on the queue item so a restart does not repeat the search.
type VmafResult struct {
	CQ           int       `json:"cq"`
	Score        float64   `json:"score"`
	Iterations   int       `json:"iterations"`
	Degraded     bool      `json:"degraded,omitempty"`
	UsedFallback bool      `json:"used_fallback,omitempty"`
	MeasuredAt   time.Time `json:"measured_at"`
}

// DatabaseHealth captures diagnostic information about the queue database.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	SchemaVersion    string
	TableExists      bool
	ColumnsPresent   []string
	MissingColumns   []string
	IntegrityCheck   bool
	TotalItems       int
	Error            string
}

// HealthSummary describes aggregated queue counts per key lifecycle states.
type HealthSummary struct {
	Total      int
	Pending    int
	Processing int
	Errored    int
	Completed  int
	Cancelled  int
}

// Item represents a queue item persisted in SQLite.
type Item struct {
	ID              int64
	SourcePath      string
	Title           string
	Status          Status
	Priority        int
	ErrorMessage    string
	AddedAt         time.Time
	UpdatedAt       time.Time
	ProgressStage   string
	ProgressPercent float64
	ProgressMessage string
	VmafResultJSON  string
	EncodePlanJSON  string
	StagingDir      string
	FinalFile       string
	CorrelationID   string
	LastHeartbeat   *time.Time
	CancelRequested bool
	StartedAt       *time.Time
	CompletedAt     *time.Time
}

// IsProcessing returns true when the status reflects an in-flight operation.
func (i Item) IsProcessing() bool {
	return IsProcessingStatus(i.Status)
}

// VmafResult decodes the persisted calibration result, if any.
func (i *Item) VmafResult() (*VmafResult, error) {
	if strings.TrimSpace(i.VmafResultJSON) == "" {
		return nil, nil
	}
	var result VmafResult
	if err := json.Unmarshal([]byte(i.VmafResultJSON), &result); err != nil {
		return nil, errors.New("decode vmaf result: " + err.Error())
	}
	return &result, nil
}

// SetVmafResult persists the calibration result on the item.
func (i *Item) SetVmafResult(result *VmafResult) error {
	if result == nil {
		i.VmafResultJSON = ""
		return nil
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return errors.New("encode vmaf result: " + err.Error())
	}
	i.VmafResultJSON = string(payload)
	return nil
}

// SetProgress updates all three progress fields together.
func (i *Item) SetProgress(stage, message string, percent float64) {
	i.ProgressStage = stage
	i.ProgressMessage = message
	i.ProgressPercent = percent
}

// SetFailed marks the item as errored with the given message.
func (i *Item) SetFailed(message string) {
	i.Status = StatusError
	i.ErrorMessage = message
	i.ProgressPercent = 0
	i.ProgressMessage = message
	i.ProgressStage = "Failed"
	i.LastHeartbeat = nil
}
