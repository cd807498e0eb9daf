package events

import (
	"time"

	"importq/internal/queue"
)

// Type identifies the kind of notification.
type Type string

const (
	// TypeStateChanged carries a full queue snapshot summary after any
	// mutation (add, remove, reorder, clear, pause, resume).
	TypeStateChanged Type = "state-changed"

	// TypeItemStatus carries a single item's status transition.
	TypeItemStatus Type = "item-status"

	// TypeItemProgress carries a coalesced progress update for one item.
	TypeItemProgress Type = "item-progress"
)

// StatusChange describes a status transition on one item.
type StatusChange struct {
	From queue.Status `json:"from"`
	To   queue.Status `json:"to"`
}

// ProgressUpdate describes item-level progress at flush time.
type ProgressUpdate struct {
	Stage   string  `json:"stage"`
	Percent float64 `json:"percent"`
	Message string  `json:"message,omitempty"`
	FPS     float64 `json:"fps,omitempty"`
	Speed   float64 `json:"speed,omitempty"`
}

// QueueSummary is the payload for state-changed events.
type QueueSummary struct {
	Total      int  `json:"total"`
	Pending    int  `json:"pending"`
	Processing int  `json:"processing"`
	Completed  int  `json:"completed"`
	Errored    int  `json:"errored"`
	Paused     bool `json:"paused"`
	AutoStart  bool `json:"auto_start"`
}

// Event is the envelope delivered to subscribers. Exactly one payload field
// is set, matching Type.
type Event struct {
	Type          Type            `json:"type"`
	ItemID        int64           `json:"item_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	At            time.Time       `json:"at"`
	Status        *StatusChange   `json:"status,omitempty"`
	Progress      *ProgressUpdate `json:"progress,omitempty"`
	Summary       *QueueSummary   `json:"summary,omitempty"`
}

// NewStatusEvent builds an item-status event.
func NewStatusEvent(itemID int64, correlationID string, from, to queue.Status) Event {
	return Event{
		Type:          TypeItemStatus,
		ItemID:        itemID,
		CorrelationID: correlationID,
		At:            time.Now().UTC(),
		Status:        &StatusChange{From: from, To: to},
	}
}

// NewProgressEvent builds an item-progress event.
func NewProgressEvent(itemID int64, correlationID string, update ProgressUpdate) Event {
	return Event{
		Type:          TypeItemProgress,
		ItemID:        itemID,
		CorrelationID: correlationID,
		At:            time.Now().UTC(),
		Progress:      &update,
	}
}

// NewStateEvent builds a state-changed event.
func NewStateEvent(summary QueueSummary) Event {
	return Event{
		Type:    TypeStateChanged,
		At:      time.Now().UTC(),
		Summary: &summary,
	}
}
