package queue

import "errors"

var (
	// ErrNotFound indicates the referenced queue item does not exist.
	ErrNotFound = errors.New("queue item not found")

	// ErrInvalidTransition indicates a status change the state machine forbids.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrStatusConflict indicates the item changed status since it was read.
	ErrStatusConflict = errors.New("queue item status conflict")

	// ErrSlotBusy indicates another item already holds the processing slot.
	ErrSlotBusy = errors.New("processing slot busy")
)
