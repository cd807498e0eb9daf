// Package queue persists import queue items in SQLite and owns the status
// state machine, including the single processing slot that guarantees at
// most one item is in flight at a time.
package queue
