// Package progress coalesces high-frequency task progress into periodic,
// monotonic item-level updates persisted to the queue and published on the
// event bus.
package progress
