// Package stage defines the contract between the workflow manager and the
// processing stages an item moves through.
package stage

import (
	"context"

	"importq/internal/queue"
)

// Handler describes the contract the workflow manager needs from each stage.
// Prepare runs before the stage's processing status is entered and may
// mutate the item; Execute performs the work and is expected to honour
// context cancellation.
type Handler interface {
	Prepare(context.Context, *queue.Item) error
	Execute(context.Context, *queue.Item) error
	HealthCheck(context.Context) Health
}
