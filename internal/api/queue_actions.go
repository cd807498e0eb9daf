package api

import (
	"context"
	"errors"

	"importq/internal/queue"
)

type CancelItemOutcome string

const (
	CancelItemCancelled CancelItemOutcome = "cancelled"
	CancelItemRequested CancelItemOutcome = "cancel_requested"
	CancelItemNotFound  CancelItemOutcome = "not_found"
	CancelItemTerminal  CancelItemOutcome = "already_terminal"
)

type CancelItemResult struct {
	ID          int64             `json:"id"`
	Outcome     CancelItemOutcome `json:"outcome"`
	PriorStatus string            `json:"priorStatus,omitempty"`
}

type CancelAllResult struct {
	CancelledCount int64              `json:"cancelledCount"`
	RequestedCount int64              `json:"requestedCount"`
	Items          []CancelItemResult `json:"items"`
}

// CancelItem cancels a pending item immediately, or flags an active item so
// the scheduler aborts its encodes. Terminal items are left untouched.
func (s *QueueService) CancelItem(ctx context.Context, id int64) (CancelItemResult, error) {
	item, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, queue.ErrNotFound) {
			return CancelItemResult{ID: id, Outcome: CancelItemNotFound}, nil
		}
		return CancelItemResult{}, err
	}
	prior := string(item.Status)

	switch {
	case item.Status == queue.StatusPending:
		_, err := s.store.Transition(ctx, id, queue.StatusPending, queue.StatusCancelled, func(updated *queue.Item) error {
			updated.ErrorMessage = queue.UserCancelReason
			return nil
		})
		if err != nil {
			if errors.Is(err, queue.ErrStatusConflict) || errors.Is(err, queue.ErrInvalidTransition) {
				// Lost a race with pickup; fall back to a cancel request.
				if reqErr := s.store.RequestCancel(ctx, id); reqErr != nil {
					return CancelItemResult{}, reqErr
				}
				return CancelItemResult{ID: id, Outcome: CancelItemRequested, PriorStatus: prior}, nil
			}
			return CancelItemResult{}, err
		}
		return CancelItemResult{ID: id, Outcome: CancelItemCancelled, PriorStatus: prior}, nil
	case item.IsProcessing():
		if err := s.store.RequestCancel(ctx, id); err != nil {
			return CancelItemResult{}, err
		}
		return CancelItemResult{ID: id, Outcome: CancelItemRequested, PriorStatus: prior}, nil
	default:
		return CancelItemResult{ID: id, Outcome: CancelItemTerminal, PriorStatus: prior}, nil
	}
}

// CancelAll cancels every pending item and requests cancellation of the
// active one.
func (s *QueueService) CancelAll(ctx context.Context) (CancelAllResult, error) {
	items, err := s.store.List(ctx,
		queue.StatusPending, queue.StatusVmaf, queue.StatusPreparing,
		queue.StatusTranscoding, queue.StatusPostprocess)
	if err != nil {
		return CancelAllResult{}, err
	}
	result := CancelAllResult{Items: make([]CancelItemResult, 0, len(items))}
	for _, item := range items {
		itemResult, err := s.CancelItem(ctx, item.ID)
		if err != nil {
			return CancelAllResult{}, err
		}
		switch itemResult.Outcome {
		case CancelItemCancelled:
			result.CancelledCount++
		case CancelItemRequested:
			result.RequestedCount++
		}
		result.Items = append(result.Items, itemResult)
	}
	return result, nil
}

type RetryItemOutcome string

const (
	RetryItemRetried      RetryItemOutcome = "retried"
	RetryItemNotFound     RetryItemOutcome = "not_found"
	RetryItemNotRetryable RetryItemOutcome = "not_retryable"
)

type RetryItemResult struct {
	ID      int64            `json:"id"`
	Outcome RetryItemOutcome `json:"outcome"`
}

type RetryItemsResult struct {
	RetriedCount int64             `json:"retriedCount"`
	Items        []RetryItemResult `json:"items"`
}

// RetryItems re-enqueues errored or cancelled items one-by-one so each ID can
// report its own outcome. Retrying an item that is already back in the queue
// is a no-op, not an error.
func (s *QueueService) RetryItems(ctx context.Context, ids []int64) (RetryItemsResult, error) {
	result := RetryItemsResult{Items: make([]RetryItemResult, 0, len(ids))}
	for _, id := range ids {
		item, err := s.store.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, queue.ErrNotFound) {
				result.Items = append(result.Items, RetryItemResult{ID: id, Outcome: RetryItemNotFound})
				continue
			}
			return RetryItemsResult{}, err
		}
		if item.Status == queue.StatusPending {
			result.Items = append(result.Items, RetryItemResult{ID: id, Outcome: RetryItemRetried})
			continue
		}
		if item.Status != queue.StatusError && item.Status != queue.StatusCancelled {
			result.Items = append(result.Items, RetryItemResult{ID: id, Outcome: RetryItemNotRetryable})
			continue
		}
		updated, err := s.store.Retry(ctx, id)
		if err != nil {
			return RetryItemsResult{}, err
		}
		result.RetriedCount += updated
		result.Items = append(result.Items, RetryItemResult{ID: id, Outcome: RetryItemRetried})
	}
	return result, nil
}

type RemoveItemOutcome string

const (
	RemoveItemRemoved  RemoveItemOutcome = "removed"
	RemoveItemNotFound RemoveItemOutcome = "not_found"
	RemoveItemActive   RemoveItemOutcome = "active"
)

type RemoveItemResult struct {
	ID      int64             `json:"id"`
	Outcome RemoveItemOutcome `json:"outcome"`
}

type RemoveItemsResult struct {
	RemovedCount int64              `json:"removedCount"`
	Items        []RemoveItemResult `json:"items"`
}

// RemoveItems deletes pending or terminal items. An active item is rejected;
// it has to be cancelled first.
func (s *QueueService) RemoveItems(ctx context.Context, ids []int64) (RemoveItemsResult, error) {
	result := RemoveItemsResult{Items: make([]RemoveItemResult, 0, len(ids))}
	for _, id := range ids {
		item, err := s.store.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, queue.ErrNotFound) {
				result.Items = append(result.Items, RemoveItemResult{ID: id, Outcome: RemoveItemNotFound})
				continue
			}
			return RemoveItemsResult{}, err
		}
		if item.IsProcessing() {
			result.Items = append(result.Items, RemoveItemResult{ID: id, Outcome: RemoveItemActive})
			continue
		}
		removed, err := s.store.Remove(ctx, id)
		if err != nil {
			return RemoveItemsResult{}, err
		}
		if removed {
			result.RemovedCount++
			result.Items = append(result.Items, RemoveItemResult{ID: id, Outcome: RemoveItemRemoved})
			continue
		}
		result.Items = append(result.Items, RemoveItemResult{ID: id, Outcome: RemoveItemNotFound})
	}
	return result, nil
}
