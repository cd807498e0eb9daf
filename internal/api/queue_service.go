package api

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"importq/internal/queue"
)

// Controller captures the scheduler controls the command surface drives.
// The workflow manager implements it.
type Controller interface {
	Start(ctx context.Context) error
	Pause()
	Resume()
	SetAutoStart(enabled bool)
	Running() bool
	Paused() bool
	AutoStart() bool
}

// AddRequest describes one item to enqueue.
type AddRequest struct {
	Path  string `json:"path"`
	Title string `json:"title,omitempty"`
}

// UpdateRequest carries the mutable fields of a pending item. Nil fields are
// left unchanged.
type UpdateRequest struct {
	Title      *string `json:"title,omitempty"`
	SourcePath *string `json:"sourcePath,omitempty"`
}

// QueueService exposes every queue command over a validated surface.
type QueueService struct {
	store      *queue.Store
	controller Controller
}

// NewQueueService constructs a QueueService around the store and scheduler
// controls. The controller may be nil for read-only consumers.
func NewQueueService(store *queue.Store, controller Controller) *QueueService {
	if store == nil {
		return nil
	}
	return &QueueService{store: store, controller: controller}
}

// AddItems enqueues the given sources in order and returns their records.
func (s *QueueService) AddItems(ctx context.Context, requests []AddRequest) ([]QueueItem, error) {
	out := make([]QueueItem, 0, len(requests))
	for _, request := range requests {
		path := strings.TrimSpace(request.Path)
		if path == "" {
			return nil, errors.New("source path required")
		}
		item, err := s.store.Add(ctx, path, strings.TrimSpace(request.Title))
		if err != nil {
			return nil, err
		}
		out = append(out, FromQueueItem(item))
	}
	return out, nil
}

// List returns queue items filtered by status.
func (s *QueueService) List(ctx context.Context, statuses ...queue.Status) ([]QueueItem, error) {
	items, err := s.store.List(ctx, statuses...)
	if err != nil {
		return nil, err
	}
	return FromQueueItems(items), nil
}

// Describe fetches a single queue item.
func (s *QueueService) Describe(ctx context.Context, id int64) (*QueueItem, error) {
	item, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, queue.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	dto := FromQueueItem(item)
	return &dto, nil
}

// Stats returns queue summary counts keyed by status string.
func (s *QueueService) Stats(ctx context.Context) (map[string]int, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return MergeQueueStats(stats), nil
}

// Start asks the scheduler to promote the next pending item. It is a no-op
// when the queue is paused or an item is already active.
func (s *QueueService) Start(ctx context.Context) error {
	if s.controller == nil {
		return errors.New("scheduler unavailable")
	}
	return s.controller.Start(ctx)
}

// Pause stops pickup of new pending items. In-flight work keeps running.
func (s *QueueService) Pause() error {
	if s.controller == nil {
		return errors.New("scheduler unavailable")
	}
	s.controller.Pause()
	return nil
}

// Resume re-enables pickup of pending items.
func (s *QueueService) Resume() error {
	if s.controller == nil {
		return errors.New("scheduler unavailable")
	}
	s.controller.Resume()
	return nil
}

// SetAutoStart toggles automatic pickup when new items arrive.
func (s *QueueService) SetAutoStart(enabled bool) error {
	if s.controller == nil {
		return errors.New("scheduler unavailable")
	}
	s.controller.SetAutoStart(enabled)
	return nil
}

// ControlStatus reports the scheduler's current pickup state.
func (s *QueueService) ControlStatus() ControlStatus {
	if s.controller == nil {
		return ControlStatus{}
	}
	return ControlStatus{
		Running:   s.controller.Running(),
		Paused:    s.controller.Paused(),
		AutoStart: s.controller.AutoStart(),
	}
}

// ReorderItems moves the listed pending items to the front of the queue in
// the given order. Non-pending items cannot be reordered.
func (s *QueueService) ReorderItems(ctx context.Context, ids []int64) error {
	for _, id := range ids {
		item, err := s.store.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if item.Status != queue.StatusPending {
			return fmt.Errorf("item %d is %s; only pending items can be reordered", id, item.Status)
		}
	}
	return s.store.Reorder(ctx, ids)
}

// UpdateItem edits a pending item in place. Items past pickup are immutable
// through the command surface.
func (s *QueueService) UpdateItem(ctx context.Context, id int64, update UpdateRequest) (*QueueItem, error) {
	item, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.Status != queue.StatusPending {
		return nil, fmt.Errorf("item %d is %s; only pending items can be edited", id, item.Status)
	}
	if update.Title != nil {
		item.Title = strings.TrimSpace(*update.Title)
	}
	if update.SourcePath != nil {
		path := strings.TrimSpace(*update.SourcePath)
		if path == "" {
			return nil, errors.New("source path required")
		}
		item.SourcePath = path
	}
	if err := s.store.Update(ctx, item); err != nil {
		return nil, err
	}
	dto := FromQueueItem(item)
	return &dto, nil
}

// ClearCompleted deletes all completed items and returns the removed count.
func (s *QueueService) ClearCompleted(ctx context.Context) (int64, error) {
	return s.store.ClearCompleted(ctx)
}

// ClearErrored deletes all errored items and returns the removed count.
func (s *QueueService) ClearErrored(ctx context.Context) (int64, error) {
	return s.store.ClearErrored(ctx)
}
