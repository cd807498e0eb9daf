package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Transition atomically moves an item from one status to another. The status
// check, the legality check, the processing slot compare-and-set, and the
// item update all happen in one transaction, so a crash can never leave the
// slot held without the row reflecting it. mutate, when non-nil, runs on the
// freshly read item before it is written back.
func (s *Store) Transition(ctx context.Context, id int64, from, to Status, mutate func(*Item) error) (*Item, error) {
	ctx = ensureContext(ctx)

	var result *Item
	err := retryOnBusy(ctx, func() error {
		item, err := s.transitionOnce(ctx, id, from, to, mutate)
		if err != nil {
			return err
		}
		result = item
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) transitionOnce(ctx context.Context, id int64, from, to Status, mutate func(*Item) error) (*Item, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transition tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM queue_items WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transition item %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("transition read: %w", err)
	}

	if item.Status != from {
		return nil, fmt.Errorf("transition item %d: expected %s, found %s: %w", id, from, item.Status, ErrStatusConflict)
	}
	if !CanTransition(from, to) {
		return nil, fmt.Errorf("transition item %d: %s -> %s: %w", id, from, to, ErrInvalidTransition)
	}

	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	entering := IsProcessingStatus(to) && !IsProcessingStatus(from)
	leaving := IsProcessingStatus(from) && !IsProcessingStatus(to)

	if entering {
		res, err := tx.ExecContext(ctx,
			`UPDATE processing_slot SET item_id = ?, acquired_at = ?
             WHERE id = 1 AND (item_id IS NULL OR item_id = ?)`,
			id, timestamp, id,
		)
		if err != nil {
			return nil, fmt.Errorf("acquire slot: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("acquire slot rows: %w", err)
		}
		if affected == 0 {
			return nil, fmt.Errorf("transition item %d to %s: %w", id, to, ErrSlotBusy)
		}
	}
	if leaving {
		if _, err := tx.ExecContext(ctx,
			`UPDATE processing_slot SET item_id = NULL, acquired_at = NULL
             WHERE id = 1 AND item_id = ?`,
			id,
		); err != nil {
			return nil, fmt.Errorf("release slot: %w", err)
		}
	}

	item.Status = to
	if mutate != nil {
		if err := mutate(item); err != nil {
			return nil, err
		}
		if item.Status != to {
			return nil, fmt.Errorf("transition mutate changed status to %s: %w", item.Status, ErrInvalidTransition)
		}
	}
	item.UpdatedAt = now
	if IsTerminalStatus(to) || to == StatusPending {
		item.LastHeartbeat = nil
	}
	if entering && item.StartedAt == nil {
		started := now
		item.StartedAt = &started
	}
	if IsTerminalStatus(to) {
		completed := now
		item.CompletedAt = &completed
	}
	if to == StatusPending {
		item.StartedAt = nil
		item.CompletedAt = nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE queue_items
         SET status = ?, priority = ?, error_message = ?, updated_at = ?,
             progress_stage = ?, progress_percent = ?, progress_message = ?,
             vmaf_result_json = ?, encode_plan_json = ?, staging_dir = ?,
             final_file = ?, correlation_id = ?, last_heartbeat = ?, cancel_requested = ?,
             started_at = ?, completed_at = ?
         WHERE id = ?`,
		item.Status,
		item.Priority,
		nullableString(item.ErrorMessage),
		timestamp,
		nullableString(item.ProgressStage),
		item.ProgressPercent,
		nullableString(item.ProgressMessage),
		nullableString(item.VmafResultJSON),
		nullableString(item.EncodePlanJSON),
		nullableString(item.StagingDir),
		nullableString(item.FinalFile),
		nullableString(item.CorrelationID),
		nullableTime(item.LastHeartbeat),
		boolToInt(item.CancelRequested),
		nullableTime(item.StartedAt),
		nullableTime(item.CompletedAt),
		id,
	); err != nil {
		return nil, fmt.Errorf("transition write: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transition: %w", err)
	}
	return item, nil
}

// ActiveItemID returns the id currently holding the processing slot, or 0.
func (s *Store) ActiveItemID(ctx context.Context) (int64, error) {
	var itemID sql.NullInt64
	row := s.db.QueryRowContext(ctx, `SELECT item_id FROM processing_slot WHERE id = 1`)
	if err := row.Scan(&itemID); err != nil {
		return 0, fmt.Errorf("read slot: %w", err)
	}
	if !itemID.Valid {
		return 0, nil
	}
	return itemID.Int64, nil
}

// ActiveItem returns the item holding the processing slot, or nil.
func (s *Store) ActiveItem(ctx context.Context) (*Item, error) {
	id, err := s.ActiveItemID(ctx)
	if err != nil {
		return nil, err
	}
	if id == 0 {
		return nil, nil
	}
	item, err := s.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		// The row was removed between the slot read and the fetch.
		return nil, nil
	}
	return item, err
}

// UpdateHeartbeat updates the last heartbeat timestamp for an in-flight item.
func (s *Store) UpdateHeartbeat(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE queue_items SET last_heartbeat = ?, updated_at = ? WHERE id = ?`,
		now.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
		id,
	); err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// RestoreInterrupted resets items left in processing statuses by a previous
// run back to pending and frees the slot. Calibration results survive the
// reset so the search is not repeated after a crash.
func (s *Store) RestoreInterrupted(ctx context.Context, note string) (int64, error) {
	if note == "" {
		note = "Recovered after restart"
	}
	ctx = ensureContext(ctx)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin restore tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE queue_items
         SET status = ?, progress_stage = ?, progress_percent = 0,
             progress_message = NULL, error_message = NULL,
             last_heartbeat = NULL, cancel_requested = 0,
             started_at = NULL, updated_at = ?
         WHERE status IN (?, ?, ?, ?)`,
		StatusPending,
		note,
		time.Now().UTC().Format(time.RFC3339Nano),
		StatusVmaf,
		StatusPreparing,
		StatusTranscoding,
		StatusPostprocess,
	)
	if err != nil {
		return 0, fmt.Errorf("restore interrupted items: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE processing_slot SET item_id = NULL, acquired_at = NULL WHERE id = 1`,
	); err != nil {
		return 0, fmt.Errorf("restore slot: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit restore: %w", err)
	}
	return res.RowsAffected()
}

// ReclaimStaleProcessing resets the active item back to pending when its
// heartbeat is older than the cutoff, freeing the slot.
func (s *Store) ReclaimStaleProcessing(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx = ensureContext(ctx)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin reclaim tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`UPDATE queue_items
         SET status = ?, progress_stage = 'Reclaimed from stale processing',
             progress_percent = 0, progress_message = NULL,
             last_heartbeat = NULL, started_at = NULL, updated_at = ?
         WHERE status IN (?, ?, ?, ?)
           AND last_heartbeat IS NOT NULL AND last_heartbeat < ?`,
		StatusPending,
		now.Format(time.RFC3339Nano),
		StatusVmaf,
		StatusPreparing,
		StatusTranscoding,
		StatusPostprocess,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale items: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reclaim rows affected: %w", err)
	}
	if affected > 0 {
		if _, err := tx.ExecContext(ctx,
			`UPDATE processing_slot SET item_id = NULL, acquired_at = NULL
             WHERE id = 1 AND item_id NOT IN (
                 SELECT id FROM queue_items WHERE status IN (?, ?, ?, ?)
             )`,
			StatusVmaf, StatusPreparing, StatusTranscoding, StatusPostprocess,
		); err != nil {
			return 0, fmt.Errorf("reclaim slot: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit reclaim: %w", err)
	}
	return affected, nil
}

// Retry moves errored or cancelled items back to pending. With no ids all
// errored items are retried. Calibration results are preserved; error state
// and progress are cleared.
func (s *Store) Retry(ctx context.Context, ids ...int64) (int64, error) {
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	if len(ids) == 0 {
		res, err := s.execWithRetry(
			ctx,
			`UPDATE queue_items
            SET status = ?, progress_stage = 'Retry requested', progress_percent = 0,
                progress_message = NULL, error_message = NULL,
                cancel_requested = 0, started_at = NULL, completed_at = NULL,
                updated_at = ?
            WHERE status IN (?, ?)`,
			StatusPending,
			timestamp,
			StatusError,
			StatusCancelled,
		)
		if err != nil {
			return 0, fmt.Errorf("retry errored items: %w", err)
		}
		return res.RowsAffected()
	}

	placeholders := makePlaceholders(len(ids))
	args := make([]any, 0, len(ids)+4)
	args = append(args, StatusPending, timestamp, StatusError, StatusCancelled)
	for _, id := range ids {
		args = append(args, id)
	}
	query := `UPDATE queue_items
        SET status = ?, progress_stage = 'Retry requested', progress_percent = 0,
            progress_message = NULL, error_message = NULL,
            cancel_requested = 0, started_at = NULL, completed_at = NULL,
            updated_at = ?
        WHERE status IN (?, ?) AND id IN (` + placeholders + `)`
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("retry selected items: %w", err)
	}
	return res.RowsAffected()
}
