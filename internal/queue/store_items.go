package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Add enqueues a source file as a pending item at the back of the queue.
func (s *Store) Add(ctx context.Context, sourcePath, title string) (*Item, error) {
	if strings.TrimSpace(sourcePath) == "" {
		return nil, errors.New("source path is required")
	}
	if strings.TrimSpace(title) == "" {
		title = inferTitleFromPath(sourcePath)
	}
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	priority, err := s.nextPriority(ctx)
	if err != nil {
		return nil, err
	}

	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO queue_items (
            source_path, title, status, priority, added_at, updated_at,
            progress_stage, progress_percent, progress_message
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sourcePath,
		title,
		StatusPending,
		priority,
		timestamp,
		timestamp,
		nil,
		0.0,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("insert item: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	return s.GetByID(ctx, id)
}

func (s *Store) nextPriority(ctx context.Context) (int, error) {
	var max sql.NullInt64
	row := s.db.QueryRowContext(ctx, `SELECT MAX(priority) FROM queue_items`)
	if err := row.Scan(&max); err != nil {
		return 0, fmt.Errorf("next priority: %w", err)
	}
	if !max.Valid {
		return 0, nil
	}
	return int(max.Int64) + 1, nil
}

// GetByID fetches a queue item by identifier. A missing row is ErrNotFound.
func (s *Store) GetByID(ctx context.Context, id int64) (*Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM queue_items WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get item %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

// queueOrder is the canonical pickup and presentation order.
const queueOrder = ` ORDER BY priority, added_at, id`

// List returns queue items filtered by status set (or all items when no status is provided).
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Item, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + itemColumns + ` FROM queue_items`

	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+queueOrder)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		query := baseQuery + ` WHERE status IN (` + placeholders + `)` + queueOrder
		rows, err = s.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list queue items: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// NextPending returns the pending item first in queue order, or nil.
func (s *Store) NextPending(ctx context.Context) (*Item, error) {
	query := `SELECT ` + itemColumns + ` FROM queue_items WHERE status = ?` + queueOrder + ` LIMIT 1`
	row := s.db.QueryRowContext(ctx, query, StatusPending)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next pending: %w", err)
	}
	return item, nil
}

// Update persists changes to an existing queue item. Status is written as-is;
// use Transition for status changes so slot accounting stays consistent.
func (s *Store) Update(ctx context.Context, item *Item) error {
	if item == nil {
		return errors.New("item is nil")
	}
	item.UpdatedAt = time.Now().UTC()
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE queue_items
         SET source_path = ?, title = ?, status = ?, priority = ?, error_message = ?,
             updated_at = ?, progress_stage = ?, progress_percent = ?, progress_message = ?,
             vmaf_result_json = ?, encode_plan_json = ?, staging_dir = ?, final_file = ?,
             correlation_id = ?, last_heartbeat = ?, cancel_requested = ?,
             started_at = ?, completed_at = ?
         WHERE id = ?`,
		item.SourcePath,
		nullableString(item.Title),
		item.Status,
		item.Priority,
		nullableString(item.ErrorMessage),
		item.UpdatedAt.Format(time.RFC3339Nano),
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
		item.ID,
	); err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}

// UpdateProgress writes only the progress fields, clamping percent so a late
// sample can never walk progress backwards. Terminal rows are left untouched;
// a sample that arrives after the item settled must not overwrite the final
// stage and percent.
func (s *Store) UpdateProgress(ctx context.Context, id int64, stage, message string, percent float64) error {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE queue_items
         SET progress_stage = ?, progress_message = ?,
             progress_percent = MAX(progress_percent, ?), updated_at = ?
         WHERE id = ? AND status NOT IN (?, ?, ?)`,
		nullableString(stage),
		nullableString(message),
		percent,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
		StatusCompleted,
		StatusError,
		StatusCancelled,
	); err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return nil
}

// Reorder rewrites priorities so the given ids come first in the given order.
// Items not listed keep their relative order after the listed ones.
func (s *Store) Reorder(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	ctx = ensureContext(ctx)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reorder tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	listed := make(map[int64]struct{}, len(ids))
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	for index, id := range ids {
		if _, dup := listed[id]; dup {
			return fmt.Errorf("duplicate item id %d in reorder", id)
		}
		listed[id] = struct{}{}
		res, err := tx.ExecContext(ctx,
			`UPDATE queue_items SET priority = ?, updated_at = ? WHERE id = ?`,
			index, timestamp, id,
		)
		if err != nil {
			return fmt.Errorf("reorder item %d: %w", id, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("reorder rows affected: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("reorder item %d: %w", id, ErrNotFound)
		}
	}

	// Remaining pending items are renumbered after the listed block,
	// preserving their previous relative order. Active and terminal items
	// keep their priorities.
	rows, err := tx.QueryContext(ctx, `SELECT id FROM queue_items WHERE status = ?`+queueOrder, StatusPending)
	if err != nil {
		return fmt.Errorf("reorder remainder query: %w", err)
	}
	var rest []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("reorder remainder scan: %w", err)
		}
		if _, ok := listed[id]; !ok {
			rest = append(rest, id)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	next := len(ids)
	for _, id := range rest {
		if _, err := tx.ExecContext(ctx,
			`UPDATE queue_items SET priority = ?, updated_at = ? WHERE id = ?`,
			next, timestamp, id,
		); err != nil {
			return fmt.Errorf("reorder remainder %d: %w", id, err)
		}
		next++
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reorder: %w", err)
	}
	return nil
}

// RequestCancel flags an in-flight item so the workflow aborts its work.
func (s *Store) RequestCancel(ctx context.Context, id int64) error {
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE queue_items SET cancel_requested = 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
	); err != nil {
		return fmt.Errorf("request cancel: %w", err)
	}
	return nil
}

// Remove deletes an item by identifier.
func (s *Store) Remove(ctx context.Context, id int64) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM queue_items WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// ClearCompleted removes only completed items from the queue.
func (s *Store) ClearCompleted(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM queue_items WHERE status = ?`, StatusCompleted)
	if err != nil {
		return 0, fmt.Errorf("clear completed: %w", err)
	}
	return res.RowsAffected()
}

// ClearErrored removes only errored items from the queue.
func (s *Store) ClearErrored(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM queue_items WHERE status = ?`, StatusError)
	if err != nil {
		return 0, fmt.Errorf("clear errored: %w", err)
	}
	return res.RowsAffected()
}

// Clear removes all items from the queue and frees the processing slot.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM queue_items`)
	if err != nil {
		return 0, fmt.Errorf("clear queue: %w", err)
	}
	if err := s.execWithoutResultRetry(ctx,
		`UPDATE processing_slot SET item_id = NULL, acquired_at = NULL WHERE id = 1`,
	); err != nil {
		return 0, fmt.Errorf("clear slot: %w", err)
	}
	return res.RowsAffected()
}

func inferTitleFromPath(path string) string {
	base := strings.TrimSpace(filepath.Base(path))
	if base == "" {
		return "Manual Import"
	}
	ext := filepath.Ext(base)
	base = strings.TrimSuffix(base, ext)
	cleaned := strings.TrimSpace(base)
	if cleaned == "" {
		return "Manual Import"
	}
	return cleaned
}
