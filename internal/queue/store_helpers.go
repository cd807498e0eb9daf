package queue

import (
	"database/sql"
	"errors"
	"time"
)

const itemColumns = "id, source_path, title, status, priority, error_message, added_at, updated_at, progress_stage, progress_percent, progress_message, vmaf_result_json, encode_plan_json, staging_dir, final_file, correlation_id, last_heartbeat, cancel_requested, started_at, completed_at"

func scanItem(scanner interface{ Scan(dest ...any) error }) (*Item, error) {
	var (
		id               int64
		sourcePath       string
		title            sql.NullString
		statusStr        string
		priority         sql.NullInt64
		errorMessage     sql.NullString
		addedRaw         sql.NullString
		updatedRaw       sql.NullString
		progressStage    sql.NullString
		progressPercent  sql.NullFloat64
		progressMessage  sql.NullString
		vmafResult       sql.NullString
		encodePlan       sql.NullString
		stagingDir       sql.NullString
		finalFile        sql.NullString
		correlationID    sql.NullString
		lastHeartbeatRaw sql.NullString
		cancelRequested  sql.NullInt64
		startedRaw       sql.NullString
		completedRaw     sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&sourcePath,
		&title,
		&statusStr,
		&priority,
		&errorMessage,
		&addedRaw,
		&updatedRaw,
		&progressStage,
		&progressPercent,
		&progressMessage,
		&vmafResult,
		&encodePlan,
		&stagingDir,
		&finalFile,
		&correlationID,
		&lastHeartbeatRaw,
		&cancelRequested,
		&startedRaw,
		&completedRaw,
	); err != nil {
		return nil, err
	}

	item := &Item{
		ID:              id,
		SourcePath:      sourcePath,
		Title:           title.String,
		Status:          Status(statusStr),
		Priority:        int(priority.Int64),
		ErrorMessage:    errorMessage.String,
		ProgressStage:   progressStage.String,
		ProgressPercent: progressPercent.Float64,
		ProgressMessage: progressMessage.String,
		VmafResultJSON:  vmafResult.String,
		EncodePlanJSON:  encodePlan.String,
		StagingDir:      stagingDir.String,
		FinalFile:       finalFile.String,
		CorrelationID:   correlationID.String,
	}
	if cancelRequested.Valid {
		item.CancelRequested = cancelRequested.Int64 != 0
	}

	if added, err := parseTimeString(addedRaw.String); err == nil {
		item.AddedAt = added
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		item.UpdatedAt = updated
	}
	if lastHeartbeatRaw.Valid {
		if heartbeat, err := parseTimeString(lastHeartbeatRaw.String); err == nil {
			item.LastHeartbeat = &heartbeat
		}
	}
	if startedRaw.Valid {
		if started, err := parseTimeString(startedRaw.String); err == nil {
			item.StartedAt = &started
		}
	}
	if completedRaw.Valid {
		if completed, err := parseTimeString(completedRaw.String); err == nil {
			item.CompletedAt = &completed
		}
	}
	return item, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	v := value.UTC().Format(time.RFC3339Nano)
	return v
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
