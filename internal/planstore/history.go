package planstore

import (
	"context"
	"database/sql"
	"errors"
)

// PlanHistory returns the plan's status transitions, newest first.
func (s *Store) PlanHistory(ctx context.Context, planID int64) ([]PlanHistoryEntry, error) {
	if _, err := s.GetPlan(ctx, planID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, plan_id, old_status, new_status, changed_by, changed_at, COALESCE(reason, '')
		FROM plan_history
		WHERE plan_id = ?
		ORDER BY changed_at DESC, id DESC;
	`, planID)
	if err != nil {
		return nil, storeErr("plan history", err)
	}
	defer rows.Close()

	var out []PlanHistoryEntry
	for rows.Next() {
		var (
			entry     PlanHistoryEntry
			oldStatus sql.NullString
		)
		if err := rows.Scan(
			&entry.ID,
			&entry.PlanID,
			&oldStatus,
			&entry.NewStatus,
			&entry.ChangedBy,
			&entry.ChangedAt,
			&entry.Reason,
		); err != nil {
			return nil, storeErr("scan plan history", err)
		}
		if oldStatus.Valid {
			entry.OldStatus = oldStatus.String
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("plan history rows", err)
	}
	return out, nil
}

// TaskHistory returns the task's status transitions, newest first.
func (s *Store) TaskHistory(ctx context.Context, taskID int64) ([]TaskHistoryEntry, error) {
	var planID int64
	err := s.db.QueryRowContext(ctx, `SELECT plan_id FROM tasks WHERE id = ?;`, taskID).Scan(&planID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &TaskNotFoundError{TaskID: taskID}
	}
	if err != nil {
		return nil, storeErr("task history plan lookup", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, old_status, new_status, changed_by, changed_at, COALESCE(reason, '')
		FROM task_history
		WHERE task_id = ?
		ORDER BY changed_at DESC, id DESC;
	`, taskID)
	if err != nil {
		return nil, storeErr("task history", err)
	}
	defer rows.Close()

	var out []TaskHistoryEntry
	for rows.Next() {
		var (
			entry     TaskHistoryEntry
			oldStatus sql.NullString
		)
		if err := rows.Scan(
			&entry.ID,
			&entry.TaskID,
			&oldStatus,
			&entry.NewStatus,
			&entry.ChangedBy,
			&entry.ChangedAt,
			&entry.Reason,
		); err != nil {
			return nil, storeErr("scan task history", err)
		}
		if oldStatus.Valid {
			entry.OldStatus = oldStatus.String
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("task history rows", err)
	}
	return out, nil
}
