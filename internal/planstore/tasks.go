package planstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/basket/planvault/internal/bus"
	"github.com/basket/planvault/internal/lifecycle"
)

const taskColumns = `id, plan_id, title, COALESCE(description, ''), priority, status, metadata, created_at, updated_at`

func scanTask(row interface{ Scan(...any) error }) (*Task, error) {
	var (
		task Task
		meta string
	)
	if err := row.Scan(
		&task.ID,
		&task.PlanID,
		&task.Title,
		&task.Description,
		&task.Priority,
		&task.Status,
		&meta,
		&task.CreatedAt,
		&task.UpdatedAt,
	); err != nil {
		return nil, err
	}
	task.Metadata = unmarshalMetadata(meta)
	return &task, nil
}

// GetTask returns the task with the given id under the given plan.
func (s *Store) GetTask(ctx context.Context, planID, taskID int64) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+taskColumns+` FROM tasks WHERE id = ? AND plan_id = ?;
	`, taskID, planID)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &TaskNotFoundError{PlanID: planID, TaskID: taskID}
	}
	if err != nil {
		return nil, storeErr("get task", err)
	}
	return task, nil
}

// ListTasks returns all tasks belonging to the plan in creation order.
func (s *Store) ListTasks(ctx context.Context, planID int64) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE plan_id = ?
		ORDER BY created_at ASC, id ASC;
	`, planID)
	if err != nil {
		return nil, storeErr("list tasks", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, storeErr("scan task", err)
		}
		out = append(out, *task)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("task rows", err)
	}
	return out, nil
}

// CreateTask inserts a task under an existing plan together with its
// initial history row, in one transaction.
func (s *Store) CreateTask(ctx context.Context, planID int64, spec TaskSpec, actor string) (*Task, error) {
	if strings.TrimSpace(spec.Title) == "" {
		return nil, &ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if actor == "" {
		actor = SystemActor
	}

	var task *Task
	err := retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin create task tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		// The foreign key would also reject a missing plan, but checking
		// first yields the typed not-found result instead of a raw
		// constraint error.
		var planExists int
		err = tx.QueryRowContext(ctx, `SELECT 1 FROM plans WHERE id = ?;`, planID).Scan(&planExists)
		if errors.Is(err, sql.ErrNoRows) {
			return &PlanNotFoundError{PlanID: planID}
		}
		if err != nil {
			return fmt.Errorf("check plan: %w", err)
		}

		task, err = insertTaskTx(ctx, tx, planID, spec, actor)
		if err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, storeErr("create task", err)
	}

	s.publish(bus.TopicTaskCreated, bus.TaskEvent{TaskID: task.ID, PlanID: planID})
	return task, nil
}

// insertTaskTx inserts one task row plus its initial history row inside
// an open transaction. Shared by CreateTask and CreatePlan.
func insertTaskTx(ctx context.Context, tx *sql.Tx, planID int64, spec TaskSpec, actor string) (*Task, error) {
	metadata, err := marshalMetadata(spec.Metadata)
	if err != nil {
		return nil, err
	}
	priority := spec.Priority
	if priority == "" {
		priority = DefaultPriority
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO tasks (plan_id, title, description, priority, status, metadata, created_at, updated_at)
		VALUES (?, ?, NULLIF(?, ''), ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP);
	`, planID, spec.Title, spec.Description, priority, lifecycle.TaskPending, metadata)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	taskID, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("task insert id: %w", err)
	}
	if err := appendTaskHistoryTx(ctx, tx, taskID, "", string(lifecycle.TaskPending), actor, ""); err != nil {
		return nil, err
	}

	row := tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?;`, taskID)
	task, err := scanTask(row)
	if err != nil {
		return nil, fmt.Errorf("read back task: %w", err)
	}
	return task, nil
}

// TaskUpdate carries optional non-status field changes. Nil fields are
// left untouched.
type TaskUpdate struct {
	Title       *string
	Description *string
	Priority    *string
}

// UpdateTask applies a non-status update. No history row is written.
func (s *Store) UpdateTask(ctx context.Context, planID, taskID int64, update TaskUpdate) (*Task, error) {
	if update.Title != nil && strings.TrimSpace(*update.Title) == "" {
		return nil, &ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if update.Priority != nil && strings.TrimSpace(*update.Priority) == "" {
		return nil, &ValidationError{Field: "priority", Reason: "must not be empty"}
	}

	sets := []string{"updated_at = CURRENT_TIMESTAMP"}
	args := []any{}
	if update.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *update.Title)
	}
	if update.Description != nil {
		sets = append(sets, "description = NULLIF(?, '')")
		args = append(args, *update.Description)
	}
	if update.Priority != nil {
		sets = append(sets, "priority = ?")
		args = append(args, *update.Priority)
	}
	args = append(args, taskID, planID)

	err := retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE tasks SET `+strings.Join(sets, ", ")+` WHERE id = ? AND plan_id = ?;
		`, args...)
		if err != nil {
			return fmt.Errorf("update task: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update task rows affected: %w", err)
		}
		if affected == 0 {
			return &TaskNotFoundError{PlanID: planID, TaskID: taskID}
		}
		return nil
	})
	if err != nil {
		return nil, storeErr("update task", err)
	}
	task, err := s.GetTask(ctx, planID, taskID)
	if err != nil {
		return nil, err
	}
	s.publish(bus.TopicTaskUpdated, bus.TaskEvent{TaskID: task.ID, PlanID: planID})
	return task, nil
}

// StartTask transitions a task pending -> in_progress and records history.
func (s *Store) StartTask(ctx context.Context, planID, taskID int64, actor, reason string) (*Task, error) {
	return s.transitionTask(ctx, planID, taskID, lifecycle.TaskInProgress, actor, reason)
}

// CompleteTask transitions a task to completed and records history.
func (s *Store) CompleteTask(ctx context.Context, planID, taskID int64, actor, reason string) (*Task, error) {
	return s.transitionTask(ctx, planID, taskID, lifecycle.TaskCompleted, actor, reason)
}

// FailTask transitions a task to failed and records history.
func (s *Store) FailTask(ctx context.Context, planID, taskID int64, actor, reason string) (*Task, error) {
	return s.transitionTask(ctx, planID, taskID, lifecycle.TaskFailed, actor, reason)
}

func (s *Store) transitionTask(ctx context.Context, planID, taskID int64, to lifecycle.TaskStatus, actor, reason string) (*Task, error) {
	if actor == "" {
		actor = SystemActor
	}

	var (
		task      *Task
		oldStatus lifecycle.TaskStatus
	)
	err := retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin task transition tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		row := tx.QueryRowContext(ctx, `
			SELECT `+taskColumns+` FROM tasks WHERE id = ? AND plan_id = ?;
		`, taskID, planID)
		current, err := scanTask(row)
		if errors.Is(err, sql.ErrNoRows) {
			return &TaskNotFoundError{PlanID: planID, TaskID: taskID}
		}
		if err != nil {
			return fmt.Errorf("load task: %w", err)
		}
		oldStatus = current.Status
		if err := lifecycle.ValidateTaskTransition(current.Status, to); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE tasks SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?;
		`, to, taskID); err != nil {
			return fmt.Errorf("update task status: %w", err)
		}
		if err := appendTaskHistoryTx(ctx, tx, taskID, string(oldStatus), string(to), actor, reason); err != nil {
			return err
		}

		row = tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?;`, taskID)
		task, err = scanTask(row)
		if err != nil {
			return fmt.Errorf("read back task: %w", err)
		}
		return tx.Commit()
	})
	if err != nil {
		var ite *lifecycle.InvalidTransitionError
		if errors.As(err, &ite) {
			return nil, ite
		}
		return nil, storeErr("task transition", err)
	}

	s.publish(bus.TopicTaskStatusChanged, bus.TaskStatusChangedEvent{
		TaskID:    task.ID,
		PlanID:    planID,
		OldStatus: string(oldStatus),
		NewStatus: string(task.Status),
		ChangedBy: actor,
	})
	return task, nil
}

func appendTaskHistoryTx(ctx context.Context, tx *sql.Tx, taskID int64, oldStatus, newStatus, actor, reason string) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO task_history (task_id, old_status, new_status, changed_by, changed_at, reason)
		VALUES (?, NULLIF(?, ''), ?, ?, CURRENT_TIMESTAMP, NULLIF(?, ''));
	`, taskID, oldStatus, newStatus, actor, reason); err != nil {
		return fmt.Errorf("insert task history: %w", err)
	}
	return nil
}
