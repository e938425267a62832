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

// CreatePlanParams describes a new plan and its initial tasks.
type CreatePlanParams struct {
	SessionID   string
	ProjectID   string
	Name        string
	Description string
	Metadata    map[string]any
	Tasks       []TaskSpec
	// Activate creates the plan directly in active status instead of
	// draft. Subject to the one-active-plan-per-session constraint.
	Activate bool
	// Actor recorded in the initial history rows. Defaults to the
	// session id.
	Actor string
}

func (p *CreatePlanParams) validate() error {
	if strings.TrimSpace(p.SessionID) == "" {
		return &ValidationError{Field: "session_id", Reason: "must not be empty"}
	}
	if strings.TrimSpace(p.ProjectID) == "" {
		return &ValidationError{Field: "project_id", Reason: "must not be empty"}
	}
	if strings.TrimSpace(p.Name) == "" {
		return &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	for i, spec := range p.Tasks {
		if strings.TrimSpace(spec.Title) == "" {
			return &ValidationError{Field: "tasks", Reason: fmt.Sprintf("task %d has an empty title", i)}
		}
	}
	return nil
}

const planColumns = `id, project_id, session_id, name, COALESCE(description, ''), status, metadata, created_at, updated_at`

func scanPlan(row interface{ Scan(...any) error }) (*Plan, error) {
	var (
		plan Plan
		meta string
	)
	if err := row.Scan(
		&plan.ID,
		&plan.ProjectID,
		&plan.SessionID,
		&plan.Name,
		&plan.Description,
		&plan.Status,
		&meta,
		&plan.CreatedAt,
		&plan.UpdatedAt,
	); err != nil {
		return nil, err
	}
	plan.Metadata = unmarshalMetadata(meta)
	return &plan, nil
}

// GetPlan returns the plan with the given id.
func (s *Store) GetPlan(ctx context.Context, id int64) (*Plan, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+planColumns+` FROM plans WHERE id = ?;`, id)
	plan, err := scanPlan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &PlanNotFoundError{PlanID: id}
	}
	if err != nil {
		return nil, storeErr("get plan", err)
	}
	return plan, nil
}

// GetPlanByName returns the most recently created plan with the given
// name in the given project. (project_id, name) is a lookup key, not a
// uniqueness constraint, so newest wins.
func (s *Store) GetPlanByName(ctx context.Context, projectID, name string) (*Plan, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+planColumns+` FROM plans
		WHERE project_id = ? AND name = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1;
	`, projectID, name)
	plan, err := scanPlan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &PlanNameNotFoundError{ProjectID: projectID, Name: name}
	}
	if err != nil {
		return nil, storeErr("get plan by name", err)
	}
	return plan, nil
}

// ListPlans returns all plans owned by the session, newest first.
func (s *Store) ListPlans(ctx context.Context, sessionID string) ([]Plan, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+planColumns+` FROM plans
		WHERE session_id = ?
		ORDER BY created_at DESC, id DESC;
	`, sessionID)
	if err != nil {
		return nil, storeErr("list plans", err)
	}
	defer rows.Close()

	var out []Plan
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, storeErr("scan plan", err)
		}
		out = append(out, *plan)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("plan rows", err)
	}
	return out, nil
}

// FindActivePlanID returns the id of the session's active plan, or 0
// when the session has none.
func (s *Store) FindActivePlanID(ctx context.Context, sessionID string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM plans WHERE session_id = ? AND status = 'active' LIMIT 1;
	`, sessionID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, storeErr("find active plan", err)
	}
	return id, nil
}

// CreatePlan inserts a plan, its initial tasks, and the initial history
// rows in one transaction. Either everything commits or nothing does.
func (s *Store) CreatePlan(ctx context.Context, params CreatePlanParams) (*Plan, []Task, error) {
	if err := params.validate(); err != nil {
		return nil, nil, err
	}
	metadata, err := marshalMetadata(params.Metadata)
	if err != nil {
		return nil, nil, err
	}
	actor := params.Actor
	if actor == "" {
		actor = params.SessionID
	}
	status := lifecycle.PlanDraft
	if params.Activate {
		status = lifecycle.PlanActive
	}

	var (
		plan  *Plan
		tasks []Task
	)
	err = retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin create plan tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		res, err := tx.ExecContext(ctx, `
			INSERT INTO plans (project_id, session_id, name, description, status, metadata, created_at, updated_at)
			VALUES (?, ?, ?, NULLIF(?, ''), ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP);
		`, params.ProjectID, params.SessionID, params.Name, params.Description, status, metadata)
		if err != nil {
			return fmt.Errorf("insert plan: %w", err)
		}
		planID, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("plan insert id: %w", err)
		}
		if err := appendPlanHistoryTx(ctx, tx, planID, "", string(status), actor, ""); err != nil {
			return err
		}

		tasks = tasks[:0]
		for _, spec := range params.Tasks {
			task, err := insertTaskTx(ctx, tx, planID, spec, actor)
			if err != nil {
				return err
			}
			tasks = append(tasks, *task)
		}

		row := tx.QueryRowContext(ctx, `SELECT `+planColumns+` FROM plans WHERE id = ?;`, planID)
		plan, err = scanPlan(row)
		if err != nil {
			return fmt.Errorf("read back plan: %w", err)
		}
		return tx.Commit()
	})
	if err != nil {
		if isActiveUniqueViolation(err) {
			conflictID, _ := s.FindActivePlanID(ctx, params.SessionID)
			return nil, nil, &ActivePlanConflictError{SessionID: params.SessionID, ActivePlanID: conflictID}
		}
		return nil, nil, storeErr("create plan", err)
	}

	s.publish(bus.TopicPlanCreated, bus.PlanEvent{
		PlanID:    plan.ID,
		SessionID: plan.SessionID,
		ProjectID: plan.ProjectID,
		Name:      plan.Name,
	})
	s.publish(bus.TopicPlanStatusChanged, bus.PlanStatusChangedEvent{
		PlanID:    plan.ID,
		SessionID: plan.SessionID,
		OldStatus: "",
		NewStatus: string(plan.Status),
		ChangedBy: actor,
	})
	for _, task := range tasks {
		s.publish(bus.TopicTaskCreated, bus.TaskEvent{TaskID: task.ID, PlanID: plan.ID})
	}
	return plan, tasks, nil
}

// PlanUpdate carries optional non-status field changes. Nil fields are
// left untouched. Status is deliberately absent: status moves only
// through the transition operations so history stays complete.
type PlanUpdate struct {
	Name        *string
	Description *string
}

// UpdatePlan applies a non-status update. No history row is written.
func (s *Store) UpdatePlan(ctx context.Context, id int64, update PlanUpdate) (*Plan, error) {
	if update.Name != nil && strings.TrimSpace(*update.Name) == "" {
		return nil, &ValidationError{Field: "name", Reason: "must not be empty"}
	}

	sets := []string{"updated_at = CURRENT_TIMESTAMP"}
	args := []any{}
	if update.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *update.Name)
	}
	if update.Description != nil {
		sets = append(sets, "description = NULLIF(?, '')")
		args = append(args, *update.Description)
	}
	args = append(args, id)

	var plan *Plan
	err := retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx, `UPDATE plans SET `+strings.Join(sets, ", ")+` WHERE id = ?;`, args...)
		if err != nil {
			return fmt.Errorf("update plan: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update plan rows affected: %w", err)
		}
		if affected == 0 {
			return &PlanNotFoundError{PlanID: id}
		}
		return nil
	})
	if err != nil {
		return nil, storeErr("update plan", err)
	}
	plan, err = s.GetPlan(ctx, id)
	if err != nil {
		return nil, err
	}
	s.publish(bus.TopicPlanUpdated, bus.PlanEvent{
		PlanID:    plan.ID,
		SessionID: plan.SessionID,
		ProjectID: plan.ProjectID,
		Name:      plan.Name,
	})
	return plan, nil
}

// ActivatePlan transitions a plan draft -> active and records history.
// The partial unique index guarantees at most one active plan per
// session even under concurrent activations.
func (s *Store) ActivatePlan(ctx context.Context, id int64, actor, reason string) (*Plan, error) {
	return s.transitionPlan(ctx, id, lifecycle.PlanActive, actor, reason)
}

// CompletePlan transitions a plan active -> completed and records history.
func (s *Store) CompletePlan(ctx context.Context, id int64, actor, reason string) (*Plan, error) {
	return s.transitionPlan(ctx, id, lifecycle.PlanCompleted, actor, reason)
}

// ArchivePlan transitions a plan completed -> archived and records history.
func (s *Store) ArchivePlan(ctx context.Context, id int64, actor, reason string) (*Plan, error) {
	return s.transitionPlan(ctx, id, lifecycle.PlanArchived, actor, reason)
}

func (s *Store) transitionPlan(ctx context.Context, id int64, to lifecycle.PlanStatus, actor, reason string) (*Plan, error) {
	if actor == "" {
		actor = SystemActor
	}

	var (
		plan      *Plan
		oldStatus lifecycle.PlanStatus
	)
	err := retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin plan transition tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		row := tx.QueryRowContext(ctx, `SELECT `+planColumns+` FROM plans WHERE id = ?;`, id)
		current, err := scanPlan(row)
		if errors.Is(err, sql.ErrNoRows) {
			return &PlanNotFoundError{PlanID: id}
		}
		if err != nil {
			return fmt.Errorf("load plan: %w", err)
		}
		oldStatus = current.Status
		if err := lifecycle.ValidatePlanTransition(current.Status, to); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE plans SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?;
		`, to, id); err != nil {
			return fmt.Errorf("update plan status: %w", err)
		}
		if err := appendPlanHistoryTx(ctx, tx, id, string(oldStatus), string(to), actor, reason); err != nil {
			return err
		}

		row = tx.QueryRowContext(ctx, `SELECT `+planColumns+` FROM plans WHERE id = ?;`, id)
		plan, err = scanPlan(row)
		if err != nil {
			return fmt.Errorf("read back plan: %w", err)
		}
		return tx.Commit()
	})
	if err != nil {
		var ite *lifecycle.InvalidTransitionError
		if errors.As(err, &ite) {
			return nil, ite
		}
		if isActiveUniqueViolation(err) {
			owner, lookupErr := s.GetPlan(ctx, id)
			if lookupErr != nil {
				return nil, &ActivePlanConflictError{}
			}
			conflictID, _ := s.FindActivePlanID(ctx, owner.SessionID)
			return nil, &ActivePlanConflictError{SessionID: owner.SessionID, ActivePlanID: conflictID}
		}
		return nil, storeErr("plan transition", err)
	}

	s.publish(bus.TopicPlanStatusChanged, bus.PlanStatusChangedEvent{
		PlanID:    plan.ID,
		SessionID: plan.SessionID,
		OldStatus: string(oldStatus),
		NewStatus: string(plan.Status),
		ChangedBy: actor,
	})
	return plan, nil
}

// DeletePlan removes a plan; tasks and history rows follow via
// ON DELETE CASCADE. Not exposed to callers through the service —
// operational use only.
func (s *Store) DeletePlan(ctx context.Context, id int64) error {
	plan, err := s.GetPlan(ctx, id)
	if err != nil {
		return err
	}
	err = retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM plans WHERE id = ?;`, id)
		return err
	})
	if err != nil {
		return storeErr("delete plan", err)
	}
	s.publish(bus.TopicPlanDeleted, bus.PlanEvent{
		PlanID:    plan.ID,
		SessionID: plan.SessionID,
		ProjectID: plan.ProjectID,
		Name:      plan.Name,
	})
	return nil
}

// GetPlanWithTasks is a convenience composite read.
func (s *Store) GetPlanWithTasks(ctx context.Context, id int64) (*Plan, []Task, error) {
	plan, err := s.GetPlan(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	tasks, err := s.ListTasks(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return plan, tasks, nil
}

func appendPlanHistoryTx(ctx context.Context, tx *sql.Tx, planID int64, oldStatus, newStatus, actor, reason string) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO plan_history (plan_id, old_status, new_status, changed_by, changed_at, reason)
		VALUES (?, NULLIF(?, ''), ?, ?, CURRENT_TIMESTAMP, NULLIF(?, ''));
	`, planID, oldStatus, newStatus, actor, reason); err != nil {
		return fmt.Errorf("insert plan history: %w", err)
	}
	return nil
}
