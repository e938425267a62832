package service

import (
	"context"
	"strconv"
	"strings"

	"github.com/basket/planvault/internal/audit"
	"github.com/basket/planvault/internal/planstore"
	"github.com/basket/planvault/internal/shared"
)

// CreateTaskRequest adds one task to an existing plan.
type CreateTaskRequest struct {
	SessionID   string         `json:"session_id"`
	PlanID      int64          `json:"plan_id"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Priority    string         `json:"priority,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Actor       string         `json:"actor,omitempty"`
}

func (s *Service) CreateTask(ctx context.Context, req CreateTaskRequest) (_ *planstore.Task, err error) {
	ctx, finish := s.begin(ctx, "create_task")
	defer func() { finish(err) }()

	if err = requireSession(req.SessionID); err != nil {
		return nil, err
	}
	if err = requirePlanID(req.PlanID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Title) == "" {
		return nil, &planstore.ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if err = s.guard.AuthorizeAccess(ctx, req.SessionID, req.PlanID); err != nil {
		return nil, err
	}

	task, err := s.store.CreateTask(ctx, req.PlanID, planstore.TaskSpec{
		Title:       req.Title,
		Description: req.Description,
		Priority:    req.Priority,
		Metadata:    req.Metadata,
	}, actorOr(req.Actor, req.SessionID))
	if err != nil {
		return nil, err
	}

	s.countTransition(ctx, "task", string(task.Status))
	s.logger.Info("task created",
		"task_id", task.ID,
		"plan_id", task.PlanID,
		"session_id", req.SessionID)
	return task, nil
}

// GetTaskRequest fetches one task scoped to its plan.
type GetTaskRequest struct {
	SessionID string `json:"session_id"`
	PlanID    int64  `json:"plan_id"`
	TaskID    int64  `json:"task_id"`
}

func (s *Service) GetTask(ctx context.Context, req GetTaskRequest) (_ *planstore.Task, err error) {
	ctx, finish := s.begin(ctx, "get_task")
	defer func() { finish(err) }()

	if err = s.checkTaskScope(ctx, req.SessionID, req.PlanID, req.TaskID); err != nil {
		return nil, err
	}
	return s.store.GetTask(ctx, req.PlanID, req.TaskID)
}

// ListTasksRequest lists a plan's tasks in creation order.
type ListTasksRequest struct {
	SessionID string `json:"session_id"`
	PlanID    int64  `json:"plan_id"`
}

func (s *Service) ListTasks(ctx context.Context, req ListTasksRequest) (_ []planstore.Task, err error) {
	ctx, finish := s.begin(ctx, "list_tasks")
	defer func() { finish(err) }()

	if err = requireSession(req.SessionID); err != nil {
		return nil, err
	}
	if err = requirePlanID(req.PlanID); err != nil {
		return nil, err
	}
	if err = s.guard.AuthorizeAccess(ctx, req.SessionID, req.PlanID); err != nil {
		return nil, err
	}
	return s.store.ListTasks(ctx, req.PlanID)
}

// UpdateTaskRequest changes non-status task fields. No history row is
// written.
type UpdateTaskRequest struct {
	SessionID   string  `json:"session_id"`
	PlanID      int64   `json:"plan_id"`
	TaskID      int64   `json:"task_id"`
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Priority    *string `json:"priority,omitempty"`
}

func (s *Service) UpdateTask(ctx context.Context, req UpdateTaskRequest) (_ *planstore.Task, err error) {
	ctx, finish := s.begin(ctx, "update_task")
	defer func() { finish(err) }()

	if err = s.checkTaskScope(ctx, req.SessionID, req.PlanID, req.TaskID); err != nil {
		return nil, err
	}
	if req.Title == nil && req.Description == nil && req.Priority == nil {
		return nil, &planstore.ValidationError{Field: "update", Reason: "at least one field must be set"}
	}
	return s.store.UpdateTask(ctx, req.PlanID, req.TaskID, planstore.TaskUpdate{
		Title:       req.Title,
		Description: req.Description,
		Priority:    req.Priority,
	})
}

// TransitionTaskRequest moves a task along its lifecycle.
type TransitionTaskRequest struct {
	SessionID string `json:"session_id"`
	PlanID    int64  `json:"plan_id"`
	TaskID    int64  `json:"task_id"`
	Actor     string `json:"actor,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

func (s *Service) StartTask(ctx context.Context, req TransitionTaskRequest) (*planstore.Task, error) {
	return s.transitionTask(ctx, "start_task", req, s.store.StartTask)
}

func (s *Service) CompleteTask(ctx context.Context, req TransitionTaskRequest) (*planstore.Task, error) {
	return s.transitionTask(ctx, "complete_task", req, s.store.CompleteTask)
}

func (s *Service) FailTask(ctx context.Context, req TransitionTaskRequest) (*planstore.Task, error) {
	return s.transitionTask(ctx, "fail_task", req, s.store.FailTask)
}

func (s *Service) transitionTask(ctx context.Context, op string, req TransitionTaskRequest,
	apply func(ctx context.Context, planID, taskID int64, actor, reason string) (*planstore.Task, error)) (_ *planstore.Task, err error) {
	ctx, finish := s.begin(ctx, op)
	defer func() { finish(err) }()

	if err = s.checkTaskScope(ctx, req.SessionID, req.PlanID, req.TaskID); err != nil {
		return nil, err
	}

	task, err := apply(ctx, req.PlanID, req.TaskID, actorOr(req.Actor, req.SessionID), req.Reason)
	if err != nil {
		return nil, err
	}

	s.countTransition(ctx, "task", string(task.Status))
	audit.Record(audit.DecisionAllow, op, req.Reason,
		"task="+strconv.FormatInt(task.ID, 10), shared.TraceID(ctx))
	s.logger.Info("task status changed",
		"task_id", task.ID,
		"plan_id", task.PlanID,
		"session_id", req.SessionID,
		"status", task.Status)
	return task, nil
}

// TaskHistoryRequest reads a task's audit trail, newest first.
type TaskHistoryRequest struct {
	SessionID string `json:"session_id"`
	PlanID    int64  `json:"plan_id"`
	TaskID    int64  `json:"task_id"`
}

func (s *Service) TaskHistory(ctx context.Context, req TaskHistoryRequest) (_ []planstore.TaskHistoryEntry, err error) {
	ctx, finish := s.begin(ctx, "get_task_history")
	defer func() { finish(err) }()

	if err = s.checkTaskScope(ctx, req.SessionID, req.PlanID, req.TaskID); err != nil {
		return nil, err
	}
	// Confirm the task belongs to the authorized plan before reading
	// its trail; history rows are keyed by task id alone.
	if _, err = s.store.GetTask(ctx, req.PlanID, req.TaskID); err != nil {
		return nil, err
	}
	return s.store.TaskHistory(ctx, req.TaskID)
}

// checkTaskScope runs the shape checks and the ownership check shared
// by every task operation.
func (s *Service) checkTaskScope(ctx context.Context, sessionID string, planID, taskID int64) error {
	if err := requireSession(sessionID); err != nil {
		return err
	}
	if err := requirePlanID(planID); err != nil {
		return err
	}
	if err := requireTaskID(taskID); err != nil {
		return err
	}
	return s.guard.AuthorizeAccess(ctx, sessionID, planID)
}
