package service

import (
	"context"
	"strconv"
	"strings"

	"github.com/basket/planvault/internal/audit"
	"github.com/basket/planvault/internal/planstore"
	"github.com/basket/planvault/internal/shared"
)

// CreatePlanRequest creates a plan, optionally with initial tasks and
// optionally directly active.
type CreatePlanRequest struct {
	SessionID   string               `json:"session_id"`
	ProjectID   string               `json:"project_id"`
	Name        string               `json:"name"`
	Description string               `json:"description,omitempty"`
	Metadata    map[string]any       `json:"metadata,omitempty"`
	Tasks       []planstore.TaskSpec `json:"tasks,omitempty"`
	Activate    bool                 `json:"activate,omitempty"`
	Actor       string               `json:"actor,omitempty"`
}

// PlanWithTasks is the response shape for operations that return a plan
// together with its tasks.
type PlanWithTasks struct {
	Plan  *planstore.Plan  `json:"plan"`
	Tasks []planstore.Task `json:"tasks"`
}

func (s *Service) CreatePlan(ctx context.Context, req CreatePlanRequest) (_ *PlanWithTasks, err error) {
	ctx, finish := s.begin(ctx, "create_plan")
	defer func() { finish(err) }()

	if err = requireSession(req.SessionID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.ProjectID) == "" {
		return nil, &planstore.ValidationError{Field: "project_id", Reason: "must not be empty"}
	}
	if strings.TrimSpace(req.Name) == "" {
		return nil, &planstore.ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if req.Activate {
		if err = s.guard.AuthorizeActivation(ctx, req.SessionID); err != nil {
			return nil, err
		}
	}

	plan, tasks, err := s.store.CreatePlan(ctx, planstore.CreatePlanParams{
		SessionID:   req.SessionID,
		ProjectID:   req.ProjectID,
		Name:        req.Name,
		Description: req.Description,
		Metadata:    req.Metadata,
		Tasks:       req.Tasks,
		Activate:    req.Activate,
		Actor:       actorOr(req.Actor, req.SessionID),
	})
	if err != nil {
		return nil, err
	}

	s.countTransition(ctx, "plan", string(plan.Status))
	s.logger.Info("plan created",
		"plan_id", plan.ID,
		"session_id", plan.SessionID,
		"project_id", plan.ProjectID,
		"status", plan.Status,
		"tasks", len(tasks))
	return &PlanWithTasks{Plan: plan, Tasks: tasks}, nil
}

// GetPlanRequest fetches one plan. IncludeTasks also loads the task
// list in creation order.
type GetPlanRequest struct {
	SessionID    string `json:"session_id"`
	PlanID       int64  `json:"plan_id"`
	IncludeTasks bool   `json:"include_tasks,omitempty"`
}

func (s *Service) GetPlan(ctx context.Context, req GetPlanRequest) (_ *PlanWithTasks, err error) {
	ctx, finish := s.begin(ctx, "get_plan")
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

	if req.IncludeTasks {
		plan, tasks, err := s.store.GetPlanWithTasks(ctx, req.PlanID)
		if err != nil {
			return nil, err
		}
		return &PlanWithTasks{Plan: plan, Tasks: tasks}, nil
	}
	plan, err := s.store.GetPlan(ctx, req.PlanID)
	if err != nil {
		return nil, err
	}
	return &PlanWithTasks{Plan: plan}, nil
}

// GetPlanByNameRequest resolves a plan by project and name. When several
// plans share the name the newest wins.
type GetPlanByNameRequest struct {
	SessionID string `json:"session_id"`
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
}

func (s *Service) GetPlanByName(ctx context.Context, req GetPlanByNameRequest) (_ *planstore.Plan, err error) {
	ctx, finish := s.begin(ctx, "get_plan_by_name")
	defer func() { finish(err) }()

	if err = requireSession(req.SessionID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.ProjectID) == "" {
		return nil, &planstore.ValidationError{Field: "project_id", Reason: "must not be empty"}
	}
	if strings.TrimSpace(req.Name) == "" {
		return nil, &planstore.ValidationError{Field: "name", Reason: "must not be empty"}
	}

	plan, err := s.store.GetPlanByName(ctx, req.ProjectID, req.Name)
	if err != nil {
		return nil, err
	}
	if err = s.guard.AuthorizeAccess(ctx, req.SessionID, plan.ID); err != nil {
		return nil, err
	}
	return plan, nil
}

// ListPlansRequest lists the calling session's plans, newest first.
type ListPlansRequest struct {
	SessionID string `json:"session_id"`
}

func (s *Service) ListPlans(ctx context.Context, req ListPlansRequest) (_ []planstore.Plan, err error) {
	ctx, finish := s.begin(ctx, "list_plans")
	defer func() { finish(err) }()

	if err = requireSession(req.SessionID); err != nil {
		return nil, err
	}
	return s.store.ListPlans(ctx, req.SessionID)
}

// UpdatePlanRequest changes non-status plan fields. Omitted fields are
// left untouched; no history row is written.
type UpdatePlanRequest struct {
	SessionID   string  `json:"session_id"`
	PlanID      int64   `json:"plan_id"`
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

func (s *Service) UpdatePlan(ctx context.Context, req UpdatePlanRequest) (_ *planstore.Plan, err error) {
	ctx, finish := s.begin(ctx, "update_plan")
	defer func() { finish(err) }()

	if err = requireSession(req.SessionID); err != nil {
		return nil, err
	}
	if err = requirePlanID(req.PlanID); err != nil {
		return nil, err
	}
	if req.Name == nil && req.Description == nil {
		return nil, &planstore.ValidationError{Field: "update", Reason: "at least one field must be set"}
	}
	if err = s.guard.AuthorizeAccess(ctx, req.SessionID, req.PlanID); err != nil {
		return nil, err
	}
	return s.store.UpdatePlan(ctx, req.PlanID, planstore.PlanUpdate{
		Name:        req.Name,
		Description: req.Description,
	})
}

// TransitionPlanRequest moves a plan one step along its lifecycle.
type TransitionPlanRequest struct {
	SessionID string `json:"session_id"`
	PlanID    int64  `json:"plan_id"`
	Actor     string `json:"actor,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

func (s *Service) ActivatePlan(ctx context.Context, req TransitionPlanRequest) (*planstore.Plan, error) {
	return s.transitionPlan(ctx, "activate_plan", req, func(ctx context.Context, actor string) (*planstore.Plan, error) {
		if err := s.guard.AuthorizeActivation(ctx, req.SessionID); err != nil {
			return nil, err
		}
		return s.store.ActivatePlan(ctx, req.PlanID, actor, req.Reason)
	})
}

func (s *Service) CompletePlan(ctx context.Context, req TransitionPlanRequest) (*planstore.Plan, error) {
	return s.transitionPlan(ctx, "complete_plan", req, func(ctx context.Context, actor string) (*planstore.Plan, error) {
		return s.store.CompletePlan(ctx, req.PlanID, actor, req.Reason)
	})
}

func (s *Service) ArchivePlan(ctx context.Context, req TransitionPlanRequest) (*planstore.Plan, error) {
	return s.transitionPlan(ctx, "archive_plan", req, func(ctx context.Context, actor string) (*planstore.Plan, error) {
		return s.store.ArchivePlan(ctx, req.PlanID, actor, req.Reason)
	})
}

func (s *Service) transitionPlan(ctx context.Context, op string, req TransitionPlanRequest,
	apply func(ctx context.Context, actor string) (*planstore.Plan, error)) (_ *planstore.Plan, err error) {
	ctx, finish := s.begin(ctx, op)
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

	plan, err := apply(ctx, actorOr(req.Actor, req.SessionID))
	if err != nil {
		return nil, err
	}

	s.countTransition(ctx, "plan", string(plan.Status))
	audit.Record(audit.DecisionAllow, op, req.Reason,
		"plan="+strconv.FormatInt(plan.ID, 10), shared.TraceID(ctx))
	s.logger.Info("plan status changed",
		"plan_id", plan.ID,
		"session_id", req.SessionID,
		"status", plan.Status)
	return plan, nil
}

// PlanHistoryRequest reads a plan's audit trail, newest first.
type PlanHistoryRequest struct {
	SessionID string `json:"session_id"`
	PlanID    int64  `json:"plan_id"`
}

func (s *Service) PlanHistory(ctx context.Context, req PlanHistoryRequest) (_ []planstore.PlanHistoryEntry, err error) {
	ctx, finish := s.begin(ctx, "get_plan_history")
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
	return s.store.PlanHistory(ctx, req.PlanID)
}
