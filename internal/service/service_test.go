package service_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/basket/planvault/internal/lifecycle"
	"github.com/basket/planvault/internal/planstore"
	"github.com/basket/planvault/internal/service"
)

func openTestService(t *testing.T) *service.Service {
	t.Helper()
	store, err := planstore.Open(filepath.Join(t.TempDir(), "planvault.db"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return service.New(store, service.Options{Logger: logger})
}

func mustCreatePlan(t *testing.T, svc *service.Service, sessionID, name string, tasks ...planstore.TaskSpec) *service.PlanWithTasks {
	t.Helper()
	out, err := svc.CreatePlan(context.Background(), service.CreatePlanRequest{
		SessionID: sessionID,
		ProjectID: "proj-1",
		Name:      name,
		Tasks:     tasks,
	})
	if err != nil {
		t.Fatalf("create plan: %v", err)
	}
	return out
}

func TestService_CreatePlanRejectsBlankFields(t *testing.T) {
	svc := openTestService(t)
	ctx := context.Background()

	cases := []service.CreatePlanRequest{
		{ProjectID: "p", Name: "n"},
		{SessionID: "s", Name: "n"},
		{SessionID: "s", ProjectID: "p"},
		{SessionID: "  ", ProjectID: "p", Name: "n"},
	}
	for i, req := range cases {
		var verr *planstore.ValidationError
		if _, err := svc.CreatePlan(ctx, req); !errors.As(err, &verr) {
			t.Fatalf("case %d: expected validation error, got %v", i, err)
		}
	}
}

func TestService_GetPlanDeniedForForeignSession(t *testing.T) {
	svc := openTestService(t)
	ctx := context.Background()

	created := mustCreatePlan(t, svc, "owner", "deploy")

	_, err := svc.GetPlan(ctx, service.GetPlanRequest{SessionID: "intruder", PlanID: created.Plan.ID})
	var mismatch *planstore.SessionMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected session mismatch, got %v", err)
	}
	if mismatch.PlanID != created.Plan.ID {
		t.Fatalf("mismatch names plan %d, want %d", mismatch.PlanID, created.Plan.ID)
	}

	got, err := svc.GetPlan(ctx, service.GetPlanRequest{SessionID: "owner", PlanID: created.Plan.ID, IncludeTasks: true})
	if err != nil {
		t.Fatalf("owner fetch: %v", err)
	}
	if got.Plan.Name != "deploy" {
		t.Fatalf("plan name = %q", got.Plan.Name)
	}
}

func TestService_ActivateSecondPlanConflicts(t *testing.T) {
	svc := openTestService(t)
	ctx := context.Background()

	first := mustCreatePlan(t, svc, "s1", "first")
	second := mustCreatePlan(t, svc, "s1", "second")

	if _, err := svc.ActivatePlan(ctx, service.TransitionPlanRequest{SessionID: "s1", PlanID: first.Plan.ID}); err != nil {
		t.Fatalf("activate first: %v", err)
	}

	_, err := svc.ActivatePlan(ctx, service.TransitionPlanRequest{SessionID: "s1", PlanID: second.Plan.ID})
	var conflict *planstore.ActivePlanConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected active-plan conflict, got %v", err)
	}
	if conflict.ActivePlanID != first.Plan.ID {
		t.Fatalf("conflict names plan %d, want %d", conflict.ActivePlanID, first.Plan.ID)
	}
}

func TestService_PlanLifecycleAndHistory(t *testing.T) {
	svc := openTestService(t)
	ctx := context.Background()

	created := mustCreatePlan(t, svc, "s1", "rollout")
	id := created.Plan.ID

	if _, err := svc.ActivatePlan(ctx, service.TransitionPlanRequest{SessionID: "s1", PlanID: id}); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if _, err := svc.CompletePlan(ctx, service.TransitionPlanRequest{SessionID: "s1", PlanID: id, Reason: "shipped"}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	plan, err := svc.ArchivePlan(ctx, service.TransitionPlanRequest{SessionID: "s1", PlanID: id})
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if plan.Status != lifecycle.PlanArchived {
		t.Fatalf("status = %s, want archived", plan.Status)
	}

	history, err := svc.PlanHistory(ctx, service.PlanHistoryRequest{SessionID: "s1", PlanID: id})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 4 {
		t.Fatalf("history rows = %d, want 4", len(history))
	}
	if history[0].NewStatus != "archived" || history[3].NewStatus != "draft" {
		t.Fatalf("history order wrong: newest=%s oldest=%s", history[0].NewStatus, history[3].NewStatus)
	}
}

func TestService_SkippingLifecycleStepsRejected(t *testing.T) {
	svc := openTestService(t)
	ctx := context.Background()

	created := mustCreatePlan(t, svc, "s1", "draft-only")

	_, err := svc.CompletePlan(ctx, service.TransitionPlanRequest{SessionID: "s1", PlanID: created.Plan.ID})
	var invalid *lifecycle.InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestService_TaskLifecycle(t *testing.T) {
	svc := openTestService(t)
	ctx := context.Background()

	created := mustCreatePlan(t, svc, "s1", "with-tasks",
		planstore.TaskSpec{Title: "step one"})
	planID := created.Plan.ID
	taskID := created.Tasks[0].ID

	task, err := svc.StartTask(ctx, service.TransitionTaskRequest{
		SessionID: "s1", PlanID: planID, TaskID: taskID, Actor: "agent-7",
	})
	if err != nil {
		t.Fatalf("start task: %v", err)
	}
	if task.Status != lifecycle.TaskInProgress {
		t.Fatalf("status = %s, want in_progress", task.Status)
	}

	task, err = svc.FailTask(ctx, service.TransitionTaskRequest{
		SessionID: "s1", PlanID: planID, TaskID: taskID, Reason: "build broke",
	})
	if err != nil {
		t.Fatalf("fail task: %v", err)
	}
	if task.Status != lifecycle.TaskFailed {
		t.Fatalf("status = %s, want failed", task.Status)
	}

	history, err := svc.TaskHistory(ctx, service.TaskHistoryRequest{SessionID: "s1", PlanID: planID, TaskID: taskID})
	if err != nil {
		t.Fatalf("task history: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("history rows = %d, want 3", len(history))
	}
	if history[0].Reason != "build broke" {
		t.Fatalf("newest reason = %q", history[0].Reason)
	}
	if history[0].ChangedBy != "s1" {
		t.Fatalf("newest changed_by = %q, want session default", history[0].ChangedBy)
	}
	if history[1].ChangedBy != "agent-7" {
		t.Fatalf("start changed_by = %q, want explicit actor", history[1].ChangedBy)
	}
}

func TestService_TaskHistoryScopedToPlan(t *testing.T) {
	svc := openTestService(t)
	ctx := context.Background()

	a := mustCreatePlan(t, svc, "s1", "plan-a", planstore.TaskSpec{Title: "in a"})
	b := mustCreatePlan(t, svc, "s1", "plan-b")

	_, err := svc.TaskHistory(ctx, service.TaskHistoryRequest{
		SessionID: "s1", PlanID: b.Plan.ID, TaskID: a.Tasks[0].ID,
	})
	var nf *planstore.TaskNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected task not found under wrong plan, got %v", err)
	}
}

func TestService_UpdateRequiresAtLeastOneField(t *testing.T) {
	svc := openTestService(t)
	ctx := context.Background()

	created := mustCreatePlan(t, svc, "s1", "edit-me", planstore.TaskSpec{Title: "t"})

	var verr *planstore.ValidationError
	if _, err := svc.UpdatePlan(ctx, service.UpdatePlanRequest{SessionID: "s1", PlanID: created.Plan.ID}); !errors.As(err, &verr) {
		t.Fatalf("expected validation error for empty plan update, got %v", err)
	}
	if _, err := svc.UpdateTask(ctx, service.UpdateTaskRequest{
		SessionID: "s1", PlanID: created.Plan.ID, TaskID: created.Tasks[0].ID,
	}); !errors.As(err, &verr) {
		t.Fatalf("expected validation error for empty task update, got %v", err)
	}

	name := "edited"
	plan, err := svc.UpdatePlan(ctx, service.UpdatePlanRequest{SessionID: "s1", PlanID: created.Plan.ID, Name: &name})
	if err != nil {
		t.Fatalf("update plan: %v", err)
	}
	if plan.Name != "edited" {
		t.Fatalf("name = %q", plan.Name)
	}
}

func TestService_UpdatePlanDeniedForForeignSessionLeavesRowUntouched(t *testing.T) {
	svc := openTestService(t)
	ctx := context.Background()

	created := mustCreatePlan(t, svc, "owner", "original", planstore.TaskSpec{Title: "keep me"})
	id := created.Plan.ID

	name := "hijacked"
	desc := "rewritten"
	_, err := svc.UpdatePlan(ctx, service.UpdatePlanRequest{
		SessionID: "intruder", PlanID: id, Name: &name, Description: &desc,
	})
	var mismatch *planstore.SessionMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected session mismatch, got %v", err)
	}

	title := "hijacked task"
	if _, err := svc.UpdateTask(ctx, service.UpdateTaskRequest{
		SessionID: "intruder", PlanID: id, TaskID: created.Tasks[0].ID, Title: &title,
	}); !errors.As(err, &mismatch) {
		t.Fatalf("expected session mismatch on task update, got %v", err)
	}
	if _, err := svc.ActivatePlan(ctx, service.TransitionPlanRequest{
		SessionID: "intruder", PlanID: id,
	}); !errors.As(err, &mismatch) {
		t.Fatalf("expected session mismatch on activation, got %v", err)
	}

	got, err := svc.GetPlan(ctx, service.GetPlanRequest{SessionID: "owner", PlanID: id, IncludeTasks: true})
	if err != nil {
		t.Fatalf("owner fetch: %v", err)
	}
	if got.Plan.Name != "original" || got.Plan.Description != "" {
		t.Fatalf("plan mutated by denied update: name=%q desc=%q", got.Plan.Name, got.Plan.Description)
	}
	if got.Plan.Status != lifecycle.PlanDraft {
		t.Fatalf("plan status mutated by denied activation: %s", got.Plan.Status)
	}
	if got.Tasks[0].Title != "keep me" {
		t.Fatalf("task mutated by denied update: %q", got.Tasks[0].Title)
	}
	if got.Plan.UpdatedAt != created.Plan.UpdatedAt {
		t.Fatalf("updated_at moved from %v to %v", created.Plan.UpdatedAt, got.Plan.UpdatedAt)
	}

	history, err := svc.PlanHistory(ctx, service.PlanHistoryRequest{SessionID: "owner", PlanID: id})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("history rows = %d, want only the creation row", len(history))
	}
}

func TestService_ListPlansScopedToSession(t *testing.T) {
	svc := openTestService(t)
	ctx := context.Background()

	mustCreatePlan(t, svc, "s1", "one")
	mustCreatePlan(t, svc, "s1", "two")
	mustCreatePlan(t, svc, "s2", "other")

	plans, err := svc.ListPlans(ctx, service.ListPlansRequest{SessionID: "s1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(plans) != 2 {
		t.Fatalf("plans = %d, want 2", len(plans))
	}
	if plans[0].Name != "two" {
		t.Fatalf("newest first violated: %q", plans[0].Name)
	}
}

func TestService_GetPlanByNameChecksOwnership(t *testing.T) {
	svc := openTestService(t)
	ctx := context.Background()

	mustCreatePlan(t, svc, "owner", "shared-name")

	_, err := svc.GetPlanByName(ctx, service.GetPlanByNameRequest{
		SessionID: "intruder", ProjectID: "proj-1", Name: "shared-name",
	})
	var mismatch *planstore.SessionMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected session mismatch, got %v", err)
	}
}
