package planstore_test

import (
	"context"
	"errors"
	"testing"

	"github.com/basket/planvault/internal/lifecycle"
	"github.com/basket/planvault/internal/planstore"
)

func seedPlan(t *testing.T, store *planstore.Store, specs ...planstore.TaskSpec) (*planstore.Plan, []planstore.Task) {
	t.Helper()
	plan, tasks, err := store.CreatePlan(context.Background(), planstore.CreatePlanParams{
		SessionID: "s1",
		ProjectID: "p1",
		Name:      "Launch",
		Tasks:     specs,
	})
	if err != nil {
		t.Fatalf("seed plan: %v", err)
	}
	return plan, tasks
}

func TestCreateTask_AtomicWithInitialHistory(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	plan, _ := seedPlan(t, store)

	task, err := store.CreateTask(ctx, plan.ID, planstore.TaskSpec{
		Title:    "Ship it",
		Priority: "high",
	}, "agent-1")
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if task.Status != lifecycle.TaskPending {
		t.Fatalf("expected pending, got %s", task.Status)
	}
	if task.Priority != "high" {
		t.Fatalf("expected high priority, got %q", task.Priority)
	}

	history, err := store.TaskHistory(ctx, task.ID)
	if err != nil {
		t.Fatalf("task history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 history row, got %d", len(history))
	}
	if history[0].OldStatus != "" || history[0].NewStatus != string(lifecycle.TaskPending) {
		t.Fatalf("unexpected initial history %+v", history[0])
	}
	if history[0].ChangedBy != "agent-1" {
		t.Fatalf("expected changed_by=agent-1, got %q", history[0].ChangedBy)
	}
}

func TestCreateTask_MissingPlanTyped(t *testing.T) {
	store := openTestStore(t)

	_, err := store.CreateTask(context.Background(), 42, planstore.TaskSpec{Title: "x"}, "a")
	var nf *planstore.PlanNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected PlanNotFoundError, got %v", err)
	}
	if nf.PlanID != 42 {
		t.Fatalf("not-found carries plan id %d, want 42", nf.PlanID)
	}
	if n := countRows(t, store.DB(), "task_history"); n != 0 {
		t.Fatalf("expected no history rows, got %d", n)
	}
}

func TestCompleteTask_PendingDirectly(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	plan, tasks := seedPlan(t, store, planstore.TaskSpec{Title: "Draft copy"})

	task, err := store.CompleteTask(ctx, plan.ID, tasks[0].ID, "agent-1", "")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if task.Status != lifecycle.TaskCompleted {
		t.Fatalf("expected completed, got %s", task.Status)
	}

	history, err := store.TaskHistory(ctx, task.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 history rows, got %d", len(history))
	}
	latest := history[0]
	if latest.OldStatus != "pending" || latest.NewStatus != "completed" || latest.ChangedBy != "agent-1" {
		t.Fatalf("unexpected latest history %+v", latest)
	}
}

func TestTaskLifecycle_StartThenFailWithReason(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	plan, tasks := seedPlan(t, store, planstore.TaskSpec{Title: "Review"})

	task, err := store.StartTask(ctx, plan.ID, tasks[0].ID, "agent-1", "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if task.Status != lifecycle.TaskInProgress {
		t.Fatalf("expected in_progress, got %s", task.Status)
	}

	task, err = store.FailTask(ctx, plan.ID, task.ID, "agent-1", "build broke")
	if err != nil {
		t.Fatalf("fail: %v", err)
	}
	if task.Status != lifecycle.TaskFailed {
		t.Fatalf("expected failed, got %s", task.Status)
	}

	history, err := store.TaskHistory(ctx, task.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 history rows, got %d", len(history))
	}
	if history[0].Reason != "build broke" {
		t.Fatalf("expected failure reason recorded, got %q", history[0].Reason)
	}
}

func TestTaskTransitions_TerminalStatesAreFinal(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	plan, tasks := seedPlan(t, store,
		planstore.TaskSpec{Title: "done"},
		planstore.TaskSpec{Title: "dead"},
	)

	if _, err := store.CompleteTask(ctx, plan.ID, tasks[0].ID, "a", ""); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := store.FailTask(ctx, plan.ID, tasks[1].ID, "a", ""); err != nil {
		t.Fatalf("fail: %v", err)
	}

	var ite *lifecycle.InvalidTransitionError
	if _, err := store.StartTask(ctx, plan.ID, tasks[0].ID, "a", ""); !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTransitionError out of completed, got %v", err)
	}
	if _, err := store.CompleteTask(ctx, plan.ID, tasks[1].ID, "a", ""); !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTransitionError out of failed, got %v", err)
	}
	if !ite.Terminal() {
		t.Fatalf("expected terminal rejection, got %+v", ite)
	}

	// The failed transitions must not have produced history rows.
	history, err := store.TaskHistory(ctx, tasks[0].ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 history rows, got %d", len(history))
	}
}

func TestUpdateTask_NonStatusFields(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	plan, tasks := seedPlan(t, store, planstore.TaskSpec{Title: "old title"})

	title := "new title"
	priority := "low"
	task, err := store.UpdateTask(ctx, plan.ID, tasks[0].ID, planstore.TaskUpdate{
		Title:    &title,
		Priority: &priority,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if task.Title != title || task.Priority != priority {
		t.Fatalf("update not applied: %+v", task)
	}
	if task.Status != lifecycle.TaskPending {
		t.Fatalf("status changed by field update: %s", task.Status)
	}

	history, err := store.TaskHistory(ctx, task.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("field update must not write history, got %d", len(history))
	}

	var nf *planstore.TaskNotFoundError
	if _, err := store.UpdateTask(ctx, plan.ID, 999, planstore.TaskUpdate{Title: &title}); !errors.As(err, &nf) {
		t.Fatalf("expected TaskNotFoundError, got %v", err)
	}
	if nf.TaskID != 999 || nf.PlanID != plan.ID {
		t.Fatalf("not-found carries %d/%d", nf.PlanID, nf.TaskID)
	}
}

func TestGetTask_ScopedToPlan(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	plan, tasks := seedPlan(t, store, planstore.TaskSpec{Title: "t"})

	other, _, err := store.CreatePlan(ctx, planstore.CreatePlanParams{
		SessionID: "s2", ProjectID: "p1", Name: "Other",
	})
	if err != nil {
		t.Fatalf("create other plan: %v", err)
	}

	// Looking the task up under the wrong plan is a not-found, not a leak.
	var nf *planstore.TaskNotFoundError
	if _, err := store.GetTask(ctx, other.ID, tasks[0].ID); !errors.As(err, &nf) {
		t.Fatalf("expected TaskNotFoundError under wrong plan, got %v", err)
	}

	got, err := store.GetTask(ctx, plan.ID, tasks[0].ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.ID != tasks[0].ID {
		t.Fatalf("got task %d, want %d", got.ID, tasks[0].ID)
	}
}

func TestListTasks_CreationOrder(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	plan, _ := seedPlan(t, store,
		planstore.TaskSpec{Title: "first"},
		planstore.TaskSpec{Title: "second"},
		planstore.TaskSpec{Title: "third"},
	)

	tasks, err := store.ListTasks(ctx, plan.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(tasks))
	}
	for i, want := range []string{"first", "second", "third"} {
		if tasks[i].Title != want {
			t.Fatalf("task %d = %q, want %q", i, tasks[i].Title, want)
		}
	}
}

func TestGetPlanWithTasks(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	plan, _ := seedPlan(t, store, planstore.TaskSpec{Title: "a"}, planstore.TaskSpec{Title: "b"})

	got, tasks, err := store.GetPlanWithTasks(ctx, plan.ID)
	if err != nil {
		t.Fatalf("get with tasks: %v", err)
	}
	if got.ID != plan.ID || len(tasks) != 2 {
		t.Fatalf("unexpected composite read: plan %d, %d tasks", got.ID, len(tasks))
	}

	var nf *planstore.PlanNotFoundError
	if _, _, err := store.GetPlanWithTasks(ctx, 12345); !errors.As(err, &nf) {
		t.Fatalf("expected PlanNotFoundError, got %v", err)
	}
}
