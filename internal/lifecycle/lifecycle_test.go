package lifecycle

import (
	"errors"
	"testing"
)

func TestValidatePlanTransition_LinearPath(t *testing.T) {
	legal := []struct{ from, to PlanStatus }{
		{PlanDraft, PlanActive},
		{PlanActive, PlanCompleted},
		{PlanCompleted, PlanArchived},
	}
	for _, tc := range legal {
		if err := ValidatePlanTransition(tc.from, tc.to); err != nil {
			t.Fatalf("expected %s -> %s to be legal, got %v", tc.from, tc.to, err)
		}
	}
}

func TestValidatePlanTransition_RejectsEverythingElse(t *testing.T) {
	all := PlanStatuses()
	legal := map[[2]PlanStatus]bool{
		{PlanDraft, PlanActive}:       true,
		{PlanActive, PlanCompleted}:   true,
		{PlanCompleted, PlanArchived}: true,
	}
	for _, from := range all {
		for _, to := range all {
			err := ValidatePlanTransition(from, to)
			if legal[[2]PlanStatus{from, to}] {
				if err != nil {
					t.Errorf("%s -> %s: expected legal, got %v", from, to, err)
				}
				continue
			}
			var ite *InvalidTransitionError
			if !errors.As(err, &ite) {
				t.Errorf("%s -> %s: expected InvalidTransitionError, got %v", from, to, err)
				continue
			}
			if ite.From != string(from) || ite.To != string(to) {
				t.Errorf("%s -> %s: error reports %s -> %s", from, to, ite.From, ite.To)
			}
		}
	}
}

func TestValidatePlanTransition_NoSkipping(t *testing.T) {
	// A draft plan must pass through active before completing.
	if err := ValidatePlanTransition(PlanDraft, PlanCompleted); err == nil {
		t.Fatal("expected draft -> completed to be rejected")
	}
	// No resurrection out of archived.
	err := ValidatePlanTransition(PlanArchived, PlanActive)
	var ite *InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if !ite.Terminal() {
		t.Fatalf("expected terminal-state error for archived -> active, got %v", ite)
	}
}

func TestValidateTaskTransition(t *testing.T) {
	cases := []struct {
		from, to TaskStatus
		ok       bool
	}{
		{TaskPending, TaskInProgress, true},
		{TaskPending, TaskCompleted, true}, // one-shot completion
		{TaskPending, TaskFailed, true},
		{TaskInProgress, TaskCompleted, true},
		{TaskInProgress, TaskFailed, true},
		{TaskInProgress, TaskPending, false},
		{TaskCompleted, TaskInProgress, false},
		{TaskCompleted, TaskFailed, false},
		{TaskFailed, TaskPending, false},
		{TaskFailed, TaskCompleted, false},
	}
	for _, tc := range cases {
		err := ValidateTaskTransition(tc.from, tc.to)
		if tc.ok && err != nil {
			t.Errorf("%s -> %s: expected legal, got %v", tc.from, tc.to, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("%s -> %s: expected rejection", tc.from, tc.to)
		}
	}
}

func TestTerminalStates(t *testing.T) {
	if !PlanArchived.Terminal() {
		t.Error("archived should be terminal")
	}
	if PlanActive.Terminal() {
		t.Error("active should not be terminal")
	}
	if !TaskCompleted.Terminal() || !TaskFailed.Terminal() {
		t.Error("completed and failed should be terminal")
	}
	if TaskPending.Terminal() || TaskInProgress.Terminal() {
		t.Error("pending and in_progress should not be terminal")
	}
	if PlanStatus("bogus").Terminal() {
		t.Error("unknown status must not report terminal")
	}
}

func TestUnknownStatusRejected(t *testing.T) {
	if err := ValidatePlanTransition("bogus", PlanActive); err == nil {
		t.Fatal("expected unknown from-status to be rejected")
	}
	if err := ValidateTaskTransition(TaskPending, "bogus"); err == nil {
		t.Fatal("expected unknown to-status to be rejected")
	}
}
