// Package lifecycle defines the closed status sets for plans and tasks
// and validates transitions between them. The adjacency maps here are
// the single source of truth for both the application layer and the
// CHECK constraints the store derives from the status lists.
package lifecycle

import "fmt"

type PlanStatus string

const (
	PlanDraft     PlanStatus = "draft"
	PlanActive    PlanStatus = "active"
	PlanCompleted PlanStatus = "completed"
	PlanArchived  PlanStatus = "archived"
)

type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// Entity kinds reported in transition errors.
const (
	EntityPlan = "plan"
	EntityTask = "task"
)

// planTransitions is strictly linear: a plan cannot skip a stage or
// move backward. archived has no successors.
var planTransitions = map[PlanStatus]map[PlanStatus]struct{}{
	PlanDraft: {
		PlanActive: {},
	},
	PlanActive: {
		PlanCompleted: {},
	},
	PlanCompleted: {
		PlanArchived: {},
	},
}

// taskTransitions allows completing or failing a task straight from
// pending; agents frequently finish one-shot tasks without reporting
// an in_progress step first. completed and failed are terminal.
var taskTransitions = map[TaskStatus]map[TaskStatus]struct{}{
	TaskPending: {
		TaskInProgress: {},
		TaskCompleted:  {},
		TaskFailed:     {},
	},
	TaskInProgress: {
		TaskCompleted: {},
		TaskFailed:    {},
	},
}

// InvalidTransitionError reports a status change that is not reachable
// from the current status.
type InvalidTransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	if e.Terminal() {
		return fmt.Sprintf("invalid %s transition %q -> %q: %q is terminal", e.Entity, e.From, e.To, e.From)
	}
	return fmt.Sprintf("invalid %s transition %q -> %q", e.Entity, e.From, e.To)
}

// Terminal reports whether the rejected transition was attempted out of
// a terminal state.
func (e *InvalidTransitionError) Terminal() bool {
	switch e.Entity {
	case EntityPlan:
		return PlanStatus(e.From).Terminal()
	case EntityTask:
		return TaskStatus(e.From).Terminal()
	}
	return false
}

func (s PlanStatus) Valid() bool {
	switch s {
	case PlanDraft, PlanActive, PlanCompleted, PlanArchived:
		return true
	}
	return false
}

// Terminal reports whether no transition leads out of s.
func (s PlanStatus) Terminal() bool {
	return s.Valid() && len(planTransitions[s]) == 0
}

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskPending, TaskInProgress, TaskCompleted, TaskFailed:
		return true
	}
	return false
}

func (s TaskStatus) Terminal() bool {
	return s.Valid() && len(taskTransitions[s]) == 0
}

// PlanStatuses returns every plan status in lifecycle order.
func PlanStatuses() []PlanStatus {
	return []PlanStatus{PlanDraft, PlanActive, PlanCompleted, PlanArchived}
}

// TaskStatuses returns every task status.
func TaskStatuses() []TaskStatus {
	return []TaskStatus{TaskPending, TaskInProgress, TaskCompleted, TaskFailed}
}

// ValidatePlanTransition returns nil when from -> to is a legal plan
// transition, and an *InvalidTransitionError otherwise. Unknown
// statuses are rejected the same way.
func ValidatePlanTransition(from, to PlanStatus) error {
	if next, ok := planTransitions[from]; ok {
		if _, ok := next[to]; ok {
			return nil
		}
	}
	return &InvalidTransitionError{Entity: EntityPlan, From: string(from), To: string(to)}
}

// ValidateTaskTransition returns nil when from -> to is a legal task
// transition, and an *InvalidTransitionError otherwise.
func ValidateTaskTransition(from, to TaskStatus) error {
	if next, ok := taskTransitions[from]; ok {
		if _, ok := next[to]; ok {
			return nil
		}
	}
	return &InvalidTransitionError{Entity: EntityTask, From: string(from), To: string(to)}
}
