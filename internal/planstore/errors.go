package planstore

import (
	"errors"
	"fmt"
)

// PlanNotFoundError reports a plan id with no matching row.
type PlanNotFoundError struct {
	PlanID int64
}

func (e *PlanNotFoundError) Error() string {
	return fmt.Sprintf("plan %d not found", e.PlanID)
}

// PlanNameNotFoundError reports a (project, name) lookup with no match.
type PlanNameNotFoundError struct {
	ProjectID string
	Name      string
}

func (e *PlanNameNotFoundError) Error() string {
	return fmt.Sprintf("plan %q not found in project %q", e.Name, e.ProjectID)
}

// TaskNotFoundError reports a task id with no matching row under the
// given plan. TaskID 0 means the lookup failed before a specific task
// was identified.
type TaskNotFoundError struct {
	PlanID int64
	TaskID int64
}

func (e *TaskNotFoundError) Error() string {
	return fmt.Sprintf("task %d not found in plan %d", e.TaskID, e.PlanID)
}

// SessionMismatchError reports a session touching a plan it does not own.
type SessionMismatchError struct {
	SessionID string
	PlanID    int64
}

func (e *SessionMismatchError) Error() string {
	return fmt.Sprintf("session %q does not own plan %d", e.SessionID, e.PlanID)
}

// ActivePlanConflictError reports a session that already holds an
// active plan. ActivePlanID names the conflicting plan when known.
type ActivePlanConflictError struct {
	SessionID    string
	ActivePlanID int64
}

func (e *ActivePlanConflictError) Error() string {
	if e.ActivePlanID > 0 {
		return fmt.Sprintf("session %q already has active plan %d", e.SessionID, e.ActivePlanID)
	}
	return fmt.Sprintf("session %q already has an active plan", e.SessionID)
}

// ValidationError reports malformed input rejected before any database
// round-trip.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// StorageError wraps an unclassified database failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// storeErr wraps err as a *StorageError unless it is already one of the
// typed results, so classified errors survive intact through helpers.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var (
		planNotFound *PlanNotFoundError
		nameNotFound *PlanNameNotFoundError
		taskNotFound *TaskNotFoundError
		mismatch     *SessionMismatchError
		conflict     *ActivePlanConflictError
		validation   *ValidationError
		storage      *StorageError
	)
	if errors.As(err, &planNotFound) ||
		errors.As(err, &nameNotFound) ||
		errors.As(err, &taskNotFound) ||
		errors.As(err, &mismatch) ||
		errors.As(err, &conflict) ||
		errors.As(err, &validation) ||
		errors.As(err, &storage) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
