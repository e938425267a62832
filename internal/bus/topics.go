package bus

// Plan lifecycle topics.
const (
	TopicPlanCreated       = "plan.created"
	TopicPlanUpdated       = "plan.updated"
	TopicPlanStatusChanged = "plan.status_changed"
	TopicPlanDeleted       = "plan.deleted"
)

// Task lifecycle topics.
const (
	TopicTaskCreated       = "task.created"
	TopicTaskUpdated       = "task.updated"
	TopicTaskStatusChanged = "task.status_changed"
)

// PlanEvent is published when a plan is created, updated, or deleted.
type PlanEvent struct {
	PlanID    int64  // Plan ID
	SessionID string // Owning session
	ProjectID string // Owning project
	Name      string // Plan name at the time of the event
}

// PlanStatusChangedEvent is published after a plan status transition commits.
type PlanStatusChangedEvent struct {
	PlanID    int64  // Plan ID
	SessionID string // Owning session
	OldStatus string // Previous status ("" on creation)
	NewStatus string // New status
	ChangedBy string // Actor responsible for the transition
}

// TaskEvent is published when a task is created or updated.
type TaskEvent struct {
	TaskID int64 // Task ID
	PlanID int64 // Owning plan
}

// TaskStatusChangedEvent is published after a task status transition commits.
type TaskStatusChangedEvent struct {
	TaskID    int64  // Task ID
	PlanID    int64  // Owning plan
	OldStatus string // Previous status ("" on creation)
	NewStatus string // New status
	ChangedBy string // Actor responsible for the transition
}
