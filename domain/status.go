package domain

// TaskStatus is the closed set of task states exchanged with the tracker API.
type TaskStatus string

const (
	StatusTodo       TaskStatus = "TODO"
	StatusInProgress TaskStatus = "IN_PROGRESS"
	StatusDone       TaskStatus = "DONE"
)

// taskStatusOrder defines the cycling progression used by the quick-toggle UI.
var taskStatusOrder = []TaskStatus{StatusTodo, StatusInProgress, StatusDone}

// ValidTaskStatus reports whether s is one of the known task states.
func ValidTaskStatus(s string) bool {
	switch TaskStatus(s) {
	case StatusTodo, StatusInProgress, StatusDone:
		return true
	}
	return false
}

// CoerceTaskStatus maps an arbitrary status string to a member of the closed
// enumeration. Unknown values collapse to StatusTodo so the rest of the
// pipeline never sees an open-ended string. Coercion happens exactly once, at
// the gateway response edge.
func CoerceTaskStatus(s string) TaskStatus {
	if ValidTaskStatus(s) {
		return TaskStatus(s)
	}
	return StatusTodo
}

// NextTaskStatus returns the status following s in the cycling progression
// TODO -> IN_PROGRESS -> DONE -> TODO. Cycling is a convenience derived from
// direct status assignment, not a separate mutation path.
func NextTaskStatus(s TaskStatus) TaskStatus {
	for i, v := range taskStatusOrder {
		if v == s {
			return taskStatusOrder[(i+1)%len(taskStatusOrder)]
		}
	}
	return StatusTodo
}

// ProjectStatus is the lifecycle state of a project.
type ProjectStatus string

const (
	ProjectActive    ProjectStatus = "ACTIVE"
	ProjectCompleted ProjectStatus = "COMPLETED"
	ProjectOnHold    ProjectStatus = "ON_HOLD"
)

// ValidProjectStatus reports whether s is one of the known project states.
func ValidProjectStatus(s string) bool {
	switch ProjectStatus(s) {
	case ProjectActive, ProjectCompleted, ProjectOnHold:
		return true
	}
	return false
}

// CoerceProjectStatus collapses unknown project states to ProjectActive.
func CoerceProjectStatus(s string) ProjectStatus {
	if ValidProjectStatus(s) {
		return ProjectStatus(s)
	}
	return ProjectActive
}
