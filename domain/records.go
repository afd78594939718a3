package domain

// Record is implemented by every entity held in the store.
type Record interface {
	RecordID() string
}

// Organization is a tenant. Slugs are assigned server-side and are URL-stable.
type Organization struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Slug         string `json:"slug"`
	ContactEmail string `json:"contactEmail"`
}

func (o Organization) RecordID() string { return o.ID }

// ProjectAggregate is derived from a project's task set. For any project whose
// full task set is resident, CompletedTaskCount counts DONE tasks, TaskCount
// counts all tasks, and CompletionRate is round(100*completed/total), or 0
// when the project has no tasks.
type ProjectAggregate struct {
	TaskCount          int `json:"taskCount"`
	CompletedTaskCount int `json:"completedTaskCount"`
	CompletionRate     int `json:"completionRate"`
}

// Project belongs to an organization and owns tasks.
type Project struct {
	ID               string           `json:"id"`
	Name             string           `json:"name"`
	Description      string           `json:"description,omitempty"`
	OrganizationSlug string           `json:"organizationSlug"`
	Status           ProjectStatus    `json:"status"`
	DueDate          string           `json:"dueDate,omitempty"`
	Aggregate        ProjectAggregate `json:"aggregate"`
}

func (p Project) RecordID() string { return p.ID }

// Task is a single unit of work inside a project. Comments ride along on the
// wire but are normalized into their own records inside the store.
type Task struct {
	ID            string     `json:"id"`
	ProjectID     string     `json:"projectId"`
	Title         string     `json:"title"`
	Description   string     `json:"description,omitempty"`
	Status        TaskStatus `json:"status"`
	AssigneeEmail string     `json:"assigneeEmail,omitempty"`
	DueDate       string     `json:"dueDate,omitempty"`
	CreatedAt     string     `json:"createdAt"`
	Comments      []Comment  `json:"comments,omitempty"`
}

func (t Task) RecordID() string { return t.ID }

// Comment is a single remark on a task, ordered by creation time.
type Comment struct {
	ID          string `json:"id"`
	TaskID      string `json:"taskId"`
	Content     string `json:"content"`
	AuthorEmail string `json:"authorEmail"`
	CreatedAt   string `json:"createdAt"`
}

func (c Comment) RecordID() string { return c.ID }
