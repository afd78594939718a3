package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tracker-client/domain"
)

// Gateway executes queries and mutations against the remote tracker API. It
// is the only component that talks to the network; everything behind it is
// local state. Implementations must perform status coercion on responses so
// callers never see a status outside the closed enumeration.
type Gateway interface {
	FetchOrganizations(ctx context.Context) ([]domain.Organization, error)
	FetchProjects(ctx context.Context, organizationSlug string) ([]domain.Project, error)
	FetchTasks(ctx context.Context, projectID string) ([]domain.Task, error)

	CreateOrganization(ctx context.Context, in CreateOrganizationInput) (domain.Organization, error)
	CreateProject(ctx context.Context, in CreateProjectInput) (domain.Project, error)
	UpdateProject(ctx context.Context, in UpdateProjectInput) (domain.Project, error)
	CreateTask(ctx context.Context, in CreateTaskInput) (domain.Task, error)
	UpdateTask(ctx context.Context, in UpdateTaskInput) (domain.Task, error)
	AddTaskComment(ctx context.Context, in AddTaskCommentInput) (string, error)
}

// CreateOrganizationInput creates a tenant. The slug is derived server-side.
type CreateOrganizationInput struct {
	Name         string
	ContactEmail string
}

type CreateProjectInput struct {
	OrganizationSlug string
	Name             string
	Description      string
	DueDate          string
}

// UpdateProjectInput patches a project. Nil pointer fields are left
// untouched. OrganizationSlug is carried for cache scoping only and is not
// sent over the wire.
type UpdateProjectInput struct {
	ProjectID        string
	OrganizationSlug string
	Name             *string
	Description      *string
	Status           *string
	DueDate          *string
}

// CreateTaskInput creates a task. ProjectID and OrganizationSlug scope cache
// eviction; only ProjectID goes over the wire.
type CreateTaskInput struct {
	ProjectID        string
	OrganizationSlug string
	Title            string
	Description      string
	AssigneeEmail    string
	DueDate          string
}

// UpdateTaskInput patches a task. Nil pointer fields are left untouched.
type UpdateTaskInput struct {
	TaskID           string
	ProjectID        string
	OrganizationSlug string
	Title            *string
	Description      *string
	AssigneeEmail    *string
	Status           *string
}

type AddTaskCommentInput struct {
	TaskID      string
	ProjectID   string
	Content     string
	AuthorEmail string
}

// ErrUnreachable marks network or transport failure, including timeouts.
// Callers resolve it through the rollback path; it is never retried
// automatically.
var ErrUnreachable = errors.New("gateway unreachable")

// RequestError reports a mutation or query the server rejected. The
// messages are user-visible.
type RequestError struct {
	Operation string
	Messages  []string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("gateway: %s rejected: %s", e.Operation, strings.Join(e.Messages, "; "))
}
