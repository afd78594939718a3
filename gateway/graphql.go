package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"tracker-client/domain"
)

const instrumentationName = "tracker-client/gateway"

// Client is a Gateway over GraphQL-via-HTTP.
type Client struct {
	endpoint string
	http     *http.Client
	logger   *log.Logger
}

// NewClient creates a gateway client for the given GraphQL endpoint. A nil
// httpClient gets a default with a request timeout; timeouts resolve as
// ErrUnreachable like any other transport failure.
func NewClient(endpoint string, httpClient *http.Client, logger *log.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Client{endpoint: endpoint, http: httpClient, logger: logger}
}

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type gqlError struct {
	Message string `json:"message"`
}

type gqlEnvelope struct {
	Data   sonic.NoCopyRawMessage `json:"data"`
	Errors []gqlError             `json:"errors,omitempty"`
}

func (c *Client) do(ctx context.Context, operation, query string, vars map[string]any, out any) error {
	tracer := otel.Tracer(instrumentationName)
	ctx, span := tracer.Start(ctx, "gateway."+operation)
	span.SetAttributes(attribute.String("graphql.operation", operation))
	defer span.End()

	payload, err := sonic.Marshal(gqlRequest{Query: query, Variables: vars})
	if err != nil {
		return fmt.Errorf("encode %s request: %w", operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport failure")
		return fmt.Errorf("%w: %s: %v", ErrUnreachable, operation, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read failure")
		return fmt.Errorf("%w: %s: %v", ErrUnreachable, operation, err)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, "server error")
		return fmt.Errorf("%w: %s: status %d", ErrUnreachable, operation, resp.StatusCode)
	}

	var envelope gqlEnvelope
	if err := sonic.Unmarshal(body, &envelope); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "malformed response")
		return fmt.Errorf("%w: %s: malformed response: %v", ErrUnreachable, operation, err)
	}
	if len(envelope.Errors) > 0 {
		msgs := make([]string, len(envelope.Errors))
		for i, e := range envelope.Errors {
			msgs[i] = e.Message
		}
		reqErr := &RequestError{Operation: operation, Messages: msgs}
		span.SetStatus(codes.Error, "rejected")
		c.logger.WithFields(log.Fields{"operation": operation, "messages": msgs}).Warn("gateway request rejected")
		return reqErr
	}
	if out != nil {
		if err := sonic.Unmarshal(envelope.Data, out); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "malformed data")
			return fmt.Errorf("%w: %s: malformed data: %v", ErrUnreachable, operation, err)
		}
	}
	return nil
}

const queryOrganizations = `query GetOrganizations {
  organizations { id name slug contactEmail }
}`

func (c *Client) FetchOrganizations(ctx context.Context) ([]domain.Organization, error) {
	var data struct {
		Organizations []domain.Organization `json:"organizations"`
	}
	if err := c.do(ctx, "organizations", queryOrganizations, nil, &data); err != nil {
		return nil, err
	}
	return data.Organizations, nil
}

const queryProjects = `query GetProjects($organizationSlug: String!) {
  projects(organizationSlug: $organizationSlug) {
    id name description status dueDate taskCount completedTaskCount completionRate
  }
}`

type wireProject struct {
	ID                 string  `json:"id"`
	Name               string  `json:"name"`
	Description        string  `json:"description"`
	Status             string  `json:"status"`
	DueDate            string  `json:"dueDate"`
	TaskCount          int     `json:"taskCount"`
	CompletedTaskCount int     `json:"completedTaskCount"`
	CompletionRate     float64 `json:"completionRate"`
}

func (c *Client) FetchProjects(ctx context.Context, organizationSlug string) ([]domain.Project, error) {
	var data struct {
		Projects []wireProject `json:"projects"`
	}
	vars := map[string]any{"organizationSlug": organizationSlug}
	if err := c.do(ctx, "projects", queryProjects, vars, &data); err != nil {
		return nil, err
	}
	out := make([]domain.Project, 0, len(data.Projects))
	for _, wp := range data.Projects {
		out = append(out, projectFromWire(wp, organizationSlug))
	}
	return out, nil
}

func projectFromWire(wp wireProject, organizationSlug string) domain.Project {
	return domain.Project{
		ID:               wp.ID,
		Name:             wp.Name,
		Description:      wp.Description,
		OrganizationSlug: organizationSlug,
		Status:           domain.CoerceProjectStatus(wp.Status),
		DueDate:          wp.DueDate,
		Aggregate: domain.ProjectAggregate{
			TaskCount:          wp.TaskCount,
			CompletedTaskCount: wp.CompletedTaskCount,
			// The server reports a fractional percentage; the client-facing
			// value is the nearest integer.
			CompletionRate: int(math.Round(wp.CompletionRate)),
		},
	}
}

const queryTasks = `query GetTasks($projectId: ID!) {
  tasks(projectId: $projectId) {
    id title description status assigneeEmail dueDate createdAt
    comments { id content authorEmail createdAt }
  }
}`

type wireTask struct {
	ID            string           `json:"id"`
	Title         string           `json:"title"`
	Description   string           `json:"description"`
	Status        string           `json:"status"`
	AssigneeEmail string           `json:"assigneeEmail"`
	DueDate       string           `json:"dueDate"`
	CreatedAt     string           `json:"createdAt"`
	Comments      []domain.Comment `json:"comments"`
}

func taskFromWire(wt wireTask, projectID string) domain.Task {
	return domain.Task{
		ID:            wt.ID,
		ProjectID:     projectID,
		Title:         wt.Title,
		Description:   wt.Description,
		Status:        domain.CoerceTaskStatus(wt.Status),
		AssigneeEmail: wt.AssigneeEmail,
		DueDate:       wt.DueDate,
		CreatedAt:     wt.CreatedAt,
		Comments:      wt.Comments,
	}
}

func (c *Client) FetchTasks(ctx context.Context, projectID string) ([]domain.Task, error) {
	var data struct {
		Tasks []wireTask `json:"tasks"`
	}
	vars := map[string]any{"projectId": projectID}
	if err := c.do(ctx, "tasks", queryTasks, vars, &data); err != nil {
		return nil, err
	}
	out := make([]domain.Task, 0, len(data.Tasks))
	for _, wt := range data.Tasks {
		out = append(out, taskFromWire(wt, projectID))
	}
	return out, nil
}

const mutationCreateOrganization = `mutation CreateOrganization($name: String!, $contactEmail: String!) {
  createOrganization(name: $name, contactEmail: $contactEmail) {
    organization { id name slug contactEmail }
  }
}`

func (c *Client) CreateOrganization(ctx context.Context, in CreateOrganizationInput) (domain.Organization, error) {
	var data struct {
		CreateOrganization struct {
			Organization domain.Organization `json:"organization"`
		} `json:"createOrganization"`
	}
	vars := map[string]any{"name": in.Name, "contactEmail": in.ContactEmail}
	if err := c.do(ctx, "createOrganization", mutationCreateOrganization, vars, &data); err != nil {
		return domain.Organization{}, err
	}
	return data.CreateOrganization.Organization, nil
}

const mutationCreateProject = `mutation CreateProject($organizationSlug: String!, $name: String!, $description: String, $dueDate: Date) {
  createProject(organizationSlug: $organizationSlug, name: $name, description: $description, dueDate: $dueDate) {
    project { id name }
  }
}`

func (c *Client) CreateProject(ctx context.Context, in CreateProjectInput) (domain.Project, error) {
	var data struct {
		CreateProject struct {
			Project struct {
				ID   string `json:"id"`
				Name string `json:"name"`
			} `json:"project"`
		} `json:"createProject"`
	}
	vars := map[string]any{"organizationSlug": in.OrganizationSlug, "name": in.Name}
	if in.Description != "" {
		vars["description"] = in.Description
	}
	if in.DueDate != "" {
		vars["dueDate"] = in.DueDate
	}
	if err := c.do(ctx, "createProject", mutationCreateProject, vars, &data); err != nil {
		return domain.Project{}, err
	}
	return domain.Project{
		ID:               data.CreateProject.Project.ID,
		Name:             data.CreateProject.Project.Name,
		OrganizationSlug: in.OrganizationSlug,
		Status:           domain.ProjectActive,
	}, nil
}

const mutationUpdateProject = `mutation UpdateProject($projectId: ID!, $name: String, $description: String, $status: String, $dueDate: Date) {
  updateProject(projectId: $projectId, name: $name, description: $description, status: $status, dueDate: $dueDate) {
    project { id name description status dueDate taskCount completedTaskCount completionRate }
  }
}`

func (c *Client) UpdateProject(ctx context.Context, in UpdateProjectInput) (domain.Project, error) {
	var data struct {
		UpdateProject struct {
			Project wireProject `json:"project"`
		} `json:"updateProject"`
	}
	vars := map[string]any{"projectId": in.ProjectID}
	putOptional(vars, "name", in.Name)
	putOptional(vars, "description", in.Description)
	putOptional(vars, "status", in.Status)
	putOptional(vars, "dueDate", in.DueDate)
	if err := c.do(ctx, "updateProject", mutationUpdateProject, vars, &data); err != nil {
		return domain.Project{}, err
	}
	return projectFromWire(data.UpdateProject.Project, in.OrganizationSlug), nil
}

const mutationCreateTask = `mutation CreateTask($projectId: ID!, $title: String!, $description: String, $assigneeEmail: String, $dueDate: DateTime) {
  createTask(projectId: $projectId, title: $title, description: $description, assigneeEmail: $assigneeEmail, dueDate: $dueDate) {
    task { id title status createdAt }
  }
}`

func (c *Client) CreateTask(ctx context.Context, in CreateTaskInput) (domain.Task, error) {
	var data struct {
		CreateTask struct {
			Task wireTask `json:"task"`
		} `json:"createTask"`
	}
	vars := map[string]any{"projectId": in.ProjectID, "title": in.Title}
	if in.Description != "" {
		vars["description"] = in.Description
	}
	if in.AssigneeEmail != "" {
		vars["assigneeEmail"] = in.AssigneeEmail
	}
	if in.DueDate != "" {
		vars["dueDate"] = in.DueDate
	}
	if err := c.do(ctx, "createTask", mutationCreateTask, vars, &data); err != nil {
		return domain.Task{}, err
	}
	return taskFromWire(data.CreateTask.Task, in.ProjectID), nil
}

const mutationUpdateTask = `mutation UpdateTask($taskId: ID!, $title: String, $description: String, $assigneeEmail: String, $status: String) {
  updateTask(taskId: $taskId, title: $title, description: $description, assigneeEmail: $assigneeEmail, status: $status) {
    task { id title description assigneeEmail status createdAt }
  }
}`

func (c *Client) UpdateTask(ctx context.Context, in UpdateTaskInput) (domain.Task, error) {
	var data struct {
		UpdateTask struct {
			Task wireTask `json:"task"`
		} `json:"updateTask"`
	}
	vars := map[string]any{"taskId": in.TaskID}
	putOptional(vars, "title", in.Title)
	putOptional(vars, "description", in.Description)
	putOptional(vars, "assigneeEmail", in.AssigneeEmail)
	putOptional(vars, "status", in.Status)
	if err := c.do(ctx, "updateTask", mutationUpdateTask, vars, &data); err != nil {
		return domain.Task{}, err
	}
	return taskFromWire(data.UpdateTask.Task, in.ProjectID), nil
}

const mutationAddTaskComment = `mutation AddTaskComment($taskId: ID!, $content: String!, $authorEmail: String!) {
  addTaskComment(taskId: $taskId, content: $content, authorEmail: $authorEmail) {
    comment
  }
}`

func (c *Client) AddTaskComment(ctx context.Context, in AddTaskCommentInput) (string, error) {
	var data struct {
		AddTaskComment struct {
			Comment string `json:"comment"`
		} `json:"addTaskComment"`
	}
	vars := map[string]any{"taskId": in.TaskID, "content": in.Content, "authorEmail": in.AuthorEmail}
	if err := c.do(ctx, "addTaskComment", mutationAddTaskComment, vars, &data); err != nil {
		return "", err
	}
	return data.AddTaskComment.Comment, nil
}

func putOptional(vars map[string]any, key string, val *string) {
	if val != nil {
		vars[key] = *val
	}
}
