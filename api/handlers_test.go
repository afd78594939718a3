package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"tracker-client/client"
	"tracker-client/domain"
	"tracker-client/gateway"
	"tracker-client/store"
)

type mockGateway struct {
	fetchOrganizations func(ctx context.Context) ([]domain.Organization, error)
	fetchProjects      func(ctx context.Context, organizationSlug string) ([]domain.Project, error)
	fetchTasks         func(ctx context.Context, projectID string) ([]domain.Task, error)
	createOrganization func(ctx context.Context, in gateway.CreateOrganizationInput) (domain.Organization, error)
	createProject      func(ctx context.Context, in gateway.CreateProjectInput) (domain.Project, error)
	updateProject      func(ctx context.Context, in gateway.UpdateProjectInput) (domain.Project, error)
	createTask         func(ctx context.Context, in gateway.CreateTaskInput) (domain.Task, error)
	updateTask         func(ctx context.Context, in gateway.UpdateTaskInput) (domain.Task, error)
	addTaskComment     func(ctx context.Context, in gateway.AddTaskCommentInput) (string, error)
}

func (g *mockGateway) FetchOrganizations(ctx context.Context) ([]domain.Organization, error) {
	if g.fetchOrganizations == nil {
		return nil, errors.New("unexpected FetchOrganizations call")
	}
	return g.fetchOrganizations(ctx)
}

func (g *mockGateway) FetchProjects(ctx context.Context, organizationSlug string) ([]domain.Project, error) {
	if g.fetchProjects == nil {
		return nil, errors.New("unexpected FetchProjects call")
	}
	return g.fetchProjects(ctx, organizationSlug)
}

func (g *mockGateway) FetchTasks(ctx context.Context, projectID string) ([]domain.Task, error) {
	if g.fetchTasks == nil {
		return nil, errors.New("unexpected FetchTasks call")
	}
	return g.fetchTasks(ctx, projectID)
}

func (g *mockGateway) CreateOrganization(ctx context.Context, in gateway.CreateOrganizationInput) (domain.Organization, error) {
	if g.createOrganization == nil {
		return domain.Organization{}, errors.New("unexpected CreateOrganization call")
	}
	return g.createOrganization(ctx, in)
}

func (g *mockGateway) CreateProject(ctx context.Context, in gateway.CreateProjectInput) (domain.Project, error) {
	if g.createProject == nil {
		return domain.Project{}, errors.New("unexpected CreateProject call")
	}
	return g.createProject(ctx, in)
}

func (g *mockGateway) UpdateProject(ctx context.Context, in gateway.UpdateProjectInput) (domain.Project, error) {
	if g.updateProject == nil {
		return domain.Project{}, errors.New("unexpected UpdateProject call")
	}
	return g.updateProject(ctx, in)
}

func (g *mockGateway) CreateTask(ctx context.Context, in gateway.CreateTaskInput) (domain.Task, error) {
	if g.createTask == nil {
		return domain.Task{}, errors.New("unexpected CreateTask call")
	}
	return g.createTask(ctx, in)
}

func (g *mockGateway) UpdateTask(ctx context.Context, in gateway.UpdateTaskInput) (domain.Task, error) {
	if g.updateTask == nil {
		return domain.Task{}, errors.New("unexpected UpdateTask call")
	}
	return g.updateTask(ctx, in)
}

func (g *mockGateway) AddTaskComment(ctx context.Context, in gateway.AddTaskCommentInput) (string, error) {
	if g.addTaskComment == nil {
		return "", errors.New("unexpected AddTaskComment call")
	}
	return g.addTaskComment(ctx, in)
}

func newTestSession(t *testing.T, gw gateway.Gateway) *client.Session {
	t.Helper()
	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	s := client.New(store.New(), gw, logger)
	t.Cleanup(s.Close)
	return s
}

func seedTaskView(t *testing.T, s *client.Session) {
	t.Helper()
	s.Store().IngestOrganizations([]domain.Organization{{ID: "org-1", Name: "Acme", Slug: "acme"}})
	s.Store().IngestProjects("acme", []domain.Project{{ID: "p1", Name: "Atlas", OrganizationSlug: "acme", Status: domain.ProjectActive}})
	s.Store().IngestTasks("p1", []domain.Task{
		{ID: "t1", ProjectID: "p1", Title: "Task 1", Status: domain.StatusTodo, CreatedAt: "2026-08-30T10:00:00Z"},
	})
}

type memDeduper struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newMemDeduper() *memDeduper { return &memDeduper{seen: map[string]bool{}} }

func (d *memDeduper) Add(_ context.Context, scope, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	k := scope + ":" + key
	if d.seen[k] {
		return false, nil
	}
	d.seen[k] = true
	return true, nil
}

func (d *memDeduper) Remove(_ context.Context, scope, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, scope+":"+key)
	return nil
}

func TestGetTasksReturnsVisitResult(t *testing.T) {
	gw := &mockGateway{
		fetchTasks: func(_ context.Context, projectID string) ([]domain.Task, error) {
			return []domain.Task{
				{ID: "t1", ProjectID: projectID, Title: "Task 1", Status: domain.StatusTodo, CreatedAt: "2026-08-30T10:00:00Z"},
			}, nil
		},
	}
	s := newTestSession(t, gw)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/projects/p1/tasks", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("p1")

	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	if err := getTasks(s, logger)(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
	var resp tasksResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(resp.Tasks) != 1 || resp.Tasks[0].ID != "t1" {
		t.Fatalf("unexpected tasks: %#v", resp.Tasks)
	}
}

func TestGetTasksUnreachableGateway(t *testing.T) {
	gw := &mockGateway{
		fetchTasks: func(context.Context, string) ([]domain.Task, error) {
			return nil, gateway.ErrUnreachable
		},
	}
	s := newTestSession(t, gw)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/projects/p1/tasks", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("p1")

	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	if err := getTasks(s, logger)(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected status 502 got %d", rec.Code)
	}
}

func TestGetProjectsRequiresOrg(t *testing.T) {
	s := newTestSession(t, &mockGateway{})

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/projects", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := getProjects(s)(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 got %d", rec.Code)
	}
}

func TestPostTaskAcceptedWithPredictedRecord(t *testing.T) {
	gw := &mockGateway{
		createTask: func(_ context.Context, in gateway.CreateTaskInput) (domain.Task, error) {
			return domain.Task{ID: "t2", ProjectID: in.ProjectID, Title: in.Title, Status: domain.StatusTodo, CreatedAt: "2026-08-30T11:00:00Z"}, nil
		},
	}
	s := newTestSession(t, gw)
	seedTaskView(t, s)

	e := echo.New()
	body := `{"projectId":"p1","title":"New task"}`
	req := httptest.NewRequest(http.MethodPost, "/api/tasks", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := postTask(s, nil)(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected status 202 got %d", rec.Code)
	}
	var task domain.Task
	if err := sonic.Unmarshal(rec.Body.Bytes(), &task); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if task.Title != "New task" || task.ProjectID != "p1" {
		t.Fatalf("unexpected task: %#v", task)
	}
	if task.Status != domain.StatusTodo {
		t.Fatalf("expected predicted TODO status, got %q", task.Status)
	}
}

func TestPostTaskWaitReturnsConfirmedRecord(t *testing.T) {
	gw := &mockGateway{
		createTask: func(_ context.Context, in gateway.CreateTaskInput) (domain.Task, error) {
			return domain.Task{ID: "t2", ProjectID: in.ProjectID, Title: in.Title, Status: domain.StatusTodo, CreatedAt: "2026-08-30T11:00:00Z"}, nil
		},
	}
	s := newTestSession(t, gw)
	seedTaskView(t, s)

	e := echo.New()
	body := `{"projectId":"p1","title":"New task"}`
	req := httptest.NewRequest(http.MethodPost, "/api/tasks?wait=true", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := postTask(s, nil)(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
	var task domain.Task
	if err := sonic.Unmarshal(rec.Body.Bytes(), &task); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if task.ID != "t2" {
		t.Fatalf("expected confirmed id t2, got %q", task.ID)
	}
}

func TestPostTaskWaitSurfacesRejection(t *testing.T) {
	gw := &mockGateway{
		createTask: func(context.Context, gateway.CreateTaskInput) (domain.Task, error) {
			return domain.Task{}, &gateway.RequestError{Operation: "createTask", Messages: []string{"title too long"}}
		},
	}
	s := newTestSession(t, gw)
	seedTaskView(t, s)

	e := echo.New()
	body := `{"projectId":"p1","title":"New task"}`
	req := httptest.NewRequest(http.MethodPost, "/api/tasks?wait=true", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := postTask(s, nil)(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422 got %d", rec.Code)
	}
	var resp errorResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(resp.Messages) != 1 || resp.Messages[0] != "title too long" {
		t.Fatalf("unexpected messages: %#v", resp.Messages)
	}
}

func TestPatchTaskInvalidStatus(t *testing.T) {
	s := newTestSession(t, &mockGateway{})
	seedTaskView(t, s)

	e := echo.New()
	req := httptest.NewRequest(http.MethodPatch, "/api/tasks/t1", strings.NewReader(`{"status":"BLOCKED"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("t1")

	if err := patchTask(s, nil)(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 got %d", rec.Code)
	}
}

func TestPatchUnknownTaskNotFound(t *testing.T) {
	s := newTestSession(t, &mockGateway{})
	seedTaskView(t, s)

	e := echo.New()
	req := httptest.NewRequest(http.MethodPatch, "/api/tasks/missing", strings.NewReader(`{"title":"x"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("missing")

	if err := patchTask(s, nil)(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 got %d", rec.Code)
	}
}

func TestPostTaskRejectsUnknownFields(t *testing.T) {
	s := newTestSession(t, &mockGateway{})
	seedTaskView(t, s)

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/tasks", strings.NewReader(`{"projectId":"p1","title":"x","bogus":1}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := postTask(s, nil)(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 got %d", rec.Code)
	}
}

func TestIdempotencyKeyDeduplicates(t *testing.T) {
	gw := &mockGateway{
		createTask: func(_ context.Context, in gateway.CreateTaskInput) (domain.Task, error) {
			return domain.Task{ID: "t2", ProjectID: in.ProjectID, Title: in.Title, Status: domain.StatusTodo, CreatedAt: "2026-08-30T11:00:00Z"}, nil
		},
	}
	s := newTestSession(t, gw)
	seedTaskView(t, s)
	deduper := newMemDeduper()

	e := echo.New()
	post := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/tasks", strings.NewReader(`{"projectId":"p1","title":"Once"}`))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		req.Header.Set("Idempotency-Key", "abc-123")
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		if err := postTask(s, deduper)(c); err != nil {
			t.Fatalf("handler returned error: %v", err)
		}
		return rec
	}

	if rec := post(); rec.Code != http.StatusAccepted {
		t.Fatalf("first submission: expected status 202 got %d", rec.Code)
	}
	if rec := post(); rec.Code != http.StatusConflict {
		t.Fatalf("replay: expected status 409 got %d", rec.Code)
	}
}

func TestIdempotencyKeyReleasedOnEarlyRejection(t *testing.T) {
	s := newTestSession(t, &mockGateway{})
	seedTaskView(t, s)
	deduper := newMemDeduper()

	e := echo.New()
	req := httptest.NewRequest(http.MethodPatch, "/api/tasks/missing", strings.NewReader(`{"title":"x"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set("Idempotency-Key", "retry-me")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("missing")

	if err := patchTask(s, deduper)(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 got %d", rec.Code)
	}
	fresh, err := deduper.Add(context.Background(), "tasks/missing", "retry-me")
	if err != nil || !fresh {
		t.Fatalf("expected key to be released for retry, fresh=%v err=%v", fresh, err)
	}
}

func TestHealthz(t *testing.T) {
	s := newTestSession(t, &mockGateway{})

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := healthz(s)(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
}
