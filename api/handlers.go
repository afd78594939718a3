package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"tracker-client/client"
	"tracker-client/domain"
	"tracker-client/gateway"
)

// Register wires up all API routes on the provided Echo instance. deduper may
// be nil, which disables Idempotency-Key handling on mutation endpoints.
func Register(e *echo.Echo, session *client.Session, deduper Deduper, logger *log.Logger) {
	e.GET("/api/organizations", getOrganizations(session))
	e.POST("/api/organizations", postOrganization(session, deduper))
	e.GET("/api/projects", getProjects(session))
	e.POST("/api/projects", postProject(session, deduper))
	e.PATCH("/api/projects/:id", patchProject(session, deduper))
	e.GET("/api/projects/:id/tasks", getTasks(session, logger))
	e.POST("/api/tasks", postTask(session, deduper))
	e.PATCH("/api/tasks/:id", patchTask(session, deduper))
	e.POST("/api/tasks/:id/cycle", cycleTask(session, deduper))
	e.POST("/api/tasks/:id/comments", postComment(session, deduper))
	e.GET("/api/stream", streamTasks(session))
	e.GET("/healthz", healthz(session))
}

type organizationsResponse struct {
	Organizations []domain.Organization `json:"organizations"`
}

type projectsResponse struct {
	Projects []domain.Project `json:"projects"`
}

type tasksResponse struct {
	Tasks []domain.Task `json:"tasks"`
}

func healthz(_ *client.Session) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

func getOrganizations(session *client.Session) echo.HandlerFunc {
	return func(c echo.Context) error {
		orgs, err := session.VisitOrganizations(c.Request().Context())
		if err != nil {
			return fetchError(c, err)
		}
		return c.JSON(http.StatusOK, organizationsResponse{Organizations: orgs})
	}
}

func getProjects(session *client.Session) echo.HandlerFunc {
	return func(c echo.Context) error {
		slug := strings.TrimSpace(c.QueryParam("org"))
		if slug == "" {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "missing org query parameter"})
		}
		projects, err := session.VisitProjects(c.Request().Context(), slug)
		if err != nil {
			return fetchError(c, err)
		}
		return c.JSON(http.StatusOK, projectsResponse{Projects: projects})
	}
}

func getTasks(session *client.Session, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics := newVisitRequestMetrics("/api/projects/:id/tasks", logger)
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		projectID := c.Param("id")

		visitStart := time.Now()
		tasks, visitErr := session.VisitTasks(c.Request().Context(), projectID)
		metrics.ObserveVisit(time.Since(visitStart))
		if visitErr != nil {
			metrics.SetErrorStage("visit")
			err = fetchError(c, visitErr)
			return err
		}
		metrics.SetRecordsReturned(len(tasks))

		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, tasksResponse{Tasks: tasks})
		metrics.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

func postOrganization(session *client.Session, deduper Deduper) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req createOrganizationRequest
		if err := decodeBody(c, &req); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
		}
		if req.Name == "" {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "missing name"})
		}
		return submitMutation(c, deduper, "organizations", func() (*client.Pending, error) {
			return session.CreateOrganization(req.Name, req.ContactEmail)
		})
	}
}

func postProject(session *client.Session, deduper Deduper) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req createProjectRequest
		if err := decodeBody(c, &req); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
		}
		if req.OrganizationSlug == "" || req.Name == "" {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "missing organizationSlug or name"})
		}
		return submitMutation(c, deduper, "projects", func() (*client.Pending, error) {
			return session.CreateProject(req.OrganizationSlug, req.Name, req.Description, req.DueDate)
		})
	}
}

func patchProject(session *client.Session, deduper Deduper) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req updateProjectRequest
		if err := decodeBody(c, &req); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
		}
		if req.Status != nil && !domain.ValidProjectStatus(*req.Status) {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid status " + *req.Status})
		}
		projectID := c.Param("id")
		return submitMutation(c, deduper, "projects/"+projectID, func() (*client.Pending, error) {
			return session.UpdateProject(projectID, client.ProjectPatch{
				Name:        req.Name,
				Description: req.Description,
				Status:      req.Status,
				DueDate:     req.DueDate,
			})
		})
	}
}

func postTask(session *client.Session, deduper Deduper) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req createTaskRequest
		if err := decodeBody(c, &req); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
		}
		if req.ProjectID == "" || req.Title == "" {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "missing projectId or title"})
		}
		return submitMutation(c, deduper, "tasks", func() (*client.Pending, error) {
			return session.CreateTask(req.ProjectID, req.Title, req.Description, req.AssigneeEmail, req.DueDate)
		})
	}
}

func patchTask(session *client.Session, deduper Deduper) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req updateTaskRequest
		if err := decodeBody(c, &req); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
		}
		if req.Status != nil && !domain.ValidTaskStatus(*req.Status) {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid status " + *req.Status})
		}
		taskID := c.Param("id")
		return submitMutation(c, deduper, "tasks/"+taskID, func() (*client.Pending, error) {
			return session.UpdateTask(taskID, client.TaskPatch{
				Title:         req.Title,
				Description:   req.Description,
				AssigneeEmail: req.AssigneeEmail,
				Status:        req.Status,
			})
		})
	}
}

func cycleTask(session *client.Session, deduper Deduper) echo.HandlerFunc {
	return func(c echo.Context) error {
		taskID := c.Param("id")
		return submitMutation(c, deduper, "tasks/"+taskID+"/cycle", func() (*client.Pending, error) {
			return session.CycleTaskStatus(taskID)
		})
	}
}

func postComment(session *client.Session, deduper Deduper) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req addCommentRequest
		if err := decodeBody(c, &req); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
		}
		if req.Content == "" {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "missing content"})
		}
		taskID := c.Param("id")
		return submitMutation(c, deduper, "tasks/"+taskID+"/comments", func() (*client.Pending, error) {
			return session.AddTaskComment(taskID, req.Content, req.AuthorEmail)
		})
	}
}

func decodeBody(c echo.Context, out any) error {
	lr := io.LimitReader(c.Request().Body, mutationMaxSize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

// submitMutation runs one coordinated write behind optional Idempotency-Key
// deduplication. The default response is 202 with the optimistically applied
// record; ?wait=true holds the response until the mutation settles.
func submitMutation(c echo.Context, deduper Deduper, scope string, submit func() (*client.Pending, error)) error {
	ctx := c.Request().Context()
	key := strings.TrimSpace(c.Request().Header.Get("Idempotency-Key"))
	if deduper != nil && key != "" {
		fresh, err := deduper.Add(ctx, scope, key)
		if err != nil {
			c.Logger().Warnf("idempotency check unavailable: %v", err)
		} else if !fresh {
			return c.JSON(http.StatusConflict, errorResponse{Error: "duplicate request"})
		}
	}

	p, err := submit()
	if err != nil {
		if deduper != nil && key != "" {
			_ = deduper.Remove(ctx, scope, key)
		}
		return mutationError(c, err)
	}

	if wait, _ := strconv.ParseBool(c.QueryParam("wait")); wait {
		select {
		case <-p.Settled():
		case <-ctx.Done():
			return c.NoContent(http.StatusRequestTimeout)
		}
		if err := p.Err(); err != nil {
			if deduper != nil && key != "" {
				_ = deduper.Remove(ctx, scope, key)
			}
			return mutationError(c, err)
		}
		return c.JSON(http.StatusOK, p.Record())
	}

	<-p.Applied()
	if err := p.Err(); err != nil {
		if deduper != nil && key != "" {
			_ = deduper.Remove(ctx, scope, key)
		}
		return mutationError(c, err)
	}
	return c.JSON(http.StatusAccepted, p.Record())
}

func mutationError(c echo.Context, err error) error {
	var reqErr *gateway.RequestError
	switch {
	case errors.Is(err, client.ErrUnknownEntity):
		return c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, client.ErrClosed):
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	case errors.As(err, &reqErr):
		return c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: "rejected", Messages: reqErr.Messages})
	case errors.Is(err, gateway.ErrUnreachable):
		return c.JSON(http.StatusBadGateway, errorResponse{Error: err.Error()})
	default:
		c.Logger().Error(err)
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}

func fetchError(c echo.Context, err error) error {
	var reqErr *gateway.RequestError
	switch {
	case errors.As(err, &reqErr):
		return c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: "rejected", Messages: reqErr.Messages})
	case errors.Is(err, gateway.ErrUnreachable):
		return c.JSON(http.StatusBadGateway, errorResponse{Error: err.Error()})
	default:
		c.Logger().Error(err)
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}
