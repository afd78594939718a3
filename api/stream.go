package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"

	"tracker-client/client"
	"tracker-client/domain"
	"tracker-client/store"
)

const streamKeepalive = 15 * time.Second

// streamTasks pushes a project's task list as server-sent events. An event is
// emitted for the initial snapshot and then whenever the task view changes,
// which includes optimistic applies, settles and rollbacks.
func streamTasks(session *client.Session) echo.HandlerFunc {
	return func(c echo.Context) error {
		projectID := strings.TrimSpace(c.QueryParam("project"))
		if projectID == "" {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "missing project query parameter"})
		}
		ctx := c.Request().Context()

		tasks, err := session.VisitTasks(ctx, projectID)
		if err != nil {
			return fetchError(c, err)
		}

		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}

		changed := make(chan struct{}, 1)
		cancel := session.Store().SubscribeQuery(store.TasksQueryKey(projectID), func(string) {
			select {
			case changed <- struct{}{}:
			default:
			}
		})
		defer cancel()

		writeEvent := func(tasks []domain.Task) error {
			data, err := sonic.Marshal(tasksResponse{Tasks: tasks})
			if err != nil {
				return err
			}
			if _, err := c.Response().Write([]byte("data: ")); err != nil {
				return err
			}
			if _, err := c.Response().Write(data); err != nil {
				return err
			}
			if _, err := c.Response().Write([]byte("\n\n")); err != nil {
				return err
			}
			flusher.Flush()
			return nil
		}

		if err := writeEvent(tasks); err != nil {
			return nil
		}

		ticker := time.NewTicker(streamKeepalive)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-changed:
				tasks, err := session.VisitTasks(ctx, projectID)
				if err != nil {
					continue
				}
				if err := writeEvent(tasks); err != nil {
					return nil
				}
			case <-ticker.C:
				if _, err := c.Response().Write([]byte(": keepalive\n\n")); err != nil {
					return nil
				}
				flusher.Flush()
			}
		}
	}
}
