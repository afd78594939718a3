package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bytedance/sonic"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"tracker-client/domain"
)

func setupTestTracer(t *testing.T) (*sdktrace.TracerProvider, *tracetest.InMemoryExporter) {
	t.Helper()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
	)
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			t.Logf("shutdown tracer provider: %v", err)
		}
		otel.SetTracerProvider(prev)
	})
	return tp, exporter
}

func gqlServer(t *testing.T, respond func(op gqlRequest) (any, []gqlError)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req gqlRequest
		if err := sonic.ConfigStd.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		data, errs := respond(req)
		payload := map[string]any{}
		if data != nil {
			payload["data"] = data
		}
		if len(errs) > 0 {
			payload["errors"] = errs
		}
		w.Header().Set("Content-Type", "application/json")
		if err := sonic.ConfigStd.NewEncoder(w).Encode(payload); err != nil {
			t.Fatalf("encode response: %v", err)
		}
	}))
}

func TestFetchTasksCoercesUnknownStatus(t *testing.T) {
	srv := gqlServer(t, func(gqlRequest) (any, []gqlError) {
		return map[string]any{
			"tasks": []map[string]any{
				{"id": "t1", "title": "a", "status": "DONE", "createdAt": "2026-01-01T00:00:00Z"},
				{"id": "t2", "title": "b", "status": "BLOCKED", "createdAt": "2026-01-02T00:00:00Z"},
			},
		}, nil
	})
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, srv.Client(), nil)
	tasks, err := client.FetchTasks(context.Background(), "p1")
	if err != nil {
		t.Fatalf("fetch tasks: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}
	if tasks[0].Status != domain.StatusDone {
		t.Fatalf("known status mangled: %s", tasks[0].Status)
	}
	if tasks[1].Status != domain.StatusTodo {
		t.Fatalf("unknown status must coerce to TODO, got %s", tasks[1].Status)
	}
	if tasks[0].ProjectID != "p1" {
		t.Fatalf("project id not attached: %#v", tasks[0])
	}
}

func TestRejectedMutationReturnsRequestError(t *testing.T) {
	srv := gqlServer(t, func(gqlRequest) (any, []gqlError) {
		return nil, []gqlError{{Message: "title is required"}}
	})
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, srv.Client(), nil)
	_, err := client.CreateTask(context.Background(), CreateTaskInput{ProjectID: "p1"})
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected RequestError, got %v", err)
	}
	if reqErr.Operation != "createTask" || len(reqErr.Messages) != 1 {
		t.Fatalf("unexpected request error: %+v", reqErr)
	}
	if errors.Is(err, ErrUnreachable) {
		t.Fatal("validation failure must not look like transport failure")
	}
}

func TestUnreachableGateway(t *testing.T) {
	srv := gqlServer(t, func(gqlRequest) (any, []gqlError) { return nil, nil })
	srv.Close()

	client := NewClient(srv.URL, nil, nil)
	_, err := client.FetchProjects(context.Background(), "acme")
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("expected ErrUnreachable, got %v", err)
	}
}

func TestServerErrorIsUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, srv.Client(), nil)
	_, err := client.FetchOrganizations(context.Background())
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("expected ErrUnreachable on 502, got %v", err)
	}
}

func TestGatewayOperationsEmitSpans(t *testing.T) {
	tp, exporter := setupTestTracer(t)

	srv := gqlServer(t, func(gqlRequest) (any, []gqlError) {
		return map[string]any{"projects": []map[string]any{}}, nil
	})
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, srv.Client(), nil)
	if _, err := client.FetchProjects(context.Background(), "acme"); err != nil {
		t.Fatalf("fetch projects: %v", err)
	}
	if err := tp.ForceFlush(context.Background()); err != nil {
		t.Fatalf("force flush: %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name != "gateway.projects" {
		t.Fatalf("unexpected span name: %s", spans[0].Name)
	}
	attrs := map[string]any{}
	for _, kv := range spans[0].Attributes {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	if attrs["graphql.operation"] != "projects" {
		t.Fatalf("missing operation attribute: %#v", attrs)
	}
}

func TestFetchProjectsRoundsCompletionRate(t *testing.T) {
	srv := gqlServer(t, func(gqlRequest) (any, []gqlError) {
		return map[string]any{
			"projects": []map[string]any{
				{"id": "p1", "name": "Rollout", "status": "ACTIVE", "taskCount": 3, "completedTaskCount": 1, "completionRate": 33.33},
			},
		}, nil
	})
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, srv.Client(), nil)
	projects, err := client.FetchProjects(context.Background(), "acme")
	if err != nil {
		t.Fatalf("fetch projects: %v", err)
	}
	if len(projects) != 1 {
		t.Fatalf("expected 1 project, got %d", len(projects))
	}
	if projects[0].Aggregate.CompletionRate != 33 {
		t.Fatalf("completion rate not rounded: %d", projects[0].Aggregate.CompletionRate)
	}
	if projects[0].OrganizationSlug != "acme" {
		t.Fatalf("organization slug not attached: %#v", projects[0])
	}
}
