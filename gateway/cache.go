package gateway

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"tracker-client/domain"
)

// Cache wraps a Gateway with Redis-backed caching for query results, so a
// revisit of an unchanged view skips the network. Mutations pass through and
// evict the collections they touch; stale-view refetching stays correct
// because a refetch after eviction always reaches the base gateway.
type Cache struct {
	base  Gateway
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching Gateway wrapper using the provided Redis client
// and TTL.
func NewCache(base Gateway, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("gateway.NewCache: base gateway is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func organizationsCacheKey() string { return "organizations" }

func projectsCacheKey(orgSlug string) string { return "projects:" + orgSlug }

func tasksCacheKey(projectID string) string { return "tasks:" + projectID }

func (c *Cache) FetchOrganizations(ctx context.Context) ([]domain.Organization, error) {
	var cached []domain.Organization
	if c.load(ctx, organizationsCacheKey(), &cached) {
		return cached, nil
	}
	orgs, err := c.base.FetchOrganizations(ctx)
	if err != nil {
		return nil, err
	}
	c.store(ctx, organizationsCacheKey(), orgs)
	return orgs, nil
}

func (c *Cache) FetchProjects(ctx context.Context, organizationSlug string) ([]domain.Project, error) {
	var cached []domain.Project
	if c.load(ctx, projectsCacheKey(organizationSlug), &cached) {
		return cached, nil
	}
	projects, err := c.base.FetchProjects(ctx, organizationSlug)
	if err != nil {
		return nil, err
	}
	c.store(ctx, projectsCacheKey(organizationSlug), projects)
	return projects, nil
}

func (c *Cache) FetchTasks(ctx context.Context, projectID string) ([]domain.Task, error) {
	var cached []domain.Task
	if c.load(ctx, tasksCacheKey(projectID), &cached) {
		return cached, nil
	}
	tasks, err := c.base.FetchTasks(ctx, projectID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, tasksCacheKey(projectID), tasks)
	return tasks, nil
}

func (c *Cache) CreateOrganization(ctx context.Context, in CreateOrganizationInput) (domain.Organization, error) {
	org, err := c.base.CreateOrganization(ctx, in)
	if err != nil {
		return domain.Organization{}, err
	}
	c.evict(ctx, organizationsCacheKey())
	return org, nil
}

func (c *Cache) CreateProject(ctx context.Context, in CreateProjectInput) (domain.Project, error) {
	project, err := c.base.CreateProject(ctx, in)
	if err != nil {
		return domain.Project{}, err
	}
	c.evict(ctx, projectsCacheKey(in.OrganizationSlug))
	return project, nil
}

func (c *Cache) UpdateProject(ctx context.Context, in UpdateProjectInput) (domain.Project, error) {
	project, err := c.base.UpdateProject(ctx, in)
	if err != nil {
		return domain.Project{}, err
	}
	c.evict(ctx, projectsCacheKey(in.OrganizationSlug))
	return project, nil
}

func (c *Cache) CreateTask(ctx context.Context, in CreateTaskInput) (domain.Task, error) {
	task, err := c.base.CreateTask(ctx, in)
	if err != nil {
		return domain.Task{}, err
	}
	// A new task shifts the owning project's aggregate as well.
	c.evict(ctx, tasksCacheKey(in.ProjectID), projectsCacheKey(in.OrganizationSlug))
	return task, nil
}

func (c *Cache) UpdateTask(ctx context.Context, in UpdateTaskInput) (domain.Task, error) {
	task, err := c.base.UpdateTask(ctx, in)
	if err != nil {
		return domain.Task{}, err
	}
	c.evict(ctx, tasksCacheKey(in.ProjectID), projectsCacheKey(in.OrganizationSlug))
	return task, nil
}

func (c *Cache) AddTaskComment(ctx context.Context, in AddTaskCommentInput) (string, error) {
	msg, err := c.base.AddTaskComment(ctx, in)
	if err != nil {
		return "", err
	}
	c.evict(ctx, tasksCacheKey(in.ProjectID))
	return msg, nil
}

// load reads a cached value. On redis errors or corrupt payloads it drops the
// key and reports a miss so callers fall back to the base gateway.
func (c *Cache) load(ctx context.Context, key string, out any) bool {
	if c.redis == nil {
		return false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			_ = c.redis.Del(ctx, key).Err()
		}
		return false
	}
	if err := sonic.Unmarshal(data, out); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return false
	}
	return true
}

func (c *Cache) store(ctx context.Context, key string, val any) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(val)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, keys ...string) {
	if c.redis == nil || len(keys) == 0 {
		return
	}
	_, _ = c.redis.Del(ctx, keys...).Result()
}
