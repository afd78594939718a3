package client

import (
	"context"

	log "github.com/sirupsen/logrus"

	"tracker-client/domain"
	"tracker-client/store"
)

// The reconciliation layer decides, per mutation kind, whether a view's
// resident data can still be trusted. Views whose server-assigned content
// cannot be predicted locally are marked stale at settle and refetched on the
// next visit rather than guessed at. Refetching is lazy: nothing happens
// until a Visit call for the marked view.

// Marks carry a generation so a clear after a refetch only removes the mark
// the refetch observed. A mutation settling while the fetch was in flight
// bumps the generation and the view stays stale for the next visit.

func (s *Session) markStale(view string) {
	s.staleMu.Lock()
	s.staleGen++
	s.stale[view] = s.staleGen
	s.staleMu.Unlock()
	s.logger.WithFields(log.Fields{"view": view}).Debug("view marked stale")
}

// staleMark returns the view's current mark generation, zero when the view is
// clean.
func (s *Session) staleMark(view string) uint64 {
	s.staleMu.Lock()
	defer s.staleMu.Unlock()
	return s.stale[view]
}

func (s *Session) clearStale(view string, gen uint64) {
	s.staleMu.Lock()
	if s.stale[view] == gen {
		delete(s.stale, view)
	}
	s.staleMu.Unlock()
}

// VisitOrganizations serves the organization list, fetching it when not yet
// resident or marked stale.
func (s *Session) VisitOrganizations(ctx context.Context) ([]domain.Organization, error) {
	gen := s.staleMark(store.OrganizationsQueryKey)
	if s.store.OrganizationsResident() && gen == 0 {
		return s.store.Organizations(), nil
	}
	orgs, err := s.gw.FetchOrganizations(ctx)
	if err != nil {
		return nil, err
	}
	s.store.IngestOrganizations(orgs)
	s.clearStale(store.OrganizationsQueryKey, gen)
	return s.store.Organizations(), nil
}

// VisitProjects serves an organization's project list. A fresh organization
// (created this session) reaches here through navigation, which makes the
// first visit a fetch by construction.
func (s *Session) VisitProjects(ctx context.Context, organizationSlug string) ([]domain.Project, error) {
	view := store.ProjectsQueryKey(organizationSlug)
	gen := s.staleMark(view)
	if s.store.ProjectListResident(organizationSlug) && gen == 0 {
		return s.store.ProjectsOf(organizationSlug), nil
	}
	projects, err := s.gw.FetchProjects(ctx, organizationSlug)
	if err != nil {
		return nil, err
	}
	s.store.IngestProjects(organizationSlug, projects)
	s.clearStale(view, gen)
	return s.store.ProjectsOf(organizationSlug), nil
}

// VisitTasks serves a project's task list with comments joined back in.
// Ingesting the list makes the task set resident, which switches the
// project's aggregate over to local recomputation.
func (s *Session) VisitTasks(ctx context.Context, projectID string) ([]domain.Task, error) {
	view := store.TasksQueryKey(projectID)
	gen := s.staleMark(view)
	if s.store.TaskSetResident(projectID) && gen == 0 {
		return s.tasksWithComments(projectID), nil
	}
	tasks, err := s.gw.FetchTasks(ctx, projectID)
	if err != nil {
		return nil, err
	}
	s.store.IngestTasks(projectID, tasks)
	s.clearStale(view, gen)
	return s.tasksWithComments(projectID), nil
}

func (s *Session) tasksWithComments(projectID string) []domain.Task {
	tasks := s.store.TasksOf(projectID)
	for i := range tasks {
		tasks[i].Comments = s.store.CommentsOf(tasks[i].ID)
	}
	return tasks
}
