package store

import "tracker-client/domain"

// IngestOrganizations replaces the organization list with a fetch result and
// marks it resident.
func (s *Store) IngestOrganizations(orgs []domain.Organization) {
	s.mu.Lock()
	n := notifications{}
	seen := map[string]bool{}
	for _, org := range orgs {
		seen[org.ID] = true
		ref := Ref{Kind: KindOrganization, ID: org.ID}
		s.tables[KindOrganization][org.ID] = entry{rec: org, version: s.nextVersionLocked(ref)}
		n.addRef(ref)
	}
	for id := range s.tables[KindOrganization] {
		if !seen[id] && !domain.IsProvisionalID(id) {
			s.deleteLocked(KindOrganization, id)
		}
	}
	s.residentOrgs = true
	n.addQuery(OrganizationsQueryKey)
	fns := s.collectLocked(n)
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// IngestProjects replaces the organization's project list with a fetch
// result. Provisional projects (created locally, not yet confirmed) survive
// the replacement; everything else the server no longer reports is dropped.
func (s *Store) IngestProjects(orgSlug string, projects []domain.Project) {
	s.mu.Lock()
	n := notifications{}
	seen := map[string]bool{}
	for _, p := range projects {
		p.OrganizationSlug = orgSlug
		seen[p.ID] = true
		ref := Ref{Kind: KindProject, ID: p.ID}
		s.tables[KindProject][p.ID] = entry{rec: p, version: s.nextVersionLocked(ref)}
		n.addRef(ref)
		// The server-reported aggregate may predate optimistic task edits
		// still pending locally; a resident task set governs.
		s.recomputeAggregateLocked(&n, p.ID)
	}
	for id, e := range s.tables[KindProject] {
		p := e.rec.(domain.Project)
		if p.OrganizationSlug == orgSlug && !seen[id] && !domain.IsProvisionalID(id) {
			s.deleteLocked(KindProject, id)
		}
	}
	s.residentProjects[orgSlug] = true
	n.addQuery(ProjectsQueryKey(orgSlug))
	fns := s.collectLocked(n)
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// IngestTasks replaces the project's task set with a fetch result, splits
// embedded comments into their own records, marks the task set resident and
// recomputes the project aggregate in the same critical section.
func (s *Store) IngestTasks(projectID string, tasks []domain.Task) {
	s.mu.Lock()
	n := notifications{}
	seenTasks := map[string]bool{}
	seenComments := map[string]bool{}
	for _, t := range tasks {
		t.ProjectID = projectID
		comments := t.Comments
		t.Comments = nil
		seenTasks[t.ID] = true
		ref := Ref{Kind: KindTask, ID: t.ID}
		s.tables[KindTask][t.ID] = entry{rec: t, version: s.nextVersionLocked(ref)}
		n.addRef(ref)
		for _, c := range comments {
			c.TaskID = t.ID
			seenComments[c.ID] = true
			cref := Ref{Kind: KindComment, ID: c.ID}
			s.tables[KindComment][c.ID] = entry{rec: c, version: s.nextVersionLocked(cref)}
		}
	}
	for id, e := range s.tables[KindTask] {
		t := e.rec.(domain.Task)
		if t.ProjectID != projectID || seenTasks[id] || domain.IsProvisionalID(id) {
			continue
		}
		s.deleteLocked(KindTask, id)
	}
	for id, e := range s.tables[KindComment] {
		c := e.rec.(domain.Comment)
		if seenComments[id] || domain.IsProvisionalID(id) {
			continue
		}
		// Drop comments owned by this project's tasks, and orphans whose
		// task vanished with the replacement above.
		if t, ok := s.taskLocked(c.TaskID); !ok || t.ProjectID == projectID {
			s.deleteLocked(KindComment, id)
		}
	}
	s.residentTasks[projectID] = true
	s.recomputeAggregateLocked(&n, projectID)
	n.addQuery(TasksQueryKey(projectID))
	fns := s.collectLocked(n)
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
