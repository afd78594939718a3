package store

import (
	"math"

	"tracker-client/domain"
)

// CompletionRate is the percentage of completed tasks, rounded to the nearest
// integer, or 0 for an empty task set.
func CompletionRate(completed, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(100 * float64(completed) / float64(total)))
}

// Aggregate derives the task-count aggregate from a task slice.
func Aggregate(tasks []domain.Task) domain.ProjectAggregate {
	agg := domain.ProjectAggregate{TaskCount: len(tasks)}
	for _, t := range tasks {
		if t.Status == domain.StatusDone {
			agg.CompletedTaskCount++
		}
	}
	agg.CompletionRate = CompletionRate(agg.CompletedTaskCount, agg.TaskCount)
	return agg
}

// recomputeAggregateLocked refreshes the project's aggregate from its
// resident task set. It runs under the store lock, in the same critical
// section as the write that triggered it, so no subscriber ever observes a
// task change with a not-yet-updated aggregate. When the task set is not
// resident the stored aggregate (last fetched from the server) is left
// untouched; the reconciliation layer refreshes it on the next visit.
func (s *Store) recomputeAggregateLocked(n *notifications, projectID string) {
	if !s.residentTasks[projectID] {
		return
	}
	e, ok := s.tables[KindProject][projectID]
	if !ok {
		return
	}
	project := e.rec.(domain.Project)
	agg := Aggregate(s.tasksOfLocked(projectID))
	if project.Aggregate == agg {
		return
	}
	project.Aggregate = agg
	ref := Ref{Kind: KindProject, ID: projectID}
	s.tables[KindProject][projectID] = entry{rec: project, version: s.nextVersionLocked(ref)}
	n.addRef(ref)
	n.addQuery(ProjectsQueryKey(project.OrganizationSlug))
}
