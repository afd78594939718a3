package store

import (
	"sort"
	"sync"

	"tracker-client/domain"
)

// Kind names an entity table.
type Kind string

const (
	KindOrganization Kind = "organization"
	KindProject      Kind = "project"
	KindTask         Kind = "task"
	KindComment      Kind = "comment"
)

// Ref identifies a single record.
type Ref struct {
	Kind Kind
	ID   string
}

// Derived-query subscription keys. A write to a record notifies both its own
// (kind, id) subscribers and the subscribers of the query keys it affects.
const OrganizationsQueryKey = "organizations"

func ProjectsQueryKey(orgSlug string) string { return "projects:" + orgSlug }
func TasksQueryKey(projectID string) string  { return "tasks:" + projectID }

type entry struct {
	rec     domain.Record
	version uint64
}

// Store is the normalized in-memory table of domain records and the single
// source of truth the rendering layer reads from. All mutation funnels
// through Write and Remap; both are atomic with respect to readers.
type Store struct {
	mu       sync.Mutex
	tables   map[Kind]map[string]entry
	counters map[Ref]uint64

	// residency: which derived collections are fully known to the client.
	residentTasks    map[string]bool
	residentProjects map[string]bool
	residentOrgs     bool

	entitySubs map[Ref]map[int]func(Ref)
	querySubs  map[string]map[int]func(string)
	nextSubID  int
}

// New creates an empty store.
func New() *Store {
	return &Store{
		tables: map[Kind]map[string]entry{
			KindOrganization: {},
			KindProject:      {},
			KindTask:         {},
			KindComment:      {},
		},
		counters:         map[Ref]uint64{},
		residentTasks:    map[string]bool{},
		residentProjects: map[string]bool{},
		entitySubs:       map[Ref]map[int]func(Ref){},
		querySubs:        map[string]map[int]func(string){},
	}
}

// KindOf maps a record value to its table.
func KindOf(rec domain.Record) Kind {
	switch rec.(type) {
	case domain.Organization:
		return KindOrganization
	case domain.Project:
		return KindProject
	case domain.Task:
		return KindTask
	case domain.Comment:
		return KindComment
	}
	panic("store: unknown record type")
}

// NextVersion reserves the next version for the entity. Versions increase
// monotonically per entity and survive Remap.
func (s *Store) NextVersion(ref Ref) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextVersionLocked(ref)
}

func (s *Store) nextVersionLocked(ref Ref) uint64 {
	v := s.counters[ref] + 1
	s.counters[ref] = v
	return v
}

// Write replaces the record for its identity. Writes are last-write-wins by
// version: a write older than the stored version is rejected with a
// StaleWriteError. Task and project writes recompute the project's aggregate
// from the resident task set before any subscriber observes the change.
func (s *Store) Write(rec domain.Record, version uint64) error {
	kind := KindOf(rec)
	ref := Ref{Kind: kind, ID: rec.RecordID()}

	s.mu.Lock()
	if cur, ok := s.tables[kind][ref.ID]; ok && cur.version > version {
		err := &StaleWriteError{Ref: ref, Stored: cur.version, Attempted: version}
		s.mu.Unlock()
		return err
	}
	if s.counters[ref] < version {
		s.counters[ref] = version
	}
	s.tables[kind][ref.ID] = entry{rec: rec, version: version}

	n := notifications{}
	n.addRef(ref)
	s.addQueryKeysLocked(&n, rec)
	switch r := rec.(type) {
	case domain.Task:
		s.recomputeAggregateLocked(&n, r.ProjectID)
	case domain.Project:
		// The incoming record may carry an aggregate older than the resident
		// task set, e.g. a rollback snapshot or a server-reported value.
		// While residency holds, the local recompute governs.
		s.recomputeAggregateLocked(&n, r.ID)
	case domain.Comment:
		// A comment changes the rendered task detail view.
		if task, ok := s.taskLocked(r.TaskID); ok {
			n.addRef(Ref{Kind: KindTask, ID: task.ID})
			n.addQuery(TasksQueryKey(task.ProjectID))
		}
	}
	fns := s.collectLocked(n)
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
	return nil
}

func (s *Store) deleteLocked(kind Kind, id string) {
	delete(s.tables[kind], id)
}

// Delete removes a record, if present. It exists to discard a rolled-back
// optimistic creation; confirmed entities are never deleted. The entity's
// version counter survives so a re-created provisional identity cannot
// resurrect a stale write.
func (s *Store) Delete(ref Ref) {
	s.mu.Lock()
	e, ok := s.tables[ref.Kind][ref.ID]
	if !ok {
		s.mu.Unlock()
		return
	}
	s.deleteLocked(ref.Kind, ref.ID)
	n := notifications{}
	n.addRef(ref)
	s.addQueryKeysLocked(&n, e.rec)
	if t, isTask := e.rec.(domain.Task); isTask {
		s.recomputeAggregateLocked(&n, t.ProjectID)
	}
	fns := s.collectLocked(n)
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Read returns the record for ref, if resident.
func (s *Store) Read(ref Ref) (domain.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tables[ref.Kind][ref.ID]
	if !ok {
		return nil, false
	}
	return e.rec, true
}

// Version reports the stored version for ref.
func (s *Store) Version(ref Ref) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tables[ref.Kind][ref.ID]
	if !ok {
		return 0, false
	}
	return e.version, true
}

// Remap atomically substitutes a provisional identity with its confirmed
// counterpart everywhere it is referenced, including foreign keys held by
// dependent records, residency marks and version counters.
func (s *Store) Remap(kind Kind, provisionalID, confirmedID string) {
	if provisionalID == confirmedID {
		return
	}

	s.mu.Lock()
	n := notifications{}

	if e, ok := s.tables[kind][provisionalID]; ok {
		delete(s.tables[kind], provisionalID)
		switch r := e.rec.(type) {
		case domain.Organization:
			r.ID = confirmedID
			e.rec = r
		case domain.Project:
			r.ID = confirmedID
			e.rec = r
		case domain.Task:
			r.ID = confirmedID
			e.rec = r
		case domain.Comment:
			r.ID = confirmedID
			e.rec = r
		}
		s.tables[kind][confirmedID] = e
		n.addRef(Ref{Kind: kind, ID: confirmedID})
		s.addQueryKeysLocked(&n, e.rec)
	}

	oldRef := Ref{Kind: kind, ID: provisionalID}
	newRef := Ref{Kind: kind, ID: confirmedID}
	if c, ok := s.counters[oldRef]; ok {
		if c > s.counters[newRef] {
			s.counters[newRef] = c
		}
		delete(s.counters, oldRef)
	}

	switch kind {
	case KindProject:
		for id, e := range s.tables[KindTask] {
			task := e.rec.(domain.Task)
			if task.ProjectID != provisionalID {
				continue
			}
			task.ProjectID = confirmedID
			ref := Ref{Kind: KindTask, ID: id}
			s.tables[KindTask][id] = entry{rec: task, version: s.nextVersionLocked(ref)}
			n.addRef(ref)
		}
		if s.residentTasks[provisionalID] {
			delete(s.residentTasks, provisionalID)
			s.residentTasks[confirmedID] = true
		}
		n.addQuery(TasksQueryKey(provisionalID))
		n.addQuery(TasksQueryKey(confirmedID))
		s.recomputeAggregateLocked(&n, confirmedID)
	case KindTask:
		for id, e := range s.tables[KindComment] {
			c := e.rec.(domain.Comment)
			if c.TaskID != provisionalID {
				continue
			}
			c.TaskID = confirmedID
			ref := Ref{Kind: KindComment, ID: id}
			s.tables[KindComment][id] = entry{rec: c, version: s.nextVersionLocked(ref)}
			n.addRef(ref)
		}
	}

	fns := s.collectLocked(n)
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (s *Store) taskLocked(id string) (domain.Task, bool) {
	e, ok := s.tables[KindTask][id]
	if !ok {
		return domain.Task{}, false
	}
	return e.rec.(domain.Task), true
}

func (s *Store) addQueryKeysLocked(n *notifications, rec domain.Record) {
	switch r := rec.(type) {
	case domain.Organization:
		n.addQuery(OrganizationsQueryKey)
	case domain.Project:
		n.addQuery(ProjectsQueryKey(r.OrganizationSlug))
	case domain.Task:
		n.addQuery(TasksQueryKey(r.ProjectID))
	}
}

// Organization returns the organization with the given id.
func (s *Store) Organization(id string) (domain.Organization, bool) {
	rec, ok := s.Read(Ref{Kind: KindOrganization, ID: id})
	if !ok {
		return domain.Organization{}, false
	}
	return rec.(domain.Organization), true
}

// Project returns the project with the given id.
func (s *Store) Project(id string) (domain.Project, bool) {
	rec, ok := s.Read(Ref{Kind: KindProject, ID: id})
	if !ok {
		return domain.Project{}, false
	}
	return rec.(domain.Project), true
}

// Task returns the task with the given id.
func (s *Store) Task(id string) (domain.Task, bool) {
	rec, ok := s.Read(Ref{Kind: KindTask, ID: id})
	if !ok {
		return domain.Task{}, false
	}
	return rec.(domain.Task), true
}

// Comment returns the comment with the given id.
func (s *Store) Comment(id string) (domain.Comment, bool) {
	rec, ok := s.Read(Ref{Kind: KindComment, ID: id})
	if !ok {
		return domain.Comment{}, false
	}
	return rec.(domain.Comment), true
}

// Organizations lists all resident organizations ordered by name.
func (s *Store) Organizations() []domain.Organization {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Organization, 0, len(s.tables[KindOrganization]))
	for _, e := range s.tables[KindOrganization] {
		out = append(out, e.rec.(domain.Organization))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ProjectsOf lists resident projects of an organization ordered by name.
func (s *Store) ProjectsOf(orgSlug string) []domain.Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []domain.Project{}
	for _, e := range s.tables[KindProject] {
		p := e.rec.(domain.Project)
		if p.OrganizationSlug == orgSlug {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// TasksOf lists resident tasks of a project ordered by creation time.
func (s *Store) TasksOf(projectID string) []domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasksOfLocked(projectID)
}

func (s *Store) tasksOfLocked(projectID string) []domain.Task {
	out := []domain.Task{}
	for _, e := range s.tables[KindTask] {
		t := e.rec.(domain.Task)
		if t.ProjectID == projectID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// CommentsOf lists resident comments of a task ordered by creation time.
func (s *Store) CommentsOf(taskID string) []domain.Comment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []domain.Comment{}
	for _, e := range s.tables[KindComment] {
		c := e.rec.(domain.Comment)
		if c.TaskID == taskID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// TaskSetResident reports whether a completed task-list fetch for the project
// is resident, i.e. the aggregate engine may recompute from local data.
func (s *Store) TaskSetResident(projectID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.residentTasks[projectID]
}

// ProjectListResident reports whether the organization's project list has
// been fetched.
func (s *Store) ProjectListResident(orgSlug string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.residentProjects[orgSlug]
}

// OrganizationsResident reports whether the organization list has been
// fetched.
func (s *Store) OrganizationsResident() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.residentOrgs
}
