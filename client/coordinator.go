package client

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"tracker-client/domain"
	"tracker-client/gateway"
	"tracker-client/store"
)

// entityState carries the per-entity ordering discipline: monotonically
// increasing sequence numbers, at most one mutation in flight, later edits
// queued in user order.
type entityState struct {
	ref        store.Ref
	nextSeq    uint64
	appliedSeq uint64
	inflight   *inflightMutation
	queue      []*queuedMutation
}

// mutation describes one coordinated write. predict and merge run on the
// loop; call runs in its own goroutine and is the only part that touches the
// network.
type mutation struct {
	name string
	ref  store.Ref

	// predict builds the record the mutation is expected to produce from
	// locally known information only. id is the entity's identity at apply
	// time (see call).
	predict func(id string) (domain.Record, error)

	// call executes the mutation against the gateway. id is the entity's
	// identity at dispatch time, which may differ from ref.ID when a queued
	// edit was remapped by an earlier creation's settle.
	call func(ctx context.Context, id string) (domain.Record, error)

	// merge folds the authoritative record over the currently resident one.
	// A nil merge keeps the resident record (gateway returned no entity).
	merge func(current, authoritative domain.Record) domain.Record

	// remapKind marks a creation: on success the provisional identity is
	// substituted by the authoritative one across the store.
	remapKind store.Kind

	// staleAfter lists derived views to mark stale once the mutation
	// succeeds, because their server-assigned fields cannot be fully
	// predicted locally.
	staleAfter []string
}

type inflightMutation struct {
	m           *mutation
	p           *Pending
	seq         uint64
	snapshot    domain.Record
	hadSnapshot bool
}

type queuedMutation struct {
	m *mutation
	p *Pending
}

func (s *Session) entity(ref store.Ref) *entityState {
	st, ok := s.entities[ref]
	if !ok {
		st = &entityState{ref: ref}
		s.entities[ref] = st
	}
	return st
}

// submit runs on the loop: apply immediately, or queue behind the in-flight
// mutation for the same entity.
func (s *Session) submit(m *mutation, p *Pending) {
	st := s.entity(m.ref)
	if st.inflight != nil {
		st.queue = append(st.queue, &queuedMutation{m: m, p: p})
		s.logger.WithFields(log.Fields{
			"mutation": m.name,
			"entity":   string(m.ref.Kind) + "/" + m.ref.ID,
			"queued":   len(st.queue),
		}).Debug("mutation queued behind in-flight edit")
		return
	}
	s.apply(st, m, p)
}

// apply is the optimistic step: snapshot, write the prediction, dispatch the
// network call. It never suspends.
func (s *Session) apply(st *entityState, m *mutation, p *Pending) {
	m.ref = st.ref // pick up any remap that happened while queued
	predicted, err := m.predict(st.ref.ID)
	if err != nil {
		p.failBeforeApply(err)
		s.settleNext(st)
		return
	}

	snapshot, hadSnapshot := s.store.Read(st.ref)
	seq := st.nextSeq
	st.nextSeq++

	if err := s.store.Write(predicted, s.store.NextVersion(st.ref)); err != nil {
		// A stale-write conflict here is normal concurrent-edit ordering;
		// resolved silently in favor of the stored record.
		s.logger.WithError(err).Debug("optimistic write superseded")
	}
	st.appliedSeq = seq
	st.inflight = &inflightMutation{
		m:           m,
		p:           p,
		seq:         seq,
		snapshot:    snapshot,
		hadSnapshot: hadSnapshot,
	}
	p.markApplied(predicted)

	id := st.ref.ID
	s.settleWG.Add(1)
	go func() {
		authoritative, callErr := m.call(context.Background(), id)
		s.dispatch(func() {
			defer s.settleWG.Done()
			s.settle(st.ref, seq, authoritative, callErr)
		})
	}()
}

// settle applies the network outcome: commit the authoritative record (with
// identity remap for creations) or roll back to the pre-apply snapshot, then
// release the next queued edit.
func (s *Session) settle(ref store.Ref, seq uint64, authoritative domain.Record, callErr error) {
	st, ok := s.entities[ref]
	if !ok || st.inflight == nil || st.inflight.seq != seq {
		// Late or duplicated settle; a later mutation owns the entity now.
		s.logger.WithFields(log.Fields{"entity": string(ref.Kind) + "/" + ref.ID, "seq": seq}).
			Debug("ignoring superseded settle")
		return
	}
	inf := st.inflight
	st.inflight = nil

	if callErr != nil {
		s.rollback(st, inf, callErr)
		s.settleNext(st)
		return
	}

	if st.appliedSeq > inf.seq {
		// A higher sequence number has been applied; the authoritative
		// record for this older mutation must not overwrite it.
		inf.p.settle(nil, nil)
		s.settleNext(st)
		return
	}

	if inf.m.remapKind != "" && authoritative != nil && authoritative.RecordID() != st.ref.ID {
		confirmed := authoritative.RecordID()
		s.store.Remap(inf.m.remapKind, st.ref.ID, confirmed)
		s.remapEntity(st, store.Ref{Kind: st.ref.Kind, ID: confirmed})
	}

	committed := authoritative
	if current, ok := s.store.Read(st.ref); ok {
		if inf.m.merge != nil && authoritative != nil {
			committed = inf.m.merge(current, authoritative)
		} else {
			committed = current
		}
	}
	if committed != nil {
		if err := s.store.Write(committed, s.store.NextVersion(st.ref)); err != nil {
			s.logger.WithError(err).Debug("authoritative write superseded")
		}
	}

	for _, view := range inf.m.staleAfter {
		s.markStale(view)
	}

	s.logger.WithFields(log.Fields{
		"mutation": inf.m.name,
		"entity":   string(st.ref.Kind) + "/" + st.ref.ID,
		"seq":      inf.seq,
	}).Debug("mutation committed")
	inf.p.settle(committed, nil)
	s.settleNext(st)
}

// rollback restores the entity to the snapshot captured before the failed
// mutation's apply. Edits queued behind it re-apply over the restored
// snapshot afterwards, so only the failed mutation's contribution is lost.
func (s *Session) rollback(st *entityState, inf *inflightMutation, cause error) {
	if inf.hadSnapshot {
		if err := s.store.Write(inf.snapshot, s.store.NextVersion(st.ref)); err != nil {
			s.logger.WithError(err).Debug("rollback write superseded")
		}
	} else {
		s.store.Delete(st.ref)
	}
	s.logger.WithFields(log.Fields{
		"mutation": inf.m.name,
		"entity":   string(st.ref.Kind) + "/" + st.ref.ID,
		"seq":      inf.seq,
		"error":    cause.Error(),
	}).Warn("mutation rolled back")
	inf.p.settle(nil, cause)
}

// settleNext releases the oldest queued edit for the entity, if any.
func (s *Session) settleNext(st *entityState) {
	if st.inflight != nil || len(st.queue) == 0 {
		return
	}
	next := st.queue[0]
	st.queue = st.queue[1:]
	s.apply(st, next.m, next.p)
}

// remapEntity moves coordinator state from a provisional identity to the
// confirmed one so queued edits dispatch against the server-known id.
func (s *Session) remapEntity(st *entityState, confirmed store.Ref) {
	delete(s.entities, st.ref)
	st.ref = confirmed
	s.entities[confirmed] = st
}

// CreateOrganization predicts a provisional organization; the slug is
// server-derived and left empty until settle. The project list of the new
// organization is fetched fresh on first navigation, so no view is marked
// stale.
func (s *Session) CreateOrganization(name, contactEmail string) (*Pending, error) {
	p := newPending()
	prov := domain.NewProvisionalID()
	m := &mutation{
		name: "createOrganization",
		ref:  store.Ref{Kind: store.KindOrganization, ID: prov},
		predict: func(string) (domain.Record, error) {
			return domain.Organization{ID: prov, Name: name, ContactEmail: contactEmail}, nil
		},
		call: func(ctx context.Context, _ string) (domain.Record, error) {
			org, err := s.gw.CreateOrganization(ctx, gateway.CreateOrganizationInput{Name: name, ContactEmail: contactEmail})
			if err != nil {
				return nil, err
			}
			return org, nil
		},
		merge: func(_, authoritative domain.Record) domain.Record {
			return authoritative
		},
		remapKind: store.KindOrganization,
	}
	return p, s.call(func() { s.submit(m, p) })
}

// CreateProject predicts a provisional active project with an empty
// aggregate. The organization's project summary view is marked stale on
// success because server-assigned fields are not fully predictable.
func (s *Session) CreateProject(organizationSlug, name, description, dueDate string) (*Pending, error) {
	p := newPending()
	prov := domain.NewProvisionalID()
	m := &mutation{
		name: "createProject",
		ref:  store.Ref{Kind: store.KindProject, ID: prov},
		predict: func(string) (domain.Record, error) {
			return domain.Project{
				ID:               prov,
				Name:             name,
				Description:      description,
				OrganizationSlug: organizationSlug,
				Status:           domain.ProjectActive,
				DueDate:          dueDate,
			}, nil
		},
		call: func(ctx context.Context, _ string) (domain.Record, error) {
			project, err := s.gw.CreateProject(ctx, gateway.CreateProjectInput{
				OrganizationSlug: organizationSlug,
				Name:             name,
				Description:      description,
				DueDate:          dueDate,
			})
			if err != nil {
				return nil, err
			}
			return project, nil
		},
		merge: func(current, authoritative domain.Record) domain.Record {
			cur := current.(domain.Project)
			auth := authoritative.(domain.Project)
			cur.ID = auth.ID
			cur.Name = auth.Name
			return cur
		},
		remapKind:  store.KindProject,
		staleAfter: []string{store.ProjectsQueryKey(organizationSlug)},
	}
	return p, s.call(func() { s.submit(m, p) })
}

// UpdateProject merges user-supplied fields over the resident project.
func (s *Session) UpdateProject(projectID string, patch ProjectPatch) (*Pending, error) {
	p := newPending()
	m := &mutation{
		name: "updateProject",
		ref:  store.Ref{Kind: store.KindProject, ID: projectID},
		predict: func(id string) (domain.Record, error) {
			cur, ok := s.store.Project(id)
			if !ok {
				return nil, ErrUnknownEntity
			}
			return patch.over(cur), nil
		},
		call: func(ctx context.Context, id string) (domain.Record, error) {
			project, err := s.gw.UpdateProject(ctx, gateway.UpdateProjectInput{
				ProjectID:        id,
				OrganizationSlug: s.projectOrgSlug(id),
				Name:             patch.Name,
				Description:      patch.Description,
				Status:           patch.Status,
				DueDate:          patch.DueDate,
			})
			if err != nil {
				return nil, err
			}
			return project, nil
		},
		merge: func(current, authoritative domain.Record) domain.Record {
			cur := current.(domain.Project)
			auth := authoritative.(domain.Project)
			auth.OrganizationSlug = cur.OrganizationSlug
			if s.store.TaskSetResident(auth.ID) {
				// The local recompute over the resident task set is at
				// least as fresh as the server snapshot.
				auth.Aggregate = cur.Aggregate
			}
			return auth
		},
	}
	return p, s.call(func() { s.submit(m, p) })
}

// CreateTask predicts a provisional TODO task with a locally stamped
// creation time. The project's task list and the organization's summary view
// are marked stale on success: the count-only aggregate prediction is safe,
// the full entity is not.
func (s *Session) CreateTask(projectID, title, description, assigneeEmail, dueDate string) (*Pending, error) {
	p := newPending()
	prov := domain.NewProvisionalID()
	stale := []string{store.TasksQueryKey(projectID)}
	if slug := s.projectOrgSlug(projectID); slug != "" {
		stale = append(stale, store.ProjectsQueryKey(slug))
	}
	m := &mutation{
		name: "createTask",
		ref:  store.Ref{Kind: store.KindTask, ID: prov},
		predict: func(string) (domain.Record, error) {
			return domain.Task{
				ID:            prov,
				ProjectID:     projectID,
				Title:         title,
				Description:   description,
				Status:        domain.StatusTodo,
				AssigneeEmail: assigneeEmail,
				DueDate:       dueDate,
				CreatedAt:     time.Now().UTC().Format(time.RFC3339),
			}, nil
		},
		call: func(ctx context.Context, _ string) (domain.Record, error) {
			task, err := s.gw.CreateTask(ctx, gateway.CreateTaskInput{
				ProjectID:        projectID,
				OrganizationSlug: s.projectOrgSlug(projectID),
				Title:            title,
				Description:      description,
				AssigneeEmail:    assigneeEmail,
				DueDate:          dueDate,
			})
			if err != nil {
				return nil, err
			}
			return task, nil
		},
		merge: func(current, authoritative domain.Record) domain.Record {
			cur := current.(domain.Task)
			auth := authoritative.(domain.Task)
			cur.ID = auth.ID
			cur.Title = auth.Title
			cur.Status = auth.Status
			cur.CreatedAt = auth.CreatedAt
			return cur
		},
		remapKind:  store.KindTask,
		staleAfter: stale,
	}
	return p, s.call(func() { s.submit(m, p) })
}

// UpdateTask merges user-supplied fields over the resident task. Fully
// predictable: no view refetch beyond the aggregate engine's local
// recompute.
func (s *Session) UpdateTask(taskID string, patch TaskPatch) (*Pending, error) {
	p := newPending()
	m := &mutation{
		name: "updateTask",
		ref:  store.Ref{Kind: store.KindTask, ID: taskID},
		predict: func(id string) (domain.Record, error) {
			cur, ok := s.store.Task(id)
			if !ok {
				return nil, ErrUnknownEntity
			}
			return patch.over(cur), nil
		},
		call: func(ctx context.Context, id string) (domain.Record, error) {
			task, err := s.gw.UpdateTask(ctx, gateway.UpdateTaskInput{
				TaskID:           id,
				ProjectID:        s.taskProjectID(id),
				OrganizationSlug: s.projectOrgSlug(s.taskProjectID(id)),
				Title:            patch.Title,
				Description:      patch.Description,
				AssigneeEmail:    patch.AssigneeEmail,
				Status:           patch.Status,
			})
			if err != nil {
				return nil, err
			}
			return task, nil
		},
		merge: func(current, authoritative domain.Record) domain.Record {
			cur := current.(domain.Task)
			auth := authoritative.(domain.Task)
			cur.Title = auth.Title
			cur.Description = auth.Description
			cur.AssigneeEmail = auth.AssigneeEmail
			cur.Status = auth.Status
			if auth.CreatedAt != "" {
				cur.CreatedAt = auth.CreatedAt
			}
			return cur
		},
	}
	return p, s.call(func() { s.submit(m, p) })
}

// CycleTaskStatus advances the task through TODO -> IN_PROGRESS -> DONE ->
// TODO. The target is resolved from the currently visible status, then
// submitted as a direct status assignment: cycling is a convenience over
// UpdateTask, not its own mutation path.
func (s *Session) CycleTaskStatus(taskID string) (*Pending, error) {
	var target domain.TaskStatus
	err := s.call(func() {
		if cur, ok := s.store.Task(taskID); ok {
			target = domain.NextTaskStatus(cur.Status)
		}
	})
	if err != nil {
		return nil, err
	}
	if target == "" {
		return nil, ErrUnknownEntity
	}
	status := string(target)
	return s.UpdateTask(taskID, TaskPatch{Status: &status})
}

// AddTaskComment predicts a provisional comment. The gateway confirms with a
// message only, never a comment entity, so the predicted record stays
// resident (and provisional) until the next task-list fetch replaces it.
func (s *Session) AddTaskComment(taskID, content, authorEmail string) (*Pending, error) {
	p := newPending()
	prov := domain.NewProvisionalID()
	m := &mutation{
		name: "addTaskComment",
		ref:  store.Ref{Kind: store.KindComment, ID: prov},
		predict: func(string) (domain.Record, error) {
			if _, ok := s.store.Task(taskID); !ok {
				return nil, ErrUnknownEntity
			}
			return domain.Comment{
				ID:          prov,
				TaskID:      taskID,
				Content:     content,
				AuthorEmail: authorEmail,
				CreatedAt:   time.Now().UTC().Format(time.RFC3339),
			}, nil
		},
		call: func(ctx context.Context, _ string) (domain.Record, error) {
			_, err := s.gw.AddTaskComment(ctx, gateway.AddTaskCommentInput{
				TaskID:      taskID,
				ProjectID:   s.taskProjectID(taskID),
				Content:     content,
				AuthorEmail: authorEmail,
			})
			return nil, err
		},
	}
	return p, s.call(func() { s.submit(m, p) })
}

// ProjectPatch carries the user-editable project fields; nil means leave
// unchanged.
type ProjectPatch struct {
	Name        *string
	Description *string
	Status      *string
	DueDate     *string
}

func (p ProjectPatch) over(cur domain.Project) domain.Project {
	if p.Name != nil {
		cur.Name = *p.Name
	}
	if p.Description != nil {
		cur.Description = *p.Description
	}
	if p.Status != nil {
		cur.Status = domain.CoerceProjectStatus(*p.Status)
	}
	if p.DueDate != nil {
		cur.DueDate = *p.DueDate
	}
	return cur
}

// TaskPatch carries the user-editable task fields; nil means leave
// unchanged.
type TaskPatch struct {
	Title         *string
	Description   *string
	AssigneeEmail *string
	Status        *string
}

func (p TaskPatch) over(cur domain.Task) domain.Task {
	if p.Title != nil {
		cur.Title = *p.Title
	}
	if p.Description != nil {
		cur.Description = *p.Description
	}
	if p.AssigneeEmail != nil {
		cur.AssigneeEmail = *p.AssigneeEmail
	}
	if p.Status != nil {
		cur.Status = domain.CoerceTaskStatus(*p.Status)
	}
	return cur
}

func (s *Session) taskProjectID(taskID string) string {
	if task, ok := s.store.Task(taskID); ok {
		return task.ProjectID
	}
	return ""
}

func (s *Session) projectOrgSlug(projectID string) string {
	if project, ok := s.store.Project(projectID); ok {
		return project.OrganizationSlug
	}
	return ""
}
