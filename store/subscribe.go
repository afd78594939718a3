package store

// notifications collects the entity refs and derived-query keys touched by a
// single store operation so subscribers fire exactly once, after the change
// is fully applied.
type notifications struct {
	refs    []Ref
	queries []string
}

func (n *notifications) addRef(ref Ref) {
	for _, r := range n.refs {
		if r == ref {
			return
		}
	}
	n.refs = append(n.refs, ref)
}

func (n *notifications) addQuery(key string) {
	for _, q := range n.queries {
		if q == key {
			return
		}
	}
	n.queries = append(n.queries, key)
}

// Subscribe registers fn to run after any write to ref. The returned cancel
// detaches the subscription; a detached subscriber never fires again, which
// is what lets an unmounted view skip render side effects while a mutation
// settles.
func (s *Store) Subscribe(ref Ref, fn func(Ref)) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSubID
	s.nextSubID++
	subs, ok := s.entitySubs[ref]
	if !ok {
		subs = map[int]func(Ref){}
		s.entitySubs[ref] = subs
	}
	subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.entitySubs[ref], id)
	}
}

// SubscribeQuery registers fn to run after any write affecting the derived
// query key (see OrganizationsQueryKey, ProjectsQueryKey, TasksQueryKey).
func (s *Store) SubscribeQuery(key string, fn func(string)) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSubID
	s.nextSubID++
	subs, ok := s.querySubs[key]
	if !ok {
		subs = map[int]func(string){}
		s.querySubs[key] = subs
	}
	subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.querySubs[key], id)
	}
}

// collectLocked snapshots the subscriber callbacks for n. Callbacks run after
// the store lock is released so subscribers may read back from the store.
func (s *Store) collectLocked(n notifications) []func() {
	var fns []func()
	for _, ref := range n.refs {
		for _, fn := range s.entitySubs[ref] {
			ref, fn := ref, fn
			fns = append(fns, func() { fn(ref) })
		}
	}
	for _, key := range n.queries {
		for _, fn := range s.querySubs[key] {
			key, fn := key, fn
			fns = append(fns, func() { fn(key) })
		}
	}
	return fns
}
