// Package client coordinates optimistic mutations and view reconciliation on
// top of the entity store. One Session corresponds to one browsing session:
// a single logical thread of control (the loop goroutine) owns all
// coordinator state, gateway calls run concurrently, and their settle
// continuations are posted back onto the loop.
package client

import (
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"

	"tracker-client/domain"
	"tracker-client/gateway"
	"tracker-client/store"
)

// ErrUnknownEntity is returned when a mutation targets an entity the store
// has never seen.
var ErrUnknownEntity = errors.New("unknown entity")

// ErrClosed is returned when a mutation is submitted after Close.
var ErrClosed = errors.New("session closed")

// Session wires the store, the gateway and the mutation coordinator
// together. Construct one per browsing session; there is no package-level
// singleton.
type Session struct {
	store  *store.Store
	gw     gateway.Gateway
	logger *log.Logger

	ops       chan func()
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	// entities is confined to the loop goroutine.
	entities map[store.Ref]*entityState

	settleWG sync.WaitGroup

	staleMu  sync.Mutex
	staleGen uint64
	stale    map[string]uint64
}

// New starts a session. The caller owns the store; passing it in rather than
// using an ambient global keeps the session independently constructible and
// testable.
func New(st *store.Store, gw gateway.Gateway, logger *log.Logger) *Session {
	if logger == nil {
		logger = log.StandardLogger()
	}
	s := &Session{
		store:    st,
		gw:       gw,
		logger:   logger,
		ops:      make(chan func(), 64),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		entities: map[store.Ref]*entityState{},
		stale:    map[string]uint64{},
	}
	go s.run()
	return s
}

// Store exposes the session's entity store for read-side consumers.
func (s *Session) Store() *store.Store { return s.store }

func (s *Session) run() {
	defer close(s.done)
	for {
		select {
		case fn := <-s.ops:
			fn()
		case <-s.quit:
			// Drain continuations already posted so settles complete.
			for {
				select {
				case fn := <-s.ops:
					fn()
				default:
					return
				}
			}
		}
	}
}

// Close stops the loop after pending in-flight mutations have settled. Safe
// to call more than once.
func (s *Session) Close() {
	s.settleWG.Wait()
	s.closeOnce.Do(func() { close(s.quit) })
	<-s.done
}

// WaitSettled blocks until every submitted mutation has settled. Intended
// for tests and shutdown paths.
func (s *Session) WaitSettled() {
	s.settleWG.Wait()
}

// dispatch schedules fn onto the loop goroutine.
func (s *Session) dispatch(fn func()) {
	select {
	case s.ops <- fn:
	case <-s.quit:
	}
}

// call runs fn on the loop and waits for it.
func (s *Session) call(fn func()) error {
	finished := make(chan struct{})
	s.dispatch(func() {
		defer close(finished)
		fn()
	})
	select {
	case <-finished:
		return nil
	case <-s.done:
		return ErrClosed
	}
}

// Pending tracks one coordinated mutation through predict, apply and settle.
type Pending struct {
	applied chan struct{}
	settled chan struct{}

	mu     sync.Mutex
	record domain.Record
	err    error
}

func newPending() *Pending {
	return &Pending{applied: make(chan struct{}), settled: make(chan struct{})}
}

// Applied is closed once the predicted record has been written to the store.
func (p *Pending) Applied() <-chan struct{} { return p.applied }

// Settled is closed once the mutation's network outcome has been applied.
func (p *Pending) Settled() <-chan struct{} { return p.settled }

// Record returns the predicted record after apply, and the authoritative
// record after a successful settle.
func (p *Pending) Record() domain.Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.record
}

// Err reports the settle outcome. It is meaningful once Settled is closed.
func (p *Pending) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *Pending) setRecord(rec domain.Record) {
	p.mu.Lock()
	p.record = rec
	p.mu.Unlock()
}

func (p *Pending) markApplied(rec domain.Record) {
	p.setRecord(rec)
	close(p.applied)
}

func (p *Pending) settle(rec domain.Record, err error) {
	p.mu.Lock()
	if rec != nil {
		p.record = rec
	}
	p.err = err
	p.mu.Unlock()
	close(p.settled)
}

// failBeforeApply settles a mutation rejected before its optimistic write.
func (p *Pending) failBeforeApply(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
	close(p.applied)
	close(p.settled)
}
