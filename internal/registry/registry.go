package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"holedeck/internal/engine"
)

var (
	// ErrAlreadyExists is returned by Register when the id is occupied.
	ErrAlreadyExists = errors.New("session already exists")
	// ErrNotStarting is returned when an entry is gone, was replaced, or is
	// not in the state the operation requires.
	ErrNotStarting = errors.New("session is not starting")
)

// Ticket identifies one registration of an id. A stale ticket never touches
// a newer registration of the same id.
type Ticket uint64

type entry struct {
	ticket  Ticket
	session Session
	handle  engine.Handle
	cancel  context.CancelFunc
}

// Registry is the authoritative id -> engine mapping. Every mutation is
// atomic with respect to concurrent callers.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	next    Ticket
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register inserts a placeholder for id. cancel, if not nil, is invoked when
// the placeholder is removed before it gets a handle.
func (r *Registry) Register(id string, mode engine.Mode, cancel context.CancelFunc) (Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[id]; ok {
		return 0, errors.Wrapf(ErrAlreadyExists, "register %q", id)
	}

	r.next++
	r.entries[id] = &entry{
		ticket: r.next,
		cancel: cancel,
		session: Session{
			ID:        id,
			Mode:      mode,
			State:     StateUninitialized,
			CreatedAt: time.Now(),
		},
	}
	return r.next, nil
}

// MarkStarting freezes the contract and moves the placeholder to Starting.
func (r *Registry) MarkStarting(id string, t Ticket, c engine.Contract) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok || e.ticket != t || e.session.State != StateUninitialized {
		return errors.Wrapf(ErrNotStarting, "mark %q starting", id)
	}
	e.session.Contract = c
	e.session.State = StateStarting
	return nil
}

// Attach binds a ready handle to a Starting entry and marks it Running.
func (r *Registry) Attach(id string, t Ticket, h engine.Handle, info engine.Info) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok || e.ticket != t || e.session.State != StateStarting {
		return errors.Wrapf(ErrNotStarting, "attach %q", id)
	}
	e.handle = h
	e.cancel = nil
	e.session.Info = info
	e.session.State = StateRunning
	e.session.ReadyAt = time.Now()
	return nil
}

// Lookup returns the handle of a Running session.
func (r *Registry) Lookup(id string) (engine.Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok || e.handle == nil {
		return nil, false
	}
	return e.handle, true
}

// Get returns a copy of the session stored under id.
func (r *Registry) Get(id string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return Session{}, false
	}
	return e.session, true
}

// Remove deletes id and hands its handle to the caller, who becomes
// responsible for shutting it down. The bool reports whether an entry
// existed; the handle is nil when the entry was still starting, in which
// case the pending start is cancelled. Removing an absent id is a no-op.
func (r *Registry) Remove(id string) (engine.Handle, bool) {
	_, h, ok := r.Take(id)
	return h, ok
}

// Take is Remove that also returns the last session copy.
func (r *Registry) Take(id string) (Session, engine.Handle, bool) {
	r.mu.Lock()
	e, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
	}
	r.mu.Unlock()

	if !ok {
		return Session{}, nil, false
	}
	if e.cancel != nil {
		e.cancel()
	}
	return e.session, e.handle, true
}

// Release removes id only if it is still the registration made with t.
func (r *Registry) Release(id string, t Ticket) (engine.Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok || e.ticket != t {
		return nil, false
	}
	delete(r.entries, id)
	return e.handle, true
}

// Snapshot returns copies of all sessions ordered by id.
func (r *Registry) Snapshot() []Session {
	r.mu.Lock()
	out := make([]Session, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.session)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IDs returns the ids of all entries.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
