package lifecycle

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/pkg/errors"

	"holedeck/internal/engine"
	"holedeck/internal/logger"
	"holedeck/internal/registry"
)

// SessionInfo is returned by a successful Start.
type SessionInfo struct {
	ID      string      `json:"id"`
	Mode    engine.Mode `json:"mode"`
	URL     string      `json:"url,omitempty"`
	Key     string      `json:"key,omitempty"`
	Address string      `json:"address,omitempty"`
	Host    string      `json:"host"`
	Port    int         `json:"port"`
	Secure  bool        `json:"secure"`
}

func sessionInfo(s registry.Session) SessionInfo {
	return SessionInfo{
		ID:      s.ID,
		Mode:    s.Mode,
		URL:     s.Info.URL,
		Key:     s.Info.Key,
		Address: s.Info.Address,
		Host:    s.Contract.Host,
		Port:    s.Contract.Port,
		Secure:  s.Contract.Secure || s.Info.Secure,
	}
}

// StopOutcome tells a caller what Stop found.
type StopOutcome int

const (
	// NotFound means nothing was registered under the id.
	NotFound StopOutcome = iota
	// Stopped means the session was removed and its engine torn down.
	Stopped
)

func (o StopOutcome) String() string {
	if o == Stopped {
		return "stopped"
	}
	return "not_found"
}

// Option configures a Manager.
type Option func(*Manager)

// WithReadyTimeout bounds how long Start waits for an engine. Zero waits
// for as long as the caller's context allows.
func WithReadyTimeout(d time.Duration) Option {
	return func(m *Manager) { m.readyTimeout = d }
}

// WithShutdownTimeout bounds each engine shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(m *Manager) { m.shutdownTimeout = d }
}

// WithJournal records every transition and absorbed fault.
func WithJournal(j *logger.Journal) Option {
	return func(m *Manager) { m.journal = j }
}

// WithRegistry shares an existing registry.
func WithRegistry(r *registry.Registry) Option {
	return func(m *Manager) { m.registry = r }
}

// Manager drives sessions through start and stop.
type Manager struct {
	registry        *registry.Registry
	factory         engine.Factory
	journal         *logger.Journal
	readyTimeout    time.Duration
	shutdownTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	// mu orders registration of new starts against Close. wg counts
	// in-flight starts and fault watchers.
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewManager creates a Manager that builds engines with factory.
func NewManager(factory engine.Factory, opts ...Option) *Manager {
	m := &Manager{
		factory: factory,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = registry.New()
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	return m
}

// Start registers id, builds its engine and waits for readiness.
func (m *Manager) Start(ctx context.Context, id string, mode engine.Mode, raw RawConfig) (*SessionInfo, error) {
	if id == "" {
		return nil, invalidf("session id is required")
	}

	startCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	ticket, err := m.registry.Register(id, mode, cancel)
	if err == nil {
		m.wg.Add(1)
	}
	m.mu.Unlock()
	if err != nil {
		if errors.Is(err, registry.ErrAlreadyExists) {
			return nil, ErrDuplicateSession
		}
		return nil, err
	}
	defer m.wg.Done()

	contract, err := Normalize(mode, raw)
	if err != nil {
		m.registry.Release(id, ticket)
		m.transition(id, mode, registry.StateUninitialized, registry.StateFailed, err)
		return nil, err
	}

	if err := m.registry.MarkStarting(id, ticket, contract); err != nil {
		// Stop took the placeholder and journaled its terminal transition.
		log.Printf("⚠️  Session %s stopped before starting", id)
		m.journal.LogEvent(id, "stopped before starting")
		return nil, ErrStoppedWhileStarting
	}
	m.transition(id, mode, registry.StateUninitialized, registry.StateStarting, nil)

	h, err := m.factory(contract)
	if err != nil {
		return nil, m.abort(ctx, id, mode, ticket, nil, err)
	}

	info, err := m.await(startCtx, h)
	if err != nil {
		return nil, m.abort(ctx, id, mode, ticket, h, err)
	}

	if err := m.registry.Attach(id, ticket, h, info); err != nil {
		log.Printf("⚠️  Session %s stopped while starting, tearing down", id)
		m.shutdown(context.WithoutCancel(ctx), id, mode, h)
		return nil, ErrStoppedWhileStarting
	}
	m.transition(id, mode, registry.StateStarting, registry.StateRunning, nil)

	if fn, ok := h.(engine.FaultNotifier); ok {
		if faults := fn.Faults(); faults != nil {
			m.wg.Add(1)
			go m.watch(id, mode, ticket, h, faults)
		}
	}

	s, _ := m.registry.Get(id)
	out := sessionInfo(s)
	return &out, nil
}

func (m *Manager) await(ctx context.Context, h engine.Handle) (engine.Info, error) {
	if m.readyTimeout <= 0 {
		return h.Ready(ctx)
	}

	readyCtx, cancel := context.WithTimeout(ctx, m.readyTimeout)
	defer cancel()

	info, err := h.Ready(readyCtx)
	if err != nil && ctx.Err() == nil && errors.Is(readyCtx.Err(), context.DeadlineExceeded) {
		return info, errors.Errorf("engine not ready after %s", m.readyTimeout)
	}
	return info, err
}

// abort frees the slot after a failed start. The id is released only if it
// still belongs to this start; otherwise Stop already took it.
func (m *Manager) abort(ctx context.Context, id string, mode engine.Mode, t registry.Ticket, h engine.Handle, cause error) error {
	_, owned := m.registry.Release(id, t)
	if h != nil {
		m.shutdown(context.WithoutCancel(ctx), id, mode, h)
	}
	if !owned {
		return ErrStoppedWhileStarting
	}

	log.Printf("❌ Session %s failed to start: %v", id, cause)
	m.transition(id, mode, registry.StateStarting, registry.StateFailed, cause)
	return &EngineStartError{Err: cause}
}

// Stop removes id and shuts its engine down. Shutdown errors are journaled
// and never change the outcome.
func (m *Manager) Stop(ctx context.Context, id string) StopOutcome {
	s, h, ok := m.registry.Take(id)
	if !ok {
		return NotFound
	}

	m.transition(id, s.Mode, s.State, registry.StateStopping, nil)
	if h != nil {
		m.shutdown(ctx, id, s.Mode, h)
	}
	m.transition(id, s.Mode, registry.StateStopping, registry.StateStopped, nil)

	log.Printf("🛑 Session %s stopped", id)
	return Stopped
}

func (m *Manager) shutdown(ctx context.Context, id string, mode engine.Mode, h engine.Handle) {
	if m.shutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.shutdownTimeout)
		defer cancel()
	}

	if err := h.Shutdown(ctx); err != nil {
		log.Printf("⚠️  Session %s shutdown fault: %v", id, err)
		m.journal.LogFault(id, string(mode), err, "shutdown fault")
	}
}

// watch fails a running session when its engine reports a fault.
func (m *Manager) watch(id string, mode engine.Mode, t registry.Ticket, h engine.Handle, faults <-chan error) {
	defer m.wg.Done()

	var fault error
	select {
	case err, ok := <-faults:
		if !ok || err == nil {
			return
		}
		fault = err
	case <-m.ctx.Done():
		return
	}

	if _, owned := m.registry.Release(id, t); !owned {
		return
	}

	log.Printf("❌ Session %s failed: %v", id, fault)
	m.transition(id, mode, registry.StateRunning, registry.StateFailed, fault)
	m.shutdown(context.Background(), id, mode, h)
}

func (m *Manager) transition(id string, mode engine.Mode, from, to registry.State, err error) {
	m.journal.LogTransition(id, string(mode), from.String(), to.String(), err)
}

// Sessions returns every registered session, including ones still starting.
func (m *Manager) Sessions() []registry.Session {
	return m.registry.Snapshot()
}

// Lookup returns the info of a running session.
func (m *Manager) Lookup(id string) (SessionInfo, bool) {
	s, ok := m.registry.Get(id)
	if !ok || s.State != registry.StateRunning {
		return SessionInfo{}, false
	}
	return sessionInfo(s), true
}

// Close rejects further starts, stops every session, and waits for starts
// still in flight to resolve.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	for _, id := range m.registry.IDs() {
		m.Stop(ctx, id)
	}

	m.cancel()
	m.wg.Wait()
	return nil
}
