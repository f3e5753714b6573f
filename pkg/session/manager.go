package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/guardrail/internal/logging"
	"github.com/aretw0/guardrail/pkg/codec"
	"github.com/aretw0/guardrail/pkg/domain"
	"github.com/aretw0/guardrail/pkg/ports"
)

// DefaultLockTTL bounds how long a distributed session lock may be held.
const DefaultLockTTL = 30 * time.Second

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Manager runs turns against persisted sessions. Every operation on a
// session is serialized, in-process with a ref-counted mutex and across
// replicas with an optional DistributedLocker.
type Manager struct {
	engine ports.Engine
	store  ports.StateStore

	mu    sync.Mutex            // guards locks
	locks map[string]*lockEntry // active per-session locks

	locker     ports.DistributedLocker
	lockTTL    time.Duration
	transcript ports.TranscriptSink
	clock      domain.Clock
	logger     *slog.Logger
	observers  []Observer
}

// Observer is notified after every persisted turn. before is nil when the
// turn started the session.
type Observer func(ctx context.Context, before, after *domain.State, out []domain.Event)

// Option configures the Manager.
type Option func(*Manager)

// WithLocker enables distributed locking.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(m *Manager) {
		m.locker = locker
	}
}

// WithLockTTL overrides DefaultLockTTL.
func WithLockTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.lockTTL = ttl
		}
	}
}

// WithTranscript records every turn to sink.
func WithTranscript(sink ports.TranscriptSink) Option {
	return func(m *Manager) {
		m.transcript = sink
	}
}

// WithClock sets the time source stamped on transcript entries.
func WithClock(c domain.Clock) Option {
	return func(m *Manager) {
		m.clock = c
	}
}

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithObserver registers o to be called after each Start and Advance.
// Observers run while the session lock is held and must not call back
// into the Manager for the same session.
func WithObserver(o Observer) Option {
	return func(m *Manager) {
		m.observers = append(m.observers, o)
	}
}

// NewManager creates a Session Manager running engine against store.
func NewManager(engine ports.Engine, store ports.StateStore, opts ...Option) *Manager {
	m := &Manager{
		engine:  engine,
		store:   store,
		locks:   make(map[string]*lockEntry),
		lockTTL: DefaultLockTTL,
		clock:   time.Now,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// acquire gets or creates a lock entry and increments its reference count.
// The caller MUST Lock the entry.mu, and then call release(sessionID) after unlocking.
func (m *Manager) acquire(sessionID string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[sessionID]
	if !exists {
		entry = &lockEntry{}
		m.locks[sessionID] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry if it reaches zero.
func (m *Manager) release(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[sessionID]
	if !exists {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, sessionID)
	}
}

// Advance runs one turn for a session, starting it first if it does not
// exist yet. The returned events include those produced by the start.
func (m *Manager) Advance(ctx context.Context, sessionID string, events []domain.Event) (*domain.State, []domain.Event, error) {
	var (
		state *domain.State
		out   []domain.Event
	)
	err := m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		current, started, fresh, err := m.loadOrStart(ctx, sessionID)
		if err != nil {
			return err
		}
		next, produced, err := m.engine.Advance(ctx, current, events)
		if err != nil {
			return err
		}
		out = append(started, produced...)
		if err := m.persist(ctx, next, events, out); err != nil {
			return err
		}
		if fresh {
			current = nil
		}
		m.notify(ctx, current, next, out)
		state = next
		return nil
	})
	return state, out, err
}

// Start creates a session, failing if it already exists.
func (m *Manager) Start(ctx context.Context, sessionID string) (*domain.State, []domain.Event, error) {
	var (
		state *domain.State
		out   []domain.Event
	)
	err := m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		if _, err := m.store.Load(ctx, sessionID); err == nil {
			return fmt.Errorf("session %q already exists", sessionID)
		} else if !errors.Is(err, domain.ErrSessionNotFound) {
			return err
		}
		var err error
		state, out, err = m.engine.Start(ctx, sessionID)
		if err != nil {
			return err
		}
		if err := m.persist(ctx, state, nil, out); err != nil {
			return err
		}
		m.notify(ctx, nil, state, out)
		return nil
	})
	return state, out, err
}

// Reset discards a session, including one whose state no longer decodes,
// and starts it again.
func (m *Manager) Reset(ctx context.Context, sessionID string) (*domain.State, []domain.Event, error) {
	if err := m.Delete(ctx, sessionID); err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
		return nil, nil, err
	}
	return m.Start(ctx, sessionID)
}

func (m *Manager) loadOrStart(ctx context.Context, sessionID string) (*domain.State, []domain.Event, bool, error) {
	state, err := m.load(ctx, sessionID)
	if err == nil {
		return state, nil, false, nil
	}
	if !errors.Is(err, domain.ErrSessionNotFound) {
		return nil, nil, false, err
	}
	m.logger.Debug("starting session", "session_id", sessionID)
	state, out, err := m.engine.Start(ctx, sessionID)
	return state, out, true, err
}

func (m *Manager) load(ctx context.Context, sessionID string) (*domain.State, error) {
	data, err := m.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	state, err := codec.Decode(m.engine.Program(), data)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, err)
	}
	return state, nil
}

func (m *Manager) persist(ctx context.Context, state *domain.State, in, out []domain.Event) error {
	data, err := codec.Encode(m.engine.Program(), state)
	if err != nil {
		return err
	}
	if err := m.store.Save(ctx, state.SessionID, data); err != nil {
		return fmt.Errorf("save session %s: %w", state.SessionID, err)
	}
	if m.transcript == nil {
		return nil
	}
	turn := domain.Turn{
		SessionID: state.SessionID,
		Seq:       state.Turn,
		At:        m.clock(),
		Inbound:   in,
		State:     data,
		Outbound:  out,
	}
	// The state is already saved; a transcript failure must not fail the turn.
	if err := m.transcript.Append(ctx, turn); err != nil {
		m.logger.Warn("failed to append transcript", "session_id", state.SessionID, "err", err)
	}
	return nil
}

func (m *Manager) notify(ctx context.Context, before, after *domain.State, out []domain.Event) {
	for _, o := range m.observers {
		o(ctx, before, after, out)
	}
}

// Load retrieves and decodes an existing session.
func (m *Manager) Load(ctx context.Context, sessionID string) (*domain.State, error) {
	var state *domain.State
	err := m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		var err error
		state, err = m.load(ctx, sessionID)
		return err
	})
	return state, err
}

// Delete removes the session from the store.
func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	return m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		return m.store.Delete(ctx, sessionID)
	})
}

// List delegates to the store.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	return m.store.List(ctx)
}

// Store returns the underlying state store.
func (m *Manager) Store() ports.StateStore {
	return m.store
}

// Engine returns the engine the manager runs turns with.
func (m *Manager) Engine() ports.Engine {
	return m.engine
}

// WithLock executes a function while holding the lock for the session.
func (m *Manager) WithLock(ctx context.Context, sessionID string, fn func(context.Context) error) error {
	entry := m.acquire(sessionID)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		m.release(sessionID)
	}()

	if m.locker != nil {
		unlock, err := m.locker.Lock(ctx, sessionID, m.lockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire distributed lock: %w", err)
		}
		defer func() {
			if err := unlock(ctx); err != nil {
				m.logger.Warn("Failed to release distributed lock (will expire via TTL)",
					"session_id", sessionID,
					"err", err,
				)
			}
		}()
	}

	return fn(ctx)
}
