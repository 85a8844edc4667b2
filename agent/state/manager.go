package state

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Manager serializes all access to a single session while letting distinct
// sessions proceed in parallel. Every read-modify-write goes through Mutate,
// which holds the session's lock across load, mutation, and save, so two
// concurrent turns on the same session can never interleave their writes or
// mint duplicate turn sequence numbers.
type Manager struct {
	store Store
	now   func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

type ManagerOption func(*Manager)

// WithClock overrides the timestamp source. Tests use it to pin time.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func NewManager(store Store, opts ...ManagerOption) (*Manager, error) {
	if store == nil {
		return nil, errors.New("session store is required")
	}
	m := &Manager{
		store: store,
		now:   time.Now,
		locks: make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Mutate runs fn against the session under its lock and persists the result.
// The session is created on first use; a Load miss is never an error. If fn
// returns an error nothing is saved and the error is returned unwrapped so
// callers can match sentinels with errors.Is.
func (m *Manager) Mutate(ctx context.Context, sessionID string, fn func(sess *Session) error) (*Session, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, ErrInvalidSession
	}
	if fn == nil {
		return nil, errors.New("mutate fn is required")
	}

	lock := m.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := m.loadOrCreate(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := fn(sess); err != nil {
		return nil, err
	}
	if err := sess.Validate(); err != nil {
		return nil, fmt.Errorf("session %q after mutation: %w", sessionID, err)
	}
	sess.Touch(m.now())
	if err := m.store.Save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Load returns the stored session, or a fresh blank one when none exists.
// The blank session is not persisted until the first Mutate.
func (m *Manager) Load(ctx context.Context, sessionID string) (*Session, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, ErrInvalidSession
	}

	lock := m.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	return m.loadOrCreate(ctx, sessionID)
}

// Append records a single turn under the session lock.
func (m *Manager) Append(ctx context.Context, sessionID string, role Role, content string, rec *ToolRecord) (Turn, error) {
	var appended Turn
	_, err := m.Mutate(ctx, sessionID, func(sess *Session) error {
		appended = sess.AppendTurn(role, content, rec, m.now())
		return nil
	})
	if err != nil {
		return Turn{}, err
	}
	return appended, nil
}

func (m *Manager) loadOrCreate(ctx context.Context, sessionID string) (*Session, error) {
	sess, err := m.store.Load(ctx, sessionID)
	switch {
	case err == nil:
		return sess, nil
	case errors.Is(err, ErrSessionNotFound):
		return NewSession(sessionID, m.now()), nil
	default:
		return nil, err
	}
}

// lockFor returns the mutex owned by sessionID, creating it on first use.
// Locks are never evicted; the map is bounded by the number of distinct
// sessions a process touches.
func (m *Manager) lockFor(sessionID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[sessionID] = lock
	}
	return lock
}
