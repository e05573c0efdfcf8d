package cart

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
)

// ErrSessionNotFound is returned by Store.Load for unknown or expired ids.
var ErrSessionNotFound = errors.New("session not found")

// Store persists sessions.
type Store interface {
	Load(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
}

// ItemAdder is anything that can take a program into a cart.
type ItemAdder interface {
	Add(item Item)
}

var _ ItemAdder = (*Session)(nil)

// Manager loads a session, lets the caller mutate it and saves it back.
// Calls for the same id within one process are serialized.
type Manager struct {
	store Store
	now   func() time.Time

	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewManager creates a Manager over store.
func NewManager(store Store) *Manager {
	return &Manager{
		store: store,
		now:   time.Now,
		locks: make(map[string]*keyLock),
	}
}

// Get returns the session for id, or a fresh empty one.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	s, err := m.store.Load(ctx, id)
	switch {
	case err == nil:
		return s, nil
	case errors.Is(err, ErrSessionNotFound):
		return New(id), nil
	default:
		return nil, errors.Wrap(err, "load session")
	}
}

// Do loads the session for id, runs fn and saves the result. The session is
// saved even when fn fails, since fn may have recorded state such as a
// coupon error. fn's error is returned.
func (m *Manager) Do(ctx context.Context, id string, fn func(s *Session) error) (*Session, error) {
	unlock := m.lock(id)
	defer unlock()

	s, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	fnErr := fn(s)

	s.UpdatedAt = m.now()
	if err := m.store.Save(ctx, s); err != nil {
		return nil, errors.Wrap(err, "save session")
	}
	return s, fnErr
}

// Delete drops the session.
func (m *Manager) Delete(ctx context.Context, id string) error {
	unlock := m.lock(id)
	defer unlock()

	if err := m.store.Delete(ctx, id); err != nil {
		return errors.Wrap(err, "delete session")
	}
	return nil
}

func (m *Manager) lock(id string) func() {
	m.mu.Lock()
	l, ok := m.locks[id]
	if !ok {
		l = &keyLock{}
		m.locks[id] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, id)
		}
		m.mu.Unlock()
	}
}
