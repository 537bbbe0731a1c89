package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps sessions in process memory.
// Sessions are lost on restart and are not shared between instances.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration
	now      func() time.Time
}

// NewMemoryStore creates an empty store whose sessions live for ttl after last use.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Create implements Store.
func (m *MemoryStore) Create(_ context.Context, operatorID string) (*Session, error) {
	id, err := NewID()
	if err != nil {
		return nil, err
	}

	now := m.now()
	s := &Session{
		ID:         id,
		OperatorID: operatorID,
		CreatedAt:  now,
		ExpiresAt:  now.Add(m.ttl),
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	cp := *s
	return &cp, nil
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()

	if !ok || s.Expired(m.now()) {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

// Touch implements Store.
func (m *MemoryStore) Touch(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	now := m.now()
	if !ok || s.Expired(now) {
		return ErrNotFound
	}
	s.ExpiresAt = now.Add(m.ttl)
	return nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	return nil
}

// Len returns the number of stored sessions, expired ones included until swept.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep removes expired sessions and returns how many were dropped.
func (m *MemoryStore) Sweep() int {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, s := range m.sessions {
		if s.Expired(now) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

// Run sweeps expired sessions every interval until ctx is cancelled.
func (m *MemoryStore) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}
