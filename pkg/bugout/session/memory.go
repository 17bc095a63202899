package session

import (
	"context"
	"sync"
	"time"

	"github.com/tsarna/bugout/pkg/bugout/model"
)

type memoryEntry struct {
	session Session
	expires time.Time
}

// MemoryStore keeps sessions in process. Expired sessions are rejected on
// lookup and removed by Sweep.
type MemoryStore struct {
	mu       sync.RWMutex
	ttl      time.Duration
	sessions map[model.SessionId]memoryEntry
	now      func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a store whose sessions live for ttl. Zero means
// sessions never expire.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:      ttl,
		sessions: make(map[model.SessionId]memoryEntry),
		now:      time.Now,
	}
}

func (m *MemoryStore) Issue(ctx context.Context, clientId model.ClientId) (Session, error) {
	now := m.now()
	s := Session{Id: newId(), ClientId: clientId, IssuedAt: now}

	entry := memoryEntry{session: s}
	if m.ttl > 0 {
		entry.expires = now.Add(m.ttl)
	}

	m.mu.Lock()
	m.sessions[s.Id] = entry
	m.mu.Unlock()
	return s, nil
}

func (m *MemoryStore) Validate(ctx context.Context, id model.SessionId) (Session, error) {
	m.mu.RLock()
	entry, ok := m.sessions[id]
	m.mu.RUnlock()

	if !ok || entry.expired(m.now()) {
		return Session{}, unknown(id)
	}
	return entry.session, nil
}

func (m *MemoryStore) Revoke(ctx context.Context, id model.SessionId) error {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, entry := range m.sessions {
		if entry.expired(now) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expires.IsZero() && !now.Before(e.expires)
}
