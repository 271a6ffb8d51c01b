package catalog

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemStore is an in-memory Store, safe for concurrent use. It backs unit
// tests; the production binary uses SQLStore.
type MemStore struct {
	mu   sync.RWMutex
	byID map[string]Connection
}

// NewMemStore returns an empty in-memory catalog.
func NewMemStore() *MemStore {
	return &MemStore{byID: make(map[string]Connection)}
}

func (m *MemStore) GetBySubdomain(ctx context.Context, subdomain string) (Connection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.byID {
		if c.Subdomain == subdomain {
			return c, nil
		}
	}
	return Connection{}, ErrNotFound
}

func (m *MemStore) Get(ctx context.Context, id string) (Connection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.byID[id]
	if !ok {
		return Connection{}, ErrNotFound
	}
	return c, nil
}

func (m *MemStore) Insert(ctx context.Context, c Connection) (Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.byID {
		if existing.Subdomain == c.Subdomain {
			return Connection{}, ErrDuplicateSubdomain
		}
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	m.byID[c.ID] = c
	return c, nil
}

func (m *MemStore) Save(ctx context.Context, c Connection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[c.ID]; !ok {
		return ErrNotFound
	}
	m.byID[c.ID] = c
	return nil
}

func (m *MemStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[id]; !ok {
		return ErrNotFound
	}
	delete(m.byID, id)
	return nil
}

func (m *MemStore) GetAll(ctx context.Context) ([]Connection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Connection, 0, len(m.byID))
	for _, c := range m.byID {
		out = append(out, c)
	}
	return out, nil
}
