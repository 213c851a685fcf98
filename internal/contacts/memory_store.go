package contacts

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory emergency contact store.
type MemoryStore struct {
	contacts map[string]*EmergencyContact
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory emergency contact store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		contacts: make(map[string]*EmergencyContact),
	}
}

func (m *MemoryStore) Create(_ context.Context, c *EmergencyContact) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *c
	m.contacts[c.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*EmergencyContact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.contacts[id]
	if !ok {
		return nil, ErrContactNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) List(_ context.Context) ([]*EmergencyContact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*EmergencyContact, 0, len(m.contacts))
	for _, c := range m.contacts {
		cp := *c
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].AddedAt.Equal(result[j].AddedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].AddedAt.Before(result[j].AddedAt)
	})
	return result, nil
}
