package guardians

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory guardian store for demo/development mode.
type MemoryStore struct {
	guardians map[string]*Guardian
	mu        sync.RWMutex
}

// NewMemoryStore creates a new in-memory guardian store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		guardians: make(map[string]*Guardian),
	}
}

func (m *MemoryStore) Create(_ context.Context, g *Guardian) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.guardians[g.Identity]; ok {
		return ErrDuplicateGuardian
	}
	cp := *g
	m.guardians[g.Identity] = &cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, identity string) (*Guardian, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	g, ok := m.guardians[identity]
	if !ok {
		return nil, ErrGuardianNotFound
	}
	cp := *g
	return &cp, nil
}

func (m *MemoryStore) Update(_ context.Context, g *Guardian) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.guardians[g.Identity]; !ok {
		return ErrGuardianNotFound
	}
	cp := *g
	m.guardians[g.Identity] = &cp
	return nil
}

func (m *MemoryStore) List(_ context.Context) ([]*Guardian, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Guardian, 0, len(m.guardians))
	for _, g := range m.guardians {
		cp := *g
		result = append(result, &cp)
	}
	// Stable order for callers and tests.
	sort.Slice(result, func(i, j int) bool {
		if result[i].AddedAt.Equal(result[j].AddedAt) {
			return result[i].Identity < result[j].Identity
		}
		return result[i].AddedAt.Before(result[j].AddedAt)
	})
	return result, nil
}
