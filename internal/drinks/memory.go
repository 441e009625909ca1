package drinks

import (
	"context"
	"slices"
	"sync"
)

// MemoryStore is an in-process Store used when no database is configured.
type MemoryStore struct {
	mu     sync.RWMutex
	nextID int64
	byID   map[int64]Drink
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextID: 1, byID: map[int64]Drink{}}
}

func (m *MemoryStore) List(_ context.Context) ([]Drink, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Drink, 0, len(m.byID))
	for _, d := range m.byID {
		out = append(out, d.clone())
	}
	slices.SortFunc(out, func(a, b Drink) int { return int(a.ID - b.ID) })
	return out, nil
}

func (m *MemoryStore) Get(_ context.Context, id int64) (Drink, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.byID[id]
	if !ok {
		return Drink{}, ErrNotFound
	}
	return d.clone(), nil
}

func (m *MemoryStore) Create(_ context.Context, d Drink) (Drink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.titleTaken(d.Title, 0) {
		return Drink{}, ErrDuplicateTitle
	}
	d = d.clone()
	d.ID = m.nextID
	m.nextID++
	m.byID[d.ID] = d
	return d, nil
}

func (m *MemoryStore) Update(_ context.Context, d Drink) (Drink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[d.ID]; !ok {
		return Drink{}, ErrNotFound
	}
	if m.titleTaken(d.Title, d.ID) {
		return Drink{}, ErrDuplicateTitle
	}
	d = d.clone()
	m.byID[d.ID] = d
	return d, nil
}

func (m *MemoryStore) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[id]; !ok {
		return ErrNotFound
	}
	delete(m.byID, id)
	return nil
}

func (m *MemoryStore) titleTaken(title string, except int64) bool {
	for id, d := range m.byID {
		if id != except && d.Title == title {
			return true
		}
	}
	return false
}

func (d Drink) clone() Drink {
	d.Recipe = append(Recipe(nil), d.Recipe...)
	return d
}
