package store

import (
	"context"
	"sync"

	"morphfeatures/internal/models"
)

// Memory is an in-process Store.
type Memory struct {
	mu     sync.RWMutex
	byID   map[int64]models.SpecimenRecord
	byName map[string]models.SpecimenRecord
}

// NewMemory returns a Memory store seeded with records.
func NewMemory(records ...models.SpecimenRecord) *Memory {
	m := &Memory{
		byID:   make(map[int64]models.SpecimenRecord),
		byName: make(map[string]models.SpecimenRecord),
	}
	for _, r := range records {
		m.Put(r)
	}
	return m
}

// Put adds or replaces a record.
func (m *Memory) Put(r models.SpecimenRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[r.ID] = r
	m.byName[r.Name] = r
}

func (m *Memory) LookupByID(_ context.Context, id int64) (models.SpecimenRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.byID[id]; ok {
		return r, nil
	}
	return models.SpecimenRecord{}, ErrNotFound
}

func (m *Memory) LookupByName(_ context.Context, name string) (models.SpecimenRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.byName[name]; ok {
		return r, nil
	}
	return models.SpecimenRecord{}, ErrNotFound
}

func (m *Memory) Close() error { return nil }

func (m *Memory) Driver() Driver { return DriverMemory }
