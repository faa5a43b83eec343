package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/truefoundry/capacity-scheduler/pkg/schedule"
)

// Memory is a process local Store, used for development and tests
type Memory struct {
	mu      sync.RWMutex
	records map[string]schedule.Record
	now     func() time.Time
}

// NewMemory returns a Memory store seeded with records
func NewMemory(records ...schedule.Record) *Memory {
	m := &Memory{
		records: make(map[string]schedule.Record),
		now:     time.Now,
	}
	for _, r := range records {
		r = Prepare(r)
		if r.Version == 0 {
			r.Version = 1
		}
		m.records[r.ID] = r
	}
	return m
}

func (m *Memory) ListActive(_ context.Context) ([]schedule.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]schedule.Record, 0, len(m.records))
	for _, r := range m.records {
		if !r.Disabled {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) Get(_ context.Context, id string) (schedule.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.records[id]
	if !ok {
		return schedule.Record{}, fmt.Errorf("Get - %s: %w", id, ErrNotFound)
	}
	return r, nil
}

func (m *Memory) Put(_ context.Context, record schedule.Record) (schedule.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record = Prepare(record)
	return m.write(record, m.records[record.ID].Version), nil
}

func (m *Memory) CompareAndPut(_ context.Context, record schedule.Record, expectedVersion int64) (schedule.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record = Prepare(record)
	current := m.records[record.ID].Version
	if current != expectedVersion {
		return schedule.Record{}, fmt.Errorf("CompareAndPut - %s at version %d, expected %d: %w", record.ID, current, expectedVersion, ErrConflict)
	}
	return m.write(record, current), nil
}

func (m *Memory) write(record schedule.Record, current int64) schedule.Record {
	record.Version = current + 1
	record.UpdatedAt = m.now().UTC()
	m.records[record.ID] = record
	return record
}
