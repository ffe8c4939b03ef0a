// Package history records the execution log of steps and tasks so the engine
// can report statistics over a time window.
package history

import (
	"context"
	"sort"
	"sync"
	"time"
)

// StepRecord is one dispatched step, healed or not.
type StepRecord struct {
	ID         int64
	TaskID     string
	PlanID     string
	StepNumber int
	Operation  string
	Success    bool
	Error      string
	HealedWith string
	Duration   time.Duration
	RecordedAt time.Time
}

// TaskRecord is the final outcome of a task.
type TaskRecord struct {
	ID         int64
	TaskID     string
	Goal       string
	Status     string
	Success    bool
	RetryCount int
	Duration   time.Duration
	FinishedAt time.Time
}

// StepStats aggregates step records recorded at or after Since.
type StepStats struct {
	Since        time.Time
	Succeeded    int
	Failed       int
	Healed       int
	MeanDuration time.Duration
}

// Total returns the number of steps counted.
func (s StepStats) Total() int {
	return s.Succeeded + s.Failed
}

// Store persists execution history.
type Store interface {
	RecordStep(ctx context.Context, rec *StepRecord) error
	RecordTask(ctx context.Context, rec *TaskRecord) error
	StepStats(ctx context.Context, since time.Time) (StepStats, error)
	RecentTasks(ctx context.Context, limit int) ([]TaskRecord, error)
	Cleanup(ctx context.Context, before time.Time) (int64, error)
	Close() error
}

// DefaultMemoryCapacity bounds each log of a MemoryStore.
const DefaultMemoryCapacity = 10000

// MemoryStore keeps history in process memory. Oldest records are dropped
// once the capacity is reached.
type MemoryStore struct {
	mu       sync.Mutex
	capacity int
	nextID   int64
	steps    []StepRecord
	tasks    []TaskRecord
}

// NewMemoryStore creates an in-memory store. A capacity <= 0 uses DefaultMemoryCapacity.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemoryStore{capacity: capacity}
}

// RecordStep appends a step record.
func (m *MemoryStore) RecordStep(_ context.Context, rec *StepRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	rec.ID = m.nextID
	m.steps = append(m.steps, *rec)
	if len(m.steps) > m.capacity {
		m.steps = m.steps[len(m.steps)-m.capacity:]
	}
	return nil
}

// RecordTask appends a task record.
func (m *MemoryStore) RecordTask(_ context.Context, rec *TaskRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	rec.ID = m.nextID
	m.tasks = append(m.tasks, *rec)
	if len(m.tasks) > m.capacity {
		m.tasks = m.tasks[len(m.tasks)-m.capacity:]
	}
	return nil
}

// StepStats aggregates steps recorded at or after since.
func (m *MemoryStore) StepStats(_ context.Context, since time.Time) (StepStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := StepStats{Since: since}
	var total time.Duration
	for _, rec := range m.steps {
		if rec.RecordedAt.Before(since) {
			continue
		}
		if rec.Success {
			stats.Succeeded++
		} else {
			stats.Failed++
		}
		if rec.HealedWith != "" {
			stats.Healed++
		}
		total += rec.Duration
	}
	if n := stats.Total(); n > 0 {
		stats.MeanDuration = total / time.Duration(n)
	}
	return stats, nil
}

// RecentTasks returns up to limit task records, newest first.
func (m *MemoryStore) RecentTasks(_ context.Context, limit int) ([]TaskRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := append([]TaskRecord{}, m.tasks...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].FinishedAt.After(out[j].FinishedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Cleanup drops records older than before and returns how many were removed.
func (m *MemoryStore) Cleanup(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	steps := m.steps[:0]
	for _, rec := range m.steps {
		if rec.RecordedAt.Before(before) {
			removed++
			continue
		}
		steps = append(steps, rec)
	}
	m.steps = steps

	tasks := m.tasks[:0]
	for _, rec := range m.tasks {
		if rec.FinishedAt.Before(before) {
			removed++
			continue
		}
		tasks = append(tasks, rec)
	}
	m.tasks = tasks

	return removed, nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}
