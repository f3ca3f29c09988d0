package errorqueue

import (
	"context"
	"sort"
	"sync"
)

// MemoryQueue keeps error entries in memory. Suitable for tests and
// single-process development setups.
type MemoryQueue struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{entries: make(map[string]*Entry)}
}

func (q *MemoryQueue) Push(_ context.Context, entry *Entry) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.entries[entry.ID] = entry

	return nil
}

func (q *MemoryQueue) List(_ context.Context) ([]*Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries := make([]*Entry, 0, len(q.entries))
	for _, entry := range q.entries {
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].OccurredAt.Before(entries[j].OccurredAt)
	})

	return entries, nil
}

func (q *MemoryQueue) Remove(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.entries, id)

	return nil
}

func (q *MemoryQueue) Close() error {
	return nil
}
