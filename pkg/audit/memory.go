package audit

import (
	"context"
	"sync"
)

// MemoryLog is a bounded in-memory appender used when no database is
// configured. The oldest entries are dropped once the capacity is reached.
type MemoryLog struct {
	mu      sync.Mutex
	entries []Entry
	cap     int
}

func NewMemoryLog(capacity int) *MemoryLog {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemoryLog{cap: capacity}
}

func (m *MemoryLog) Append(ctx context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	if len(m.entries) > m.cap {
		m.entries = m.entries[len(m.entries)-m.cap:]
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (m *MemoryLog) Recent(ctx context.Context, limit int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 || limit > len(m.entries) {
		limit = len(m.entries)
	}
	out := make([]Entry, 0, limit)
	for i := len(m.entries) - 1; i >= len(m.entries)-limit; i-- {
		out = append(out, m.entries[i])
	}
	return out, nil
}
