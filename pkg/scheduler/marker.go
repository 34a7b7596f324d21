package scheduler

import (
	"context"
	"sync"
)

// DayMarker records which calendar days have already triggered billing.
// Claim returns true only for the first claim of a given day.
type DayMarker interface {
	Claim(ctx context.Context, day string) (bool, error)
}

// MemoryDayMarker is a process-local DayMarker
type MemoryDayMarker struct {
	mu   sync.Mutex
	last string
}

// NewMemoryDayMarker creates a MemoryDayMarker
func NewMemoryDayMarker() *MemoryDayMarker {
	return &MemoryDayMarker{}
}

// Claim marks day as triggered. Days are claimed in increasing order, so only
// the most recent one needs remembering.
func (m *MemoryDayMarker) Claim(ctx context.Context, day string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == day {
		return false, nil
	}
	m.last = day
	return true, nil
}
