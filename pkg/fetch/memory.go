package fetch

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryProvider serves payloads from an in-memory map keyed by day. It backs
// unit tests and dry runs that should not touch a real object store.
type MemoryProvider struct {
	mu       sync.RWMutex
	payloads map[string][]byte
}

// NewMemoryProvider returns an empty in-memory provider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{payloads: make(map[string][]byte)}
}

// Put stores the payload served for the given day.
func (m *MemoryProvider) Put(day time.Time, payload []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payloads[dayKey(day)] = payload
}

// FetchDay returns the stored payload or ErrNotFound.
func (m *MemoryProvider) FetchDay(_ context.Context, ticker string, day time.Time) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	payload, ok := m.payloads[dayKey(day)]
	if !ok {
		return nil, fmt.Errorf("fetch %s %s: %w", ticker, dayKey(day), ErrNotFound)
	}
	return payload, nil
}

func dayKey(day time.Time) string {
	return day.UTC().Format("2006-01-02")
}
