package ledger

import (
	"context"
	"sync"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is a process-local Store guarded by a mutex.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]Counter
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counters: make(map[string]Counter)}
}

// Load returns the counter of a sale.
func (s *MemoryStore) Load(_ context.Context, saleID string) (Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[saleID]
	if !ok {
		return Counter{}, ErrUnknownSale
	}
	return c, nil
}

// CompareAndSwap sets the sold value if it still equals expectedSold. A swap
// that would break 0 <= sold <= total is refused.
func (s *MemoryStore) CompareAndSwap(_ context.Context, saleID string, expectedSold, newSold int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[saleID]
	if !ok {
		return false, ErrUnknownSale
	}
	if c.Sold != expectedSold {
		return false, nil
	}
	if newSold < 0 || newSold > c.Total {
		return false, ErrCorrupted
	}
	c.Sold = newSold
	s.counters[saleID] = c
	return true, nil
}

// Init stores c as the counter of a sale.
func (s *MemoryStore) Init(_ context.Context, saleID string, c Counter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counters[saleID] = c
	return nil
}

// Create stores c unless the sale already has a counter.
func (s *MemoryStore) Create(_ context.Context, saleID string, c Counter) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.counters[saleID]; ok {
		return false, nil
	}
	s.counters[saleID] = c
	return true, nil
}

// Remove deletes the counter of a sale with nothing sold.
func (s *MemoryStore) Remove(_ context.Context, saleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.counters[saleID]; ok && c.Sold != 0 {
		return ErrInUse
	}
	delete(s.counters, saleID)
	return nil
}
