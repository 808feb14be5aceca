package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a process-local sliding-window counter. Suitable for
// single-instance deployments; multi-instance deployments need the
// Redis store so all instances see the same counts.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string][]time.Time
	stopCh  chan struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string][]time.Time),
		stopCh:  make(chan struct{}),
	}
}

// StartSweeper evicts stale keys on an interval until Stop is called.
// retention should be at least the longest tier window in use.
func (s *MemoryStore) StartSweeper(interval, retention time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.sweep(retention)
			case <-s.stopCh:
				return
			}
		}
	}()
}

func (s *MemoryStore) Stop() {
	close(s.stopCh)
}

func (s *MemoryStore) Increment(_ context.Context, key string, window time.Duration) (int64, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := pruneBefore(s.entries[key], now.Add(-window))
	kept = append(kept, now)
	s.entries[key] = kept

	return int64(len(kept)), nil
}

func (s *MemoryStore) Count(_ context.Context, key string, window time.Duration) (int64, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := pruneBefore(s.entries[key], now.Add(-window))
	s.entries[key] = kept

	return int64(len(kept)), nil
}

func (s *MemoryStore) sweep(retention time.Duration) {
	cutoff := time.Now().Add(-retention)

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, stamps := range s.entries {
		kept := pruneBefore(stamps, cutoff)
		if len(kept) == 0 {
			delete(s.entries, key)
			continue
		}
		s.entries[key] = kept
	}
}

func pruneBefore(stamps []time.Time, cutoff time.Time) []time.Time {
	// Timestamps are appended in order; find the first one still inside
	// the window.
	idx := 0
	for idx < len(stamps) && stamps[idx].Before(cutoff) {
		idx++
	}
	if idx == 0 {
		return stamps
	}
	return append([]time.Time(nil), stamps[idx:]...)
}
