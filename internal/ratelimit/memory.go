package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultSweepInterval is how often MemoryStore drops expired windows.
const DefaultSweepInterval = 5 * time.Minute

type entry struct {
	count   int
	resetAt time.Time
}

// MemoryStore keeps counters in process memory. State is lost on restart.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*entry

	now    func() time.Time
	logger *slog.Logger

	stopCh chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// NewMemoryStore creates an empty store. now drives the sweep loop; nil means time.Now.
func NewMemoryStore(now func() time.Time, logger *slog.Logger) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryStore{
		entries: make(map[string]*entry),
		now:     now,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}
}

// Hit implements Store. An entry whose resetAt has passed is treated as absent.
func (s *MemoryStore) Hit(_ context.Context, key string, window time.Duration, now time.Time) (int, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || !now.Before(e.resetAt) {
		e = &entry{count: 1, resetAt: now.Add(window)}
		s.entries[key] = e
		return e.count, e.resetAt, nil
	}
	e.count++
	return e.count, e.resetAt, nil
}

// Sweep deletes every entry whose window has reset by now and returns how many were removed.
func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, e := range s.entries {
		if !now.Before(e.resetAt) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Start runs Sweep every interval until Stop is called.
func (s *MemoryStore) Start(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				if n := s.Sweep(s.now()); n > 0 {
					s.logger.Debug("rate limit sweep", "removed", n, "remaining", s.Len())
				}
			}
		}
	}()
}

// Stop ends the sweep loop. It is safe to call more than once.
func (s *MemoryStore) Stop() {
	s.once.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}
