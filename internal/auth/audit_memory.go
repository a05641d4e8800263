package auth

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryAuditStore implements AuditStore in memory. Events are lost on
// restart; use the postgres store for a durable trail.
type MemoryAuditStore struct {
	mu     sync.RWMutex
	events []*AuditEvent
}

// NewMemoryAuditStore creates a new in-memory audit store.
func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{
		events: make([]*AuditEvent, 0),
	}
}

// CreateAuditEvent records a new audit event.
func (s *MemoryAuditStore) CreateAuditEvent(_ context.Context, event *AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event.ID == "" {
		event.ID = generateAuditID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	eventCopy := *event
	s.events = append(s.events, &eventCopy)
	return nil
}

// ListAuditEvents returns audit events matching the filter, newest first.
func (s *MemoryAuditStore) ListAuditEvents(_ context.Context, filter AuditFilter) ([]*AuditEvent, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var filtered []*AuditEvent
	for _, event := range s.events {
		if !matchesFilter(event, filter) {
			continue
		}
		eventCopy := *event
		filtered = append(filtered, &eventCopy)
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Timestamp.After(filtered[j].Timestamp)
	})

	total := int64(len(filtered))

	if filter.Offset >= len(filtered) {
		return []*AuditEvent{}, total, nil
	}

	end := filter.Offset + filter.Limit
	if end > len(filtered) || filter.Limit == 0 {
		end = len(filtered)
	}

	return filtered[filter.Offset:end], total, nil
}

func matchesFilter(event *AuditEvent, filter AuditFilter) bool {
	if !filter.StartTime.IsZero() && event.Timestamp.Before(filter.StartTime) {
		return false
	}
	if !filter.EndTime.IsZero() && event.Timestamp.After(filter.EndTime) {
		return false
	}
	if filter.ActorEmail != nil && event.ActorEmail != *filter.ActorEmail {
		return false
	}
	if filter.Action != nil && event.Action != *filter.Action {
		return false
	}
	if filter.Success != nil && event.Success != *filter.Success {
		return false
	}
	return true
}

// GetAuditStats returns aggregated audit statistics.
func (s *MemoryAuditStore) GetAuditStats(_ context.Context, filter AuditFilter) (*AuditStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &AuditStats{
		ActionCounts: make(map[string]int64),
	}
	actors := make(map[string]struct{})

	for _, event := range s.events {
		if !matchesFilter(event, filter) {
			continue
		}

		stats.TotalEvents++
		if event.Success {
			stats.SuccessCount++
		} else {
			stats.FailureCount++
		}
		if event.ActorEmail != "" {
			actors[event.ActorEmail] = struct{}{}
		}
		stats.ActionCounts[string(event.Action)]++
	}

	stats.UniqueActors = len(actors)
	return stats, nil
}

// DeleteAuditEvents deletes audit events older than the specified time.
func (s *MemoryAuditStore) DeleteAuditEvents(_ context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var remaining []*AuditEvent
	var deleted int64

	for _, event := range s.events {
		if event.Timestamp.Before(olderThan) {
			deleted++
		} else {
			remaining = append(remaining, event)
		}
	}

	s.events = remaining
	return deleted, nil
}

// Ensure MemoryAuditStore implements AuditStore
var _ AuditStore = (*MemoryAuditStore)(nil)
