package delivery

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the single-process fallback used when Redis is not
// configured.
type MemoryStore struct {
	mu         sync.Mutex
	window     time.Duration
	now        func() time.Time
	deliveries map[string]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		window:     Window,
		now:        time.Now,
		deliveries: make(map[string]time.Time),
	}
}

// FirstSeen prunes expired ids on every call; the map holds at most one
// window of deliveries.
func (s *MemoryStore) FirstSeen(_ context.Context, deliveryID, _ string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for id, receivedAt := range s.deliveries {
		if now.Sub(receivedAt) > s.window {
			delete(s.deliveries, id)
		}
	}
	if _, exists := s.deliveries[deliveryID]; exists {
		return false, nil
	}
	s.deliveries[deliveryID] = now
	return true, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }
