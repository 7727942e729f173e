package tilecache

import "sync"

// localStore is the in-process cache tier: a fixed-capacity map with
// insertion-order eviction. It carries no TTL; entries only leave under
// capacity pressure. Eviction is FIFO rather than LRU on purpose — see the
// package documentation.
type localStore struct {
	mu       sync.RWMutex
	capacity int
	entries  map[string][]byte
	order    []string
}

func newLocalStore(capacity int) *localStore {
	return &localStore{
		capacity: capacity,
		entries:  make(map[string][]byte, capacity),
	}
}

func (s *localStore) get(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.entries[key]
	return data, ok
}

func (s *localStore) set(key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[key]; !exists {
		if len(s.order) >= s.capacity {
			oldest := s.order[0]
			s.order = s.order[1:]
			delete(s.entries, oldest)
		}
		s.order = append(s.order, key)
	}
	s.entries[key] = data
}

func (s *localStore) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
