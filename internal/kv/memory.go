package kv

import (
	"context"
	"strings"
	"sync"
	"time"
)

// janitorInterval controls how often expired in-memory entries are purged.
const janitorInterval = 10 * time.Minute

type memoryEntry struct {
	value     []byte
	expiresAt *time.Time
}

// MemoryStore is the default in-process Store. It is safe for concurrent use
// and purges expired entries with a background janitor.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry

	closeOnce sync.Once
	done      chan struct{}
}

// NewMemoryStore creates an in-memory store and starts its janitor.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]memoryEntry),
		done:    make(chan struct{}),
	}
	go s.janitor()
	return s
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if entry.expiresAt != nil && time.Now().After(*entry.expiresAt) {
		return nil, false, nil
	}
	value := make([]byte, len(entry.value))
	copy(value, entry.value)
	return value, true, nil
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	stored := make([]byte, len(value))
	copy(stored, value)
	entry := memoryEntry{value: stored, expiresAt: expiryFor(time.Now(), ttl)}
	s.mu.Lock()
	s.entries[key] = entry
	s.mu.Unlock()
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// Keys implements Store.
func (s *MemoryStore) Keys(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// Close stops the janitor.
func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

func (s *MemoryStore) janitor() {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.purgeExpired()
		}
	}
}

func (s *MemoryStore) purgeExpired() {
	now := time.Now()
	s.mu.Lock()
	for k, entry := range s.entries {
		if entry.expiresAt != nil && now.After(*entry.expiresAt) {
			delete(s.entries, k)
		}
	}
	s.mu.Unlock()
}
