// Package storage holds the key/value state shared between test cases of one
// run. In multi-process mode each worker starts from a copy of the parent's
// storage and ships its whole snapshot back when it changed.
package storage

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Storage is a concurrency-safe map of JSON encoded values.
type Storage struct {
	mu     sync.RWMutex
	values map[string]json.RawMessage
}

// New creates an empty storage
func New() *Storage {
	return &Storage{values: make(map[string]json.RawMessage)}
}

// Set stores the JSON encoding of value under key.
func (s *Storage) Set(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode storage value %q: %w", key, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = raw
	return nil
}

// Get decodes the value stored under key into out. It reports false when the
// key is absent.
func (s *Storage) Get(key string, out any) (bool, error) {
	s.mu.RLock()
	raw, ok := s.values[key]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return true, fmt.Errorf("failed to decode storage value %q: %w", key, err)
	}
	return true, nil
}

// Delete removes key.
func (s *Storage) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
}

// Keys returns the stored keys in sorted order.
func (s *Storage) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of stored keys.
func (s *Storage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

// Snapshot serializes the whole storage. Map keys are emitted in sorted order
// so equal contents always produce identical bytes.
func (s *Storage) Snapshot() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	blob, err := json.Marshal(s.values)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize storage: %w", err)
	}
	return blob, nil
}

// Replace swaps the contents for a snapshot produced by Snapshot. An empty
// blob clears the storage.
func (s *Storage) Replace(blob []byte) error {
	values := make(map[string]json.RawMessage)
	if len(blob) > 0 {
		if err := json.Unmarshal(blob, &values); err != nil {
			return fmt.Errorf("failed to deserialize storage: %w", err)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = values
	return nil
}

// Hash returns a content hash of the snapshot.
func (s *Storage) Hash() (uint64, error) {
	blob, err := s.Snapshot()
	if err != nil {
		return 0, err
	}
	return xxhash.Sum64(blob), nil
}
