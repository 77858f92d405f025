package store

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

// Well-known state keys.
const (
	KeyMonitors  = "monitors"
	KeySettings  = "settings"
	KeyStats     = "stats"
	KeyRiskLevel = "riskLevel"
)

// ErrNotFound is returned when a key has never been written.
var ErrNotFound = errors.New("store: key not found")

// Store is durable key -> JSON value state. All writes go through the
// orchestrator; backends never see concurrent writers for the same key.
type Store interface {
	Load(ctx context.Context, key string, v any) error
	Save(ctx context.Context, key string, v any) error
	Close() error
}

// MemoryStore is an in-process Store used by tests and local runs.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (s *MemoryStore) Load(_ context.Context, key string, v any) error {
	s.mu.RLock()
	raw, ok := s.data[key]
	s.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	return json.Unmarshal(raw, v)
}

func (s *MemoryStore) Save(_ context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.data[key] = raw
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Close() error { return nil }
