package store

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrKeyNotFound is returned by a Backend when no payload is stored under the key.
	ErrKeyNotFound = errors.New("store: key not found")
	// ErrCorruptState marks a stored payload that failed to decode or validate.
	ErrCorruptState = errors.New("store: corrupt state")
	// ErrEmptyKey rejects blank keys before they reach a backend.
	ErrEmptyKey = errors.New("store: key required")
)

// Backend persists raw record payloads by key.
type Backend interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, payload []byte) error
}

// MemoryBackend keeps payloads in process memory. It backs tests and the "memory" driver.
type MemoryBackend struct {
	mu      sync.RWMutex
	records map[string][]byte
}

// NewMemoryBackend constructs an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{records: make(map[string][]byte)}
}

func (b *MemoryBackend) Load(_ context.Context, key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	payload, ok := b.records[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return append([]byte(nil), payload...), nil
}

func (b *MemoryBackend) Save(_ context.Context, key string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records[key] = append([]byte(nil), payload...)
	return nil
}
