package repository

import (
	"context"
	"sort"
	"sync"
)

// MemoryBackend keeps shared state in process memory for local runs.
type MemoryBackend struct {
	mu     sync.RWMutex
	values map[string][]byte
	sets   map[string]map[string]struct{}
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		values: make(map[string][]byte),
		sets:   make(map[string]map[string]struct{}),
	}
}

func (b *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	value, ok := b.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), value...), nil
}

func (b *MemoryBackend) Set(_ context.Context, key string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.values[key] = append([]byte(nil), value...)
	return nil
}

func (b *MemoryBackend) SetMany(_ context.Context, values map[string][]byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for key, value := range values {
		b.values[key] = append([]byte(nil), value...)
	}
	return nil
}

func (b *MemoryBackend) AddMember(_ context.Context, key, member string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.sets[key]
	if !ok {
		set = make(map[string]struct{})
		b.sets[key] = set
	}
	if _, exists := set[member]; exists {
		return false, nil
	}
	set[member] = struct{}{}
	return true, nil
}

func (b *MemoryBackend) CountMembers(_ context.Context, key string) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sets[key]), nil
}

func (b *MemoryBackend) Members(_ context.Context, key string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	members := make([]string, 0, len(b.sets[key]))
	for member := range b.sets[key] {
		members = append(members, member)
	}
	sort.Strings(members)
	return members, nil
}

func (b *MemoryBackend) Close() error {
	return nil
}
