package persist

import (
	"context"
	"sort"
	"sync"
)

// Backend is a string key-value store with the four primitives of a browser
// storage area. Persistent tiers hold no other reference to where bytes live.
type Backend interface {
	GetItem(ctx context.Context, key string) (string, bool, error)
	SetItem(ctx context.Context, key, value string) error
	RemoveItem(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// Enumerator is implemented by backends that can list the keys they hold.
// Open uses it to rebuild the key registry after a restart.
type Enumerator interface {
	Keys(ctx context.Context) ([]string, error)
}

// MemoryBackend is a process-scoped Backend. It backs the session tier when no
// database is configured and stands in for real backends in tests.
type MemoryBackend struct {
	mu    sync.Mutex
	items map[string]string
}

// NewMemoryBackend creates an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{items: make(map[string]string)}
}

// GetItem returns the stored string for key.
func (b *MemoryBackend) GetItem(_ context.Context, key string) (string, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	value, ok := b.items[key]
	return value, ok, nil
}

// SetItem stores value under key.
func (b *MemoryBackend) SetItem(_ context.Context, key, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items[key] = value
	return nil
}

// RemoveItem deletes key.
func (b *MemoryBackend) RemoveItem(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.items, key)
	return nil
}

// Clear deletes every item.
func (b *MemoryBackend) Clear(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = make(map[string]string)
	return nil
}

// Keys lists stored keys in order.
func (b *MemoryBackend) Keys(context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	keys := make([]string, 0, len(b.items))
	for key := range b.items {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

var (
	_ Backend    = (*MemoryBackend)(nil)
	_ Enumerator = (*MemoryBackend)(nil)
)
