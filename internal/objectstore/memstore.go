package objectstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MemStore is an in-memory Store used by tests, standing in for a real
// bucket.
type MemStore struct {
	mu            sync.Mutex
	objects       map[string][]byte
	publicURLBase string
}

// NewMemStore constructs an empty MemStore.
func NewMemStore(publicURLBase string) *MemStore {
	if publicURLBase == "" {
		publicURLBase = "https://mem.local"
	}
	return &MemStore{
		objects:       make(map[string][]byte),
		publicURLBase: publicURLBase,
	}
}

func (m *MemStore) Put(_ context.Context, key string, body []byte, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := append([]byte(nil), body...)
	m.objects[key] = cp
	return fmt.Sprintf("%s/%s", trimTrailingSlash(m.publicURLBase), key), nil
}

func (m *MemStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *MemStore) DeleteBatch(ctx context.Context, keys []string) error {
	for _, k := range keys {
		if err := m.Delete(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemStore) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Get is a test-only accessor exposing a stored object's bytes.
func (m *MemStore) Get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[key]
	return b, ok
}
