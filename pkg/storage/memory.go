package storage

import (
	"context"
	"sort"
	"strings"
	"sync"

	"forkwiki/pkg/types"
)

// MemoryBackend keeps everything in a map. Used for tests and demo sessions.
type MemoryBackend struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{objects: make(map[string][]byte)}
}

func memoryKey(owner types.Identity, path string) string {
	return string(owner) + path
}

func (m *MemoryBackend) Write(_ context.Context, owner types.Identity, path string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	m.objects[memoryKey(owner, path)] = buf
	return nil
}

func (m *MemoryBackend) Read(_ context.Context, owner types.Identity, path string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[memoryKey(owner, path)]
	if !ok {
		return nil, ErrNotFound
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return buf, nil
}

func (m *MemoryBackend) Erase(_ context.Context, owner types.Identity, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memoryKey(owner, path)
	if _, ok := m.objects[key]; !ok {
		return ErrNotFound
	}
	delete(m.objects, key)
	return nil
}

func (m *MemoryBackend) Keys(_ context.Context, owner types.Identity, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	full := memoryKey(owner, prefix)
	var paths []string
	for key := range m.objects {
		if strings.HasPrefix(key, full) {
			paths = append(paths, strings.TrimPrefix(key, string(owner)))
		}
	}
	sort.Strings(paths)
	return paths, nil
}
