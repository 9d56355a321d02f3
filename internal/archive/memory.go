package archive

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Memory is an in-memory archive backend for tests and ephemeral runs.
type Memory struct {
	mu   sync.Mutex
	data map[string][]byte
}

// NewMemory returns an empty in-memory archive.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Driver() Driver { return DriverMemory }

func (m *Memory) Put(_ context.Context, key string, snapshot []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(snapshot))
	copy(cp, snapshot)
	m.data[key] = cp
	return nil
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot, ok := m.data[key]
	if !ok {
		return nil, fmt.Errorf("archive: key %s not found", key)
	}
	cp := make([]byte, len(snapshot))
	copy(cp, snapshot)
	return cp, nil
}

func (m *Memory) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for key := range m.data {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *Memory) DeletePrefix(_ context.Context, prefix string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for key := range m.data {
		if strings.HasPrefix(key, prefix) {
			delete(m.data, key)
			removed++
		}
	}
	return removed, nil
}
