// Package memory provides an in-memory KV implementation (for testing/dev).
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/wityliti/afforestation-atlassian-plugin/store"
)

// =============================================================================
// MEMORY KV - map under an RWMutex
// =============================================================================

type KV struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func New() *KV {
	return &KV{data: make(map[string][]byte)}
}

var _ store.KV = (*KV)(nil)

func (m *KV) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (m *KV) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *KV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, key)
	return nil
}

// PutIfAbsent performs the check and the write under a single lock,
// so exactly one racing caller observes created=true.
func (m *KV) PutIfAbsent(_ context.Context, key string, value []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.data[key]; exists {
		return false, nil
	}
	m.data[key] = append([]byte(nil), value...)
	return true, nil
}

func (m *KV) Scan(_ context.Context, prefix string) ([]store.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var entries []store.Entry
	for k, v := range m.data {
		if strings.HasPrefix(k, prefix) {
			entries = append(entries, store.Entry{Key: k, Value: append([]byte(nil), v...)})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

// Len reports the number of stored keys (test helper).
func (m *KV) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
