package kv

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Memory is an in-process Store and HandleStore. Handles are decimal
// auto-increment integers starting at 1.
type Memory struct {
	mu      sync.RWMutex
	data    map[string][]byte
	handles map[Handle][]byte
	nextID  uint64
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		data:    make(map[string][]byte),
		handles: make(map[Handle][]byte),
	}
}

// Get returns a copy of the value stored under key.
func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, Wrap("get", key, err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, &StorageError{Op: "get", Key: key, Err: ErrNotFound}
	}
	return append([]byte(nil), v...), nil
}

// Set stores a copy of value under key.
func (m *Memory) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return Wrap("set", key, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

// Remove deletes key. Removing a missing key is not an error.
func (m *Memory) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return Wrap("remove", key, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// Keys lists stored keys with the given prefix in sorted order.
func (m *Memory) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, Wrap("keys", prefix, err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Put stores payload and returns a fresh handle.
func (m *Memory) Put(ctx context.Context, payload []byte) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return "", Wrap("put", "", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	h := Handle(strconv.FormatUint(m.nextID, 10))
	m.handles[h] = append([]byte(nil), payload...)
	return h, nil
}

// Fetch returns the payload stored under h.
func (m *Memory) Fetch(ctx context.Context, h Handle) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, Wrap("fetch", string(h), err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.handles[h]
	if !ok {
		return nil, &StorageError{Op: "fetch", Key: string(h), Err: ErrNotFound}
	}
	return append([]byte(nil), v...), nil
}
