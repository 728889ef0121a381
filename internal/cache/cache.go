// Package cache stores JSON-encoded view payloads with a TTL, in process or
// in Redis.
package cache

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// Cache stores JSON values by key.
type Cache interface {
	// Get decodes the value at key into dest. ok is false on a miss.
	Get(ctx context.Context, key string, dest any) (ok bool, err error)

	// Set stores value at key for ttl. A zero ttl never expires.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error

	// Delete removes key.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes every key starting with prefix.
	DeletePrefix(ctx context.Context, prefix string) error
}

// Compile-time interface checks.
var (
	_ Cache = (*Memory)(nil)
	_ Cache = (*Redis)(nil)
)

type entry struct {
	data    []byte
	expires time.Time
}

// Memory is an in-process Cache.
type Memory struct {
	entries sync.Map // key -> entry
	now     func() time.Time
}

// NewMemory creates an empty in-process cache.
func NewMemory() *Memory {
	return &Memory{now: time.Now}
}

func (m *Memory) Get(_ context.Context, key string, dest any) (bool, error) {
	v, ok := m.entries.Load(key)
	if !ok {
		return false, nil
	}
	e := v.(entry)
	if !e.expires.IsZero() && m.now().After(e.expires) {
		m.entries.Delete(key)
		return false, nil
	}
	return true, json.Unmarshal(e.data, dest)
}

func (m *Memory) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	e := entry{data: data}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.entries.Store(key, e)
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.entries.Delete(key)
	return nil
}

func (m *Memory) DeletePrefix(_ context.Context, prefix string) error {
	m.entries.Range(func(k, _ any) bool {
		if strings.HasPrefix(k.(string), prefix) {
			m.entries.Delete(k)
		}
		return true
	})
	return nil
}
