// Package store persists the scheduler's durable state: settings, cursors,
// priority queues, activity timestamps and the event log.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Keys used by the scheduler.
const (
	KeySettings     = "farm-settings"
	KeyIndexes      = "farm-indexes"
	KeyPriority     = "farm-priority"
	KeyLastActivity = "farm-lastActivity"
	KeyLastAttack   = "farm-lastAttack"
	KeyLastEvents   = "farm-lastEvents"
)

// KV is a durable JSON key/value store.
type KV interface {
	// Get decodes the value stored under key into dst and reports whether
	// the key existed.
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, key string) error
}

// Memory is an in-process KV used by tests and when no database path is set.
type Memory struct {
	mu   sync.Mutex
	data map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Get(ctx context.Context, key string, dst any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	raw, ok := m.data[key]
	m.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return true, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (m *Memory) Set(ctx context.Context, key string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	m.mu.Lock()
	m.data[key] = raw
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

// Raw returns a copy of the encoded bytes under key.
func (m *Memory) Raw(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.data[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), raw...), true
}

var _ KV = (*Memory)(nil)
