package storage

import (
	"context"
	"fmt"
	"sync"

	"termsguard/pkg/termsguard"
)

// Memory is a process-local Storage used for tests and ephemeral deployments.
type Memory struct {
	mu         sync.RWMutex
	namespaces map[string]map[string][]byte
	closed     bool
}

// NewMemory creates an empty in-memory storage.
func NewMemory() *Memory {
	return &Memory{namespaces: make(map[string]map[string][]byte)}
}

// Get returns a copy of one stored value.
func (m *Memory) Get(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	if err := m.check(ctx, "get"); err != nil {
		return nil, false, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	value, found := m.namespaces[namespace][key]
	if !found {
		return nil, false, nil
	}

	return append([]byte(nil), value...), true, nil
}

// Put stores a copy of value.
func (m *Memory) Put(ctx context.Context, namespace, key string, value []byte) error {
	if err := m.check(ctx, "put"); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	bucket, exists := m.namespaces[namespace]
	if !exists {
		bucket = make(map[string][]byte)
		m.namespaces[namespace] = bucket
	}
	bucket[key] = append([]byte(nil), value...)

	return nil
}

// Delete removes one key. Missing keys are ignored.
func (m *Memory) Delete(ctx context.Context, namespace, key string) error {
	if err := m.check(ctx, "delete"); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.namespaces[namespace], key)

	return nil
}

// List returns copies of every pair in one namespace.
func (m *Memory) List(ctx context.Context, namespace string) (map[string][]byte, error) {
	if err := m.check(ctx, "list"); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	bucket := m.namespaces[namespace]
	listed := make(map[string][]byte, len(bucket))
	for key, value := range bucket {
		listed[key] = append([]byte(nil), value...)
	}

	return listed, nil
}

// Clear drops one namespace.
func (m *Memory) Clear(ctx context.Context, namespace string) error {
	if err := m.check(ctx, "clear"); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.namespaces, namespace)

	return nil
}

// Close marks the storage closed. Later calls fail.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true

	return nil
}

func (m *Memory) check(ctx context.Context, operation string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("memory storage %s: %w", operation, err)
	}

	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return fmt.Errorf("memory storage %s: %w", operation, ErrClosed)
	}

	return nil
}

var _ termsguard.Storage = (*Memory)(nil)
