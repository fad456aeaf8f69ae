// Package mocks provides in-memory doubles shared by service tests.
package mocks

import (
	"context"
	"sync"
	"time"
)

// MockCache is an in-memory stand-in for the Redis cache.
// Expirations are recorded but never enforced.
type MockCache struct {
	mu          sync.RWMutex
	data        map[string]string
	expirations map[string]time.Duration

	// Err, when set, is returned by every operation.
	Err error

	Gets int
	Sets int
}

// NewMockCache creates a new mock cache instance
func NewMockCache() *MockCache {
	return &MockCache{
		data:        make(map[string]string),
		expirations: make(map[string]time.Duration),
	}
}

// Get returns "" for missing keys, like the real cache.
func (m *MockCache) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Gets++
	if m.Err != nil {
		return "", m.Err
	}
	return m.data[key], nil
}

// Set stores a value. Non-string values are stored as their string form.
func (m *MockCache) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Sets++
	if m.Err != nil {
		return m.Err
	}
	m.data[key] = toString(value)
	m.expirations[key] = expiration
	return nil
}

// Del deletes keys from the mock cache
func (m *MockCache) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}
	for _, key := range keys {
		delete(m.data, key)
		delete(m.expirations, key)
	}
	return nil
}

// SetNX sets a key only if it doesn't exist.
func (m *MockCache) SetNX(_ context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return false, m.Err
	}
	if _, exists := m.data[key]; exists {
		return false, nil
	}
	m.data[key] = toString(value)
	m.expirations[key] = expiration
	return true, nil
}

// CompareAndDelete deletes key only while it still holds value.
func (m *MockCache) CompareAndDelete(_ context.Context, key, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return false, m.Err
	}
	if current, ok := m.data[key]; !ok || current != value {
		return false, nil
	}
	delete(m.data, key)
	delete(m.expirations, key)
	return true, nil
}

// CompareAndExpire resets the expiration of key only while it still holds value.
func (m *MockCache) CompareAndExpire(_ context.Context, key, value string, expiration time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return false, m.Err
	}
	if current, ok := m.data[key]; !ok || current != value {
		return false, nil
	}
	m.expirations[key] = expiration
	return true, nil
}

// Has reports whether key is present.
func (m *MockCache) Has(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[key]
	return ok
}

// Expiration returns the TTL key was last written with.
func (m *MockCache) Expiration(key string) time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.expirations[key]
}

// Put stores a raw value without counting it as a Set.
func (m *MockCache) Put(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
}

func toString(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return ""
	}
}
