package mirror

import (
	"context"
	"sync"
)

// MemoryMirror keeps the key-value pairs in process memory. It backs
// memory-only mode and tests; SetFailure makes every call fail the way a
// full or disabled disk would.
type MemoryMirror struct {
	mu      sync.Mutex
	kv      map[string]string
	failErr error
	writes  int
}

func NewMemoryMirror() *MemoryMirror {
	return &MemoryMirror{kv: make(map[string]string)}
}

// SetFailure makes subsequent calls return err (nil restores normal operation).
func (m *MemoryMirror) SetFailure(err error) {
	m.mu.Lock()
	m.failErr = err
	m.mu.Unlock()
}

// Writes returns the number of successful writes.
func (m *MemoryMirror) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Raw returns the stored value for key.
func (m *MemoryMirror) Raw(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.kv[key]
	return v, ok
}

func (m *MemoryMirror) Read(_ context.Context, userID string) (Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return Record{}, false, m.failErr
	}

	kv := make(map[string]string)
	for _, key := range Keys(userID) {
		if v, ok := m.kv[key]; ok {
			kv[key] = v
		}
	}
	return decode(userID, kv)
}

func (m *MemoryMirror) Write(_ context.Context, userID string, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}

	for k, v := range encode(userID, rec) {
		m.kv[k] = v
	}
	m.writes++
	return nil
}

func (m *MemoryMirror) Clear(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}

	for _, key := range Keys(userID) {
		delete(m.kv, key)
	}
	return nil
}

func (m *MemoryMirror) Close() error { return nil }
