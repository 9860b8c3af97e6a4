package contentstore

import (
	"context"
	"fmt"
	"sync"

	"srcsnap/internal/snap"
)

// MemoryStore is an in-memory implementation of the ContentStore interface.
// It is useful for testing and safe for concurrent use.
type MemoryStore struct {
	name  string
	blobs map[snap.Pointer][]byte
	puts  int
	mu    sync.RWMutex
}

// NewMemoryStore creates an empty in-memory store with the given name.
func NewMemoryStore(name string) *MemoryStore {
	return &MemoryStore{
		name:  name,
		blobs: make(map[snap.Pointer][]byte),
	}
}

func (m *MemoryStore) Name() string { return m.name }

// Put stores a copy of data. Existing hashes are left untouched.
func (m *MemoryStore) Put(_ context.Context, hash string, data []byte) (snap.Pointer, error) {
	if !snap.ValidHash(hash) {
		return "", fmt.Errorf("invalid content hash %q", hash)
	}
	ptr := snap.PointerFor(hash)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.puts++
	if _, ok := m.blobs[ptr]; ok {
		return ptr, nil
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	m.blobs[ptr] = buf
	return ptr, nil
}

// Get returns a copy of the blob at ptr.
func (m *MemoryStore) Get(_ context.Context, ptr snap.Pointer) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.blobs[ptr]
	if !ok {
		return nil, &snap.Error{Kind: snap.ErrNotFound, Op: "get", Path: string(ptr), Backend: m.name}
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (m *MemoryStore) Delete(_ context.Context, ptr snap.Pointer) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.blobs[ptr]; !ok {
		return false, nil
	}
	delete(m.blobs, ptr)
	return true, nil
}

// Len returns the number of distinct blobs held.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}

// PutCalls returns how many times Put has been called, duplicates included.
func (m *MemoryStore) PutCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.puts
}

// Overwrite replaces the bytes at ptr without any hash check. Tests use it
// to simulate storage corruption.
func (m *MemoryStore) Overwrite(ptr snap.Pointer, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[ptr] = append([]byte(nil), data...)
}

// Compile-time check that MemoryStore implements snap.ContentStore interface
var _ snap.ContentStore = (*MemoryStore)(nil)
