package content

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// Memory is an in-process Store. CIDs are the hex SHA-256 of the payload,
// which keeps the content-addressing contract without an external pinning
// service. Used by tests and the smoke binary.
type Memory struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemory returns an empty in-process store.
func NewMemory() *Memory {
	return &Memory{blobs: make(map[string][]byte)}
}

func (m *Memory) PinFile(ctx context.Context, name string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmpty
	}
	sum := sha256.Sum256(data)
	cid := hex.EncodeToString(sum[:])

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blobs[cid]; !ok {
		stored := make([]byte, len(data))
		copy(stored, data)
		m.blobs[cid] = stored
	}
	return cid, nil
}

func (m *Memory) PinJSON(ctx context.Context, name string, v any) (string, error) {
	data, err := encodeJSON(v)
	if err != nil {
		return "", err
	}
	return m.PinFile(ctx, name, data)
}

func (m *Memory) Get(ctx context.Context, cid string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[cid]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Len reports the number of distinct pinned blobs.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}
