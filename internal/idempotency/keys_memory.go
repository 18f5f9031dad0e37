package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryKeys is an in-memory Keys backend for tests and local runs.
type MemoryKeys struct {
	mu   sync.Mutex
	rows map[string]*Row
}

func NewMemoryKeys() *MemoryKeys {
	return &MemoryKeys{rows: make(map[string]*Row)}
}

func (k *MemoryKeys) Get(_ context.Context, key string) (*Row, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	row, ok := k.rows[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *row
	return &cp, nil
}

func (k *MemoryKeys) Reserve(_ context.Context, key, requestHash, method, path string) (bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, exists := k.rows[key]; exists {
		return false, nil
	}
	k.rows[key] = &Row{
		Key:         key,
		RequestHash: requestHash,
		Method:      method,
		Path:        path,
		InProgress:  true,
		CreatedAt:   time.Now().UTC(),
	}
	return true, nil
}

func (k *MemoryKeys) Finalize(_ context.Context, key, requestHash string, status int, body []byte, contentType string) (*Row, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	row, ok := k.rows[key]
	if !ok || row.RequestHash != requestHash {
		return nil, ErrNotFound
	}
	row.InProgress = false
	row.Status = status
	row.Body = append([]byte(nil), body...)
	row.ContentType = contentType
	cp := *row
	return &cp, nil
}
