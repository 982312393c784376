package statestore

import (
	"context"
	"sync"
	"time"
)

// MemoryBackend is an in-process Backend used by tests and by invocations
// that must degrade after a state I/O failure.
type MemoryBackend struct {
	mu          sync.Mutex
	data        map[string][]byte
	quarantined map[string][][]byte
	locks       map[string]chan struct{}
	lockTimeout time.Duration
	closed      bool
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		data:        make(map[string][]byte),
		quarantined: make(map[string][][]byte),
		locks:       make(map[string]chan struct{}),
		lockTimeout: 2 * time.Second,
	}
}

// Read implements Backend.
func (b *MemoryBackend) Read(ctx context.Context, domain string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	data, ok := b.data[domain]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Write implements Backend.
func (b *MemoryBackend) Write(ctx context.Context, domain string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	stored := make([]byte, len(data))
	copy(stored, data)
	b.data[domain] = stored
	return nil
}

// Lock implements Backend with a per-domain semaphore.
func (b *MemoryBackend) Lock(ctx context.Context, domain string) (func(), error) {
	b.mu.Lock()
	sem, ok := b.locks[domain]
	if !ok {
		sem = make(chan struct{}, 1)
		b.locks[domain] = sem
	}
	b.mu.Unlock()

	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-time.After(b.lockTimeout):
		return nil, ErrLockTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Quarantine implements Backend.
func (b *MemoryBackend) Quarantine(ctx context.Context, domain string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if data, ok := b.data[domain]; ok {
		b.quarantined[domain] = append(b.quarantined[domain], data)
		delete(b.data, domain)
	}
	return nil
}

// Reset implements Backend.
func (b *MemoryBackend) Reset(ctx context.Context, domain string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.data, domain)
	return nil
}

// Close implements Backend.
func (b *MemoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Quarantined returns the quarantined payloads for a domain. Test helper.
func (b *MemoryBackend) Quarantined(domain string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.quarantined[domain]
}
