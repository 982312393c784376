package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
)

// Sentinel errors returned by backends and the Manager.
var (
	// ErrNotFound indicates no state has been persisted for the domain yet.
	ErrNotFound = errors.New("statestore: state not found")

	// ErrLockTimeout indicates the exclusive lock could not be acquired in
	// time. Callers should proceed read-only and skip the mutation.
	ErrLockTimeout = errors.New("statestore: lock acquisition timed out")

	// ErrClosed indicates the backend has been closed.
	ErrClosed = errors.New("statestore: backend closed")
)

// Backend is the raw byte-level storage interface beneath a Manager.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Read returns the persisted bytes for a domain.
	// Returns ErrNotFound if nothing has been saved yet.
	Read(ctx context.Context, domain string) ([]byte, error)

	// Write atomically replaces the persisted bytes for a domain.
	Write(ctx context.Context, domain string, data []byte) error

	// Lock acquires the exclusive advisory lock for a domain and returns
	// the corresponding unlock function. Returns ErrLockTimeout when the
	// lock cannot be acquired within the backend's deadline.
	Lock(ctx context.Context, domain string) (func(), error)

	// Quarantine preserves the current (presumed corrupt) state for
	// postmortem analysis and removes it from the live position.
	Quarantine(ctx context.Context, domain string) error

	// Reset removes the persisted state for a domain.
	Reset(ctx context.Context, domain string) error

	// Close releases backend resources.
	Close() error
}

// Manager is the generic state manager for one enforcement domain. T is the
// domain's state struct; it must round-trip through encoding/json.
type Manager[T any] struct {
	backend  Backend
	domain   string
	defaults func() *T
	logger   *slog.Logger
}

// NewManager creates a manager for one domain. The defaults factory is
// invoked whenever no usable persisted state exists.
func NewManager[T any](backend Backend, domain string, defaults func() *T, logger *slog.Logger) *Manager[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager[T]{
		backend:  backend,
		domain:   domain,
		defaults: defaults,
		logger:   logger.With("domain", domain),
	}
}

// Domain returns the domain name this manager owns.
func (m *Manager[T]) Domain() string {
	return m.domain
}

// Load returns a point-in-time copy of the domain state without taking the
// lock. The returned state is always usable: missing state yields defaults,
// corrupt state is quarantined and replaced by defaults. The error, when
// non-nil, only signals that the result is degraded.
func (m *Manager[T]) Load(ctx context.Context) (*T, error) {
	data, err := m.backend.Read(ctx, m.domain)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return m.defaults(), nil
		}
		m.logger.Warn("state read failed, using defaults", "error", err)
		return m.defaults(), fmt.Errorf("read state for %q: %w", m.domain, err)
	}

	state, err := m.decode(ctx, data)
	if err != nil {
		return m.defaults(), err
	}
	return state, nil
}

// Update runs one atomic read-modify-write cycle: acquire the exclusive
// lock, load current state, apply fn, persist, release.
//
// On lock timeout the mutation is skipped and the current state is returned
// together with ErrLockTimeout so the caller can proceed read-only.
func (m *Manager[T]) Update(ctx context.Context, fn func(*T) error) (*T, error) {
	unlock, err := m.backend.Lock(ctx, m.domain)
	if err != nil {
		if errors.Is(err, ErrLockTimeout) {
			m.logger.Warn("lock contention, proceeding read-only")
			state, _ := m.Load(ctx)
			return state, ErrLockTimeout
		}
		// Lock infrastructure failure: fail open with the prior state.
		m.logger.Warn("lock acquisition failed, state left unchanged", "error", err)
		state, _ := m.Load(ctx)
		return state, fmt.Errorf("lock %q: %w", m.domain, err)
	}
	defer unlock()

	var state *T
	data, err := m.backend.Read(ctx, m.domain)
	switch {
	case err == nil:
		state, err = m.decode(ctx, data)
		if err != nil {
			state = m.defaults()
		}
	case errors.Is(err, ErrNotFound):
		state = m.defaults()
	default:
		m.logger.Warn("state read failed during update, starting from defaults", "error", err)
		state = m.defaults()
	}

	if err := fn(state); err != nil {
		return state, fmt.Errorf("mutate state for %q: %w", m.domain, err)
	}

	encoded, err := json.Marshal(state)
	if err != nil {
		return state, fmt.Errorf("encode state for %q: %w", m.domain, err)
	}
	if err := m.backend.Write(ctx, m.domain, encoded); err != nil {
		m.logger.Warn("state write failed, prior state preserved", "error", err)
		return state, fmt.Errorf("write state for %q: %w", m.domain, err)
	}
	return state, nil
}

// Reset removes the persisted state for this domain. Intended for explicit
// operator action only.
func (m *Manager[T]) Reset(ctx context.Context) error {
	unlock, err := m.backend.Lock(ctx, m.domain)
	if err != nil {
		return fmt.Errorf("lock %q for reset: %w", m.domain, err)
	}
	defer unlock()

	if err := m.backend.Reset(ctx, m.domain); err != nil {
		return fmt.Errorf("reset state for %q: %w", m.domain, err)
	}
	m.logger.Info("state reset")
	return nil
}

// decode unmarshals persisted bytes. Corrupt bytes are quarantined and the
// caller gets defaults plus a diagnostic error.
func (m *Manager[T]) decode(ctx context.Context, data []byte) (*T, error) {
	state := m.defaults()
	if err := json.Unmarshal(data, state); err != nil {
		m.logger.Error("corrupt state detected, quarantining", "error", err)
		if qerr := m.backend.Quarantine(ctx, m.domain); qerr != nil {
			m.logger.Warn("quarantine failed", "error", qerr)
		}
		return nil, fmt.Errorf("corrupt state for %q: %w", m.domain, err)
	}
	return state, nil
}
