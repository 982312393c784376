package incident

import (
	"context"
	"sync"
	"time"
)

// MemoryStorage keeps incident records in memory. For tests and embedding
// without a database.
type MemoryStorage struct {
	mu      sync.RWMutex
	records []*Record
	closed  bool
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

// Append implements Storage.
func (s *MemoryStorage) Append(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStorageClosed
	}
	cp := *rec
	s.records = append(s.records, &cp)
	return nil
}

// Query implements Storage.
func (s *MemoryStorage) Query(ctx context.Context, filter Filter) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStorageClosed
	}

	var out []*Record
	for i := len(s.records) - 1; i >= 0; i-- {
		rec := s.records[i]
		if !matches(rec, filter) {
			continue
		}
		cp := *rec
		out = append(out, &cp)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func matches(rec *Record, f Filter) bool {
	if f.Kind != "" && rec.Kind != f.Kind {
		return false
	}
	if f.SessionID != "" && rec.SessionID != f.SessionID {
		return false
	}
	if f.Domain != "" && rec.Domain != f.Domain {
		return false
	}
	if !f.Since.IsZero() && rec.Time.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && rec.Time.After(f.Until) {
		return false
	}
	return true
}

// Prune implements Storage.
func (s *MemoryStorage) Prune(ctx context.Context, cutoff time.Time, maxRecords int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrStorageClosed
	}

	kept := s.records[:0]
	for _, rec := range s.records {
		if rec.Time.Before(cutoff) {
			continue
		}
		kept = append(kept, rec)
	}
	deleted := len(s.records) - len(kept)

	if maxRecords > 0 && len(kept) > maxRecords {
		deleted += len(kept) - maxRecords
		kept = kept[len(kept)-maxRecords:]
	}
	s.records = kept
	return deleted, nil
}

// Close implements Storage.
func (s *MemoryStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
