package incident

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"
)

func newSQLiteStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	path := filepath.Join(t.TempDir(), "incidents.db")
	storage, err := NewSQLiteStorage(DefaultSQLiteConfig(path), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewSQLiteStorage: %v", err)
	}
	t.Cleanup(func() { storage.Close() })
	return storage
}

func TestSQLiteStorageRoundTrip(t *testing.T) {
	ctx := context.Background()
	storage := newSQLiteStorage(t)

	rec := &Record{
		ID:        "inc-1",
		Kind:      KindCircuitTrip,
		Time:      time.Now(),
		SessionID: "sess-1",
		Subject:   "bash-failures",
		Detail:    map[string]string{"trip_count": "1"},
	}
	if err := storage.Append(ctx, rec); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := storage.Query(ctx, Filter{SessionID: "sess-1"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("records = %d, want 1", len(got))
	}
	if got[0].ID != "inc-1" || got[0].Kind != KindCircuitTrip || got[0].Subject != "bash-failures" {
		t.Errorf("record = %+v", got[0])
	}
	if got[0].Detail["trip_count"] != "1" {
		t.Errorf("detail = %v", got[0].Detail)
	}
}

func TestSQLiteStorageQueryFilters(t *testing.T) {
	ctx := context.Background()
	storage := newSQLiteStorage(t)

	base := time.Now()
	records := []*Record{
		{ID: "a", Kind: KindDenied, Time: base.Add(-2 * time.Hour), SessionID: "s1"},
		{ID: "b", Kind: KindDenied, Time: base.Add(-1 * time.Hour), SessionID: "s2"},
		{ID: "c", Kind: KindEscalation, Time: base, SessionID: "s1"},
	}
	for _, rec := range records {
		if err := storage.Append(ctx, rec); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	denied, err := storage.Query(ctx, Filter{Kind: KindDenied})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(denied) != 2 || denied[0].ID != "b" {
		t.Errorf("denied = %+v, want b then a", denied)
	}

	recent, err := storage.Query(ctx, Filter{Since: base.Add(-90 * time.Minute)})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(recent) != 2 {
		t.Errorf("recent = %d, want 2", len(recent))
	}
}

func TestSQLiteStoragePrune(t *testing.T) {
	ctx := context.Background()
	storage := newSQLiteStorage(t)

	now := time.Now()
	for i := 0; i < 6; i++ {
		rec := &Record{
			ID:   "rec-" + string(rune('a'+i)),
			Kind: KindDenied,
			Time: now.Add(time.Duration(i-5) * time.Hour),
		}
		if err := storage.Append(ctx, rec); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	deleted, err := storage.Prune(ctx, now.Add(-150*time.Minute), 2)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	// Three by age (5h, 4h, 3h old), one more by the count cap.
	if deleted != 4 {
		t.Errorf("deleted = %d, want 4", deleted)
	}

	left, err := storage.Query(ctx, Filter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(left) != 2 {
		t.Errorf("remaining = %d, want 2", len(left))
	}
}
