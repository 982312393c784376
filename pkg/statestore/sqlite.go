package statestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteBackend stores one row per domain in an embedded SQLite database.
// Suitable when several enforcement domains should share a single durable
// file, or when the state directory lives on a filesystem with unreliable
// rename semantics.
//
// Atomicity comes from SQLite transactions; cross-process exclusion from a
// lease row in the warden_locks table with a stale-lease takeover.
type SQLiteBackend struct {
	db          *sql.DB
	lockTimeout time.Duration
	staleAge    time.Duration
	mu          sync.Mutex
	closeOnce   sync.Once
}

// SQLiteBackendConfig configures the SQLite backend.
type SQLiteBackendConfig struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// LockTimeout is how long Lock waits before returning ErrLockTimeout.
	// Default: 2 seconds.
	LockTimeout time.Duration

	// StaleLockAge is the lease age after which a lock row is taken over.
	// Default: 30 seconds.
	StaleLockAge time.Duration

	// BusyTimeout is how long SQLite waits for internal locks.
	// Default: 5 seconds.
	BusyTimeout time.Duration
}

const sqliteStateSchema = `
CREATE TABLE IF NOT EXISTS warden_state (
	domain     TEXT PRIMARY KEY,
	data       BLOB NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS warden_state_corrupt (
	domain        TEXT NOT NULL,
	data          BLOB NOT NULL,
	quarantined_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS warden_locks (
	domain      TEXT PRIMARY KEY,
	holder      TEXT NOT NULL,
	acquired_at TIMESTAMP NOT NULL
);
`

// NewSQLiteBackend creates a SQLite backend with default settings.
func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	return NewSQLiteBackendWithConfig(SQLiteBackendConfig{DBPath: dbPath})
}

// NewSQLiteBackendWithConfig creates a SQLite backend with custom settings.
func NewSQLiteBackendWithConfig(cfg SQLiteBackendConfig) (*SQLiteBackend, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = 2 * time.Second
	}
	if cfg.StaleLockAge <= 0 {
		cfg.StaleLockAge = 30 * time.Second
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_synchronous=NORMAL",
		cfg.DBPath, int(cfg.BusyTimeout.Milliseconds()))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(sqliteStateSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteBackend{
		db:          db,
		lockTimeout: cfg.LockTimeout,
		staleAge:    cfg.StaleLockAge,
	}, nil
}

// Read implements Backend.
func (b *SQLiteBackend) Read(ctx context.Context, domain string) ([]byte, error) {
	var data []byte
	err := b.db.QueryRowContext(ctx,
		`SELECT data FROM warden_state WHERE domain = ?`, domain).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read state row: %w", err)
	}
	return data, nil
}

// Write implements Backend via UPSERT inside an implicit transaction.
func (b *SQLiteBackend) Write(ctx context.Context, domain string, data []byte) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO warden_state (domain, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(domain) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		domain, data, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("write state row: %w", err)
	}
	return nil
}

// Lock implements Backend with a lease row per domain.
func (b *SQLiteBackend) Lock(ctx context.Context, domain string) (func(), error) {
	holder := fmt.Sprintf("pid-%d", timeNowUnixNano())
	deadline := time.Now().Add(b.lockTimeout)

	for {
		acquired, err := b.tryAcquire(ctx, domain, holder)
		if err != nil {
			return nil, err
		}
		if acquired {
			return func() {
				b.db.Exec(`DELETE FROM warden_locks WHERE domain = ? AND holder = ?`, domain, holder)
			}, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// tryAcquire inserts the lease row, breaking a stale one first.
func (b *SQLiteBackend) tryAcquire(ctx context.Context, domain, holder string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := time.Now().UTC().Add(-b.staleAge)
	if _, err := b.db.ExecContext(ctx,
		`DELETE FROM warden_locks WHERE domain = ? AND acquired_at < ?`, domain, cutoff); err != nil {
		return false, fmt.Errorf("break stale lock: %w", err)
	}

	res, err := b.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO warden_locks (domain, holder, acquired_at) VALUES (?, ?, ?)`,
		domain, holder, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("acquire lock row: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check lock acquisition: %w", err)
	}
	return n == 1, nil
}

// Quarantine implements Backend by copying the live row into the corrupt
// table and deleting the original.
func (b *SQLiteBackend) Quarantine(ctx context.Context, domain string) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin quarantine tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO warden_state_corrupt (domain, data, quarantined_at)
		SELECT domain, data, ? FROM warden_state WHERE domain = ?`,
		time.Now().UTC(), domain); err != nil {
		return fmt.Errorf("copy corrupt state: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM warden_state WHERE domain = ?`, domain); err != nil {
		return fmt.Errorf("remove corrupt state: %w", err)
	}
	return tx.Commit()
}

// Reset implements Backend.
func (b *SQLiteBackend) Reset(ctx context.Context, domain string) error {
	if _, err := b.db.ExecContext(ctx,
		`DELETE FROM warden_state WHERE domain = ?`, domain); err != nil {
		return fmt.Errorf("delete state row: %w", err)
	}
	return nil
}

// Close implements Backend.
func (b *SQLiteBackend) Close() error {
	var err error
	b.closeOnce.Do(func() {
		err = b.db.Close()
	})
	return err
}

// timeNowUnixNano exists so lock holder IDs stay unique within a process
// even when two goroutines race for different domains.
func timeNowUnixNano() int64 {
	return time.Now().UnixNano()
}
