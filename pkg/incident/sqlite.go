package incident

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteConfig configures the SQLite incident storage.
type SQLiteConfig struct {
	// Path is the database file path. Required.
	Path string

	// WALMode enables write-ahead logging. Default: true.
	WALMode bool

	// BusyTimeout is how long a writer waits on a locked database.
	// Default: 5s.
	BusyTimeout time.Duration
}

// DefaultSQLiteConfig returns the default incident storage configuration.
func DefaultSQLiteConfig(path string) *SQLiteConfig {
	return &SQLiteConfig{
		Path:        path,
		WALMode:     true,
		BusyTimeout: 5 * time.Second,
	}
}

// SQLiteStorage implements Storage on a SQLite database. Multiple engine
// processes may append concurrently; WAL mode plus the busy timeout keeps
// writers from failing under contention.
type SQLiteStorage struct {
	db     *sql.DB
	logger *slog.Logger
}

const incidentSchema = `
CREATE TABLE IF NOT EXISTS warden_incidents (
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	time_unix  INTEGER NOT NULL,
	session_id TEXT NOT NULL DEFAULT '',
	domain     TEXT NOT NULL DEFAULT '',
	subject    TEXT NOT NULL DEFAULT '',
	detail     TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_incidents_time ON warden_incidents(time_unix);
CREATE INDEX IF NOT EXISTS idx_incidents_kind ON warden_incidents(kind, time_unix);
CREATE INDEX IF NOT EXISTS idx_incidents_session ON warden_incidents(session_id, time_unix);
`

// NewSQLiteStorage opens (creating if needed) the incident database.
func NewSQLiteStorage(cfg *SQLiteConfig, logger *slog.Logger) (*SQLiteStorage, error) {
	if cfg == nil || cfg.Path == "" {
		return nil, fmt.Errorf("incident sqlite storage: path required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	dsn := cfg.Path + "?_busy_timeout=" + fmt.Sprint(cfg.BusyTimeout.Milliseconds())
	if cfg.WALMode {
		dsn += "&_journal_mode=WAL"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open incident database: %w", err)
	}

	if _, err := db.Exec(incidentSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize incident schema: %w", err)
	}

	logger = logger.With("component", "incident.sqlite")
	logger.Info("incident storage opened", "path", cfg.Path, "wal", cfg.WALMode)
	return &SQLiteStorage{db: db, logger: logger}, nil
}

// Append implements Storage.
func (s *SQLiteStorage) Append(ctx context.Context, rec *Record) error {
	detail, err := json.Marshal(rec.Detail)
	if err != nil {
		return fmt.Errorf("marshal incident detail: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO warden_incidents (id, kind, time_unix, session_id, domain, subject, detail)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, string(rec.Kind), rec.Time.UnixNano(), rec.SessionID, rec.Domain, rec.Subject, string(detail))
	if err != nil {
		return fmt.Errorf("append incident: %w", err)
	}
	return nil
}

// Query implements Storage.
func (s *SQLiteStorage) Query(ctx context.Context, filter Filter) ([]*Record, error) {
	var conds []string
	var args []any
	if filter.Kind != "" {
		conds = append(conds, "kind = ?")
		args = append(args, string(filter.Kind))
	}
	if filter.SessionID != "" {
		conds = append(conds, "session_id = ?")
		args = append(args, filter.SessionID)
	}
	if filter.Domain != "" {
		conds = append(conds, "domain = ?")
		args = append(args, filter.Domain)
	}
	if !filter.Since.IsZero() {
		conds = append(conds, "time_unix >= ?")
		args = append(args, filter.Since.UnixNano())
	}
	if !filter.Until.IsZero() {
		conds = append(conds, "time_unix <= ?")
		args = append(args, filter.Until.UnixNano())
	}

	query := "SELECT id, kind, time_unix, session_id, domain, subject, detail FROM warden_incidents"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY time_unix DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query incidents: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		var rec Record
		var kind, detail string
		var unixNano int64
		if err := rows.Scan(&rec.ID, &kind, &unixNano, &rec.SessionID, &rec.Domain, &rec.Subject, &detail); err != nil {
			return nil, fmt.Errorf("scan incident row: %w", err)
		}
		rec.Kind = Kind(kind)
		rec.Time = time.Unix(0, unixNano)
		if detail != "" && detail != "{}" && detail != "null" {
			if err := json.Unmarshal([]byte(detail), &rec.Detail); err != nil {
				s.logger.Warn("incident detail unreadable", "id", rec.ID, "error", err)
			}
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// Prune implements Storage.
func (s *SQLiteStorage) Prune(ctx context.Context, cutoff time.Time, maxRecords int) (int, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM warden_incidents WHERE time_unix < ?", cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune incidents by age: %w", err)
	}
	deleted, _ := res.RowsAffected()

	if maxRecords > 0 {
		res, err = s.db.ExecContext(ctx,
			`DELETE FROM warden_incidents WHERE id NOT IN (
				SELECT id FROM warden_incidents ORDER BY time_unix DESC LIMIT ?
			)`, maxRecords)
		if err != nil {
			return int(deleted), fmt.Errorf("prune incidents by count: %w", err)
		}
		n, _ := res.RowsAffected()
		deleted += n
	}
	return int(deleted), nil
}

// Close implements Storage.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
