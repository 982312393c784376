package statestore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// FileBackend stores one JSON file per domain under a base directory.
//
// Writes use write-to-temp-then-atomic-rename so a crashed process never
// leaves a partially written state file. Cross-process exclusion uses a
// lock file created with O_CREATE|O_EXCL; locks left behind by dead
// processes are considered stale after StaleLockAge and broken.
type FileBackend struct {
	dir         string
	lockTimeout time.Duration
	staleAge    time.Duration
	retryDelay  time.Duration
}

// FileBackendConfig configures a FileBackend.
type FileBackendConfig struct {
	// Dir is the base directory for state files. Created if missing.
	Dir string

	// LockTimeout is how long Lock waits before returning ErrLockTimeout.
	// Default: 2 seconds.
	LockTimeout time.Duration

	// StaleLockAge is the age after which an existing lock file is assumed
	// to belong to a dead process and is broken. Default: 30 seconds.
	StaleLockAge time.Duration
}

// NewFileBackend creates a file backend rooted at dir with defaults.
func NewFileBackend(dir string) (*FileBackend, error) {
	return NewFileBackendWithConfig(FileBackendConfig{Dir: dir})
}

// NewFileBackendWithConfig creates a file backend with custom settings.
func NewFileBackendWithConfig(cfg FileBackendConfig) (*FileBackend, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("state directory cannot be empty")
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = 2 * time.Second
	}
	if cfg.StaleLockAge <= 0 {
		cfg.StaleLockAge = 30 * time.Second
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory %q: %w", cfg.Dir, err)
	}
	return &FileBackend{
		dir:         cfg.Dir,
		lockTimeout: cfg.LockTimeout,
		staleAge:    cfg.StaleLockAge,
		retryDelay:  10 * time.Millisecond,
	}, nil
}

// Read implements Backend.
func (b *FileBackend) Read(ctx context.Context, domain string) ([]byte, error) {
	data, err := os.ReadFile(b.statePath(domain))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}
	return data, nil
}

// Write implements Backend using temp-file-then-rename for atomicity.
func (b *FileBackend) Write(ctx context.Context, domain string, data []byte) error {
	target := b.statePath(domain)
	tmp, err := os.CreateTemp(b.dir, domain+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename state file into place: %w", err)
	}
	return nil
}

// Lock implements Backend. The lock covers the whole read-modify-write
// cycle; the returned function releases it.
func (b *FileBackend) Lock(ctx context.Context, domain string) (func(), error) {
	lockPath := b.lockPath(domain)
	deadline := time.Now().Add(b.lockTimeout)

	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%s\n", strconv.Itoa(os.Getpid()))
			f.Close()
			return func() { os.Remove(lockPath) }, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("create lock file: %w", err)
		}

		b.breakStaleLock(lockPath)

		if time.Now().After(deadline) {
			return nil, ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(b.retryDelay):
		}
	}
}

// breakStaleLock removes a lock file older than the stale age. The owning
// process is assumed dead; a live holder re-creates its lock on retry.
func (b *FileBackend) breakStaleLock(lockPath string) {
	info, err := os.Stat(lockPath)
	if err != nil {
		return
	}
	if time.Since(info.ModTime()) > b.staleAge {
		os.Remove(lockPath)
	}
}

// Quarantine implements Backend. The live state file is renamed to a
// timestamped .corrupt file next to it so it survives for postmortem.
func (b *FileBackend) Quarantine(ctx context.Context, domain string) error {
	src := b.statePath(domain)
	dst := filepath.Join(b.dir, fmt.Sprintf("%s.corrupt-%d.json", domain, time.Now().UnixNano()))
	if err := os.Rename(src, dst); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("quarantine state file: %w", err)
	}
	return nil
}

// Reset implements Backend.
func (b *FileBackend) Reset(ctx context.Context, domain string) error {
	if err := os.Remove(b.statePath(domain)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove state file: %w", err)
	}
	return nil
}

// Close implements Backend. The file backend holds no open resources.
func (b *FileBackend) Close() error {
	return nil
}

func (b *FileBackend) statePath(domain string) string {
	return filepath.Join(b.dir, domain+".json")
}

func (b *FileBackend) lockPath(domain string) string {
	return filepath.Join(b.dir, domain+".lock")
}
