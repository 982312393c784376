package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// GitConfig configures a GitSource.
type GitConfig struct {
	// URL is the remote repository URL. Required.
	URL string

	// Branch is the branch to track. Default: main.
	Branch string

	// LocalPath is where the clone lives. Default: a directory under the
	// OS temp dir derived from the branch name.
	LocalPath string

	// RulesDir is the subdirectory holding rule files. Empty means the
	// repository root.
	RulesDir string

	// Depth enables shallow clones when >0.
	Depth int

	// Timeout bounds clone and pull operations. Default: 30s.
	Timeout time.Duration
}

// GitSource keeps a local clone of a rule repository and serves its rule
// files through an embedded FileSource.
type GitSource struct {
	cfg    GitConfig
	files  *FileSource
	logger *slog.Logger

	mu   sync.Mutex
	repo *gogit.Repository
}

// NewGitSource creates a git-backed rule source. Sync must be called
// before the first Load.
func NewGitSource(cfg GitConfig, logger *slog.Logger) (*GitSource, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("git rule source: repository URL required")
	}
	if cfg.Branch == "" {
		cfg.Branch = "main"
	}
	if cfg.LocalPath == "" {
		cfg.LocalPath = filepath.Join(os.TempDir(), "warden-rules-"+cfg.Branch)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GitSource{
		cfg:    cfg,
		files:  NewFileSource(filepath.Join(cfg.LocalPath, cfg.RulesDir), logger),
		logger: logger.With("component", "rulesource", "repo", cfg.URL, "branch", cfg.Branch),
	}, nil
}

// Sync clones the repository, or pulls when a clone already exists.
// Returns true when the sync brought in new commits.
func (s *GitSource) Sync(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	if s.repo == nil {
		if repo, err := gogit.PlainOpen(s.cfg.LocalPath); err == nil {
			s.repo = repo
		}
	}

	if s.repo == nil {
		repo, err := gogit.PlainCloneContext(ctx, s.cfg.LocalPath, false, &gogit.CloneOptions{
			URL:           s.cfg.URL,
			ReferenceName: plumbing.NewBranchReferenceName(s.cfg.Branch),
			SingleBranch:  true,
			Depth:         s.cfg.Depth,
		})
		if err != nil {
			return false, fmt.Errorf("clone rule repository: %w", err)
		}
		s.repo = repo
		s.logger.Info("rule repository cloned", "path", s.cfg.LocalPath)
		return true, nil
	}

	wt, err := s.repo.Worktree()
	if err != nil {
		return false, fmt.Errorf("open worktree: %w", err)
	}
	err = wt.PullContext(ctx, &gogit.PullOptions{
		ReferenceName: plumbing.NewBranchReferenceName(s.cfg.Branch),
		SingleBranch:  true,
	})
	if errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("pull rule repository: %w", err)
	}
	s.logger.Info("rule repository updated")
	return true, nil
}

// Head returns the commit hash the clone is at, for decision provenance.
func (s *GitSource) Head() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.repo == nil {
		return "", fmt.Errorf("rule repository not synced")
	}
	ref, err := s.repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolve HEAD: %w", err)
	}
	return ref.Hash().String(), nil
}

// Load implements Source by reading the clone's rule files.
func (s *GitSource) Load(ctx context.Context) (*RuleSet, error) {
	return s.files.Load(ctx)
}

// Poll pulls on the given interval and invokes onChange after every sync
// that brought new commits. It blocks until the context is cancelled.
func (s *GitSource) Poll(ctx context.Context, interval time.Duration, onChange func() error) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			changed, err := s.Sync(ctx)
			if err != nil {
				s.logger.Warn("rule repository sync failed", "error", err)
				continue
			}
			if changed {
				if err := onChange(); err != nil {
					s.logger.Warn("rule reload failed", "error", err)
				}
			}
		}
	}
}
