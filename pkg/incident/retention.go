package incident

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// RetentionConfig controls how much incident history is kept.
type RetentionConfig struct {
	// RetentionDays deletes records older than this many days. Zero keeps
	// everything regardless of age.
	RetentionDays int

	// MaxRecords trims the log to the newest N records. Zero means no
	// count limit.
	MaxRecords int

	// Schedule is a standard cron expression for automatic pruning, e.g.
	// "0 3 * * *" for daily at 03:00. Empty disables the scheduler.
	Schedule string
}

// Pruner applies the retention policy to a Storage.
type Pruner struct {
	storage Storage
	cfg     RetentionConfig
	logger  *slog.Logger
}

// NewPruner creates a pruner for the given storage.
func NewPruner(storage Storage, cfg RetentionConfig, logger *slog.Logger) *Pruner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pruner{
		storage: storage,
		cfg:     cfg,
		logger:  logger.With("component", "incident.retention"),
	}
}

// Prune runs one retention pass and returns the number of deleted records.
func (p *Pruner) Prune(ctx context.Context) (int, error) {
	cutoff := time.Time{}
	if p.cfg.RetentionDays > 0 {
		cutoff = time.Now().AddDate(0, 0, -p.cfg.RetentionDays)
	}
	deleted, err := p.storage.Prune(ctx, cutoff, p.cfg.MaxRecords)
	if err != nil {
		return deleted, err
	}
	if deleted > 0 {
		p.logger.Info("incident log pruned", "deleted", deleted,
			"retention_days", p.cfg.RetentionDays, "max_records", p.cfg.MaxRecords)
	}
	return deleted, nil
}

// Scheduler runs the pruner on its cron schedule.
type Scheduler struct {
	pruner *Pruner
	cron   *cron.Cron
	logger *slog.Logger

	mu      sync.Mutex
	running bool
}

// NewScheduler creates a scheduler over the pruner.
func NewScheduler(pruner *Pruner) *Scheduler {
	return &Scheduler{
		pruner: pruner,
		cron:   cron.New(),
		logger: pruner.logger,
	}
}

// Start begins scheduled pruning. A missing schedule is not an error; the
// scheduler simply stays idle. Start returns immediately; the scheduler
// stops when the context is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	schedule := s.pruner.cfg.Schedule
	if schedule == "" {
		s.logger.Info("prune schedule not configured, scheduler idle")
		return nil
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("invalid prune schedule %q: %w", schedule, err)
	}

	_, err := s.cron.AddFunc(schedule, func() {
		if _, err := s.pruner.Prune(ctx); err != nil {
			s.logger.Error("scheduled prune failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule pruning: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("retention scheduler started", "schedule", schedule)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop halts the scheduler and waits for a running prune to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info("retention scheduler stopped")
}
