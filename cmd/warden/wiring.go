package main

import (
	"context"
	"fmt"
	"log/slog"

	"mercator-hq/warden/pkg/config"
	"mercator-hq/warden/pkg/incident"
	"mercator-hq/warden/pkg/rules"
	"mercator-hq/warden/pkg/rules/source"
	"mercator-hq/warden/pkg/statestore"
	"mercator-hq/warden/pkg/telemetry/logging"
	"mercator-hq/warden/pkg/telemetry/metrics"
)

// loadConfig loads the config file, falling back to defaults when it does
// not exist.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*slog.Logger, error) {
	return logging.New(logging.Config{
		Level:          cfg.Logging.Level,
		Format:         cfg.Logging.Format,
		AddSource:      cfg.Logging.AddSource,
		Redact:         cfg.Logging.Redact,
		RedactPatterns: cfg.Logging.RedactPatterns,
	})
}

func newBackend(cfg *config.Config) (statestore.Backend, error) {
	switch cfg.State.Backend {
	case "sqlite":
		return statestore.NewSQLiteBackendWithConfig(statestore.SQLiteBackendConfig{
			DBPath:      cfg.State.SQLitePath,
			LockTimeout: cfg.State.LockTimeout,
		})
	default:
		return statestore.NewFileBackendWithConfig(statestore.FileBackendConfig{
			Dir:         cfg.State.Dir,
			LockTimeout: cfg.State.LockTimeout,
		})
	}
}

// newMetrics builds the engine's metric collector, or nil when metrics are
// disabled. The collector's registry is exposed through Registry() for
// embedding processes; the hook itself only records.
func newMetrics(cfg *config.Config) *metrics.Collector {
	if !cfg.Metrics.Enabled {
		return nil
	}
	return metrics.NewCollector(metrics.Config{
		Namespace: cfg.Metrics.Namespace,
		Subsystem: cfg.Metrics.Subsystem,
	}, nil)
}

// newRuleSource builds the configured rule source. With a git URL the
// source syncs once; a sync failure degrades to the last local copy.
func newRuleSource(ctx context.Context, cfg *config.Config, logger *slog.Logger) (source.Source, error) {
	if cfg.Rules.GitURL != "" {
		git, err := source.NewGitSource(source.GitConfig{
			URL:       cfg.Rules.GitURL,
			Branch:    cfg.Rules.GitBranch,
			LocalPath: cfg.Rules.GitDir,
			RulesDir:  cfg.Rules.Path,
		}, logger)
		if err != nil {
			return nil, err
		}
		if _, err := git.Sync(ctx); err != nil {
			logger.Warn("rule repository sync failed, using local copy", "error", err)
		}
		return git, nil
	}
	return source.NewFileSource(cfg.Rules.Path, logger), nil
}

// loadRegistry loads the rule set into a fresh registry. Categories marked
// protected in config merge with those declared in the rule files.
func loadRegistry(ctx context.Context, cfg *config.Config, src source.Source, logger *slog.Logger) (*rules.Registry, error) {
	registry := rules.NewRegistry(logger)
	if src == nil {
		return registry, fmt.Errorf("no rule source")
	}
	ruleset, err := src.Load(ctx)
	if err != nil {
		return registry, fmt.Errorf("loading rules: %w", err)
	}
	protected := append([]string{}, ruleset.Protected...)
	protected = append(protected, cfg.Rules.Protected...)
	registry.Load(ruleset.Definitions, protected)
	return registry, nil
}

// newIncidentStorage builds the configured incident storage. The returned
// closer is a no-op for memory storage.
func newIncidentStorage(cfg *config.Config, logger *slog.Logger) (incident.Storage, error) {
	if !cfg.Incident.Enabled || cfg.Incident.SQLitePath == "" {
		return incident.NewMemoryStorage(), nil
	}
	return incident.NewSQLiteStorage(incident.DefaultSQLiteConfig(cfg.Incident.SQLitePath), logger)
}
