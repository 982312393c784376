package config

import (
	"fmt"
	"time"
)

// Config is the root configuration.
type Config struct {
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	State    StateConfig    `yaml:"state"`
	Rules    RulesConfig    `yaml:"rules"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Breaker  BreakerConfig  `yaml:"breaker"`
	Tuner    TunerConfig    `yaml:"tuner"`
	Incident IncidentConfig `yaml:"incident"`
	Override OverrideConfig `yaml:"override"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level          string   `yaml:"level"`
	Format         string   `yaml:"format"`
	AddSource      bool     `yaml:"add_source"`
	Redact         bool     `yaml:"redact"`
	RedactPatterns []string `yaml:"redact_patterns"`
}

// MetricsConfig configures Prometheus metric naming.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	Subsystem string `yaml:"subsystem"`
}

// StateConfig configures the persisted state store.
type StateConfig struct {
	// Backend selects "file" or "sqlite".
	Backend string `yaml:"backend"`

	// Dir holds the file backend's state files.
	Dir string `yaml:"dir"`

	// SQLitePath is the sqlite backend's database file.
	SQLitePath string `yaml:"sqlite_path"`

	// LockTimeout bounds lock acquisition before degrading to read-only.
	LockTimeout time.Duration `yaml:"lock_timeout"`
}

// RulesConfig configures the rule source.
type RulesConfig struct {
	// Path is a rule file or directory. Used unless GitURL is set.
	Path string `yaml:"path"`

	// Watch enables hot reload of file-based rules.
	Watch bool `yaml:"watch"`

	// GitURL switches to a git-backed rule source.
	GitURL string `yaml:"git_url"`

	GitBranch   string        `yaml:"git_branch"`
	GitDir      string        `yaml:"git_dir"`
	GitInterval time.Duration `yaml:"git_interval"`

	// Protected adds protected categories beyond those declared in the
	// rule files themselves.
	Protected []string `yaml:"protected"`
}

// LedgerConfig configures the confidence/risk ledger.
type LedgerConfig struct {
	InitialConfidence      float64 `yaml:"initial_confidence"`
	MaxEvidenceEntries     int     `yaml:"max_evidence_entries"`
	MaxCommandHistory      int     `yaml:"max_command_history"`
	DangerRiskStep         float64 `yaml:"danger_risk_step"`
	SafeRiskDecay          float64 `yaml:"safe_risk_decay"`
	ReadBeforeWritePenalty float64 `yaml:"read_before_write_penalty"`
}

// BreakerConfig configures the circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	WindowTurns      int           `yaml:"window_turns"`
	Window           time.Duration `yaml:"window"`
	BaseCooldown     time.Duration `yaml:"base_cooldown"`
	SuccessDecay     int           `yaml:"success_decay"`
}

// TunerConfig configures the auto-tuning controller.
type TunerConfig struct {
	Domain            string `yaml:"domain"`
	BaselineThreshold int    `yaml:"baseline_threshold"`
	TuneInterval      int    `yaml:"tune_interval"`
	ObserveTurns      int    `yaml:"observe_turns"`
}

// IncidentConfig configures the append-only incident log.
type IncidentConfig struct {
	Enabled bool `yaml:"enabled"`

	// SQLitePath stores incidents in SQLite; empty keeps them in memory
	// (effectively per-process, useful only for tests).
	SQLitePath string `yaml:"sqlite_path"`

	RetentionDays int    `yaml:"retention_days"`
	MaxRecords    int    `yaml:"max_records"`
	PruneSchedule string `yaml:"prune_schedule"`
}

// OverrideConfig configures the legacy text override markers scanned at
// the input edge.
type OverrideConfig struct {
	SoftMarker string `yaml:"soft_marker"`
	HardMarker string `yaml:"hard_marker"`
}

// ApplyDefaults fills unset fields with working defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "warden"
	}
	if cfg.State.Backend == "" {
		cfg.State.Backend = "file"
	}
	if cfg.State.Dir == "" {
		cfg.State.Dir = ".warden/state"
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = ".warden/state.db"
	}
	if cfg.State.LockTimeout <= 0 {
		cfg.State.LockTimeout = 2 * time.Second
	}
	if cfg.Rules.Path == "" && cfg.Rules.GitURL == "" {
		cfg.Rules.Path = ".warden/rules"
	}
	if cfg.Rules.GitBranch == "" {
		cfg.Rules.GitBranch = "main"
	}
	if cfg.Rules.GitInterval <= 0 {
		cfg.Rules.GitInterval = time.Minute
	}
	if cfg.Ledger.InitialConfidence <= 0 {
		cfg.Ledger.InitialConfidence = 35
	}
	if cfg.Ledger.MaxEvidenceEntries <= 0 {
		cfg.Ledger.MaxEvidenceEntries = 500
	}
	if cfg.Ledger.MaxCommandHistory <= 0 {
		cfg.Ledger.MaxCommandHistory = 200
	}
	if cfg.Ledger.DangerRiskStep <= 0 {
		cfg.Ledger.DangerRiskStep = 20
	}
	if cfg.Ledger.SafeRiskDecay <= 0 {
		cfg.Ledger.SafeRiskDecay = 2
	}
	if cfg.Ledger.ReadBeforeWritePenalty <= 0 {
		cfg.Ledger.ReadBeforeWritePenalty = 5
	}
	if cfg.Breaker.FailureThreshold <= 0 {
		cfg.Breaker.FailureThreshold = 3
	}
	if cfg.Breaker.WindowTurns <= 0 {
		cfg.Breaker.WindowTurns = 10
	}
	if cfg.Breaker.BaseCooldown <= 0 {
		cfg.Breaker.BaseCooldown = 5 * time.Second
	}
	if cfg.Breaker.SuccessDecay <= 0 {
		cfg.Breaker.SuccessDecay = 5
	}
	if cfg.Tuner.Domain == "" {
		cfg.Tuner.Domain = "default"
	}
	if cfg.Tuner.BaselineThreshold <= 0 {
		cfg.Tuner.BaselineThreshold = 5
	}
	if cfg.Tuner.TuneInterval <= 0 {
		cfg.Tuner.TuneInterval = 50
	}
	if cfg.Tuner.ObserveTurns <= 0 {
		cfg.Tuner.ObserveTurns = 20
	}
	if cfg.Incident.SQLitePath == "" {
		cfg.Incident.SQLitePath = ".warden/incidents.db"
	}
	if cfg.Incident.RetentionDays <= 0 {
		cfg.Incident.RetentionDays = 90
	}
	if cfg.Override.SoftMarker == "" {
		cfg.Override.SoftMarker = "[warden:soft-override]"
	}
	if cfg.Override.HardMarker == "" {
		cfg.Override.HardMarker = "[warden:hard-override]"
	}
}

// Validate rejects configurations the engine cannot run with.
func Validate(cfg *Config) error {
	switch cfg.State.Backend {
	case "file", "sqlite":
	default:
		return fmt.Errorf("state.backend must be \"file\" or \"sqlite\", got %q", cfg.State.Backend)
	}
	switch cfg.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be \"json\" or \"text\", got %q", cfg.Logging.Format)
	}
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q not recognized", cfg.Logging.Level)
	}
	if cfg.Rules.Path == "" && cfg.Rules.GitURL == "" {
		return fmt.Errorf("rules: either path or git_url must be set")
	}
	if cfg.Tuner.TuneInterval < 10 {
		return fmt.Errorf("tuner.tune_interval must be at least 10 turns, got %d", cfg.Tuner.TuneInterval)
	}
	if cfg.Breaker.WindowTurns < 1 {
		return fmt.Errorf("breaker.window_turns must be positive, got %d", cfg.Breaker.WindowTurns)
	}
	if cfg.Ledger.InitialConfidence > 100 {
		return fmt.Errorf("ledger.initial_confidence must be at most 100, got %v", cfg.Ledger.InitialConfidence)
	}
	if cfg.Override.SoftMarker == cfg.Override.HardMarker {
		return fmt.Errorf("override markers must differ")
	}
	return nil
}
