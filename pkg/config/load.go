package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Default returns the default configuration, validated.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// Load reads the YAML file at path, applies defaults and WARDEN_* env
// overrides, and validates the result. An empty path or a missing file
// yields the defaults (still subject to env overrides).
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Defaults apply.
		case err != nil:
			return nil, fmt.Errorf("read config file %q: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config file %q: %w", path, err)
			}
		}
	}

	ApplyDefaults(cfg)
	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies WARDEN_SECTION_FIELD environment variables.
// Environment always wins over the file.
func applyEnvOverrides(cfg *Config) {
	setString(&cfg.Logging.Level, "WARDEN_LOGGING_LEVEL")
	setString(&cfg.Logging.Format, "WARDEN_LOGGING_FORMAT")
	setBool(&cfg.Logging.Redact, "WARDEN_LOGGING_REDACT")

	setBool(&cfg.Metrics.Enabled, "WARDEN_METRICS_ENABLED")
	setString(&cfg.Metrics.Namespace, "WARDEN_METRICS_NAMESPACE")
	setString(&cfg.Metrics.Subsystem, "WARDEN_METRICS_SUBSYSTEM")

	setString(&cfg.State.Backend, "WARDEN_STATE_BACKEND")
	setString(&cfg.State.Dir, "WARDEN_STATE_DIR")
	setString(&cfg.State.SQLitePath, "WARDEN_STATE_SQLITE_PATH")
	setDuration(&cfg.State.LockTimeout, "WARDEN_STATE_LOCK_TIMEOUT")

	setString(&cfg.Rules.Path, "WARDEN_RULES_PATH")
	setBool(&cfg.Rules.Watch, "WARDEN_RULES_WATCH")
	setString(&cfg.Rules.GitURL, "WARDEN_RULES_GIT_URL")
	setString(&cfg.Rules.GitBranch, "WARDEN_RULES_GIT_BRANCH")

	setFloat(&cfg.Ledger.InitialConfidence, "WARDEN_LEDGER_INITIAL_CONFIDENCE")
	setInt(&cfg.Ledger.MaxEvidenceEntries, "WARDEN_LEDGER_MAX_EVIDENCE_ENTRIES")
	setFloat(&cfg.Ledger.DangerRiskStep, "WARDEN_LEDGER_DANGER_RISK_STEP")

	setInt(&cfg.Breaker.FailureThreshold, "WARDEN_BREAKER_FAILURE_THRESHOLD")
	setInt(&cfg.Breaker.WindowTurns, "WARDEN_BREAKER_WINDOW_TURNS")
	setDuration(&cfg.Breaker.BaseCooldown, "WARDEN_BREAKER_BASE_COOLDOWN")

	setString(&cfg.Tuner.Domain, "WARDEN_TUNER_DOMAIN")
	setInt(&cfg.Tuner.BaselineThreshold, "WARDEN_TUNER_BASELINE_THRESHOLD")
	setInt(&cfg.Tuner.TuneInterval, "WARDEN_TUNER_TUNE_INTERVAL")
	setInt(&cfg.Tuner.ObserveTurns, "WARDEN_TUNER_OBSERVE_TURNS")

	setBool(&cfg.Incident.Enabled, "WARDEN_INCIDENT_ENABLED")
	setString(&cfg.Incident.SQLitePath, "WARDEN_INCIDENT_SQLITE_PATH")
	setInt(&cfg.Incident.RetentionDays, "WARDEN_INCIDENT_RETENTION_DAYS")
	setString(&cfg.Incident.PruneSchedule, "WARDEN_INCIDENT_PRUNE_SCHEDULE")
}

func setString(dst *string, key string) {
	if val := os.Getenv(key); val != "" {
		*dst = val
	}
}

func setInt(dst *int, key string) {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			*dst = i
		}
	}
}

func setFloat(dst *float64, key string) {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}
