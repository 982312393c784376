package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"mercator-hq/warden/pkg/breaker"
	"mercator-hq/warden/pkg/cli"
	"mercator-hq/warden/pkg/enforce"
	"mercator-hq/warden/pkg/incident"
	"mercator-hq/warden/pkg/ledger"
	"mercator-hq/warden/pkg/tuner"
)

// maxEventBytes bounds the stdin read. Agent events above this are almost
// certainly malformed or hostile.
const maxEventBytes = 1 << 20

var hookFlags struct {
	timeout time.Duration
}

var hookCmd = &cobra.Command{
	Use:   "hook",
	Short: "Gate one tool call",
	Long: `Read one JSON event record from stdin and write the decision to stdout.

The hook command is the integration point for agent runtimes: wire it as a
pre-tool and post-tool hook. It reads a single event, runs the enforcement
pipeline, and prints a decision payload.

The process always exits 0. Internal failures fail open: the decision is
"allow" with an advisory explaining the degradation. The only fail-closed
paths are dangerous-command detection and protected-category blocks.

Examples:
  # Gate a pre-tool event
  echo '{"event_type":"pre_tool","turn":4,"tool_name":"Bash",
        "tool_input":"rm -rf /","session_id":"s1"}' | warden hook

  # Feed back a tool result
  warden hook < post_tool.json`,
	RunE: runHook,
}

func init() {
	rootCmd.AddCommand(hookCmd)

	hookCmd.Flags().DurationVar(&hookFlags.timeout, "timeout", 5*time.Second, "decision deadline")
}

func runHook(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), hookFlags.timeout)
	defer cancel()

	raw, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), maxEventBytes))
	if err != nil {
		return emitDecision(cmd.OutOrStdout(),
			enforce.AllowWithAdvisory(fmt.Sprintf("input unreadable (%v); action permitted", err)))
	}

	return emitDecision(cmd.OutOrStdout(), decide(ctx, raw))
}

// decide builds the engine from config and runs the pipeline. Every setup
// failure degrades to an allow decision with an advisory; the decision
// itself may still deny.
func decide(ctx context.Context, raw []byte) *enforce.Decision {
	cfg, err := loadConfig()
	if err != nil {
		return enforce.AllowWithAdvisory(fmt.Sprintf("configuration unreadable (%v); action permitted", err))
	}

	logger, err := newLogger(cfg)
	if err != nil {
		logger = slog.Default()
		logger.Warn("logger configuration invalid, using default", "error", err)
	}

	backend, err := newBackend(cfg)
	if err != nil {
		return enforce.AllowWithAdvisory(fmt.Sprintf("state store unavailable (%v); action permitted", err))
	}
	defer backend.Close()

	// A rule-loading failure leaves an empty registry: rule checks degrade
	// but the ledger's danger detection still runs.
	src, err := newRuleSource(ctx, cfg, logger)
	if err != nil {
		logger.Warn("rule source unavailable, running without rules", "error", err)
	}
	registry, err := loadRegistry(ctx, cfg, src, logger)
	if err != nil {
		logger.Warn("rules not loaded", "error", err)
	}

	storage, err := newIncidentStorage(cfg, logger)
	if err != nil {
		logger.Warn("incident storage unavailable, using memory", "error", err)
		storage = incident.NewMemoryStorage()
	}
	defer storage.Close()

	engine, err := enforce.New(enforce.Options{
		Backend:  backend,
		Registry: registry,
		LedgerConfig: ledger.Config{
			InitialConfidence:      cfg.Ledger.InitialConfidence,
			MaxEvidenceEntries:     cfg.Ledger.MaxEvidenceEntries,
			MaxCommandHistory:      cfg.Ledger.MaxCommandHistory,
			DangerRiskStep:         cfg.Ledger.DangerRiskStep,
			SafeRiskDecay:          cfg.Ledger.SafeRiskDecay,
			ReadBeforeWritePenalty: cfg.Ledger.ReadBeforeWritePenalty,
		},
		BreakerConfig: breaker.Config{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			WindowTurns:      cfg.Breaker.WindowTurns,
			Window:           cfg.Breaker.Window,
			BaseCooldown:     cfg.Breaker.BaseCooldown,
			SuccessDecay:     cfg.Breaker.SuccessDecay,
		},
		TunerConfig: tuner.Config{
			Domain:            cfg.Tuner.Domain,
			BaselineThreshold: cfg.Tuner.BaselineThreshold,
			TuneInterval:      cfg.Tuner.TuneInterval,
			ObserveTurns:      cfg.Tuner.ObserveTurns,
		},
		Incidents: incident.NewLog(storage, logger),
		Metrics:   newMetrics(cfg),
		Markers: enforce.MarkerConfig{
			Soft: cfg.Override.SoftMarker,
			Hard: cfg.Override.HardMarker,
		},
		Logger: logger,
	})
	if err != nil {
		return enforce.AllowWithAdvisory(fmt.Sprintf("engine unavailable (%v); action permitted", err))
	}

	return engine.Handle(ctx, raw)
}

// emitDecision writes the decision payload to stdout. The hook contract is
// exit 0 with the outcome in the payload, so emit failures are the only
// errors runHook surfaces.
func emitDecision(w io.Writer, d *enforce.Decision) error {
	return cli.NewFormatter(cli.FormatJSON).FormatTo(w, d)
}
