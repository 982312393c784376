package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"mercator-hq/warden/pkg/breaker"
	"mercator-hq/warden/pkg/cli"
	"mercator-hq/warden/pkg/ledger"
	"mercator-hq/warden/pkg/tuner"
)

var resetFlags struct {
	session  string
	tuner    bool
	circuits bool
	all      bool
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset learned state",
	Long: `Reset persisted enforcement state. Operator action only.

Tuner phase, thresholds, circuit-breaker history, and session ledgers
survive process restarts by design; this command is the explicit way to
discard them.

Examples:
  # Reset the auto-tuner for the configured domain
  warden reset --tuner

  # Reset all circuit breakers
  warden reset --circuits

  # Reset one session's confidence ledger
  warden reset --session abc123

  # Reset everything
  warden reset --all`,
	RunE: resetState,
}

func init() {
	rootCmd.AddCommand(resetCmd)

	resetCmd.Flags().StringVar(&resetFlags.session, "session", "", "reset one session's ledger")
	resetCmd.Flags().BoolVar(&resetFlags.tuner, "tuner", false, "reset tuner phase and thresholds")
	resetCmd.Flags().BoolVar(&resetFlags.circuits, "circuits", false, "reset all circuit breakers")
	resetCmd.Flags().BoolVar(&resetFlags.all, "all", false, "reset tuner, circuits, and the named session")
}

func resetState(cmd *cobra.Command, args []string) error {
	if !resetFlags.tuner && !resetFlags.circuits && !resetFlags.all && resetFlags.session == "" {
		return fmt.Errorf("nothing selected: use --tuner, --circuits, --session, or --all")
	}

	cfg, err := loadConfig()
	if err != nil {
		return cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return cli.NewConfigError("logging", err.Error())
	}
	backend, err := newBackend(cfg)
	if err != nil {
		return cli.NewCommandError("reset", err)
	}
	defer backend.Close()

	ctx := context.Background()
	out := cmd.OutOrStdout()

	if resetFlags.tuner || resetFlags.all {
		t := tuner.New(backend, tuner.Config{Domain: cfg.Tuner.Domain}, logger)
		if err := t.Reset(ctx); err != nil {
			return cli.NewCommandError("reset", fmt.Errorf("tuner: %w", err))
		}
		fmt.Fprintf(out, "✓ Tuner state reset (domain %s)\n", cfg.Tuner.Domain)
	}

	if resetFlags.circuits || resetFlags.all {
		b := breaker.New(backend, breaker.Config{}, logger)
		if err := b.ResetAll(ctx); err != nil {
			return cli.NewCommandError("reset", fmt.Errorf("circuits: %w", err))
		}
		fmt.Fprintln(out, "✓ Circuit breakers reset")
	}

	if resetFlags.session != "" {
		l := ledger.New(backend, resetFlags.session, ledger.Config{}, nil, logger)
		if err := l.Reset(ctx); err != nil {
			return cli.NewCommandError("reset", fmt.Errorf("session %s: %w", resetFlags.session, err))
		}
		fmt.Fprintf(out, "✓ Session ledger reset (%s)\n", resetFlags.session)
	}

	return nil
}
