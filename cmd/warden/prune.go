package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"mercator-hq/warden/pkg/cli"
	"mercator-hq/warden/pkg/incident"
)

var pruneFlags struct {
	watch bool
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Prune the incident log",
	Long: `Delete incident records past the configured retention window.

By default prune runs once and exits. With --watch it runs on the
configured cron schedule until interrupted.

Examples:
  # One-shot prune
  warden prune

  # Run on the configured schedule (incident.prune_schedule)
  warden prune --watch`,
	RunE: pruneIncidents,
}

func init() {
	rootCmd.AddCommand(pruneCmd)

	pruneCmd.Flags().BoolVar(&pruneFlags.watch, "watch", false, "run on the configured cron schedule")
}

func pruneIncidents(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
	}
	if !cfg.Incident.Enabled || cfg.Incident.SQLitePath == "" {
		return fmt.Errorf("incident log not enabled; nothing to prune")
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return cli.NewConfigError("logging", err.Error())
	}

	storage, err := newIncidentStorage(cfg, logger)
	if err != nil {
		return cli.NewCommandError("prune", err)
	}
	defer storage.Close()

	pruner := incident.NewPruner(storage, incident.RetentionConfig{
		RetentionDays: cfg.Incident.RetentionDays,
		MaxRecords:    cfg.Incident.MaxRecords,
		Schedule:      cfg.Incident.PruneSchedule,
	}, logger)

	out := cmd.OutOrStdout()

	if pruneFlags.watch {
		if cfg.Incident.PruneSchedule == "" {
			return fmt.Errorf("incident.prune_schedule not configured")
		}
		ctx := cli.SetupSignalHandler()
		scheduler := incident.NewScheduler(pruner)
		if err := scheduler.Start(ctx); err != nil {
			return cli.NewCommandError("prune", err)
		}
		fmt.Fprintf(out, "✓ Retention scheduler running (%s), Ctrl+C to stop\n", cfg.Incident.PruneSchedule)
		<-ctx.Done()
		scheduler.Stop()
		fmt.Fprintln(out, "✓ Scheduler stopped")
		return nil
	}

	deleted, err := pruner.Prune(context.Background())
	if err != nil {
		return cli.NewCommandError("prune", err)
	}
	fmt.Fprintf(out, "✓ Pruned %d incident records (retention %dd)\n", deleted, cfg.Incident.RetentionDays)
	return nil
}
