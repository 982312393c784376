package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"mercator-hq/warden/pkg/cli"
	"mercator-hq/warden/pkg/rules"
	"mercator-hq/warden/pkg/rules/source"
	"mercator-hq/warden/pkg/telemetry/logging"
)

var validateFlags struct {
	file   string
	format string
	watch  bool
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate rule files",
	Long: `Validate warden rule files for syntax and semantic errors.

The validate command parses rule files and compiles every definition:
  - YAML syntax validation
  - Required fields (id, category, level, events, require)
  - Known event types and enforcement levels

Examples:
  # Validate the configured rule source
  warden validate

  # Validate a specific file or directory
  warden validate --file rules.yaml
  warden validate --file rules/

  # JSON output for CI
  warden validate --format json

  # Re-validate whenever the rules change (git sources poll the remote)
  warden validate --watch`,
	RunE: validateRules,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringVarP(&validateFlags.file, "file", "f", "", "rule file or directory (default: configured source)")
	validateCmd.Flags().StringVar(&validateFlags.format, "format", "text", "output format: text, json")
	validateCmd.Flags().BoolVar(&validateFlags.watch, "watch", false, "re-validate on rule changes until interrupted")
}

// RuleReport is the validation result for one rule definition.
type RuleReport struct {
	ID       string `json:"id,omitempty"`
	Category string `json:"category,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ValidationReport summarizes one validation run.
type ValidationReport struct {
	Source    string       `json:"source"`
	Rules     int          `json:"rules"`
	Errors    int          `json:"errors"`
	Protected []string     `json:"protected_categories,omitempty"`
	Invalid   []RuleReport `json:"invalid,omitempty"`
}

func validateRules(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
	}

	logger, err := newLogger(cfg)
	if err != nil {
		logger, _ = logging.New(logging.Config{})
	}

	path := validateFlags.file
	var src source.Source
	ctx := context.Background()
	if path != "" {
		src = source.NewFileSource(path, logger)
	} else {
		path = cfg.Rules.Path
		if cfg.Rules.GitURL != "" {
			path = cfg.Rules.GitURL
		}
		src, err = newRuleSource(ctx, cfg, logger)
		if err != nil {
			return cli.NewCommandError("validate", err)
		}
	}

	out := cmd.OutOrStdout()
	report, err := buildReport(ctx, src, path)
	if err != nil {
		return cli.NewCommandError("validate", err)
	}
	if err := emitReport(out, report); err != nil {
		return err
	}

	// rules.watch turns on watch mode for the configured source; an
	// explicit --file needs the flag.
	if validateFlags.watch || (validateFlags.file == "" && cfg.Rules.Watch) {
		return watchRules(cli.SetupSignalHandler(), out, src, path, cfg.Rules.GitInterval)
	}

	if report.Errors > 0 {
		return fmt.Errorf("%d of %d rule definitions invalid", report.Errors, report.Errors+report.Rules)
	}
	return nil
}

// buildReport loads the rule set and compiles every definition.
func buildReport(ctx context.Context, src source.Source, path string) (ValidationReport, error) {
	ruleset, err := src.Load(ctx)
	if err != nil {
		return ValidationReport{}, err
	}
	report := ValidationReport{Source: path, Protected: ruleset.Protected}
	for _, def := range ruleset.Definitions {
		if _, err := rules.Compile(def); err != nil {
			report.Errors++
			report.Invalid = append(report.Invalid, RuleReport{
				ID:       def.ID,
				Category: def.Category,
				Error:    err.Error(),
			})
			continue
		}
		report.Rules++
	}
	return report, nil
}

func emitReport(w io.Writer, report ValidationReport) error {
	if validateFlags.format == "json" {
		return cli.NewFormatter(cli.FormatJSON).FormatTo(w, report)
	}
	printReport(w, report)
	return nil
}

// watchRules re-validates after every rule change until the context is
// cancelled. File sources use filesystem notification; git sources poll the
// remote on the configured interval.
func watchRules(ctx context.Context, out io.Writer, src source.Source, path string, gitInterval time.Duration) error {
	reload := func() error {
		report, err := buildReport(ctx, src, path)
		if err != nil {
			fmt.Fprintf(out, "✗ reload failed: %v\n", err)
			return nil
		}
		return emitReport(out, report)
	}

	fmt.Fprintln(out, "Watching for rule changes, Ctrl+C to stop")
	switch s := src.(type) {
	case *source.FileSource:
		return s.Watch(ctx, reload)
	case *source.GitSource:
		return s.Poll(ctx, gitInterval, reload)
	default:
		return fmt.Errorf("rule source %T does not support watching", src)
	}
}

func printReport(w io.Writer, report ValidationReport) {
	fmt.Fprintf(w, "Source: %s\n", report.Source)
	fmt.Fprintf(w, "Valid rules: %d\n", report.Rules)
	if len(report.Protected) > 0 {
		fmt.Fprintf(w, "Protected categories: %v\n", report.Protected)
	}
	if report.Errors == 0 {
		fmt.Fprintln(w, "✓ All rule definitions valid")
		return
	}
	fmt.Fprintf(w, "Errors: %d\n", report.Errors)
	for _, bad := range report.Invalid {
		fmt.Fprintf(w, "  ✗ %s\n", bad.Error)
	}
}
