package enforce

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"mercator-hq/warden/pkg/breaker"
	"mercator-hq/warden/pkg/event"
	"mercator-hq/warden/pkg/features"
	"mercator-hq/warden/pkg/incident"
	"mercator-hq/warden/pkg/ledger"
	"mercator-hq/warden/pkg/rules"
	"mercator-hq/warden/pkg/statestore"
	"mercator-hq/warden/pkg/telemetry/metrics"
	"mercator-hq/warden/pkg/tuner"
)

// Options wires an Engine. Backend and Registry are required; everything
// else has a working default.
type Options struct {
	// Backend is the shared state store for ledger, tuner, and breaker
	// state.
	Backend statestore.Backend

	// Registry holds the loaded rule set.
	Registry *rules.Registry

	// Extractor turns snapshots into typed features. Default:
	// features.NewRegexExtractor().
	Extractor features.Extractor

	// LedgerConfig, BreakerConfig, and TunerConfig tune the respective
	// components.
	LedgerConfig  ledger.Config
	BreakerConfig breaker.Config
	TunerConfig   tuner.Config

	// Incidents receives trip, phase-change, and denial records. Default:
	// a log over in-memory storage.
	Incidents *incident.Log

	// Metrics receives engine metrics. Nil disables recording.
	Metrics *metrics.Collector

	// Arbiter handles risk-saturation escalations. Default: deny.
	Arbiter ledger.Arbiter

	// Markers are the legacy text override markers scanned at the edge.
	Markers MarkerConfig

	Logger *slog.Logger
}

// Engine is the enforcement coordinator.
type Engine struct {
	backend   statestore.Backend
	registry  *rules.Registry
	extractor features.Extractor
	breaker   *breaker.Breaker
	tuner     *tuner.Tuner
	incidents *incident.Log
	metrics   *metrics.Collector
	arbiter   ledger.Arbiter
	markers   MarkerConfig
	ledgerCfg ledger.Config
	logger    *slog.Logger

	mu      sync.Mutex
	ledgers map[string]*ledger.Ledger
}

// New creates an Engine from the options.
func New(opts Options) (*Engine, error) {
	if opts.Backend == nil {
		return nil, fmt.Errorf("enforce: state backend required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("enforce: rule registry required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	extractor := opts.Extractor
	if extractor == nil {
		extractor = features.NewRegexExtractor(logger)
	}
	incidents := opts.Incidents
	if incidents == nil {
		incidents = incident.NewLog(incident.NewMemoryStorage(), logger)
	}

	e := &Engine{
		backend:   opts.Backend,
		registry:  opts.Registry,
		extractor: extractor,
		breaker:   breaker.New(opts.Backend, opts.BreakerConfig, logger),
		tuner:     tuner.New(opts.Backend, opts.TunerConfig, logger),
		incidents: incidents,
		metrics:   opts.Metrics,
		arbiter:   opts.Arbiter,
		markers:   opts.Markers,
		ledgerCfg: opts.LedgerConfig,
		logger:    logger.With("component", "enforce"),
		ledgers:   make(map[string]*ledger.Ledger),
	}

	e.breaker.OnTrip(func(circuit string, state *breaker.CircuitState) {
		e.incidents.CircuitTrip(context.Background(), "", circuit, state.TripCount, state.BackoffLevel)
		if e.metrics != nil {
			e.metrics.RecordBreakerTrip(circuit)
		}
	})
	e.tuner.OnPhaseChange(func(change tuner.PhaseChange) {
		e.incidents.PhaseChange(context.Background(), e.tuner.Domain(),
			string(change.From), string(change.To), change.Reason)
		if e.metrics != nil {
			e.metrics.SetTunerPhase(e.tuner.Domain(), phaseValue(change.To))
		}
	})
	e.tuner.OnAdjustment(func(adj tuner.Adjustment) {
		e.incidents.ThresholdAdjustment(context.Background(), e.tuner.Domain(),
			adj.From, adj.To, adj.Reason)
		if e.metrics != nil {
			direction := "tighten"
			if adj.To > adj.From {
				direction = "loosen"
			}
			e.metrics.RecordTunerAdjustment(e.tuner.Domain(), direction)
			e.metrics.SetTunerThreshold(e.tuner.Domain(), float64(adj.To))
		}
	})

	return e, nil
}

// Handle decodes one input record and produces the decision for it.
// Malformed input yields allow plus a diagnostic advisory; Handle never
// returns an error to the caller.
func (e *Engine) Handle(ctx context.Context, raw []byte) *Decision {
	start := time.Now()
	snap, err := event.ParseRecord(raw)
	if err != nil {
		e.logger.Warn("input record not understood, allowing", "error", err)
		d := AllowWithAdvisory(fmt.Sprintf("input not understood (%v); action permitted", err))
		e.recordDecision(d, start)
		return d
	}
	d := e.HandleSnapshot(ctx, snap, nil)
	e.recordDecision(d, start)
	return d
}

// HandleSnapshot runs the decision pipeline for an already-built snapshot.
// A nil override falls back to scanning the event text for the legacy
// markers.
func (e *Engine) HandleSnapshot(ctx context.Context, snap *event.Snapshot, override *Override) *Decision {
	if override == nil {
		override = ScanMarkers(snap.Text(), e.markers)
	}

	switch snap.Type {
	case event.TypeSessionStart:
		// Touching the ledger materializes the session's state file.
		e.ledgerFor(snap.SessionID).Snapshot(ctx)
		return Allow()

	case event.TypeSessionEnd:
		if err := e.ledgerFor(snap.SessionID).Archive(ctx); err != nil {
			e.logger.Warn("session ledger not archived", "session", snap.SessionID, "error", err)
		}
		return Allow()

	case event.TypePreTool:
		return e.gate(ctx, snap, override)

	case event.TypePostTool:
		e.feedback(ctx, snap)
		return e.advise(ctx, snap)

	case event.TypeUserPrompt:
		return e.advise(ctx, snap)

	default:
		return Allow()
	}
}

// gate is the pre-tool decision pipeline.
func (e *Engine) gate(ctx context.Context, snap *event.Snapshot, override *Override) *Decision {
	set, err := e.extractor.Extract(ctx, snap)
	if err != nil {
		e.logger.Warn("feature extraction degraded", "error", err)
		if set == nil {
			set = features.NewSet()
		}
	}
	led := e.ledgerFor(snap.SessionID)

	// Confidence gate first: it hosts the one check that must hold even
	// when everything else is on fire.
	gate := led.CheckGate(ctx, ledger.GateRequest{
		Tool:     snap.ToolName,
		Input:    snap.ToolInput,
		Path:     targetPath(snap),
		Turn:     snap.Turn,
		Features: set,
	})
	var lifted string
	if !gate.Allowed {
		check := gateCheckLabel(gate)
		if e.metrics != nil {
			e.metrics.RecordGateDenial(check)
			if gate.Escalated {
				e.metrics.RecordEscalation()
			}
		}
		if gate.Escalated {
			e.incidents.Escalation(ctx, snap.SessionID, snap.ToolName, "denied")
		}
		if gate.Bypassable && override != nil && override.Scope == ScopeHard {
			// The override lifts the gate only. The breaker and the rules
			// still run, so a protected match downstream can still deny.
			e.logger.Info("confidence gate bypassed by hard override",
				"session", snap.SessionID, "check", check)
			lifted = gate.Reason
		} else {
			e.incidents.Denied(ctx, snap.SessionID, check, gate.Reason)
			return Deny(gate.Reason)
		}
	}

	// Circuit breaker.
	circuit := circuitName(snap)
	verdict := e.breaker.Check(ctx, circuit, time.Now())
	if verdict == breaker.VerdictBlock {
		reason := fmt.Sprintf("circuit %q is open after repeated failures; wait for the cooldown or fix the failing action", circuit)
		if override != nil && override.Scope == ScopeHard {
			lifted = reason
		} else {
			e.incidents.Denied(ctx, snap.SessionID, circuit, reason)
			return Deny(reason)
		}
	}

	// Rules under the current enforcement phase.
	matches := e.registry.Evaluate(ctx, snap, set)
	if len(matches) == 0 {
		if lifted != "" {
			return AllowWithAdvisory(fmt.Sprintf("overridden: %s", lifted))
		}
		return Allow()
	}
	state := e.tuner.Snapshot(ctx)
	for _, m := range matches {
		if err := e.tuner.RecordOccurrence(ctx, m.Category, snap.Turn); err != nil {
			e.logger.Warn("occurrence not recorded", "category", m.Category, "error", err)
		}
		if e.metrics != nil {
			e.metrics.RecordRuleMatch(m.Category, m.Level.String())
		}
	}

	d := e.resolve(ctx, snap, matches, state, override)
	if lifted != "" && d.Decision == OutcomeAllow && d.Advisory == "" {
		d.Advisory = fmt.Sprintf("overridden: %s", lifted)
	}
	return d
}

// advise evaluates rules on non-gating events. Only pre_tool events can be
// denied; here the top match surfaces as an advisory at most.
func (e *Engine) advise(ctx context.Context, snap *event.Snapshot) *Decision {
	set, err := e.extractor.Extract(ctx, snap)
	if err != nil || set == nil {
		set = features.NewSet()
	}
	matches := e.registry.Evaluate(ctx, snap, set)
	if len(matches) == 0 {
		return Allow()
	}
	state := e.tuner.Snapshot(ctx)
	for _, m := range matches {
		if err := e.tuner.RecordOccurrence(ctx, m.Category, snap.Turn); err != nil {
			e.logger.Warn("occurrence not recorded", "category", m.Category, "error", err)
		}
		if e.metrics != nil {
			e.metrics.RecordRuleMatch(m.Category, m.Level.String())
		}
	}

	top := matches[0]
	level := top.Level
	if !e.registry.Protected(top.Category) {
		level = e.capLevel(level, top.Category, state)
	}
	if level >= rules.LevelSuggest {
		d := AllowWithAdvisory(top.Message)
		d.RuleID, d.Category = top.RuleID, top.Category
		return d
	}
	return Allow()
}

// resolve turns ranked matches into one decision, applying phase caps and
// override semantics.
func (e *Engine) resolve(ctx context.Context, snap *event.Snapshot, matches []rules.Match, state *tuner.State, override *Override) *Decision {
	top := matches[0]
	protected := e.registry.Protected(top.Category)
	level := top.Level
	if !protected {
		level = e.capLevel(level, top.Category, state)
	}

	overrideApplies := override != nil &&
		(override.Category == "" || override.Category == top.Category)

	if level == rules.LevelBlock {
		if protected {
			// Non-bypassable: no override scope lifts a protected BLOCK.
			d := Deny(fmt.Sprintf("%s (rule %s, protected category %s); this decision cannot be overridden",
				top.Message, top.RuleID, top.Category))
			d.RuleID, d.Category = top.RuleID, top.Category
			e.incidents.Denied(ctx, snap.SessionID, top.RuleID, d.Reason)
			return d
		}
		if overrideApplies {
			e.recordOverride(ctx, snap, top, override)
			return AllowWithAdvisory(fmt.Sprintf("overridden: %s (rule %s)", top.Message, top.RuleID))
		}
		d := Deny(fmt.Sprintf("%s (rule %s, category %s); current threshold %d; to contest a false positive, include %s",
			top.Message, top.RuleID, top.Category, state.Threshold, e.markers.Soft))
		d.RuleID, d.Category = top.RuleID, top.Category
		e.incidents.Denied(ctx, snap.SessionID, top.RuleID, d.Reason)
		return d
	}

	if level == rules.LevelWarn || level == rules.LevelSuggest {
		if overrideApplies && override.Scope == ScopeSoft {
			e.recordOverride(ctx, snap, top, override)
			return Allow()
		}
		d := AllowWithAdvisory(top.Message)
		d.RuleID, d.Category = top.RuleID, top.Category
		return d
	}

	return Allow()
}

// capLevel applies the enforcement phase to a non-protected match level.
func (e *Engine) capLevel(level rules.Level, category string, state *tuner.State) rules.Level {
	switch state.Phase {
	case tuner.PhaseObserve:
		return rules.LevelObserve
	case tuner.PhaseWarn:
		if level > rules.LevelWarn {
			return rules.LevelWarn
		}
	case tuner.PhaseEnforce:
		if level == rules.LevelBlock && !state.CanBlock(category) {
			return rules.LevelWarn
		}
	}
	return level
}

// recordOverride logs an override signal into the tuner as a possible
// false positive.
func (e *Engine) recordOverride(ctx context.Context, snap *event.Snapshot, m rules.Match, override *Override) {
	err := e.tuner.RecordOutcome(ctx, tuner.Outcome{
		Pattern:      m.Category,
		Turn:         snap.Turn,
		Overridden:   true,
		SoftOverride: override.Scope == ScopeSoft,
	})
	if err != nil {
		e.logger.Warn("override not recorded", "category", m.Category, "error", err)
	}
	e.logger.Info("decision overridden",
		"session", snap.SessionID, "rule", m.RuleID, "scope", override.Scope)
}

// feedback folds a completed tool call back into breaker and ledger state.
func (e *Engine) feedback(ctx context.Context, snap *event.Snapshot) {
	set, err := e.extractor.Extract(ctx, snap)
	if err != nil || set == nil {
		set = features.NewSet()
	}
	led := e.ledgerFor(snap.SessionID)
	circuit := circuitName(snap)
	now := time.Now()

	if snap.Failed() {
		if err := e.breaker.RecordFailure(ctx, circuit, snap.Turn, now); err != nil {
			e.logger.Warn("failure not recorded", "circuit", circuit, "error", err)
		}
		if set.Has(features.FeatureToolCommand) {
			if err := led.RecordCommand(ctx, snap.ToolInput, snap.Turn, true); err != nil {
				e.logger.Warn("command not recorded", "error", err)
			}
		}
		return
	}

	if err := e.breaker.RecordSuccess(ctx, circuit, snap.Turn, now); err != nil {
		e.logger.Warn("success not recorded", "circuit", circuit, "error", err)
	}

	switch {
	case set.Has(features.FeatureCmdTestRun):
		e.recordEvidence(ctx, led, ledger.EvidenceTestsRun, snap.ToolInput, snap.Turn)
	case set.Has(features.FeatureToolRead):
		e.recordEvidence(ctx, led, ledger.EvidenceFileRead, targetPath(snap), snap.Turn)
	case set.Has(features.FeatureToolNetwork):
		e.recordEvidence(ctx, led, ledger.EvidenceAPIProbe, snap.ToolName, snap.Turn)
	}
	if set.Has(features.FeatureToolCommand) {
		if err := led.RecordCommand(ctx, snap.ToolInput, snap.Turn, false); err != nil {
			e.logger.Warn("command not recorded", "error", err)
		}
	}
	if err := led.RecordSafeCompletion(ctx, snap.Turn); err != nil {
		e.logger.Warn("safe completion not recorded", "error", err)
	}
}

// RecordOutcome forwards remediation feedback to the tuner. Callers use
// it when they learn whether an intervention helped.
func (e *Engine) RecordOutcome(ctx context.Context, o tuner.Outcome) error {
	return e.tuner.RecordOutcome(ctx, o)
}

// Tuner exposes the controller for inspection and operator commands.
func (e *Engine) Tuner() *tuner.Tuner { return e.tuner }

// Breaker exposes the circuit breaker for inspection and operator
// commands.
func (e *Engine) Breaker() *breaker.Breaker { return e.breaker }

// ledgerFor returns the session's ledger, creating it on first use.
func (e *Engine) ledgerFor(sessionID string) *ledger.Ledger {
	e.mu.Lock()
	defer e.mu.Unlock()
	if l, ok := e.ledgers[sessionID]; ok {
		return l
	}
	l := ledger.New(e.backend, sessionID, e.ledgerCfg, e.arbiter, e.logger)
	e.ledgers[sessionID] = l
	return l
}

func (e *Engine) recordEvidence(ctx context.Context, led *ledger.Ledger, kind ledger.EvidenceKind, subject string, turn int) {
	if err := led.RecordEvidence(ctx, kind, subject, turn); err != nil {
		e.logger.Warn("evidence not recorded", "kind", kind, "error", err)
	}
}

func (e *Engine) recordDecision(d *Decision, start time.Time) {
	if e.metrics == nil {
		return
	}
	e.metrics.RecordDecision(string(d.Decision), time.Since(start))
}

// circuitName derives the circuit for a tool call. One circuit per tool
// isolates failures without coupling unrelated tools.
func circuitName(snap *event.Snapshot) string {
	if snap.ToolName == "" {
		return "tool:unknown"
	}
	return "tool:" + snap.ToolName
}

// gateCheckLabel maps a gate rejection onto a low-cardinality metric
// label.
func gateCheckLabel(gate ledger.Gate) string {
	switch {
	case gate.Escalated:
		return "escalation"
	case !gate.Bypassable:
		return "danger"
	case strings.HasPrefix(gate.Reason, "read-before-write"):
		return "read-before-write"
	default:
		return "tier"
	}
}

// targetPath extracts the file path a tool call targets, when the input
// names one.
func targetPath(snap *event.Snapshot) string {
	input := strings.TrimSpace(snap.ToolInput)
	if strings.HasPrefix(input, "{") {
		var obj map[string]any
		if err := json.Unmarshal([]byte(input), &obj); err == nil {
			for _, key := range []string{"file_path", "path", "filename"} {
				if v, ok := obj[key].(string); ok && v != "" {
					return v
				}
			}
		}
		return ""
	}
	if strings.ContainsAny(input, " \t\n") {
		return ""
	}
	return input
}

func phaseValue(p tuner.Phase) float64 {
	switch p {
	case tuner.PhaseWarn:
		return 1
	case tuner.PhaseEnforce:
		return 2
	}
	return 0
}
