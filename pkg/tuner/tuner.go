package tuner

import (
	"context"
	"log/slog"
	"math"
	"time"

	"mercator-hq/warden/pkg/statestore"
)

// Phase is the enforcement phase of one domain.
type Phase string

const (
	// PhaseObserve counts pattern occurrences and never emits anything
	// stronger than allow.
	PhaseObserve Phase = "OBSERVE"

	// PhaseWarn emits advisories but never blocks.
	PhaseWarn Phase = "WARN"

	// PhaseEnforce may block once a pattern's occurrence count has reached
	// the current threshold.
	PhaseEnforce Phase = "ENFORCE"
)

// PatternStats accumulates per-pattern outcome statistics.
type PatternStats struct {
	// Count is the number of times the pattern was observed.
	Count int `json:"count"`

	// AvgRemediationCost is the running average estimated remediation cost
	// in turns.
	AvgRemediationCost float64 `json:"avg_remediation_cost"`

	// AvgTurnsSaved is the running average of turns saved by remediation.
	AvgTurnsSaved float64 `json:"avg_turns_saved"`

	// AdoptionCount is how many outcomes adopted the remediation.
	AdoptionCount int `json:"adoption_count"`

	// OverrideCount is how many outcomes carried an override signal.
	OverrideCount int `json:"override_count"`

	// Outcomes is the number of recorded outcomes for this pattern.
	Outcomes int `json:"outcomes"`
}

// AdoptionRatio returns AdoptionCount / Outcomes, zero when no outcomes.
func (p *PatternStats) AdoptionRatio() float64 {
	if p.Outcomes == 0 {
		return 0
	}
	return float64(p.AdoptionCount) / float64(p.Outcomes)
}

// ROI estimates the return on intervention for this pattern as turns saved
// divided by the nominal remediation cost of two turns.
func (p *PatternStats) ROI() float64 {
	return p.AvgTurnsSaved / 2.0
}

// Adjustment is one logged threshold change with its triggering metrics.
type Adjustment struct {
	Turn    int       `json:"turn"`
	From    int       `json:"from"`
	To      int       `json:"to"`
	FPRate  float64   `json:"fp_rate"`
	AvgROI  float64   `json:"avg_roi"`
	Reason  string    `json:"reason"`
	Time    time.Time `json:"time"`
}

// PhaseChange is one logged phase transition.
type PhaseChange struct {
	Turn   int       `json:"turn"`
	From   Phase     `json:"from"`
	To     Phase     `json:"to"`
	FPRate float64   `json:"fp_rate"`
	Reason string    `json:"reason"`
	Time   time.Time `json:"time"`
}

// State is the persisted tuner state for one enforcement domain. It lives
// for the project lifetime and is reset only by explicit operator action.
type State struct {
	Phase          Phase                    `json:"phase"`
	Turns          int                      `json:"turns"`
	Patterns       map[string]*PatternStats `json:"patterns"`
	Threshold      int                      `json:"threshold"`
	Baseline       int                      `json:"baseline"`
	FalsePositives int                      `json:"false_positives"`
	Outcomes       int                      `json:"outcomes"`
	TurnsSavedSum  float64                  `json:"turns_saved_sum"`
	Adjustments    []Adjustment             `json:"adjustments,omitempty"`
	PhaseChanges   []PhaseChange            `json:"phase_changes,omitempty"`
	LastTuneTurn   int                      `json:"last_tune_turn"`
}

// FPRate returns the observed false-positive rate, zero with no outcomes.
func (s *State) FPRate() float64 {
	if s.Outcomes == 0 {
		return 0
	}
	return float64(s.FalsePositives) / float64(s.Outcomes)
}

// AvgROI returns the domain-wide average return on intervention.
func (s *State) AvgROI() float64 {
	if s.Outcomes == 0 {
		return 0
	}
	return (s.TurnsSavedSum / float64(s.Outcomes)) / 2.0
}

// CanBlock reports whether the pattern has occurred often enough for the
// ENFORCE phase to block it.
func (s *State) CanBlock(pattern string) bool {
	p, ok := s.Patterns[pattern]
	return ok && p.Count >= s.Threshold
}

func (s *State) pattern(name string) *PatternStats {
	if s.Patterns == nil {
		s.Patterns = make(map[string]*PatternStats)
	}
	p, ok := s.Patterns[name]
	if !ok {
		p = &PatternStats{}
		s.Patterns[name] = p
	}
	return p
}

// Outcome is the feedback for one enforcement decision.
type Outcome struct {
	// Pattern names the violation pattern the decision concerned.
	Pattern string

	// Turn is the turn index the outcome was observed on.
	Turn int

	// Adopted reports whether the suggested remediation was adopted.
	Adopted bool

	// RemediationCost is the estimated remediation cost in turns.
	RemediationCost float64

	// TurnsSaved is the estimated number of turns the remediation saved.
	TurnsSaved float64

	// Overridden reports whether the caller supplied any override signal.
	Overridden bool

	// SoftOverride marks the soft override signal, which is itself logged
	// as a possible false positive.
	SoftOverride bool

	// FalsePositive marks the decision as a confirmed false positive.
	FalsePositive bool
}

// Config holds the tunables of one domain's controller. Zero values take
// the documented defaults.
type Config struct {
	// Domain names the enforcement domain sharing this tuner state.
	Domain string

	// BaselineThreshold is the starting occurrence threshold. Auto-tuning
	// keeps the live threshold within ±30% of it. Default: 5.
	BaselineThreshold int

	// TuneInterval is how many turns pass between auto-tune runs.
	// Default: 50. Sensible range: 50–100.
	TuneInterval int

	// ObserveTurns is the turn count that alone promotes OBSERVE to WARN.
	// Default: 20.
	ObserveTurns int
}

// Transition and tuning constants. See the package comment about the
// empirically chosen arithmetic.
const (
	warnMinOccurrences    = 3
	warnAdoptionRatio     = 0.30
	enforceMinOccurrences = 5
	enforceMinROI         = 3.0
	enforceMaxFPRate      = 0.10
	backtrackFPRate       = 0.15
	loosenFPRate          = 0.10
	tightenFPRate         = 0.03
	tightenMinROI         = 5.0
	thresholdFloorAbs     = 2
)

// Tuner is the auto-tuning enforcement-phase controller for one domain.
type Tuner struct {
	store  *statestore.Manager[State]
	cfg    Config
	logger *slog.Logger

	// onPhaseChange, when set, is invoked after a persisted transition.
	onPhaseChange func(change PhaseChange)

	// onAdjustment, when set, is invoked after a persisted threshold change.
	onAdjustment func(adj Adjustment)
}

// New creates a Tuner backed by the given state backend.
func New(backend statestore.Backend, cfg Config, logger *slog.Logger) *Tuner {
	if cfg.BaselineThreshold <= 0 {
		cfg.BaselineThreshold = 5
	}
	if cfg.TuneInterval <= 0 {
		cfg.TuneInterval = 50
	}
	if cfg.ObserveTurns <= 0 {
		cfg.ObserveTurns = 20
	}
	if cfg.Domain == "" {
		cfg.Domain = "default"
	}
	if logger == nil {
		logger = slog.Default()
	}
	t := &Tuner{cfg: cfg, logger: logger.With("component", "tuner", "tuner_domain", cfg.Domain)}
	t.store = statestore.NewManager(backend, "tuner-"+cfg.Domain, t.defaults, logger)
	return t
}

func (t *Tuner) defaults() *State {
	return &State{
		Phase:     PhaseObserve,
		Patterns:  make(map[string]*PatternStats),
		Threshold: t.cfg.BaselineThreshold,
		Baseline:  t.cfg.BaselineThreshold,
	}
}

// Domain returns the enforcement domain this tuner controls.
func (t *Tuner) Domain() string {
	return t.cfg.Domain
}

// OnPhaseChange registers a callback invoked after each phase transition.
func (t *Tuner) OnPhaseChange(fn func(change PhaseChange)) {
	t.onPhaseChange = fn
}

// OnAdjustment registers a callback invoked after each auto-tune threshold
// adjustment.
func (t *Tuner) OnAdjustment(fn func(adj Adjustment)) {
	t.onAdjustment = fn
}

// Snapshot returns a point-in-time copy of the domain state. Lock-free;
// callers must tolerate staleness.
func (t *Tuner) Snapshot(ctx context.Context) *State {
	state, err := t.store.Load(ctx)
	if err != nil {
		t.logger.Warn("tuner state degraded to defaults", "error", err)
	}
	return state
}

// RecordOccurrence counts one observation of a pattern at the given turn
// and re-evaluates phase transitions.
func (t *Tuner) RecordOccurrence(ctx context.Context, pattern string, turn int) error {
	return t.update(ctx, turn, func(s *State) {
		s.pattern(pattern).Count++
	})
}

// RecordOutcome feeds one decision outcome back into the controller and
// re-evaluates transitions and the tuning schedule.
func (t *Tuner) RecordOutcome(ctx context.Context, o Outcome) error {
	return t.update(ctx, o.Turn, func(s *State) {
		p := s.pattern(o.Pattern)
		p.Outcomes++
		if o.Adopted {
			p.AdoptionCount++
		}
		if o.Overridden || o.SoftOverride {
			p.OverrideCount++
		}
		p.AvgRemediationCost = runningAvg(p.AvgRemediationCost, o.RemediationCost, p.Outcomes)
		p.AvgTurnsSaved = runningAvg(p.AvgTurnsSaved, o.TurnsSaved, p.Outcomes)

		s.Outcomes++
		s.TurnsSavedSum += o.TurnsSaved
		if o.FalsePositive || o.SoftOverride {
			s.FalsePositives++
			if o.SoftOverride {
				t.logger.Info("soft override recorded as possible false positive",
					"pattern", o.Pattern, "turn", o.Turn)
			}
		}
	})
}

// Reset clears the domain state. Explicit operator action only.
func (t *Tuner) Reset(ctx context.Context) error {
	return t.store.Reset(ctx)
}

// update runs one mutation plus the transition and tuning checks under the
// store's exclusive lock. The turn counter is monotone.
func (t *Tuner) update(ctx context.Context, turn int, fn func(*State)) error {
	var changes []PhaseChange
	var adj *Adjustment
	_, err := t.store.Update(ctx, func(s *State) error {
		if turn+1 > s.Turns {
			s.Turns = turn + 1
		}
		fn(s)
		changes = t.transition(s, turn)
		adj = t.autoTune(s, turn)
		return nil
	})
	if err != nil {
		return err
	}
	if t.onPhaseChange != nil {
		for _, c := range changes {
			t.onPhaseChange(c)
		}
	}
	if t.onAdjustment != nil && adj != nil {
		t.onAdjustment(*adj)
	}
	return nil
}

// transition applies the phase state machine. The backtrack rule is checked
// on every update; forward rules may chain within a single update when a
// domain qualifies for both promotions at once.
func (t *Tuner) transition(s *State, turn int) []PhaseChange {
	var changes []PhaseChange

	// ENFORCE→WARN backtrack dominates and is re-checked every update.
	if s.Phase == PhaseEnforce && s.FPRate() > backtrackFPRate {
		changes = append(changes, t.changePhase(s, turn, PhaseWarn, "false-positive rate exceeded backtrack limit"))
		return changes
	}

	if s.Phase == PhaseObserve && t.qualifiesForWarn(s) {
		changes = append(changes, t.changePhase(s, turn, PhaseWarn, "observation criteria met"))
	}
	if s.Phase == PhaseWarn && t.qualifiesForEnforce(s) {
		changes = append(changes, t.changePhase(s, turn, PhaseEnforce, "ROI and false-positive criteria met"))
	}
	return changes
}

func (t *Tuner) qualifiesForWarn(s *State) bool {
	if s.Turns >= t.cfg.ObserveTurns {
		return true
	}
	for _, p := range s.Patterns {
		if p.Count >= warnMinOccurrences && p.AdoptionRatio() >= warnAdoptionRatio {
			return true
		}
	}
	return false
}

func (t *Tuner) qualifiesForEnforce(s *State) bool {
	if s.FPRate() >= enforceMaxFPRate {
		return false
	}
	for _, p := range s.Patterns {
		if p.Count >= enforceMinOccurrences && p.ROI() > enforceMinROI {
			return true
		}
	}
	return false
}

func (t *Tuner) changePhase(s *State, turn int, to Phase, reason string) PhaseChange {
	change := PhaseChange{
		Turn:   turn,
		From:   s.Phase,
		To:     to,
		FPRate: s.FPRate(),
		Reason: reason,
		Time:   time.Now(),
	}
	s.Phase = to
	s.PhaseChanges = append(s.PhaseChanges, change)
	t.logger.Info("enforcement phase changed",
		"from", change.From, "to", change.To,
		"turn", turn, "fp_rate", change.FPRate, "reason", reason)
	return change
}

// autoTune adjusts the occurrence threshold by ±1 once per tuning interval,
// bounded to ±30% of the baseline with an absolute floor of 2. It returns
// the adjustment it made, if any.
func (t *Tuner) autoTune(s *State, turn int) *Adjustment {
	if s.Turns-s.LastTuneTurn < t.cfg.TuneInterval {
		return nil
	}
	s.LastTuneTurn = s.Turns

	fp := s.FPRate()
	roi := s.AvgROI()
	ceil := int(math.Ceil(float64(s.Baseline) * 1.3))
	floor := int(math.Floor(float64(s.Baseline) * 0.7))
	if floor < thresholdFloorAbs {
		floor = thresholdFloorAbs
	}

	switch {
	case fp > loosenFPRate && s.Threshold < ceil:
		return t.adjust(s, turn, s.Threshold+1, fp, roi, "false-positive rate above loosen limit")
	case fp < tightenFPRate && roi > tightenMinROI && s.Threshold > floor:
		return t.adjust(s, turn, s.Threshold-1, fp, roi, "low false-positive rate with high ROI")
	}
	return nil
}

func (t *Tuner) adjust(s *State, turn, to int, fp, roi float64, reason string) *Adjustment {
	adj := Adjustment{
		Turn:   turn,
		From:   s.Threshold,
		To:     to,
		FPRate: fp,
		AvgROI: roi,
		Reason: reason,
		Time:   time.Now(),
	}
	s.Threshold = to
	s.Adjustments = append(s.Adjustments, adj)
	t.logger.Info("threshold adjusted",
		"from", adj.From, "to", adj.To,
		"fp_rate", fp, "avg_roi", roi, "reason", reason)
	return &adj
}

// runningAvg folds one sample into a running average over n samples.
func runningAvg(avg, sample float64, n int) float64 {
	if n <= 1 {
		return sample
	}
	return avg + (sample-avg)/float64(n)
}
