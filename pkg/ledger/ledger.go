package ledger

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"mercator-hq/warden/pkg/features"
	"mercator-hq/warden/pkg/statestore"
)

// EvidenceKind classifies one confidence-affecting observation.
type EvidenceKind string

// Evidence-gathering kinds (confidence gains).
const (
	EvidenceFileRead     EvidenceKind = "file_read"
	EvidenceTestsRun     EvidenceKind = "tests_run"
	EvidenceAPIProbe     EvidenceKind = "api_probe"
	EvidenceHumanConsult EvidenceKind = "human_consult"
	EvidenceDelegation   EvidenceKind = "delegation"
)

// Anti-pattern kinds (confidence penalties).
const (
	AntiPatternEditBeforeRead  EvidenceKind = "edit_before_read"
	AntiPatternUnverifiedWrite EvidenceKind = "unverified_write"
	AntiPatternRepeatedFailure EvidenceKind = "repeated_failure"
	AntiPatternContradiction   EvidenceKind = "self_contradiction"
)

// evidenceGains holds the base confidence gain per evidence kind. Repeats
// of the same (kind, subject) pair halve the gain each time.
var evidenceGains = map[EvidenceKind]float64{
	EvidenceFileRead:     3,
	EvidenceTestsRun:     8,
	EvidenceAPIProbe:     4,
	EvidenceHumanConsult: 6,
	EvidenceDelegation:   5,
}

// antiPatternPenalties holds the confidence penalty per anti-pattern kind.
var antiPatternPenalties = map[EvidenceKind]float64{
	AntiPatternEditBeforeRead:  10,
	AntiPatternUnverifiedWrite: 12,
	AntiPatternRepeatedFailure: 8,
	AntiPatternContradiction:   15,
}

// Entry is one appended evidence or anti-pattern observation.
type Entry struct {
	ID      string       `json:"id"`
	Kind    EvidenceKind `json:"kind"`
	Subject string       `json:"subject,omitempty"`
	Delta   float64      `json:"delta"`
	Turn    int          `json:"turn"`
	Time    time.Time    `json:"time"`
}

// CommandRun is one entry of the session's command-run history.
type CommandRun struct {
	Command string    `json:"command"`
	Turn    int       `json:"turn"`
	Failed  bool      `json:"failed"`
	Time    time.Time `json:"time"`
}

// State is the persisted ledger for one session. Created at session start,
// appended throughout, pruned when oversized, archived at session end.
type State struct {
	SessionID      string           `json:"session_id"`
	Confidence     float64          `json:"confidence"`
	Risk           float64          `json:"risk"`
	Evidence       []Entry          `json:"evidence,omitempty"`
	TierHistory    []TierTransition `json:"tier_history,omitempty"`
	ReadCounts     map[string]int   `json:"read_counts,omitempty"`
	RepeatCounts   map[string]int   `json:"repeat_counts,omitempty"`
	Commands       []CommandRun     `json:"commands,omitempty"`
	FailureStreaks map[string]int   `json:"failure_streaks,omitempty"`
	Archived       bool             `json:"archived"`
	ArchivedAt     time.Time        `json:"archived_at,omitempty"`
}

// Tier returns the session's current privilege tier.
func (s *State) Tier() Tier {
	return TierForConfidence(s.Confidence)
}

// HasRead reports whether the session read the given path at least once.
func (s *State) HasRead(path string) bool {
	return s.ReadCounts[path] > 0
}

// Config holds ledger tunables. Zero values take the documented defaults.
type Config struct {
	// InitialConfidence seeds new sessions. Default: 35 (sandbox tier).
	InitialConfidence float64

	// MaxEvidenceEntries bounds the evidence log; when exceeded, the oldest
	// half is pruned. Default: 500.
	MaxEvidenceEntries int

	// MaxCommandHistory bounds the command-run history. Default: 200.
	MaxCommandHistory int

	// DangerRiskStep is the risk increment on a dangerous-operation match.
	// Default: 20.
	DangerRiskStep float64

	// SafeRiskDecay is the risk decrement on a safe completion. Default: 2.
	SafeRiskDecay float64

	// ReadBeforeWritePenalty is the confidence penalty for a write gate
	// rejection on an unread file. Default: 5.
	ReadBeforeWritePenalty float64
}

// DefaultConfig returns the default ledger configuration.
func DefaultConfig() Config {
	return Config{
		InitialConfidence:      35,
		MaxEvidenceEntries:     500,
		MaxCommandHistory:      200,
		DangerRiskStep:         20,
		SafeRiskDecay:          2,
		ReadBeforeWritePenalty: 5,
	}
}

// ArbitrationRequest is handed to the external arbitration service when a
// session's risk saturates.
type ArbitrationRequest struct {
	SessionID  string
	Tool       string
	Input      string
	Risk       float64
	Confidence float64
}

// Arbiter is the external arbitration collaborator. Implementations are
// out of scope for the engine; NoopArbiter denies by default.
type Arbiter interface {
	Arbitrate(ctx context.Context, req ArbitrationRequest) (allowed bool, reason string, err error)
}

// NoopArbiter denies every escalation. It is the default when no
// arbitration service is configured.
type NoopArbiter struct{}

// Arbitrate implements Arbiter.
func (NoopArbiter) Arbitrate(ctx context.Context, req ArbitrationRequest) (bool, string, error) {
	return false, "risk saturated and no arbitration service is configured", nil
}

// GateRequest describes one proposed tool call to be gated.
type GateRequest struct {
	// Tool is the tool name.
	Tool string

	// Input is the flattened tool input text.
	Input string

	// Path is the target file path, when the input names one.
	Path string

	// Turn is the current turn index.
	Turn int

	// Features is the extracted feature set for the event.
	Features *features.Set
}

// Gate is the outcome of a gate check.
type Gate struct {
	// Allowed reports whether the tool call may proceed.
	Allowed bool

	// Reason explains a rejection in operator-readable form.
	Reason string

	// Penalty is the confidence penalty applied alongside a rejection.
	Penalty float64

	// Escalated reports that the decision went through arbitration.
	Escalated bool

	// Bypassable reports whether a hard override may lift the rejection.
	// Dangerous-operation denials and arbitration outcomes never are.
	Bypassable bool

	// Tier is the tier the gate evaluated against.
	Tier Tier
}

// Ledger manages the confidence/risk state of one session.
type Ledger struct {
	store   *statestore.Manager[State]
	session string
	cfg     Config
	arbiter Arbiter
	logger  *slog.Logger
}

// New creates a Ledger for one session backed by the given state backend.
func New(backend statestore.Backend, sessionID string, cfg Config, arbiter Arbiter, logger *slog.Logger) *Ledger {
	def := DefaultConfig()
	if cfg.InitialConfidence <= 0 {
		cfg.InitialConfidence = def.InitialConfidence
	}
	if cfg.MaxEvidenceEntries <= 0 {
		cfg.MaxEvidenceEntries = def.MaxEvidenceEntries
	}
	if cfg.MaxCommandHistory <= 0 {
		cfg.MaxCommandHistory = def.MaxCommandHistory
	}
	if cfg.DangerRiskStep <= 0 {
		cfg.DangerRiskStep = def.DangerRiskStep
	}
	if cfg.SafeRiskDecay <= 0 {
		cfg.SafeRiskDecay = def.SafeRiskDecay
	}
	if cfg.ReadBeforeWritePenalty <= 0 {
		cfg.ReadBeforeWritePenalty = def.ReadBeforeWritePenalty
	}
	if arbiter == nil {
		arbiter = NoopArbiter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	l := &Ledger{
		session: sessionID,
		cfg:     cfg,
		arbiter: arbiter,
		logger:  logger.With("component", "ledger", "session", sessionID),
	}
	l.store = statestore.NewManager(backend, "session-"+sessionID, l.defaults, logger)
	return l
}

func (l *Ledger) defaults() *State {
	return &State{
		SessionID:      l.session,
		Confidence:     l.cfg.InitialConfidence,
		ReadCounts:     make(map[string]int),
		RepeatCounts:   make(map[string]int),
		FailureStreaks: make(map[string]int),
	}
}

// Session returns the session ID this ledger owns.
func (l *Ledger) Session() string {
	return l.session
}

// Snapshot returns a point-in-time copy of the session state.
func (l *Ledger) Snapshot(ctx context.Context) *State {
	state, err := l.store.Load(ctx)
	if err != nil {
		l.logger.Warn("ledger state degraded to defaults", "error", err)
	}
	return state
}

// RecordEvidence appends one evidence-gathering observation. Repeats of
// the same (kind, subject) pair yield diminishing returns: the gain halves
// with every repetition.
func (l *Ledger) RecordEvidence(ctx context.Context, kind EvidenceKind, subject string, turn int) error {
	base, ok := evidenceGains[kind]
	if !ok {
		l.logger.Warn("unknown evidence kind ignored", "kind", kind)
		return nil
	}
	_, err := l.store.Update(ctx, func(s *State) error {
		ensureMaps(s)
		key := string(kind) + "|" + subject
		repeats := s.RepeatCounts[key]
		s.RepeatCounts[key] = repeats + 1

		gain := base / math.Pow(2, float64(repeats))
		l.append(s, kind, subject, gain, turn)
		if kind == EvidenceFileRead && subject != "" {
			s.ReadCounts[subject]++
		}
		return nil
	})
	return err
}

// RecordAntiPattern appends one anti-pattern observation with its fixed
// confidence penalty.
func (l *Ledger) RecordAntiPattern(ctx context.Context, kind EvidenceKind, subject string, turn int) error {
	penalty, ok := antiPatternPenalties[kind]
	if !ok {
		l.logger.Warn("unknown anti-pattern kind ignored", "kind", kind)
		return nil
	}
	_, err := l.store.Update(ctx, func(s *State) error {
		l.append(s, kind, subject, -penalty, turn)
		return nil
	})
	return err
}

// RecordCommand appends a command run to the session history. Repeating a
// failing command is itself an anti-pattern: the second consecutive failure
// of the same command applies the repeated-failure penalty.
func (l *Ledger) RecordCommand(ctx context.Context, command string, turn int, failed bool) error {
	_, err := l.store.Update(ctx, func(s *State) error {
		ensureMaps(s)
		s.Commands = append(s.Commands, CommandRun{
			Command: command,
			Turn:    turn,
			Failed:  failed,
			Time:    time.Now(),
		})
		if len(s.Commands) > l.cfg.MaxCommandHistory {
			s.Commands = s.Commands[len(s.Commands)-l.cfg.MaxCommandHistory:]
		}

		key := normalizeCommand(command)
		if failed {
			s.FailureStreaks[key]++
			if s.FailureStreaks[key] >= 2 {
				l.append(s, AntiPatternRepeatedFailure, key, -antiPatternPenalties[AntiPatternRepeatedFailure], turn)
			}
		} else {
			delete(s.FailureStreaks, key)
		}
		return nil
	})
	return err
}

// RecordSafeCompletion decays risk after an action completed without
// incident.
func (l *Ledger) RecordSafeCompletion(ctx context.Context, turn int) error {
	_, err := l.store.Update(ctx, func(s *State) error {
		s.Risk = clampScore(s.Risk - l.cfg.SafeRiskDecay)
		return nil
	})
	return err
}

// CheckGate applies the tier-specific privilege rules to one proposed tool
// call.
//
// Order matters: dangerous-command detection runs first and is
// tier-independent; it is never downgraded by high confidence and fails
// closed. Risk saturation forces external arbitration regardless of tier.
// All remaining rules derive from the session's privilege tier.
func (l *Ledger) CheckGate(ctx context.Context, req GateRequest) Gate {
	// Dangerous-operation detection works on the raw input text so it
	// cannot be disarmed by a failed feature extraction.
	if dangerous, pattern := DetectDanger(req.Input); dangerous {
		gate := Gate{
			Allowed: false,
			Reason:  "dangerous operation blocked (" + pattern + "); this check cannot be overridden",
		}
		state, err := l.store.Update(ctx, func(s *State) error {
			s.Risk = clampScore(s.Risk + l.cfg.DangerRiskStep)
			return nil
		})
		if err != nil {
			// Fail closed: the deny stands even when the risk bump could
			// not be persisted.
			l.logger.Warn("risk increment not persisted", "error", err)
		}
		gate.Tier = state.Tier()
		if state.Risk >= 100 {
			gate.Escalated = true
			l.escalate(ctx, req, state, &gate)
		}
		l.logger.Warn("dangerous operation denied",
			"tool", req.Tool, "pattern", pattern, "risk", state.Risk)
		return gate
	}

	state := l.Snapshot(ctx)
	tier := state.Tier()
	gate := Gate{Allowed: true, Tier: tier, Bypassable: true}

	// Saturated risk forces arbitration before any tier privilege applies.
	if state.Risk >= 100 {
		gate.Escalated = true
		l.escalate(ctx, req, state, &gate)
		return gate
	}

	op := classifyOp(req)
	switch op {
	case opRead:
		return gate

	case opWrite:
		switch {
		case tier <= TierAdvisory:
			gate.Allowed = false
			gate.Reason = "tier " + tier.String() + " permits investigation only; gather evidence before writing"
		case tier == TierSandbox && !isTempPath(req.Path):
			gate.Allowed = false
			gate.Reason = "tier sandbox confines writes to temporary paths"
		case tier >= TierAudited && tier < TierAutonomous && req.Path != "" && !state.HasRead(req.Path):
			gate.Allowed = false
			gate.Reason = "read-before-write: " + req.Path + " was never read this session"
			gate.Penalty = l.cfg.ReadBeforeWritePenalty
			l.applyPenalty(ctx, AntiPatternEditBeforeRead, req.Path, gate.Penalty, req.Turn)
		}

	case opCommand:
		if tier < TierAudited {
			gate.Allowed = false
			gate.Reason = "tier " + tier.String() + " does not permit command execution"
		}

	case opNetwork:
		if tier < TierTrusted {
			gate.Allowed = false
			gate.Reason = "tier " + tier.String() + " does not permit network access"
		}
	}
	return gate
}

// Archive marks the session ledger as closed. The state file is kept; it
// is the session's permanent record.
func (l *Ledger) Archive(ctx context.Context) error {
	_, err := l.store.Update(ctx, func(s *State) error {
		s.Archived = true
		s.ArchivedAt = time.Now()
		return nil
	})
	return err
}

// Reset clears the session state. Explicit operator action only.
func (l *Ledger) Reset(ctx context.Context) error {
	return l.store.Reset(ctx)
}

// escalate consults the arbitration service and folds its answer into the
// gate. Arbitration failure fails closed: saturation is one of the two
// non-bypassable conditions.
func (l *Ledger) escalate(ctx context.Context, req GateRequest, state *State, gate *Gate) {
	gate.Bypassable = false
	allowed, reason, err := l.arbiter.Arbitrate(ctx, ArbitrationRequest{
		SessionID:  l.session,
		Tool:       req.Tool,
		Input:      req.Input,
		Risk:       state.Risk,
		Confidence: state.Confidence,
	})
	if err != nil {
		l.logger.Error("arbitration failed, denying", "error", err)
		gate.Allowed = false
		gate.Reason = "risk saturated and arbitration unavailable"
		return
	}
	if !allowed {
		gate.Allowed = false
		if gate.Reason == "" {
			gate.Reason = reason
		}
	}
}

// applyPenalty records an anti-pattern entry for a gate rejection with the
// gate's own penalty amount.
func (l *Ledger) applyPenalty(ctx context.Context, kind EvidenceKind, subject string, penalty float64, turn int) {
	_, err := l.store.Update(ctx, func(s *State) error {
		l.append(s, kind, subject, -penalty, turn)
		return nil
	})
	if err != nil {
		l.logger.Warn("gate penalty not persisted", "error", err)
	}
}

// append adds an entry, applies its confidence delta, records any tier
// transition, and prunes the evidence log when oversized.
func (l *Ledger) append(s *State, kind EvidenceKind, subject string, delta float64, turn int) {
	before := s.Tier()
	s.Confidence = clampScore(s.Confidence + delta)
	s.Evidence = append(s.Evidence, Entry{
		ID:      uuid.NewString(),
		Kind:    kind,
		Subject: subject,
		Delta:   delta,
		Turn:    turn,
		Time:    time.Now(),
	})
	if len(s.Evidence) > l.cfg.MaxEvidenceEntries {
		s.Evidence = s.Evidence[len(s.Evidence)/2:]
	}
	if after := s.Tier(); after != before {
		s.TierHistory = append(s.TierHistory, TierTransition{
			From: before,
			To:   after,
			Turn: turn,
			Why:  string(kind),
		})
		l.logger.Info("tier transition", "from", before, "to", after, "confidence", s.Confidence)
	}
}

// operation classes derived from the feature set.
type opClass int

const (
	opRead opClass = iota
	opWrite
	opCommand
	opNetwork
	opOther
)

func classifyOp(req GateRequest) opClass {
	f := req.Features
	if f == nil {
		return opOther
	}
	switch {
	case f.Has(features.FeatureToolWrite), f.Has(features.FeatureToolEdit):
		return opWrite
	case f.Has(features.FeatureToolCommand):
		return opCommand
	case f.Has(features.FeatureToolNetwork):
		return opNetwork
	case f.Has(features.FeatureToolRead):
		return opRead
	}
	return opOther
}

// isTempPath reports whether the path lies in a sandbox-safe location.
func isTempPath(path string) bool {
	return strings.HasPrefix(path, "/tmp/") ||
		strings.HasPrefix(path, "/var/tmp/") ||
		strings.Contains(path, "/sandbox/")
}

// normalizeCommand reduces a command line to its leading words so retries
// with trivially different arguments still count as the same action.
func normalizeCommand(command string) string {
	fields := strings.Fields(command)
	if len(fields) > 3 {
		fields = fields[:3]
	}
	return strings.Join(fields, " ")
}

// ensureMaps re-initializes map fields dropped by a JSON round trip.
func ensureMaps(s *State) {
	if s.ReadCounts == nil {
		s.ReadCounts = make(map[string]int)
	}
	if s.RepeatCounts == nil {
		s.RepeatCounts = make(map[string]int)
	}
	if s.FailureStreaks == nil {
		s.FailureStreaks = make(map[string]int)
	}
}

// clampScore keeps confidence and risk inside [0,100].
func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
