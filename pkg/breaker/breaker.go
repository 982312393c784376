package breaker

import (
	"context"
	"log/slog"
	"time"

	"mercator-hq/warden/pkg/statestore"
)

// State is the lifecycle state of one circuit.
type State string

const (
	// StateClosed is the healthy state: all actions pass.
	StateClosed State = "CLOSED"

	// StateOpen blocks the circuit's action class until the cooldown expires.
	StateOpen State = "OPEN"

	// StateHalfOpen admits a single probe to test recovery.
	StateHalfOpen State = "HALF_OPEN"
)

// Verdict is the outcome of a circuit check.
type Verdict string

const (
	// VerdictAllow lets the action proceed normally.
	VerdictAllow Verdict = "allow"

	// VerdictBlock denies the action while the circuit is open.
	VerdictBlock Verdict = "block"

	// VerdictProbe allows the action as a recovery probe.
	VerdictProbe Verdict = "probe"
)

// cooldownMultipliers is applied to the base cooldown by backoff level.
// The sequence is strictly non-decreasing and clamps at the last entry.
var cooldownMultipliers = []int64{1, 2, 6, 12, 60}

// Cooldown returns the cooldown duration for a backoff level:
// base × multiplier(min(level, len(multipliers)-1)).
func Cooldown(base time.Duration, level int) time.Duration {
	if level < 0 {
		level = 0
	}
	if level >= len(cooldownMultipliers) {
		level = len(cooldownMultipliers) - 1
	}
	return base * time.Duration(cooldownMultipliers[level])
}

// WindowEvent is one recorded success or failure inside a circuit window.
type WindowEvent struct {
	Time    time.Time `json:"time"`
	Turn    int       `json:"turn"`
	Failure bool      `json:"failure"`
}

// CircuitState is the persisted state of one named circuit.
type CircuitState struct {
	Name                 string        `json:"name"`
	State                State         `json:"state"`
	Window               []WindowEvent `json:"window,omitempty"`
	TripCount            int           `json:"trip_count"`
	BackoffLevel         int           `json:"backoff_level"`
	CooldownExpiry       time.Time     `json:"cooldown_expiry,omitempty"`
	ConsecutiveSuccesses int           `json:"consecutive_successes"`
	LastTransition       time.Time     `json:"last_transition,omitempty"`
}

// circuitFile is the persisted document holding every circuit for a domain.
// Circuits are created lazily on first record.
type circuitFile struct {
	Circuits map[string]*CircuitState `json:"circuits"`
}

// Config holds the tunables for a Breaker. Both window bounds may be set;
// an event must satisfy every configured bound to stay in the window.
type Config struct {
	// FailureThreshold is the windowed failure count that trips a circuit.
	// Default: 3.
	FailureThreshold int

	// WindowTurns bounds the sliding window by turn count. 0 disables the
	// turn bound. Default: 10.
	WindowTurns int

	// Window bounds the sliding window by wall clock. 0 disables the time
	// bound.
	Window time.Duration

	// BaseCooldown is the cooldown at backoff level 0. Default: 5 seconds.
	BaseCooldown time.Duration

	// SuccessDecay is how many consecutive CLOSED successes decay the
	// backoff level by one. Default: 5.
	SuccessDecay int
}

// DefaultConfig returns the default breaker configuration.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		WindowTurns:      10,
		BaseCooldown:     5 * time.Second,
		SuccessDecay:     5,
	}
}

// Breaker manages every circuit of one enforcement domain against a shared
// state store.
type Breaker struct {
	store  *statestore.Manager[circuitFile]
	cfg    Config
	logger *slog.Logger

	// onTrip, when set, is invoked after a circuit trips. Used by the
	// coordinator to append incident records.
	onTrip func(circuit string, state *CircuitState)
}

// New creates a Breaker backed by the given state backend.
func New(backend statestore.Backend, cfg Config, logger *slog.Logger) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.BaseCooldown <= 0 {
		cfg.BaseCooldown = 5 * time.Second
	}
	if cfg.SuccessDecay <= 0 {
		cfg.SuccessDecay = 5
	}
	if cfg.WindowTurns <= 0 && cfg.Window <= 0 {
		cfg.WindowTurns = 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Breaker{
		store: statestore.NewManager(backend, "circuits", func() *circuitFile {
			return &circuitFile{Circuits: make(map[string]*CircuitState)}
		}, logger),
		cfg:    cfg,
		logger: logger,
	}
}

// OnTrip registers a callback invoked whenever a circuit trips OPEN.
func (b *Breaker) OnTrip(fn func(circuit string, state *CircuitState)) {
	b.onTrip = fn
}

// Check returns the verdict for a circuit at the given instant.
//
// CLOSED circuits (and unknown ones) allow. OPEN circuits block until their
// cooldown expires, then transition to HALF_OPEN and return a probe.
// HALF_OPEN circuits return a probe. Store failures fail open.
func (b *Breaker) Check(ctx context.Context, circuit string, now time.Time) Verdict {
	file, err := b.store.Load(ctx)
	if err != nil {
		b.logger.Warn("circuit state unavailable, failing open", "circuit", circuit, "error", err)
		return VerdictAllow
	}
	cs, ok := file.Circuits[circuit]
	if !ok {
		return VerdictAllow
	}

	switch cs.State {
	case StateOpen:
		if now.Before(cs.CooldownExpiry) {
			return VerdictBlock
		}
		// Cooldown expired: move to HALF_OPEN and admit a probe. A store
		// failure here degrades to the probe without persisting.
		_, err := b.store.Update(ctx, func(f *circuitFile) error {
			c := f.circuit(circuit)
			if c.State == StateOpen && !now.Before(c.CooldownExpiry) {
				c.State = StateHalfOpen
				c.LastTransition = now
			}
			return nil
		})
		if err != nil {
			b.logger.Warn("half-open transition not persisted", "circuit", circuit, "error", err)
		}
		return VerdictProbe

	case StateHalfOpen:
		return VerdictProbe

	default:
		return VerdictAllow
	}
}

// RecordFailure appends a failure event, recomputes the windowed failure
// count, and trips the circuit once the count reaches the threshold.
//
// A failure while the circuit is already OPEN keeps it OPEN without
// escalating the backoff. A failure during a HALF_OPEN probe re-trips.
func (b *Breaker) RecordFailure(ctx context.Context, circuit string, turn int, now time.Time) error {
	var tripped *CircuitState
	_, err := b.store.Update(ctx, func(f *circuitFile) error {
		cs := f.circuit(circuit)
		cs.ConsecutiveSuccesses = 0
		cs.Window = append(cs.Window, WindowEvent{Time: now, Turn: turn, Failure: true})
		cs.Window = pruneWindow(cs.Window, b.cfg, turn, now)

		switch cs.State {
		case StateOpen:
			// Already tripped; the failure stays in the window only.
			return nil
		case StateHalfOpen:
			// Probe failed: straight back to OPEN with escalated backoff.
			b.trip(cs, now)
			tripped = cloneState(cs)
			return nil
		default:
			if failureCount(cs.Window) >= b.cfg.FailureThreshold {
				b.trip(cs, now)
				tripped = cloneState(cs)
			}
			return nil
		}
	})
	if err != nil {
		b.logger.Warn("failure not recorded, circuit state unchanged", "circuit", circuit, "error", err)
		return err
	}
	if tripped != nil && b.onTrip != nil {
		b.onTrip(circuit, tripped)
	}
	return nil
}

// RecordSuccess records a successful action. A HALF_OPEN probe success
// closes the circuit and decays the backoff level by one; enough
// consecutive CLOSED successes also decay it.
func (b *Breaker) RecordSuccess(ctx context.Context, circuit string, turn int, now time.Time) error {
	_, err := b.store.Update(ctx, func(f *circuitFile) error {
		cs, ok := f.Circuits[circuit]
		if !ok {
			// Nothing to decay on a circuit that never saw a failure.
			return nil
		}
		cs.Window = append(cs.Window, WindowEvent{Time: now, Turn: turn, Failure: false})
		cs.Window = pruneWindow(cs.Window, b.cfg, turn, now)

		switch cs.State {
		case StateHalfOpen:
			cs.State = StateClosed
			cs.LastTransition = now
			cs.Window = nil
			cs.ConsecutiveSuccesses = 0
			decayBackoff(cs)
			b.logger.Info("circuit closed after probe", "circuit", circuit, "backoff_level", cs.BackoffLevel)
		case StateClosed:
			cs.ConsecutiveSuccesses++
			if cs.ConsecutiveSuccesses >= b.cfg.SuccessDecay {
				cs.ConsecutiveSuccesses = 0
				decayBackoff(cs)
			}
		}
		return nil
	})
	if err != nil {
		b.logger.Warn("success not recorded, circuit state unchanged", "circuit", circuit, "error", err)
	}
	return err
}

// Inspect returns a point-in-time copy of a circuit's state, or nil if the
// circuit was never created.
func (b *Breaker) Inspect(ctx context.Context, circuit string) *CircuitState {
	file, err := b.store.Load(ctx)
	if err != nil || file.Circuits == nil {
		return nil
	}
	return cloneState(file.Circuits[circuit])
}

// Reset manually resets a circuit: CLOSED, empty window, backoff 0.
// Operator action only.
func (b *Breaker) Reset(ctx context.Context, circuit string) error {
	_, err := b.store.Update(ctx, func(f *circuitFile) error {
		cs := f.circuit(circuit)
		cs.State = StateClosed
		cs.Window = nil
		cs.BackoffLevel = 0
		cs.ConsecutiveSuccesses = 0
		cs.CooldownExpiry = time.Time{}
		cs.LastTransition = time.Now()
		return nil
	})
	return err
}

// ResetAll removes every circuit. Operator action only.
func (b *Breaker) ResetAll(ctx context.Context) error {
	return b.store.Reset(ctx)
}

// trip moves a circuit to OPEN with an escalated cooldown. The expiry is
// monotonically non-decreasing for a constant-or-higher backoff level.
func (b *Breaker) trip(cs *CircuitState, now time.Time) {
	cs.State = StateOpen
	cs.TripCount++
	cs.BackoffLevel++
	cs.LastTransition = now

	expiry := now.Add(Cooldown(b.cfg.BaseCooldown, cs.BackoffLevel-1))
	if expiry.After(cs.CooldownExpiry) {
		cs.CooldownExpiry = expiry
	}
	b.logger.Warn("circuit tripped",
		"circuit", cs.Name,
		"trip_count", cs.TripCount,
		"backoff_level", cs.BackoffLevel,
		"cooldown_expiry", cs.CooldownExpiry,
	)
}

// circuit returns the named circuit, creating it lazily.
func (f *circuitFile) circuit(name string) *CircuitState {
	if f.Circuits == nil {
		f.Circuits = make(map[string]*CircuitState)
	}
	cs, ok := f.Circuits[name]
	if !ok {
		cs = &CircuitState{Name: name, State: StateClosed}
		f.Circuits[name] = cs
	}
	return cs
}

func decayBackoff(cs *CircuitState) {
	if cs.BackoffLevel > 0 {
		cs.BackoffLevel--
	}
}

func failureCount(window []WindowEvent) int {
	n := 0
	for _, e := range window {
		if e.Failure {
			n++
		}
	}
	return n
}

// pruneWindow drops events outside the configured turn and time bounds.
func pruneWindow(window []WindowEvent, cfg Config, turn int, now time.Time) []WindowEvent {
	kept := window[:0]
	for _, e := range window {
		if cfg.WindowTurns > 0 && e.Turn <= turn-cfg.WindowTurns {
			continue
		}
		if cfg.Window > 0 && now.Sub(e.Time) > cfg.Window {
			continue
		}
		kept = append(kept, e)
	}
	return kept
}

func cloneState(cs *CircuitState) *CircuitState {
	if cs == nil {
		return nil
	}
	out := *cs
	out.Window = append([]WindowEvent(nil), cs.Window...)
	return &out
}
