package breaker

import (
	"context"
	"testing"
	"time"

	"mercator-hq/warden/pkg/statestore"
)

func newTestBreaker(t *testing.T, cfg Config) *Breaker {
	t.Helper()
	return New(statestore.NewMemoryBackend(), cfg, nil)
}

func TestCooldownSequence(t *testing.T) {
	base := 5 * time.Second
	want := []time.Duration{
		5 * time.Second,
		10 * time.Second,
		30 * time.Second,
		60 * time.Second,
		300 * time.Second,
		300 * time.Second, // clamped past the end
		300 * time.Second,
	}
	prev := time.Duration(0)
	for level, w := range want {
		got := Cooldown(base, level)
		if got != w {
			t.Errorf("Cooldown(level=%d) = %v, want %v", level, got, w)
		}
		if got < prev {
			t.Errorf("multiplier sequence decreased at level %d", level)
		}
		prev = got
	}
}

// Scenario: threshold 3, base cooldown 5s. Three in-window failures trip
// the circuit; a fourth failure before expiry keeps it OPEN; after expiry
// the next check degrades to HALF_OPEN.
func TestBreaker_TripAndHalfOpen(t *testing.T) {
	ctx := context.Background()
	b := newTestBreaker(t, Config{FailureThreshold: 3, WindowTurns: 10, BaseCooldown: 5 * time.Second})
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 2; i++ {
		if err := b.RecordFailure(ctx, "shell", i, now); err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
		if v := b.Check(ctx, "shell", now); v != VerdictAllow {
			t.Fatalf("check after %d failures = %v, want allow", i+1, v)
		}
	}

	if err := b.RecordFailure(ctx, "shell", 2, now); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	cs := b.Inspect(ctx, "shell")
	if cs.State != StateOpen {
		t.Fatalf("state after 3 failures = %v, want OPEN", cs.State)
	}
	if cs.TripCount != 1 || cs.BackoffLevel != 1 {
		t.Errorf("trip_count=%d backoff=%d, want 1/1", cs.TripCount, cs.BackoffLevel)
	}
	if got := cs.CooldownExpiry.Sub(now); got != 5*time.Second {
		t.Errorf("cooldown = %v, want 5s", got)
	}

	// A fourth failure before expiry keeps it OPEN without escalating.
	if err := b.RecordFailure(ctx, "shell", 3, now.Add(time.Second)); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	cs = b.Inspect(ctx, "shell")
	if cs.State != StateOpen || cs.BackoffLevel != 1 {
		t.Errorf("state=%v backoff=%d after in-cooldown failure, want OPEN/1", cs.State, cs.BackoffLevel)
	}
	if v := b.Check(ctx, "shell", now.Add(2*time.Second)); v != VerdictBlock {
		t.Errorf("check during cooldown = %v, want block", v)
	}

	// After expiry, the next check returns a probe and the circuit is
	// HALF_OPEN from then on.
	after := now.Add(6 * time.Second)
	if v := b.Check(ctx, "shell", after); v != VerdictProbe {
		t.Errorf("check after expiry = %v, want probe", v)
	}
	if cs := b.Inspect(ctx, "shell"); cs.State != StateHalfOpen {
		t.Errorf("state after expiry check = %v, want HALF_OPEN", cs.State)
	}
	if v := b.Check(ctx, "shell", after.Add(time.Second)); v != VerdictProbe {
		t.Errorf("repeat half-open check = %v, want probe", v)
	}
}

func TestBreaker_ProbeSuccessClosesAndDecays(t *testing.T) {
	ctx := context.Background()
	b := newTestBreaker(t, Config{FailureThreshold: 2, WindowTurns: 10, BaseCooldown: time.Second})
	now := time.Now()

	b.RecordFailure(ctx, "net", 0, now)
	b.RecordFailure(ctx, "net", 1, now)
	b.Check(ctx, "net", now.Add(2*time.Second)) // → HALF_OPEN

	if err := b.RecordSuccess(ctx, "net", 2, now.Add(3*time.Second)); err != nil {
		t.Fatalf("RecordSuccess: %v", err)
	}
	cs := b.Inspect(ctx, "net")
	if cs.State != StateClosed {
		t.Fatalf("state = %v, want CLOSED", cs.State)
	}
	if cs.BackoffLevel != 0 {
		t.Errorf("backoff after probe success = %d, want 0", cs.BackoffLevel)
	}
	if len(cs.Window) != 0 {
		t.Errorf("window not cleared on close: %d events", len(cs.Window))
	}
}

func TestBreaker_ProbeFailureReopensWithEscalatedBackoff(t *testing.T) {
	ctx := context.Background()
	b := newTestBreaker(t, Config{FailureThreshold: 2, WindowTurns: 10, BaseCooldown: time.Second})
	now := time.Now()

	b.RecordFailure(ctx, "net", 0, now)
	b.RecordFailure(ctx, "net", 1, now)
	b.Check(ctx, "net", now.Add(2*time.Second)) // → HALF_OPEN

	b.RecordFailure(ctx, "net", 2, now.Add(3*time.Second))
	cs := b.Inspect(ctx, "net")
	if cs.State != StateOpen {
		t.Fatalf("state after failed probe = %v, want OPEN", cs.State)
	}
	if cs.BackoffLevel != 2 || cs.TripCount != 2 {
		t.Errorf("backoff=%d trips=%d, want 2/2", cs.BackoffLevel, cs.TripCount)
	}
	// Level 2 → multiplier 2.
	if got := cs.CooldownExpiry.Sub(now.Add(3 * time.Second)); got != 2*time.Second {
		t.Errorf("escalated cooldown = %v, want 2s", got)
	}
}

func TestBreaker_CooldownExpiryMonotonic(t *testing.T) {
	ctx := context.Background()
	b := newTestBreaker(t, Config{FailureThreshold: 1, WindowTurns: 10, BaseCooldown: 10 * time.Second})
	now := time.Now()

	b.RecordFailure(ctx, "io", 0, now) // trips, level 1, expiry now+10s
	first := b.Inspect(ctx, "io").CooldownExpiry

	// Probe fails almost immediately after expiry: new expiry must never
	// move backwards even though the base instant barely advanced.
	b.Check(ctx, "io", now.Add(11*time.Second))
	b.RecordFailure(ctx, "io", 1, now.Add(11*time.Second))
	second := b.Inspect(ctx, "io").CooldownExpiry
	if second.Before(first) {
		t.Errorf("cooldown expiry went backwards: %v then %v", first, second)
	}
}

func TestBreaker_ConsecutiveClosedSuccessesDecay(t *testing.T) {
	ctx := context.Background()
	b := newTestBreaker(t, Config{FailureThreshold: 2, WindowTurns: 100, BaseCooldown: time.Second, SuccessDecay: 5})
	now := time.Now()

	// Trip once then recover so the circuit carries backoff level 1... the
	// probe success already decays to 0, so re-trip to reach level 1 again.
	b.RecordFailure(ctx, "db", 0, now)
	b.RecordFailure(ctx, "db", 1, now)
	b.Check(ctx, "db", now.Add(2*time.Second))
	b.RecordFailure(ctx, "db", 2, now.Add(2*time.Second)) // probe fails → level 2
	b.Check(ctx, "db", now.Add(10*time.Second))
	b.RecordSuccess(ctx, "db", 3, now.Add(10*time.Second)) // close → level 1

	if lvl := b.Inspect(ctx, "db").BackoffLevel; lvl != 1 {
		t.Fatalf("setup backoff = %d, want 1", lvl)
	}
	for i := 0; i < 5; i++ {
		b.RecordSuccess(ctx, "db", 4+i, now.Add(time.Duration(11+i)*time.Second))
	}
	if lvl := b.Inspect(ctx, "db").BackoffLevel; lvl != 0 {
		t.Errorf("backoff after 5 consecutive successes = %d, want 0", lvl)
	}
}

func TestBreaker_WindowPruning(t *testing.T) {
	ctx := context.Background()
	b := newTestBreaker(t, Config{FailureThreshold: 3, WindowTurns: 3, BaseCooldown: time.Second})
	now := time.Now()

	// Failures spread beyond the turn window never accumulate to the
	// threshold.
	b.RecordFailure(ctx, "slow", 0, now)
	b.RecordFailure(ctx, "slow", 5, now.Add(time.Second))
	b.RecordFailure(ctx, "slow", 10, now.Add(2*time.Second))
	if cs := b.Inspect(ctx, "slow"); cs.State != StateClosed {
		t.Errorf("state = %v, want CLOSED (failures outside turn window)", cs.State)
	}
}

func TestBreaker_ManualReset(t *testing.T) {
	ctx := context.Background()
	b := newTestBreaker(t, Config{FailureThreshold: 1, WindowTurns: 10, BaseCooldown: time.Minute})
	now := time.Now()

	b.RecordFailure(ctx, "shell", 0, now)
	if cs := b.Inspect(ctx, "shell"); cs.State != StateOpen {
		t.Fatalf("setup: state = %v, want OPEN", cs.State)
	}
	if err := b.Reset(ctx, "shell"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	cs := b.Inspect(ctx, "shell")
	if cs.State != StateClosed || cs.BackoffLevel != 0 || len(cs.Window) != 0 {
		t.Errorf("reset state = %+v, want CLOSED/0/empty", cs)
	}
}

func TestBreaker_UnknownCircuitAllows(t *testing.T) {
	b := newTestBreaker(t, DefaultConfig())
	if v := b.Check(context.Background(), "never-seen", time.Now()); v != VerdictAllow {
		t.Errorf("unknown circuit = %v, want allow", v)
	}
}

func TestBreaker_OnTripCallback(t *testing.T) {
	ctx := context.Background()
	b := newTestBreaker(t, Config{FailureThreshold: 1, WindowTurns: 10, BaseCooldown: time.Second})

	var gotCircuit string
	b.OnTrip(func(circuit string, cs *CircuitState) {
		gotCircuit = circuit
		if cs.State != StateOpen {
			t.Errorf("callback state = %v, want OPEN", cs.State)
		}
	})
	b.RecordFailure(ctx, "deploy", 0, time.Now())
	if gotCircuit != "deploy" {
		t.Errorf("OnTrip circuit = %q, want deploy", gotCircuit)
	}
}
