// Package breaker implements per-named-circuit failure isolation with the
// classic CLOSED / OPEN / HALF_OPEN state machine.
//
// A circuit tracks recent success/failure events in a sliding window bounded
// by turn count and/or wall clock. Enough windowed failures trip the circuit
// OPEN; after an exponentially backed-off cooldown, the next check degrades
// to HALF_OPEN and admits a single probe. Successes close the circuit and
// decay the backoff level.
//
// The breaker must never become the outage itself: every state-store or
// lock failure is logged and the check fails open.
package breaker
