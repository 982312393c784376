// Package enforce is the coordinator tying the engine together. Per
// incoming event it builds a snapshot, extracts features, applies the
// confidence gate, evaluates rules under the current enforcement phase,
// consults the circuit breaker, and resolves everything into a single
// decision. Outcomes feed back into the tuner and breaker, and trips,
// phase changes, and denials land in the incident log.
//
// The coordinator fails open: any internal error degrades to allow with
// an advisory. The two exceptions fail closed regardless of errors or
// overrides: BLOCK decisions from a protected category, and the ledger's
// dangerous-operation detection.
package enforce
