// Package event defines the immutable Snapshot of a single agent event and
// the wire record it is parsed from.
//
// A Snapshot is built fresh for every invocation of the enforcement engine
// and is never mutated afterwards. Parsing is deliberately forgiving: a
// malformed input record produces a zero-valued Snapshot plus a diagnostic
// error so the caller can fail open rather than crash the agent loop.
package event
