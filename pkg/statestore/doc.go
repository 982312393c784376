// Package statestore provides atomic, lockable load/save of structured
// state per enforcement domain.
//
// Every stateful subsystem (tuner, circuit breaker, confidence ledger) keeps
// its persistent state behind one generic Manager parameterized by a domain
// name and a default-state factory, so the load/mutate/save discipline is
// written exactly once. Backends implement raw byte storage plus an
// exclusive advisory lock scoped to a read-modify-write cycle:
//
//   - FileBackend: one JSON file per domain, lock file plus
//     write-to-temp-then-atomic-rename. The default.
//   - SQLiteBackend: one row per domain in an embedded SQLite database.
//   - MemoryBackend: in-process storage for tests.
//
// Failure policy follows the engine's fail-open stance: corrupt state is
// quarantined for postmortem and replaced by defaults for the current
// invocation; a lock timeout degrades the caller to read-only.
package statestore
