// Package rules implements the declarative rule registry and matcher.
//
// Rules map typed event features onto enforcement levels. A rule matches a
// snapshot when the snapshot's event type is in the rule's event set, every
// required feature is present, and no excluded feature is present. Matches
// are ranked descending by (level, priority) with declaration order as the
// tiebreak; every match increments the rule's trigger counter, but callers
// see only the strongest match per category.
//
// Definitions arrive through the source subpackage. A malformed definition
// is skipped and counted as a definition error; it never aborts loading or
// evaluation of the remaining rules.
package rules
