// Package ledger tracks per-session confidence and risk scores and gates
// tool calls by graduated privilege tier.
//
// Confidence rises on evidence-gathering actions (first read of a file,
// test runs, API probes, consulting a human, delegation) with diminishing
// returns on repetition, and falls on recognized anti-patterns
// (edit-before-read, unverified production writes, repeating a failing
// action, self-contradiction). The score maps to six ordered tiers, each
// unlocking a fixed privilege set.
//
// Risk is an independent score: dangerous-operation patterns raise it
// sharply, safe completions decay it, and saturation forces escalation to
// an external arbitration service regardless of tier.
//
// Two checks are never relaxed by confidence: dangerous-command detection
// and risk-saturation escalation. Both fail closed.
package ledger
