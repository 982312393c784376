// Package incident keeps the append-only log of noteworthy engine events:
// circuit trips, enforcement phase transitions, threshold adjustments, and
// forced escalations.
//
// The log is for operators, not for decisions: nothing in the engine reads
// it back at evaluation time, so a storage failure degrades to a warning.
// Storage ships in two forms, in-memory and SQLite, plus a retention
// pruner that can run one-shot or on a cron schedule.
package incident
