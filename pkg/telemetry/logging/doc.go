// Package logging configures the engine's structured logger.
//
// All engine components log through log/slog. This package turns a small
// declarative Config into a ready slog.Logger: level and format parsing,
// optional source locations, and redaction of secret-looking values so
// tool inputs can be logged without leaking tokens.
package logging
