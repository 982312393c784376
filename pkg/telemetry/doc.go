// Package telemetry provides observability for warden.
//
// # Components
//
//   - logging: structured slog logging with secret redaction
//   - metrics: Prometheus collectors for decisions, rules, breaker, and tuner
//
// Warden emits no network surfaces of its own: the hook writes decisions to
// stdout and logs to stderr. Metrics collectors register against a
// prometheus.Registry so an embedding process can expose them.
package telemetry
