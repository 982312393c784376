// Package metrics exposes Prometheus collectors for the decision engine:
// decisions by outcome, rule matches, circuit breaker state and trips,
// tuner phase and threshold, and gate denials.
//
// The engine only records; it never serves an HTTP endpoint. An embedding
// process can expose the registry however it likes.
package metrics
