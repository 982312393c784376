// Warden is an adaptive policy gate for autonomous coding agents.
//
// It evaluates agent tool calls against a rule set, a per-session
// confidence ledger, and a per-tool circuit breaker, and emits an
// allow/deny decision. Enforcement strength adapts over time: rules start
// in an observe-only phase and graduate to warnings and blocks as the
// outcome history justifies them.
//
// Usage:
//
//	# Gate one tool call: read an event record on stdin, write the
//	# decision to stdout (the process always exits 0)
//	warden hook < event.json
//
//	# Validate rule files
//	warden validate --file rules.yaml
//
//	# Reset learned state (operator action)
//	warden reset --all
//
//	# Prune the incident log
//	warden prune
//
//	# Show version information
//	warden version
package main

func main() {
	Execute()
}
