package enforce

// Outcome is the decision value returned to the caller.
type Outcome string

const (
	// OutcomeAllow permits the action.
	OutcomeAllow Outcome = "allow"

	// OutcomeDeny rejects the action.
	OutcomeDeny Outcome = "deny"
)

// Decision is the engine's answer for one event. It is the process
// output; the process itself always exits successfully.
type Decision struct {
	// Decision is allow or deny.
	Decision Outcome `json:"decision"`

	// Advisory carries warnings and suggestions on an allow.
	Advisory string `json:"advisory_message,omitempty"`

	// Reason explains a deny: the responsible rule or check, and for
	// tuned domains the current threshold and contest instructions.
	Reason string `json:"reason,omitempty"`

	// RuleID and Category identify the responsible rule, when one caused
	// the outcome.
	RuleID   string `json:"rule_id,omitempty"`
	Category string `json:"category,omitempty"`
}

// Allow is the plain allow decision.
func Allow() *Decision {
	return &Decision{Decision: OutcomeAllow}
}

// AllowWithAdvisory attaches an advisory message to an allow.
func AllowWithAdvisory(msg string) *Decision {
	return &Decision{Decision: OutcomeAllow, Advisory: msg}
}

// Deny builds a deny decision.
func Deny(reason string) *Decision {
	return &Decision{Decision: OutcomeDeny, Reason: reason}
}
