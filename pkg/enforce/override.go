package enforce

import "strings"

// OverrideScope selects how far an override reaches.
type OverrideScope string

const (
	// ScopeSoft downgrades the outcome to allow and is logged as a
	// possible false positive.
	ScopeSoft OverrideScope = "soft"

	// ScopeHard bypasses denials from non-protected categories.
	ScopeHard OverrideScope = "hard"
)

// Override is the typed override request. Category narrows the override
// to one rule category; empty applies to whichever category caused the
// outcome.
type Override struct {
	Scope    OverrideScope
	Category string
}

// MarkerConfig holds the legacy text markers recognized at the input
// edge. Text scanning exists only for callers that cannot send the typed
// form; the markers map onto an Override before any decision logic runs.
type MarkerConfig struct {
	Soft string
	Hard string
}

// ScanMarkers searches the event text for legacy override markers and
// returns the equivalent typed override, or nil. A hard marker wins when
// both appear.
func ScanMarkers(text string, markers MarkerConfig) *Override {
	if markers.Hard != "" && strings.Contains(text, markers.Hard) {
		return &Override{Scope: ScopeHard}
	}
	if markers.Soft != "" && strings.Contains(text, markers.Soft) {
		return &Override{Scope: ScopeSoft}
	}
	return nil
}
